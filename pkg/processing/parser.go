package processing

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/cloudmon/platform/pkg/cloudservice"
	"github.com/cloudmon/platform/pkg/common/logger"
)

const expectedColumns = 6

// Record is one validated subscription row read from a CSV upload.
type Record struct {
	CustomerID     string
	ServiceType    cloudservice.ServiceType
	ActivationDate time.Time
	ExpirationDate time.Time
	Amount         decimal.Decimal
	Status         cloudservice.ServiceStatus
	LineNumber     int
}

// ParseError describes one rejected line. Rejected lines never stop the
// stream; they are collected so the whole file can be reported on at once.
type ParseError struct {
	LineNumber int
	RawLine    string
	Message    string
}

// Parser reads subscription CSV files line by line. The zero value is not
// usable; NewParser pins the reference day used by the status date rules.
type Parser struct {
	today func() time.Time
}

func NewParser() *Parser {
	return &Parser{today: func() time.Time { return time.Now().UTC() }}
}

// Parse streams the file, invoking fn for every valid row as soon as it is
// read. It returns the per-line rejections; a non-nil error means the stream
// itself broke and the file could not be fully read.
func (p *Parser) Parse(r io.Reader, fn func(Record) error) ([]ParseError, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	// Header row was already validated at upload time.
	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}

	var parseErrors []ParseError
	lineNumber := 1
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		lineNumber++
		if err != nil {
			parseErrors = append(parseErrors, ParseError{
				LineNumber: lineNumber,
				RawLine:    strings.Join(fields, ","),
				Message:    err.Error(),
			})
			continue
		}

		record, err := p.MapLine(fields, lineNumber)
		if err != nil {
			logger.Log.WithFields(logrus.Fields{
				"line": lineNumber,
			}).Warn(err.Error())
			parseErrors = append(parseErrors, ParseError{
				LineNumber: lineNumber,
				RawLine:    strings.Join(fields, ","),
				Message:    err.Error(),
			})
			continue
		}

		if err := fn(*record); err != nil {
			return parseErrors, err
		}
	}
	return parseErrors, nil
}

// MapLine validates one CSV line field by field and stops at the first
// violation.
func (p *Parser) MapLine(fields []string, lineNumber int) (*Record, error) {
	if len(fields) != expectedColumns {
		return nil, fmt.Errorf("invalid line format. Expected '%d' columns", expectedColumns)
	}

	record := &Record{LineNumber: lineNumber}

	customerID := strings.TrimSpace(fields[0])
	if customerID == "" {
		return nil, fmt.Errorf("customer_id cannot be empty")
	}
	record.CustomerID = customerID

	rawType := strings.TrimSpace(fields[1])
	if rawType == "" {
		return nil, fmt.Errorf("service_type cannot be empty")
	}
	serviceType, err := cloudservice.ParseServiceType(rawType)
	if err != nil {
		return nil, err
	}
	record.ServiceType = serviceType

	rawActivation := strings.TrimSpace(fields[2])
	if rawActivation == "" {
		return nil, fmt.Errorf("activation_date cannot be empty")
	}
	activation, err := time.Parse("2006-01-02", rawActivation)
	if err != nil {
		return nil, fmt.Errorf("invalid activation_date format. Expected ISO date format (YYYY-MM-DD)")
	}
	record.ActivationDate = activation

	rawStatus := strings.TrimSpace(fields[5])
	if rawStatus == "" {
		return nil, fmt.Errorf("status cannot be empty")
	}
	status, err := cloudservice.ParseServiceStatus(rawStatus)
	if err != nil {
		return nil, err
	}
	record.Status = status

	rawExpiration := strings.TrimSpace(fields[3])
	if rawExpiration == "" {
		return nil, fmt.Errorf("expiration_date cannot be empty")
	}
	expiration, err := time.Parse("2006-01-02", rawExpiration)
	if err != nil {
		return nil, fmt.Errorf("invalid expiration_date format. Expected ISO date format (YYYY-MM-DD)")
	}
	record.ExpirationDate = expiration

	if err := p.checkStatusDates(activation, expiration, status); err != nil {
		return nil, err
	}

	rawAmount := strings.TrimSpace(fields[4])
	if rawAmount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format. Expected a number")
	}
	switch amount.Sign() {
	case -1:
		return nil, fmt.Errorf("amount cannot be negative")
	case 0:
		return nil, fmt.Errorf("amount cannot be zero")
	}
	record.Amount = amount

	return record, nil
}

// checkStatusDates enforces the cross-field rules: expiration never precedes
// activation, EXPIRED entries lie in the past and ACTIVE or PENDING_RENEWAL
// entries have not expired yet.
func (p *Parser) checkStatusDates(activation, expiration time.Time, status cloudservice.ServiceStatus) error {
	if expiration.Before(activation) {
		return fmt.Errorf("expiration_date cannot be before activation_date")
	}

	today := truncateToDay(p.today())
	switch status {
	case cloudservice.StatusExpired:
		if expiration.After(today) {
			return fmt.Errorf("expiration_date cannot be greater than current day for a service with status %s", status)
		}
	case cloudservice.StatusActive, cloudservice.StatusPendingRenewal:
		if expiration.Before(today) {
			return fmt.Errorf("expiration_date cannot be less than current day for a service with status %s", status)
		}
	}
	return nil
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
