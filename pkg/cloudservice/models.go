package cloudservice

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ServiceType enumerates the cloud service catalog carried in customer CSVs.
type ServiceType string

const (
	TypePEC                   ServiceType = "PEC"
	TypeHosting               ServiceType = "HOSTING"
	TypeFatturazione          ServiceType = "FATTURAZIONE"
	TypeFirmaDigitale         ServiceType = "FIRMA_DIGITALE"
	TypeConservazioneDigitale ServiceType = "CONSERVAZIONE_DIGITALE"
	TypeSPID                  ServiceType = "SPID"
)

// ServiceStatus is the subscription lifecycle state as declared by the customer file.
type ServiceStatus string

const (
	StatusActive         ServiceStatus = "ACTIVE"
	StatusExpired        ServiceStatus = "EXPIRED"
	StatusPendingRenewal ServiceStatus = "PENDING_RENEWAL"
)

func AllServiceTypes() []ServiceType {
	return []ServiceType{
		TypePEC, TypeHosting, TypeFatturazione,
		TypeFirmaDigitale, TypeConservazioneDigitale, TypeSPID,
	}
}

func AllServiceStatuses() []ServiceStatus {
	return []ServiceStatus{StatusActive, StatusExpired, StatusPendingRenewal}
}

// ParseServiceType normalizes and validates a raw CSV value. The error lists
// the allowed values so it can be persisted verbatim as a record diagnostic.
func ParseServiceType(raw string) (ServiceType, error) {
	normalized := ServiceType(strings.ToUpper(strings.TrimSpace(raw)))
	for _, t := range AllServiceTypes() {
		if t == normalized {
			return t, nil
		}
	}
	return "", fmt.Errorf("service_type '%s' is not allowed. Please provide one of the following valid services: %s",
		normalized, joinTypes())
}

func ParseServiceStatus(raw string) (ServiceStatus, error) {
	normalized := ServiceStatus(strings.ToUpper(strings.TrimSpace(raw)))
	for _, s := range AllServiceStatuses() {
		if s == normalized {
			return s, nil
		}
	}
	return "", fmt.Errorf("status '%s' is not allowed. Please provide one of the following valid statuses: %s",
		normalized, joinStatuses())
}

func joinTypes() string {
	types := AllServiceTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func joinStatuses() string {
	statuses := AllServiceStatuses()
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

// CloudService is one customer subscription, keyed by the natural key
// (customer_id, service_type). Re-uploads update the row in place.
type CloudService struct {
	ID             uint64          `json:"id" gorm:"primaryKey;column:id"`
	CustomerID     string          `json:"customer_id" gorm:"column:customer_id;not null;uniqueIndex:ux_customer_service,priority:1"`
	ServiceType    ServiceType     `json:"service_type" gorm:"column:service_type;not null;uniqueIndex:ux_customer_service,priority:2"`
	ActivationDate time.Time       `json:"activation_date" gorm:"column:activation_date;type:date;not null"`
	ExpirationDate time.Time       `json:"expiration_date" gorm:"column:expiration_date;type:date;not null"`
	Amount         decimal.Decimal `json:"amount" gorm:"column:amount;type:decimal(10,2);not null"`
	Status         ServiceStatus   `json:"status" gorm:"column:status;not null"`
	LastUpdated    time.Time       `json:"last_updated" gorm:"column:last_updated"`
}

func (CloudService) TableName() string {
	return "cloud_services"
}

// ExpiredService is one expired subscription row used by the
// too-many-expired-services notification rule.
type ExpiredService struct {
	CustomerID     string      `json:"customer_id"`
	ServiceType    ServiceType `json:"service_type"`
	ExpirationDate time.Time   `json:"expiration_date"`
}
