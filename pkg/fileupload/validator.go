package fileupload

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// ExpectedHeader is the exact column order every uploaded CSV must carry.
var ExpectedHeader = []string{
	"customer_id",
	"service_type",
	"activation_date",
	"expiration_date",
	"amount",
	"status",
}

// ValidationRule checks one property of an upload. Rules run in registration
// order and validation stops at the first failure.
type ValidationRule interface {
	Validate(fileName string, content []byte) error
}

type Validator struct {
	rules []ValidationRule
}

// NewValidator builds the default rule chain: non-empty content, allowed
// extension, then CSV header shape.
func NewValidator(allowedExtensions []string) *Validator {
	return &Validator{rules: []ValidationRule{
		notEmptyRule{},
		extensionRule{allowed: allowedExtensions},
		headerRule{},
	}}
}

func (v *Validator) Validate(fileName string, content []byte) error {
	for _, rule := range v.rules {
		if err := rule.Validate(fileName, content); err != nil {
			return err
		}
	}
	return nil
}

type notEmptyRule struct{}

func (notEmptyRule) Validate(fileName string, content []byte) error {
	if len(content) == 0 {
		return fmt.Errorf("file cannot be empty")
	}
	return nil
}

type extensionRule struct {
	allowed []string
}

func (r extensionRule) Validate(fileName string, content []byte) error {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	for _, a := range r.allowed {
		if ext == strings.ToLower(strings.TrimSpace(a)) {
			return nil
		}
	}
	return fmt.Errorf("allowed file extensions: %s", strings.Join(r.allowed, ", "))
}

type headerRule struct{}

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]`)

func normalizeColumn(name string) string {
	return strings.ToLower(nonAlnum.ReplaceAllString(name, ""))
}

func (headerRule) Validate(fileName string, content []byte) error {
	reader := csv.NewReader(bytes.NewReader(content))
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("error reading CSV file: %w", err)
	}

	if len(header) != len(ExpectedHeader) {
		return fmt.Errorf("invalid CSV header length: expected %d columns, found %d",
			len(ExpectedHeader), len(header))
	}

	for i, expected := range ExpectedHeader {
		actual := strings.TrimSpace(header[i])
		if normalizeColumn(actual) != normalizeColumn(expected) {
			return fmt.Errorf("invalid column at position %d: expected '%s', found '%s'",
				i, expected, header[i])
		}
	}
	return nil
}
