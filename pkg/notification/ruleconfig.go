package notification

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// EmailTemplate is the static part of an email built by a rule.
type EmailTemplate struct {
	Sender    string `yaml:"sender" json:"sender"`
	Recipient string `yaml:"recipient" json:"recipient"`
	Subject   string `yaml:"subject" json:"subject"`
	Content   string `yaml:"content" json:"content"`
}

// AlertTemplate is the static part of an aggregated customer alert.
type AlertTemplate struct {
	Sender  string `yaml:"sender" json:"sender"`
	Subject string `yaml:"subject" json:"subject"`
	Content string `yaml:"content" json:"content"`
}

// RulesConfig drives the notification rules: thresholds plus the message
// templates each rule fills in.
type RulesConfig struct {
	ActiveServiceOlderThan struct {
		Years int           `yaml:"years" json:"years"`
		Email EmailTemplate `yaml:"email" json:"email"`
	} `yaml:"active_service_older_than" json:"active_service_older_than"`

	ExpiredServices struct {
		MaxExpiredServicesCount int           `yaml:"max_expired_services_count" json:"max_expired_services_count"`
		Alert                   AlertTemplate `yaml:"alert" json:"alert"`
	} `yaml:"expired_services" json:"expired_services"`
}

func LoadRules(path string) (RulesConfig, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultRules(), err
	}

	var cfg RulesConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return RulesConfig{}, fmt.Errorf("parsing rule config: %w", err)
	}

	if cfg.ActiveServiceOlderThan.Years < 1 {
		cfg.ActiveServiceOlderThan.Years = DefaultRules().ActiveServiceOlderThan.Years
	}
	if cfg.ExpiredServices.MaxExpiredServicesCount < 1 {
		cfg.ExpiredServices.MaxExpiredServicesCount = DefaultRules().ExpiredServices.MaxExpiredServicesCount
	}
	return cfg, nil
}

func DefaultRules() RulesConfig {
	var cfg RulesConfig
	cfg.ActiveServiceOlderThan.Years = 5
	cfg.ActiveServiceOlderThan.Email = EmailTemplate{
		Sender:    "noreply@cloudmon.io",
		Recipient: "marketing@cloudmon.io",
		Subject:   "Long-running active service",
	}
	cfg.ExpiredServices.MaxExpiredServicesCount = 3
	cfg.ExpiredServices.Alert = AlertTemplate{
		Sender:  "noreply@cloudmon.io",
		Subject: "Expired services alert",
	}
	return cfg
}
