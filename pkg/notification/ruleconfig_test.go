package notification

import (
	"os"
	"path/filepath"
	"testing"
)

const rulesYAML = `
active_service_older_than:
  years: 3
  email:
    sender: crm@example.com
    recipient: sales@example.com
    subject: Loyal customer
expired_services:
  max_expired_services_count: 5
  alert:
    sender: alerts@example.com
    subject: Too many expired services
`

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing rules file: %v", err)
	}
	return path
}

func TestLoadRulesFromFile(t *testing.T) {
	cfg, err := LoadRules(writeRules(t, rulesYAML))
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if cfg.ActiveServiceOlderThan.Years != 3 {
		t.Errorf("years = %d, want 3", cfg.ActiveServiceOlderThan.Years)
	}
	if cfg.ActiveServiceOlderThan.Email.Recipient != "sales@example.com" {
		t.Errorf("recipient = %q", cfg.ActiveServiceOlderThan.Email.Recipient)
	}
	if cfg.ExpiredServices.MaxExpiredServicesCount != 5 {
		t.Errorf("threshold = %d, want 5", cfg.ExpiredServices.MaxExpiredServicesCount)
	}
	if cfg.ExpiredServices.Alert.Subject != "Too many expired services" {
		t.Errorf("alert subject = %q", cfg.ExpiredServices.Alert.Subject)
	}
}

func TestLoadRulesEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadRules("")
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	want := DefaultRules()
	if cfg.ActiveServiceOlderThan.Years != want.ActiveServiceOlderThan.Years {
		t.Errorf("years = %d, want %d", cfg.ActiveServiceOlderThan.Years, want.ActiveServiceOlderThan.Years)
	}
	if cfg.ExpiredServices.MaxExpiredServicesCount != want.ExpiredServices.MaxExpiredServicesCount {
		t.Errorf("threshold = %d, want %d", cfg.ExpiredServices.MaxExpiredServicesCount, want.ExpiredServices.MaxExpiredServicesCount)
	}
}

func TestLoadRulesFloorsInvalidThresholds(t *testing.T) {
	cfg, err := LoadRules(writeRules(t, "active_service_older_than:\n  years: 0\nexpired_services:\n  max_expired_services_count: -1\n"))
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if cfg.ActiveServiceOlderThan.Years != DefaultRules().ActiveServiceOlderThan.Years {
		t.Errorf("years = %d, want default", cfg.ActiveServiceOlderThan.Years)
	}
	if cfg.ExpiredServices.MaxExpiredServicesCount != DefaultRules().ExpiredServices.MaxExpiredServicesCount {
		t.Errorf("threshold = %d, want default", cfg.ExpiredServices.MaxExpiredServicesCount)
	}
}

func TestLoadRulesMissingFileFallsBack(t *testing.T) {
	cfg, err := LoadRules(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if cfg.ActiveServiceOlderThan.Years != DefaultRules().ActiveServiceOlderThan.Years {
		t.Errorf("missing file should fall back to defaults, got years = %d", cfg.ActiveServiceOlderThan.Years)
	}
}

func TestLoadRulesRejectsMalformedYAML(t *testing.T) {
	if _, err := LoadRules(writeRules(t, "active_service_older_than: [not a map")); err == nil {
		t.Fatal("expected parse error")
	}
}
