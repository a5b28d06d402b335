package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewAppliesDefaults(t *testing.T) {
	cfg, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tr := cfg.Tracking
	if tr.LocationThrottle != 5*time.Second {
		t.Errorf("LocationThrottle = %v", tr.LocationThrottle)
	}
	if tr.CodeExpiry != 15*time.Minute || tr.CodeResendLimit != 3 {
		t.Errorf("code defaults = %v / %d", tr.CodeExpiry, tr.CodeResendLimit)
	}
	if tr.ClockSkew != 2*time.Minute || tr.MaxSamples != 500 {
		t.Errorf("sample defaults = %v / %d", tr.ClockSkew, tr.MaxSamples)
	}
	if cfg.DB.Port != 5432 || cfg.RabbitMq.Exchange != "delivery_topic" {
		t.Errorf("connection defaults = %d / %s", cfg.DB.Port, cfg.RabbitMq.Exchange)
	}
}

func TestNewReadsEnvironment(t *testing.T) {
	t.Setenv("LOCATION_THROTTLE", "10s")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("RABBITMQ_ENABLED", "true")
	t.Setenv("STORAGE", "memory")

	cfg, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if cfg.Tracking.LocationThrottle != 10*time.Second {
		t.Errorf("LocationThrottle = %v", cfg.Tracking.LocationThrottle)
	}
	if cfg.DB.Host != "db.internal" {
		t.Errorf("DB.Host = %s", cfg.DB.Host)
	}
	if !cfg.RabbitMq.Enabled {
		t.Error("RabbitMq.Enabled = false")
	}
	if cfg.Tracking.Storage != StorageMemory {
		t.Errorf("Storage = %s", cfg.Tracking.Storage)
	}
}

func TestNewFromYAMLOverridesEnv(t *testing.T) {
	t.Setenv("CODE_RESEND_LIMIT", "7")

	path := filepath.Join(t.TempDir(), "tracking.yaml")
	body := []byte("tracking:\n  code_resend_limit: 2\n  history_max: 100\nserver:\n  tracking_service: \"9000\"\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewFromYAML(path)
	if err != nil {
		t.Fatalf("NewFromYAML: %v", err)
	}
	if cfg.Tracking.CodeResendLimit != 2 {
		t.Errorf("CodeResendLimit = %d, want file value", cfg.Tracking.CodeResendLimit)
	}
	if cfg.Tracking.HistoryMax != 100 {
		t.Errorf("HistoryMax = %d", cfg.Tracking.HistoryMax)
	}
	if cfg.Tracking.HistoryDefault != 50 {
		t.Errorf("HistoryDefault = %d, want untouched default", cfg.Tracking.HistoryDefault)
	}
	if cfg.Srv.TrackingServicePort != "9000" {
		t.Errorf("port = %s", cfg.Srv.TrackingServicePort)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := map[string]func(*Trackingconfig){
		"zero throttle":         func(c *Trackingconfig) { c.LocationThrottle = 0 },
		"history default > max": func(c *Trackingconfig) { c.HistoryDefault = c.HistoryMax + 1 },
		"code length too long":  func(c *Trackingconfig) { c.CodeLength = 8 },
		"unknown storage":       func(c *Trackingconfig) { c.Storage = "redis" },
		"no fallback speed":     func(c *Trackingconfig) { c.FallbackSpeedKmh = 0 },
		"available bounds":      func(c *Trackingconfig) { c.AvailableMaxKm = 1 },
		"bcrypt cost too small": func(c *Trackingconfig) { c.CodeHashCost = 1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			tr := DefaultTracking()
			mutate(tr)
			if err := (&Config{Tracking: tr}).Validate(); err == nil {
				t.Fatal("Validate accepted invalid config")
			}
		})
	}

	if err := (&Config{Tracking: DefaultTracking()}).Validate(); err != nil {
		t.Fatalf("defaults rejected: %v", err)
	}
}
