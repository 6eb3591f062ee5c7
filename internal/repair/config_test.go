package repair

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("REPAIR_DATA_DIR", "")
	t.Setenv("BACKUP_CRON", "")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxCodeAttempts != 5 || cfg.DenyLimit != 2 || cfg.CodeLength != 4 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Tariff.BaseFee.String() != "20" || cfg.Tariff.Rate.String() != "0.3" {
		t.Fatalf("tariff = %s + %s", cfg.Tariff.BaseFee, cfg.Tariff.Rate)
	}
	if cfg.ExternalTimeout != 10*time.Second || cfg.Currency != "BYN" || cfg.BotWorkers != 16 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("REPAIR_DENY_LIMIT", "3")
	t.Setenv("REPAIR_DELIVERY_RATE", "0,25")
	t.Setenv("REPAIR_CURRENCY", "usd")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DenyLimit != 3 || cfg.Tariff.Rate.String() != "0.25" || cfg.Currency != "USD" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"not a number", "REPAIR_MAX_CODE_ATTEMPTS", "five"},
		{"zero deny limit", "REPAIR_DENY_LIMIT", "0"},
		{"short code", "REPAIR_CODE_LENGTH", "2"},
		{"negative fee", "REPAIR_DELIVERY_BASE_FEE", "-1"},
		{"bad rate", "REPAIR_DELIVERY_RATE", "abc"},
		{"no bot workers", "REPAIR_BOT_WORKERS", "0"},
		{"backup without bucket", "BACKUP_CRON", "@daily"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("BACKUP_S3_BUCKET", "")
			t.Setenv(tt.key, tt.value)
			if _, err := LoadConfig(); err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}
