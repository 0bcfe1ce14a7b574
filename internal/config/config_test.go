package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.SendTimeout != 15*time.Second {
		t.Errorf("SendTimeout = %s", cfg.SendTimeout)
	}
	if cfg.SNSRegion != cfg.AWSRegion {
		t.Errorf("SNSRegion = %s, want AWS region %s", cfg.SNSRegion, cfg.AWSRegion)
	}
	if cfg.EmailFrom != cfg.SESFromEmail {
		t.Errorf("EmailFrom = %s, want %s", cfg.EmailFrom, cfg.SESFromEmail)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SEND_TIMEOUT", "3s")
	t.Setenv("DISPATCH_CONCURRENCY", "2")
	t.Setenv("SYSTEM_USER_ID", "42")
	t.Setenv("DISCORD_RATE_PER_SEC", "0.5")
	t.Setenv("STAGE_CRON", "@every 1m")
	t.Setenv("TIMEZONE", "UTC")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != 9090 || cfg.SendTimeout != 3*time.Second || cfg.DispatchConcurrency != 2 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.SystemUserID != 42 || cfg.DiscordRatePerSec != 0.5 {
		t.Errorf("chat config = %d / %v", cfg.SystemUserID, cfg.DiscordRatePerSec)
	}
	if cfg.StageCron != "@every 1m" {
		t.Errorf("StageCron = %q", cfg.StageCron)
	}
	if cfg.Location() != time.UTC {
		t.Errorf("Location() = %v", cfg.Location())
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"PORT", "abc"},
		{"DB_PORT", "x"},
		{"SEND_TIMEOUT", "fast"},
		{"SYSTEM_USER_ID", "root"},
		{"TIMEZONE", "Mars/Olympus"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%s error = nil", tt.key, tt.value)
			}
		})
	}
}
