package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Naming != DefaultNamingOptions() {
		t.Errorf("naming = %+v, want defaults", cfg.Naming)
	}
	if cfg.GetRedisAddr() != "" {
		t.Errorf("redis addr = %q, want empty when REDIS_HOST unset", cfg.GetRedisAddr())
	}
	if cfg.CodeReservationTTL != 10*time.Minute {
		t.Errorf("reservation ttl = %v", cfg.CodeReservationTTL)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("STUDY_CODE_COUNTER_START", "1000")
	t.Setenv("STUDY_CODE_MIN_DIGITS", "4")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("MYSQL_DATABASE", "tracker")
	t.Setenv("STORAGE_REQUEST_TIMEOUT", "5s")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Naming.StudyCodeCounterStart != 1000 || cfg.Naming.StudyCodeMinimumDigits != 4 {
		t.Errorf("naming = %+v", cfg.Naming)
	}
	if cfg.GetRedisAddr() != "cache:6379" {
		t.Errorf("redis addr = %q", cfg.GetRedisAddr())
	}
	if !strings.Contains(cfg.GetDSN(), "/tracker?") {
		t.Errorf("dsn = %q", cfg.GetDSN())
	}
	if cfg.StorageRequestTimeout != 5*time.Second {
		t.Errorf("timeout = %v", cfg.StorageRequestTimeout)
	}
}

func TestLoadConfigRejectsZeroDigits(t *testing.T) {
	t.Setenv("ASSAY_CODE_MIN_DIGITS", "0")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for ASSAY_CODE_MIN_DIGITS=0")
	}
}

func TestEnvCredentials(t *testing.T) {
	t.Setenv("ACME_S3_ACCESS_KEY", "ak")
	t.Setenv("ACME_S3_SECRET_KEY", "sk")

	creds, err := EnvCredentials{}.Resolve("acme-s3")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if creds.AccessKey != "ak" || creds.SecretKey != "sk" || creds.Token != "" {
		t.Errorf("creds = %+v", creds)
	}

	if _, err := (EnvCredentials{}).Resolve("missing"); err == nil {
		t.Error("expected error for unresolvable reference")
	}
	if creds, err := (EnvCredentials{}).Resolve(""); err != nil || creds.AccessKey != "" {
		t.Errorf("empty ref = %+v, %v", creds, err)
	}
}
