package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leadpulse/leadpulse/internal/scheduler"
)

func TestLoadEnvironmentConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("LEADPULSE_STATE_DIR", "")
	t.Setenv("USE_TWILIO", "")
	t.Setenv("PROCESSING_BATCH_SIZE", "")
	t.Setenv("SENDS_PER_HOUR", "")

	config := loadEnvironmentConfig()
	if config.StateDir != DefaultStateDir {
		t.Errorf("expected default state dir %s, got %s", DefaultStateDir, config.StateDir)
	}
	if config.DbDSN != filepath.Join(DefaultStateDir, DefaultDBFileName) {
		t.Errorf("expected SQLite default DSN, got %s", config.DbDSN)
	}
	if config.UseTwilio {
		t.Error("twilio should be off by default")
	}
	if config.BatchSize != scheduler.DefaultProcessingBatchSize {
		t.Errorf("unexpected batch size %d", config.BatchSize)
	}
}

func TestLoadEnvironmentConfigOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://leadpulse@localhost/leadpulse")
	t.Setenv("LEADPULSE_STATE_DIR", "/tmp/leadpulse-test")
	t.Setenv("USE_TWILIO", "true")
	t.Setenv("PROCESSING_BATCH_SIZE", "25")

	config := loadEnvironmentConfig()
	if config.DbDSN != "postgres://leadpulse@localhost/leadpulse" {
		t.Errorf("DATABASE_URL not honored, got %s", config.DbDSN)
	}
	if config.StateDir != "/tmp/leadpulse-test" {
		t.Errorf("state dir not honored, got %s", config.StateDir)
	}
	if !config.UseTwilio {
		t.Error("USE_TWILIO=true not honored")
	}
	if config.BatchSize != 25 {
		t.Errorf("batch size not honored, got %d", config.BatchSize)
	}
}

func TestEnsureDirectoriesExist(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "leadpulse.db")
	flags := Flags{dbDSN: &dsn}

	if err := ensureDirectoriesExist(flags); err != nil {
		t.Fatalf("ensureDirectoriesExist failed: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(dsn)); err != nil {
		t.Errorf("state directory not created: %v", err)
	}
}

func TestEnsureDirectoriesExistSkipsPostgres(t *testing.T) {
	dsn := "postgres://leadpulse@localhost/leadpulse"
	flags := Flags{dbDSN: &dsn}
	if err := ensureDirectoriesExist(flags); err != nil {
		t.Fatalf("postgres DSN should not require directories: %v", err)
	}
}

func TestBuildSchedulerOptions(t *testing.T) {
	eval := "*/15 * * * *"
	proc := "*/2 * * * *"
	tz := "Europe/Rome"
	batch := 10
	sends := 20
	flags := Flags{
		evalCron:     &eval,
		procCron:     &proc,
		timezone:     &tz,
		batchSize:    &batch,
		sendsPerHour: &sends,
	}
	if got := len(buildSchedulerOptions(flags)); got != 5 {
		t.Errorf("expected 5 scheduler options, got %d", got)
	}

	badTz := "Not/AZone"
	empty := ""
	zero := 0
	flags = Flags{
		evalCron:     &empty,
		procCron:     &empty,
		timezone:     &badTz,
		batchSize:    &zero,
		sendsPerHour: &zero,
	}
	if got := len(buildSchedulerOptions(flags)); got != 0 {
		t.Errorf("expected no options for empty flags, got %d", got)
	}
}

func TestChannelName(t *testing.T) {
	if channelName(true) != "twilio" || channelName(false) != "whatsapp" {
		t.Error("unexpected channel names")
	}
}
