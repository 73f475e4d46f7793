package config_test

import (
	"errors"
	"testing"
	"time"

	"telegram-bdintel/internal/infra/config"
)

// setBaseEnv выставляет минимально валидное окружение.
func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_API_ID", "12345")
	t.Setenv("TELEGRAM_API_HASH", "abcdef")
	t.Setenv("TELEGRAM_PHONE", "+15551234567")
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("SYNC_TIME", "")
	t.Setenv("SYNC_LIMIT", "")
	t.Setenv("DESTINATION_KIND", "")
	t.Setenv("DESTINATION_ID", "")
	t.Setenv("SERVICE_ACCOUNT_FILE", "")
	t.Setenv("APP_TIMEZONE", "")
	t.Setenv("FOLLOWUP_EXCLUDE", "")
	t.Setenv("INGEST_INTERVAL", "")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	if err := config.Load(""); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	env := config.Env()
	if env.SyncTimeHour != 3 || env.SyncTimeMinute != 0 {
		t.Fatalf("default SYNC_TIME = %02d:%02d, want 03:00", env.SyncTimeHour, env.SyncTimeMinute)
	}
	if env.SyncLimit != 100000 {
		t.Fatalf("default SYNC_LIMIT = %d, want 100000", env.SyncLimit)
	}
	if env.Destination != config.DestinationNone {
		t.Fatalf("default DESTINATION_KIND = %q, want none", env.Destination)
	}
	if env.IngestInterval != time.Hour {
		t.Fatalf("default INGEST_INTERVAL = %s, want 1h", env.IngestInterval)
	}
	if len(env.FollowUpExclude) != 0 {
		t.Fatalf("default FOLLOWUP_EXCLUDE = %v, want empty", env.FollowUpExclude)
	}
}

func TestLoadMissingCredentials(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("TELEGRAM_API_ID", "")

	if err := config.Load(""); !errors.Is(err, config.ErrConfig) {
		t.Fatalf("Load() = %v, want ErrConfig", err)
	}
}

func TestLoadBadSyncTime(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SYNC_TIME", "25:99")

	if err := config.Load(""); !errors.Is(err, config.ErrConfig) {
		t.Fatalf("Load() = %v, want ErrConfig", err)
	}
}

func TestLoadSheetsRequiresCredentials(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DESTINATION_KIND", "sheets")
	t.Setenv("DESTINATION_ID", "spreadsheet-id")

	if err := config.Load(""); !errors.Is(err, config.ErrConfig) {
		t.Fatalf("Load() without SERVICE_ACCOUNT_FILE = %v, want ErrConfig", err)
	}

	t.Setenv("SERVICE_ACCOUNT_FILE", "/tmp/sa.json")
	if err := config.Load(""); err != nil {
		t.Fatalf("Load() with full sheets config error: %v", err)
	}
}

func TestLoadUnknownDestination(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DESTINATION_KIND", "ftp")

	if err := config.Load(""); !errors.Is(err, config.ErrConfig) {
		t.Fatalf("Load() = %v, want ErrConfig", err)
	}
}

func TestFollowUpExcludeList(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("FOLLOWUP_EXCLUDE", "@alice, bob ,,@carol")

	if err := config.Load(""); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	got := config.Env().FollowUpExclude
	want := []string{"alice", "bob", "carol"}
	if len(got) != len(want) {
		t.Fatalf("FollowUpExclude = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("FollowUpExclude[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
