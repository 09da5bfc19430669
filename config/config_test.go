package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FUMAPIS_API_URL", "")
	t.Setenv("PAGE_SIZE", "")
	t.Setenv("SNAPSHOTS_ENABLED", "")

	cfg := Load()
	if cfg.APIURL != "http://localhost:8000" {
		t.Errorf("APIURL: got %q", cfg.APIURL)
	}
	if cfg.PageSize != 100 {
		t.Errorf("PageSize: got %d, want 100", cfg.PageSize)
	}
	if cfg.SnapshotsEnabled {
		t.Error("snapshots should be disabled by default")
	}
	if cfg.SessionBackend != "file" {
		t.Errorf("SessionBackend: got %q, want file", cfg.SessionBackend)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FUMAPIS_API_URL", "https://api.fumapis.org/")
	t.Setenv("PAGE_SIZE", "25")
	t.Setenv("REFRESH_INTERVAL_SECONDS", "5")
	t.Setenv("SNAPSHOTS_ENABLED", "true")
	t.Setenv("MAX_PAGES", "not-a-number")

	cfg := Load()
	if cfg.APIURL != "https://api.fumapis.org" {
		t.Errorf("APIURL should lose its trailing slash, got %q", cfg.APIURL)
	}
	if cfg.PageSize != 25 {
		t.Errorf("PageSize: got %d, want 25", cfg.PageSize)
	}
	if cfg.RefreshInterval != 5*time.Second {
		t.Errorf("RefreshInterval: got %v", cfg.RefreshInterval)
	}
	if !cfg.SnapshotsEnabled {
		t.Error("SnapshotsEnabled should be true")
	}
	if cfg.MaxPages != 20 {
		t.Errorf("invalid MAX_PAGES should fall back to 20, got %d", cfg.MaxPages)
	}
}

func TestDSN(t *testing.T) {
	cfg := &Config{
		PostgresHost: "db", PostgresPort: "5433", PostgresUser: "u",
		PostgresPassword: "p", PostgresDB: "d", PostgresSSLMode: "disable",
	}
	want := "host=db port=5433 user=u password=p dbname=d sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN: got %q, want %q", got, want)
	}
}
