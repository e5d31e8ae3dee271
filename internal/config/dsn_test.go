package config

import (
	"errors"
	"strings"
	"testing"
)

func TestResolveDSN(t *testing.T) {
	t.Run("from environment variable", func(t *testing.T) {
		t.Setenv(DatabaseURLEnv, "postgres://env@localhost/qlearn")

		cfg := &Config{Store: StoreConfig{Driver: "postgres", DSN: "postgres://config@localhost/qlearn"}}
		dsn, err := ResolveDSN(cfg)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if dsn != "postgres://env@localhost/qlearn" {
			t.Errorf("expected env DSN, got %q", dsn)
		}
		if src := GetDSNSource(cfg); src != DSNSourceEnv {
			t.Errorf("expected source %q, got %q", DSNSourceEnv, src)
		}
	})

	t.Run("from config", func(t *testing.T) {
		t.Setenv(DatabaseURLEnv, "")

		cfg := &Config{Store: StoreConfig{Driver: "postgres", DSN: "postgres://config@localhost/qlearn"}}
		dsn, err := ResolveDSN(cfg)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if dsn != "postgres://config@localhost/qlearn" {
			t.Errorf("expected config DSN, got %q", dsn)
		}
		if src := GetDSNSource(cfg); src != DSNSourceConfig {
			t.Errorf("expected source %q, got %q", DSNSourceConfig, src)
		}
	})

	t.Run("sqlite falls back to data dir", func(t *testing.T) {
		t.Setenv(DatabaseURLEnv, "")
		t.Setenv("XDG_DATA_HOME", "/data")

		dsn, err := ResolveDSN(&Config{Store: StoreConfig{Driver: "sqlite"}})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if dsn != "/data/qlearn/qlearn.db" {
			t.Errorf("expected default path, got %q", dsn)
		}
	})

	t.Run("postgres without dsn", func(t *testing.T) {
		t.Setenv(DatabaseURLEnv, "")

		cfg := &Config{Store: StoreConfig{Driver: "postgres", DSN: "${QLEARN_UNSET_VAR_FOR_TEST}"}}
		_, err := ResolveDSN(cfg)
		if !errors.Is(err, ErrNoDSN) {
			t.Errorf("expected ErrNoDSN, got %v", err)
		}
		if src := GetDSNSource(cfg); src != DSNSourceNone {
			t.Errorf("expected source %q, got %q", DSNSourceNone, src)
		}
	})
}

func TestMaskDSN(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		want string
	}{
		{"empty", "", "(not set)"},
		{"url with password", "postgres://user:secret@db:5432/qlearn", "postgres://user:xxxxx@db:5432/qlearn"},
		{"url without password", "postgres://user@db/qlearn", "postgres://user@db/qlearn"},
		{"keyword form", "host=db user=q password=secret dbname=qlearn", "host=db user=q password=xxxxx dbname=qlearn"},
		{"sqlite path", "/var/lib/qlearn.db", "/var/lib/qlearn.db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MaskDSN(tt.dsn)
			if got != tt.want {
				t.Errorf("MaskDSN(%q) = %q, want %q", tt.dsn, got, tt.want)
			}
			if strings.Contains(got, "secret") {
				t.Errorf("MaskDSN(%q) leaked the password", tt.dsn)
			}
		})
	}
}
