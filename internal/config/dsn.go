package config

import (
	"errors"
	"net/url"
	"os"
	"strings"
)

// DatabaseURLEnv overrides the configured store DSN.
const DatabaseURLEnv = "QLEARN_DATABASE_URL"

// maskedPassword replaces passwords in displayed DSNs.
const maskedPassword = "xxxxx"

// ErrNoDSN is returned when the postgres driver is selected without a DSN.
var ErrNoDSN = errors.New("no database DSN configured")

// ResolveDSN returns the data source name for the configured driver.
// It checks in order: environment variable, config file. The sqlite driver
// falls back to the XDG data path.
func ResolveDSN(cfg *Config) (string, error) {
	if dsn := os.Getenv(DatabaseURLEnv); dsn != "" {
		return dsn, nil
	}

	if cfg != nil && cfg.Store.DSN != "" {
		dsn := os.ExpandEnv(cfg.Store.DSN)
		if dsn != "" && !strings.HasPrefix(dsn, "${") {
			return dsn, nil
		}
	}

	if cfg == nil || cfg.Store.Driver == "" || cfg.Store.Driver == "sqlite" {
		return DefaultDatabasePath(), nil
	}
	return "", ErrNoDSN
}

// MaskDSN returns a DSN safe for display: any password is replaced.
func MaskDSN(dsn string) string {
	if dsn == "" {
		return "(not set)"
	}

	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return maskKeywordPassword(dsn)
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), maskedPassword)
	}
	return u.String()
}

// maskKeywordPassword handles libpq keyword/value DSNs ("host=x password=y").
func maskKeywordPassword(dsn string) string {
	fields := strings.Fields(dsn)
	for i, f := range fields {
		if strings.HasPrefix(f, "password=") {
			fields[i] = "password=" + maskedPassword
		}
	}
	return strings.Join(fields, " ")
}

// DSNSource represents where a DSN was loaded from.
type DSNSource string

const (
	DSNSourceEnv     DSNSource = "environment"
	DSNSourceConfig  DSNSource = "config_file"
	DSNSourceDefault DSNSource = "default"
	DSNSourceNone    DSNSource = "none"
)

// GetDSNSource returns where the DSN was sourced from.
func GetDSNSource(cfg *Config) DSNSource {
	if os.Getenv(DatabaseURLEnv) != "" {
		return DSNSourceEnv
	}

	if cfg != nil && cfg.Store.DSN != "" {
		dsn := os.ExpandEnv(cfg.Store.DSN)
		if dsn != "" && !strings.HasPrefix(dsn, "${") {
			return DSNSourceConfig
		}
	}

	if cfg == nil || cfg.Store.Driver == "" || cfg.Store.Driver == "sqlite" {
		return DSNSourceDefault
	}
	return DSNSourceNone
}
