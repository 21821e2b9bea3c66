// Package config loads the host process's configuration as a strict
// enumerated option set. Any key in the TOML file that does not map to a
// known field is a configuration error at startup, not a silently ignored
// typo.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Transport selects the MCP wire framing the host process serves.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportSSE   Transport = "sse"
)

// LogLevel is the enumerated slog level accepted in configuration.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Config is the full option set the host process accepts. Every field maps
// 1:1 to a named toggle; there is no catch-all bag for stray keys.
type Config struct {
	DashboardEnabled    bool              `toml:"dashboard_enabled"`
	DashboardStorageDir string            `toml:"dashboard_storage_dir"`
	MetadataURL         string            `toml:"metadata_url"`
	DataURL             string            `toml:"data_url"`
	SchemaPrefix        string            `toml:"schema_prefix"`
	TableNameOverrides  map[string]string `toml:"table_name_overrides"`
	LogLevel            LogLevel          `toml:"log_level"`
	LogsDir             string            `toml:"logs_dir"`
	Transport           Transport         `toml:"transport"`
	Host                string            `toml:"host"`
	Port                int               `toml:"port"`
	Auth                AuthConfig        `toml:"auth"`
}

// AuthConfig configures bearer-token verification for the dashboard HTTP
// surface; the dashboard listener uses it only when DashboardEnabled is
// true, and the token-issuing flag uses it regardless.
type AuthConfig struct {
	JWTSecret      string `toml:"jwt_secret"`
	TokenExpiryMin int    `toml:"token_expiry_min"`
}

func defaults() *Config {
	return &Config{
		DashboardEnabled:    false,
		DashboardStorageDir: "data/dashboards",
		LogLevel:            LogLevelInfo,
		LogsDir:             "logs",
		Transport:           TransportStdio,
		Host:                "127.0.0.1",
		Port:                8765,
		Auth: AuthConfig{
			TokenExpiryMin: 1440,
		},
	}
}

// Load reads and strictly decodes path. A missing path is not itself an
// error — the caller may be relying entirely on flags/defaults — but every
// other read, parse, unrecognized-key, or validation failure is fatal.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	meta, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unrecognized configuration key(s): %v", undecoded)
	}

	return cfg, cfg.Validate()
}

// Validate enforces the required/enumerated shape of the option set.
func (c *Config) Validate() error {
	if c.MetadataURL == "" {
		return fmt.Errorf("metadata_url is required")
	}
	switch c.Transport {
	case TransportStdio, TransportSSE:
	default:
		return fmt.Errorf("transport must be %q or %q, got %q", TransportStdio, TransportSSE, c.Transport)
	}
	switch c.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		return fmt.Errorf("log_level must be one of debug/info/warn/error, got %q", c.LogLevel)
	}
	return nil
}
