// Package config loads collx settings.
//
// Precedence: CLI flags > COLLX_* environment > config file > defaults.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/roach88/collx/internal/querysql"
)

// Config keys. Flags bound to the same names override them.
const (
	KeyDialect     = "dialect"
	KeyDatabaseURL = "database_url"
	KeyLogLevel    = "log_level"
	KeyLogFormat   = "log_format"
)

// EnvPrefix is the prefix of the environment variables read by Load.
const EnvPrefix = "COLLX"

// ValidLogFormats are the accepted log formats.
var ValidLogFormats = []string{"text", "json"}

// Config holds the settings shared by every command.
type Config struct {
	// Dialect is used to render SQL when no database is opened.
	Dialect string `mapstructure:"dialect"`

	// DatabaseURL is the store query collections run against.
	DatabaseURL string `mapstructure:"database_url"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Default returns the built-in settings: an in-memory sqlite database and
// info-level text logs.
func Default() *Config {
	return &Config{
		Dialect:     querysql.DialectSQLite,
		DatabaseURL: "sqlite://:memory:",
		LogLevel:    "info",
		LogFormat:   "text",
	}
}

// Load reads the configuration. configPath may be empty; flags may be nil.
// Only flags named like a config key ("database-url" for database_url) are
// bound.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault(KeyDialect, def.Dialect)
	v.SetDefault(KeyDatabaseURL, def.DatabaseURL)
	v.SetDefault(KeyLogLevel, def.LogLevel)
	v.SetDefault(KeyLogFormat, def.LogFormat)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		for _, key := range []string{KeyDialect, KeyDatabaseURL, KeyLogLevel, KeyLogFormat} {
			if f := flags.Lookup(strings.ReplaceAll(key, "_", "-")); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", f.Name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the dialect, the log settings and that a database URL
// is set.
func (c *Config) Validate() error {
	if !querysql.ValidDialects[c.Dialect] {
		return fmt.Errorf("dialect must be %s or %s, got %q", querysql.DialectSQLite, querysql.DialectPostgres, c.Dialect)
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("database_url must not be empty")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if !slices.Contains(ValidLogFormats, c.LogFormat) {
		return fmt.Errorf("log_format must be one of %v, got %q", ValidLogFormats, c.LogFormat)
	}
	return nil
}

// Logger builds a logger writing to w with the configured level and
// format.
func (c *Config) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if c.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log_level must be debug, info, warn or error, got %q", s)
}
