/*
config.go - Server configuration

PURPOSE:
  Collects every tunable of the ledger server in one struct.

LOAD ORDER (later wins):
  1. Default()
  2. TOML file (optional, --config)
  3. .env file in the working directory (optional)
  4. LEDGER_* environment variables
  5. Command-line flags (applied by cmd/server)

EXAMPLE ledger.toml:
  [server]
  addr = ":8080"

  [database]
  path = "./data/ledger.db"

  [ledger]
  working_days_per_month = 26
  high_value_threshold = "500000"

  [accrual]
  enabled = true
  schedule = "5 0 * * *"
  timezone = "Africa/Kampala"

  [notify]
  provider = "http"
  url = "https://sms.example.com/v1/messages"
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Accrual  AccrualConfig  `toml:"accrual"`
	Notify   NotifyConfig   `toml:"notify"`
	Log      LogConfig      `toml:"log"`
}

type ServerConfig struct {
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

type DatabaseConfig struct {
	// Path is a SQLite file path or ":memory:".
	Path string `toml:"path"`
}

type LedgerConfig struct {
	WorkingDaysPerMonth int `toml:"working_days_per_month"`
	// HighValueThreshold routes withdrawals at or above it through the
	// approval workflow. "0" disables gating.
	HighValueThreshold string `toml:"high_value_threshold"`
}

type AccrualConfig struct {
	Enabled     bool   `toml:"enabled"`
	Schedule    string `toml:"schedule"`
	Timezone    string `toml:"timezone"`
	CatchUpDays int    `toml:"catch_up_days"`
}

type NotifyConfig struct {
	// Provider is "log", "http" or "none".
	Provider string   `toml:"provider"`
	URL      string   `toml:"url"`
	APIKey   string   `toml:"api_key"`
	SenderID string   `toml:"sender_id"`
	Timeout  Duration `toml:"timeout"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration decodes "10s" style strings from TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Database: DatabaseConfig{Path: "ledger.db"},
		Ledger: LedgerConfig{
			WorkingDaysPerMonth: 26,
			HighValueThreshold:  "0",
		},
		Accrual: AccrualConfig{
			Enabled:     true,
			Schedule:    "5 0 * * *",
			Timezone:    "UTC",
			CatchUpDays: 1,
		},
		Notify: NotifyConfig{
			Provider: "log",
			Timeout:  Duration{10 * time.Second},
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration. path may be empty. A missing .env file is
// not an error; a missing TOML file named explicitly is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Server.Addr = getEnv("LEDGER_ADDR", c.Server.Addr)
	if v := getEnv("LEDGER_ALLOWED_ORIGINS", ""); v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}
	c.Database.Path = getEnv("LEDGER_DB_PATH", c.Database.Path)
	c.Ledger.HighValueThreshold = getEnv("LEDGER_HIGH_VALUE_THRESHOLD", c.Ledger.HighValueThreshold)
	c.Accrual.Schedule = getEnv("LEDGER_ACCRUAL_SCHEDULE", c.Accrual.Schedule)
	c.Accrual.Timezone = getEnv("LEDGER_ACCRUAL_TIMEZONE", c.Accrual.Timezone)
	c.Notify.Provider = getEnv("LEDGER_NOTIFY_PROVIDER", c.Notify.Provider)
	c.Notify.URL = getEnv("LEDGER_NOTIFY_URL", c.Notify.URL)
	c.Notify.APIKey = getEnv("LEDGER_NOTIFY_API_KEY", c.Notify.APIKey)
	c.Notify.SenderID = getEnv("LEDGER_NOTIFY_SENDER_ID", c.Notify.SenderID)
	c.Log.Level = getEnv("LEDGER_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LEDGER_LOG_FORMAT", c.Log.Format)

	var err error
	if c.Ledger.WorkingDaysPerMonth, err = getEnvInt("LEDGER_WORKING_DAYS_PER_MONTH", c.Ledger.WorkingDaysPerMonth); err != nil {
		return err
	}
	if c.Accrual.CatchUpDays, err = getEnvInt("LEDGER_ACCRUAL_CATCH_UP_DAYS", c.Accrual.CatchUpDays); err != nil {
		return err
	}
	if v := getEnv("LEDGER_ACCRUAL_ENABLED", ""); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid LEDGER_ACCRUAL_ENABLED %q: %w", v, err)
		}
		c.Accrual.Enabled = enabled
	}
	if v := getEnv("LEDGER_NOTIFY_TIMEOUT", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid LEDGER_NOTIFY_TIMEOUT %q: %w", v, err)
		}
		c.Notify.Timeout = Duration{d}
	}
	return nil
}

// Validate checks the values that would otherwise fail late at startup.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server address is required")
	}
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Ledger.WorkingDaysPerMonth <= 0 {
		return fmt.Errorf("working_days_per_month must be positive, got %d", c.Ledger.WorkingDaysPerMonth)
	}
	threshold, err := c.Threshold()
	if err != nil {
		return err
	}
	if threshold.IsNegative() {
		return fmt.Errorf("high_value_threshold must not be negative, got %s", threshold)
	}
	if c.Accrual.CatchUpDays < 0 {
		return fmt.Errorf("catch_up_days must not be negative, got %d", c.Accrual.CatchUpDays)
	}
	if _, err := cron.ParseStandard(c.Accrual.Schedule); err != nil {
		return fmt.Errorf("invalid accrual schedule %q: %w", c.Accrual.Schedule, err)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	switch c.Notify.Provider {
	case "log", "none":
	case "http":
		if c.Notify.URL == "" {
			return errors.New("notify.url is required for the http provider")
		}
	default:
		return fmt.Errorf("unknown notify provider %q (use log, http or none)", c.Notify.Provider)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q (use json or text)", c.Log.Format)
	}
	return nil
}

func (c Config) Threshold() (decimal.Decimal, error) {
	if c.Ledger.HighValueThreshold == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(c.Ledger.HighValueThreshold)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid high_value_threshold %q: %w", c.Ledger.HighValueThreshold, err)
	}
	return d, nil
}

// Location is the factory's time zone, used to decide what "today" is.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Accrual.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid accrual timezone %q: %w", c.Accrual.Timezone, err)
	}
	return loc, nil
}

// NewLogger builds the process logger on stderr.
func (c Config) NewLogger() *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
