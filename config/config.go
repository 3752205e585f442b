/*
Package config loads server configuration.

PURPOSE:
  One place for every knob the server reads: listen port, storage paths,
  house rules (operating hours, fee, discount, check-in and cancellation
  windows), scheduler cadence, logging and rate limiting.

LOAD ORDER (later wins):
  1. Defaults()                     Built-in values
  2. TOML file (optional)           citizenspace.toml
  3. .env file (optional)           Exported into the process environment
  4. CITIZENSPACE_* environment     Per-key overrides

TOML EXAMPLE:
  [server]
  port = 8080

  [storage]
  database = "./data/citizenspace.db"
  credits_bolt = ""            # empty keeps credits in sqlite
  catalog = "./catalog.json"   # empty uses the built-in catalog

  [rules]
  timezone = "America/Los_Angeles"
  open = "07:00"
  close = "22:00"
  processing_fee = "2.00"
  holder_discount = "0.5"
  check_in_early = "15m"
  check_in_late = "1h"
  cancellation_notice = "24h"

  [scheduler]
  enabled = true
  interval = "1h"

  [log]
  level = "info"
  format = "text"              # or "json"

  [rate_limit]
  requests_per_second = 20
  burst = 40

ENVIRONMENT:
  CITIZENSPACE_PORT, CITIZENSPACE_DB, CITIZENSPACE_CREDITS_BOLT,
  CITIZENSPACE_CATALOG, CITIZENSPACE_TIMEZONE, CITIZENSPACE_OPEN,
  CITIZENSPACE_CLOSE, CITIZENSPACE_PROCESSING_FEE,
  CITIZENSPACE_HOLDER_DISCOUNT, CITIZENSPACE_CHECKIN_EARLY,
  CITIZENSPACE_CHECKIN_LATE, CITIZENSPACE_CANCELLATION_NOTICE,
  CITIZENSPACE_SCHEDULER_ENABLED, CITIZENSPACE_SCHEDULER_INTERVAL,
  CITIZENSPACE_LOG_LEVEL, CITIZENSPACE_LOG_FORMAT,
  CITIZENSPACE_RATE_LIMIT_RPS, CITIZENSPACE_RATE_LIMIT_BURST

SEE ALSO:
  - engine/rules.go: Rules produced by Config.Rules
  - cmd/server/main.go: Flag overrides on top of this
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/CitizenCafe-LLC/citizenspace-sub001/engine"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const envPrefix = "CITIZENSPACE_"

// =============================================================================
// TYPES
// =============================================================================

// Duration is a time.Duration written as "15m" or "24h" in TOML.
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

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Storage   StorageConfig   `toml:"storage"`
	Rules     RulesConfig     `toml:"rules"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Log       LogConfig       `toml:"log"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
}

type ServerConfig struct {
	Port            int      `toml:"port"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

type StorageConfig struct {
	Database    string `toml:"database"`
	CreditsBolt string `toml:"credits_bolt"`
	Catalog     string `toml:"catalog"`
}

type RulesConfig struct {
	Timezone           string          `toml:"timezone"`
	Open               string          `toml:"open"`
	Close              string          `toml:"close"`
	ProcessingFee      decimal.Decimal `toml:"processing_fee"`
	HolderDiscount     decimal.Decimal `toml:"holder_discount"`
	CheckInEarly       Duration        `toml:"check_in_early"`
	CheckInLate        Duration        `toml:"check_in_late"`
	CancellationNotice Duration        `toml:"cancellation_notice"`
}

type SchedulerConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval Duration `toml:"interval"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// Defaults returns the built-in configuration. Its rules equal
// engine.DefaultRules in UTC.
func Defaults() *Config {
	rules := engine.DefaultRules()
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: Duration{30 * time.Second},
		},
		Storage: StorageConfig{
			Database: "citizenspace.db",
		},
		Rules: RulesConfig{
			Timezone:           "UTC",
			Open:               rules.Hours.Open.String(),
			Close:              rules.Hours.Close.String(),
			ProcessingFee:      rules.ProcessingFee,
			HolderDiscount:     rules.HolderDiscount,
			CheckInEarly:       Duration{rules.CheckInEarly},
			CheckInLate:        Duration{rules.CheckInLate},
			CancellationNotice: Duration{rules.CancellationNotice},
		},
		Scheduler: SchedulerConfig{
			Enabled:  true,
			Interval: Duration{time.Hour},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
		},
	}
}

// =============================================================================
// LOADING
// =============================================================================

// Load builds the configuration from defaults, the TOML file at path, the
// .env file at envFile and the environment. Empty paths are skipped; a
// missing .env file is not an error, a missing TOML file is.
func Load(path, envFile string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays CITIZENSPACE_* variables found through lookup.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(envPrefix + key)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}

	var errs []error
	str := func(key string, dst *string) {
		if v, ok := get(key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := get(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := get(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	dec := func(key string, dst *decimal.Decimal) {
		if v, ok := get(key); ok {
			d, err := decimal.NewFromString(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = d
		}
	}
	dur := func(key string, dst *Duration) {
		if v, ok := get(key); ok {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
			}
		}
	}

	integer("PORT", &c.Server.Port)
	str("DB", &c.Storage.Database)
	str("CREDITS_BOLT", &c.Storage.CreditsBolt)
	str("CATALOG", &c.Storage.Catalog)
	str("TIMEZONE", &c.Rules.Timezone)
	str("OPEN", &c.Rules.Open)
	str("CLOSE", &c.Rules.Close)
	dec("PROCESSING_FEE", &c.Rules.ProcessingFee)
	dec("HOLDER_DISCOUNT", &c.Rules.HolderDiscount)
	dur("CHECKIN_EARLY", &c.Rules.CheckInEarly)
	dur("CHECKIN_LATE", &c.Rules.CheckInLate)
	dur("CANCELLATION_NOTICE", &c.Rules.CancellationNotice)
	boolean("SCHEDULER_ENABLED", &c.Scheduler.Enabled)
	dur("SCHEDULER_INTERVAL", &c.Scheduler.Interval)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	float("RATE_LIMIT_RPS", &c.RateLimit.RequestsPerSecond)
	integer("RATE_LIMIT_BURST", &c.RateLimit.Burst)

	return errors.Join(errs...)
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Storage.Database == "" {
		return errors.New("storage.database is required")
	}
	if _, err := c.Rules.Engine(); err != nil {
		return err
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval.Duration <= 0 {
		return errors.New("scheduler.interval must be positive")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q: want text or json", c.Log.Format)
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return errors.New("rate_limit values cannot be negative")
	}
	return nil
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// Engine converts the rules section into engine.Rules.
func (r RulesConfig) Engine() (engine.Rules, error) {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return engine.Rules{}, fmt.Errorf("rules.timezone: %w", err)
	}
	open, err := engine.ParseClock(r.Open)
	if err != nil {
		return engine.Rules{}, fmt.Errorf("rules.open: %w", err)
	}
	closing, err := engine.ParseClock(r.Close)
	if err != nil {
		return engine.Rules{}, fmt.Errorf("rules.close: %w", err)
	}
	if closing <= open {
		return engine.Rules{}, fmt.Errorf("rules: close %s is not after open %s", closing, open)
	}
	if r.ProcessingFee.IsNegative() {
		return engine.Rules{}, errors.New("rules.processing_fee cannot be negative")
	}
	if r.HolderDiscount.IsNegative() || r.HolderDiscount.GreaterThan(decimal.NewFromInt(1)) {
		return engine.Rules{}, fmt.Errorf("rules.holder_discount %s outside [0, 1]", r.HolderDiscount)
	}

	return engine.Rules{
		Hours:              engine.OperatingHours{Open: open, Close: closing},
		Location:           loc,
		ProcessingFee:      r.ProcessingFee,
		HolderDiscount:     r.HolderDiscount,
		CheckInEarly:       r.CheckInEarly.Duration,
		CheckInLate:        r.CheckInLate.Duration,
		CancellationNotice: r.CancellationNotice.Duration,
	}, nil
}

// EngineRules returns the house rules. Load has already validated them.
func (c *Config) EngineRules() engine.Rules {
	rules, err := c.Rules.Engine()
	if err != nil {
		return engine.DefaultRules()
	}
	return rules
}

// NewLogger builds the process logger from the log section.
func (c *Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(c.Log.Level); err == nil {
		log.SetLevel(level)
	}
	if c.Log.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}
