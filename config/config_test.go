package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/CitizenCafe-LLC/citizenspace-sub001/engine"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// unsetEnv clears key for the test and restores it afterwards, so values
// loaded from a .env file do not leak into other tests.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestDefaults_MatchEngineRules(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	rules, err := cfg.Rules.Engine()
	require.NoError(t, err)

	want := engine.DefaultRules()
	assert.Equal(t, want.Hours, rules.Hours)
	assert.True(t, want.ProcessingFee.Equal(rules.ProcessingFee))
	assert.True(t, want.HolderDiscount.Equal(rules.HolderDiscount))
	assert.Equal(t, want.CheckInEarly, rules.CheckInEarly)
	assert.Equal(t, want.CheckInLate, rules.CheckInLate)
	assert.Equal(t, want.CancellationNotice, rules.CancellationNotice)
	assert.Equal(t, "UTC", rules.Location.String())
}

func TestLoad_TOMLFile(t *testing.T) {
	// GIVEN: a TOML file overriding port, timezone, hours and fee
	// WHEN: Load reads it
	// THEN: overridden values apply, untouched sections keep defaults

	path := writeFile(t, "citizenspace.toml", `
[server]
port = 9090

[storage]
database = "/tmp/cs.db"
credits_bolt = "/tmp/credits.bolt"

[rules]
timezone = "America/Los_Angeles"
open = "08:00"
close = "20:00"
processing_fee = "1.50"
check_in_late = "30m"

[log]
level = "debug"
format = "json"
`)

	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/tmp/cs.db", cfg.Storage.Database)
	assert.Equal(t, "/tmp/credits.bolt", cfg.Storage.CreditsBolt)
	assert.Equal(t, time.Hour, cfg.Scheduler.Interval.Duration)

	rules := cfg.EngineRules()
	assert.Equal(t, "America/Los_Angeles", rules.Location.String())
	assert.Equal(t, engine.NewClock(8, 0), rules.Hours.Open)
	assert.Equal(t, engine.NewClock(20, 0), rules.Hours.Close)
	assert.True(t, rules.ProcessingFee.Equal(decimal.RequireFromString("1.50")))
	assert.Equal(t, 30*time.Minute, rules.CheckInLate)
	assert.Equal(t, 15*time.Minute, rules.CheckInEarly)

	log := cfg.NewLogger()
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	_, isJSON := log.Formatter.(*logrus.JSONFormatter)
	assert.True(t, isJSON)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"), "")
	assert.Error(t, err)
}

func TestLoad_EnvFileAndEnvironment(t *testing.T) {
	// GIVEN: a .env file setting the port and an exported variable setting the discount
	// WHEN: Load runs
	// THEN: both apply on top of defaults

	t.Setenv("CITIZENSPACE_HOLDER_DISCOUNT", "0.25")
	unsetEnv(t, "CITIZENSPACE_PORT")
	unsetEnv(t, "CITIZENSPACE_SCHEDULER_INTERVAL")

	envFile := writeFile(t, ".env", "CITIZENSPACE_PORT=7070\nCITIZENSPACE_SCHEDULER_INTERVAL=15m\n")

	cfg, err := Load("", envFile)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.Interval.Duration)
	assert.True(t, cfg.Rules.HolderDiscount.Equal(decimal.RequireFromString("0.25")))
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	cfg, err := Load("", filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestApplyEnv_BadValues(t *testing.T) {
	env := map[string]string{
		"CITIZENSPACE_PORT":           "eighty",
		"CITIZENSPACE_CHECKIN_EARLY":  "soon",
		"CITIZENSPACE_PROCESSING_FEE": "two dollars",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	err := Defaults().applyEnv(lookup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CITIZENSPACE_PORT")
	assert.Contains(t, err.Error(), "CITIZENSPACE_CHECKIN_EARLY")
	assert.Contains(t, err.Error(), "CITIZENSPACE_PROCESSING_FEE")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"no database", func(c *Config) { c.Storage.Database = "" }},
		{"unknown timezone", func(c *Config) { c.Rules.Timezone = "Mars/Olympus" }},
		{"bad clock", func(c *Config) { c.Rules.Open = "7am" }},
		{"close before open", func(c *Config) { c.Rules.Open, c.Rules.Close = "18:00", "09:00" }},
		{"negative fee", func(c *Config) { c.Rules.ProcessingFee = decimal.NewFromInt(-1) }},
		{"discount above one", func(c *Config) { c.Rules.HolderDiscount = decimal.RequireFromString("1.5") }},
		{"zero interval", func(c *Config) { c.Scheduler.Interval.Duration = 0 }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }},
		{"negative burst", func(c *Config) { c.RateLimit.Burst = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
