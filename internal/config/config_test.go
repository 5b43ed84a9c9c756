package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "poolmarket.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "memory", cfg.Ledger.Backend)
	assert.Equal(t, time.Hour, cfg.Platform.MinDuration.Duration)
	assert.Equal(t, 90*24*time.Hour, cfg.Platform.MaxDuration.Duration)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeTOML(t, `
mode = "full"

[platform]
min_duration = "10m"
fee_bps = 300

[ledger]
backend = "sqlite"

[sqlite]
path = "/tmp/pm.db"

[archive]
enabled = true
interval = "1h"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, 10*time.Minute, cfg.Platform.MinDuration.Duration)
	assert.Equal(t, 300, cfg.Platform.FeeBps)
	assert.Equal(t, "sqlite", cfg.Ledger.Backend)
	assert.Equal(t, "/tmp/pm.db", cfg.SQLite.Path)
	assert.Equal(t, time.Hour, cfg.Archive.Interval.Duration)
	// untouched sections keep their defaults
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "poolmarket", cfg.Redis.KeyPrefix)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "server", cfg.Mode)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	_, err := Load(writeTOML(t, "mode = "))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("POOLMARKET_LEDGER_BACKEND", "postgres")
	t.Setenv("POOLMARKET_POSTGRES_PORT", "6543")
	t.Setenv("POOLMARKET_REDIS_ENABLED", "true")
	t.Setenv("POOLMARKET_REDIS_LOCK_TTL", "3s")
	t.Setenv("POOLMARKET_SERVER_CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("POOLMARKET_SERVER_PORT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Ledger.Backend)
	assert.Equal(t, 6543, cfg.Postgres.Port)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 3*time.Second, cfg.Redis.LockTTL.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 8000, cfg.Server.Port, "unparseable values are ignored")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "trade" }, "unknown mode"},
		{"unknown backend", func(c *Config) { c.Ledger.Backend = "mongo" }, "unknown backend"},
		{"min over max", func(c *Config) {
			c.Platform.MinDuration.Duration = 2 * time.Hour
			c.Platform.MaxDuration.Duration = time.Hour
		}, "min_duration"},
		{"bootstrap fee too high", func(c *Config) {
			c.Platform.Bootstrap = true
			c.Platform.FeeBps = 10_001
			c.Platform.FeeRecipient = "0x00000000000000000000000000000000000000aa"
			c.Platform.AuthorityKey = "deadbeef"
		}, "fee_bps"},
		{"bootstrap bad recipient", func(c *Config) {
			c.Platform.Bootstrap = true
			c.Platform.FeeRecipient = "treasury"
			c.Platform.AuthorityKey = "deadbeef"
		}, "fee_recipient"},
		{"bootstrap without key", func(c *Config) {
			c.Platform.Bootstrap = true
			c.Platform.FeeRecipient = "0x00000000000000000000000000000000000000aa"
		}, "authority_key"},
		{"archive on memory", func(c *Config) {
			c.Mode = "archive"
		}, "persistent ledger"},
		{"postgres without host", func(c *Config) {
			c.Ledger.Backend = "postgres"
			c.Postgres.Host = ""
		}, "postgres: host"},
		{"telegram half configured", func(c *Config) {
			c.Notify.TelegramToken = "tok"
		}, "telegram_chat_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Platform.AuthorityKey = "secret-key"
	cfg.Postgres.Password = "pg-pass"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Notify.TelegramToken = "tg"

	out := RedactedConfig(&cfg)
	assert.Equal(t, redacted, out.Platform.AuthorityKey)
	assert.Equal(t, redacted, out.Postgres.Password)
	assert.Equal(t, redacted, out.S3.SecretKey)
	assert.Equal(t, redacted, out.Notify.TelegramToken)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")

	out.Server.CORSOrigins[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
	assert.Equal(t, "secret-key", cfg.Platform.AuthorityKey)
}
