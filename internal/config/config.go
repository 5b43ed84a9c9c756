// Package config defines the settlement service configuration and its
// validation rules.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields are populated from a TOML file and
// then optionally overridden by POOLMARKET_* environment variables.
type Config struct {
	Platform PlatformConfig `toml:"platform"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Postgres PostgresConfig `toml:"postgres"`
	SQLite   SQLiteConfig   `toml:"sqlite"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PlatformConfig holds the market creation policy and the optional authority
// key used to initialize the registry at startup.
type PlatformConfig struct {
	MinDuration duration `toml:"min_duration"`
	MaxDuration duration `toml:"max_duration"`

	// Bootstrap initializes the registry with FeeBps and FeeRecipient, signed
	// by the authority key, when the ledger has none.
	Bootstrap        bool   `toml:"bootstrap"`
	FeeBps           int    `toml:"fee_bps"`
	FeeRecipient     string `toml:"fee_recipient"`
	AuthorityKey     string `toml:"authority_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// LedgerConfig selects the account store.
type LedgerConfig struct {
	// Backend is one of memory, sqlite, postgres.
	Backend         string `toml:"backend"`
	ConflictRetries int    `toml:"conflict_retries"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// SQLiteConfig holds the embedded database location.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds Redis connection parameters. Without Redis the service
// runs single-instance: no distributed locks, no cache, in-process fan-out.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	CacheTTL   duration `toml:"cache_ttl"`
	LockTTL    duration `toml:"lock_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the settled-market archiver.
type ArchiveConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
	Prefix   string   `toml:"prefix"`
}

// duration wraps time.Duration so TOML strings like "5m" decode.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port         int      `toml:"port"`
	CORSOrigins  []string `toml:"cors_origins"`
	MaxClockSkew duration `toml:"max_clock_skew"`
	RateLimit    int      `toml:"rate_limit"`
	RateWindow   duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config that runs a single in-memory instance.
func Defaults() Config {
	return Config{
		Platform: PlatformConfig{
			MinDuration: duration{time.Hour},
			MaxDuration: duration{90 * 24 * time.Hour},
			FeeBps:      250,
		},
		Ledger: LedgerConfig{
			Backend:         "memory",
			ConflictRetries: 3,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "poolmarket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{
			Path: "poolmarket.db",
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "poolmarket",
			CacheTTL:   duration{30 * time.Second},
			LockTTL:    duration{10 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "poolmarket-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Interval: duration{15 * time.Minute},
			Prefix:   "markets",
		},
		Server: ServerConfig{
			Port:         8000,
			CORSOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
			MaxClockSkew: duration{2 * time.Minute},
			RateLimit:    120,
			RateWindow:   duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"market_resolved", "market_closed", "fees_collected"},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server":  true,
	"archive": true,
	"full":    true,
}

var validBackends = map[string]bool{
	"memory":   true,
	"sqlite":   true,
	"postgres": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config and returns one error listing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: server, archive, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Platform
	p := c.Platform
	if p.MinDuration.Duration < 0 || p.MaxDuration.Duration < 0 {
		add("platform: durations must not be negative")
	}
	if p.MaxDuration.Duration > 0 && p.MinDuration.Duration > p.MaxDuration.Duration {
		add("platform: min_duration must not exceed max_duration")
	}
	if p.Bootstrap {
		if p.FeeBps < 0 || p.FeeBps > 10_000 {
			add("platform: fee_bps must be 0-10000, got %d", p.FeeBps)
		}
		if !isHexAddress(p.FeeRecipient) {
			add("platform: fee_recipient must be a 0x-prefixed 20-byte address")
		}
		if p.AuthorityKey == "" && p.EncryptedKeyPath == "" {
			add("platform: bootstrap needs authority_key or encrypted_key_path")
		}
		if p.EncryptedKeyPath != "" && p.KeyPassword == "" {
			add("platform: key_password is required when encrypted_key_path is set")
		}
	}

	// Ledger
	backend := strings.ToLower(c.Ledger.Backend)
	if !validBackends[backend] {
		add("ledger: unknown backend %q (valid: memory, sqlite, postgres)", c.Ledger.Backend)
	}
	if c.Ledger.ConflictRetries < 1 {
		add("ledger: conflict_retries must be >= 1")
	}
	switch backend {
	case "sqlite":
		if strings.TrimSpace(c.SQLite.Path) == "" {
			add("sqlite: path must not be empty")
		}
	case "postgres":
		pg := c.Postgres
		if strings.TrimSpace(pg.DSN) == "" {
			if pg.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if pg.Port <= 0 || pg.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", pg.Port)
			}
			if pg.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if pg.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if pg.PoolMinConns < 0 || pg.PoolMinConns > pg.PoolMaxConns {
			add("postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}
	if backend == "memory" && strings.ToLower(c.Mode) == "archive" {
		add("mode archive needs a persistent ledger backend")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
		if c.Redis.LockTTL.Duration <= 0 {
			add("redis: lock_ttl must be > 0")
		}
	}

	// Archive
	if c.Archive.Enabled || strings.ToLower(c.Mode) == "archive" {
		if c.S3.Endpoint == "" {
			add("s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty")
		}
		if c.Archive.Interval.Duration <= 0 {
			add("archive: interval must be > 0")
		}
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.MaxClockSkew.Duration <= 0 {
		add("server: max_clock_skew must be > 0")
	}
	if c.Server.RateLimit < 0 {
		add("server: rate_limit must not be negative")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isHexAddress(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, r := range s[2:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
