package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/poolmarket/internal/blob/s3"
	"github.com/alanyoungcy/poolmarket/internal/cache/redis"
	"github.com/alanyoungcy/poolmarket/internal/config"
	"github.com/alanyoungcy/poolmarket/internal/crypto"
	"github.com/alanyoungcy/poolmarket/internal/domain"
	"github.com/alanyoungcy/poolmarket/internal/engine"
	"github.com/alanyoungcy/poolmarket/internal/ledger"
	"github.com/alanyoungcy/poolmarket/internal/notify"
	"github.com/alanyoungcy/poolmarket/internal/server/handler"
	"github.com/alanyoungcy/poolmarket/internal/server/ws"
	"github.com/alanyoungcy/poolmarket/internal/service"
	"github.com/alanyoungcy/poolmarket/internal/store/postgres"
	"github.com/alanyoungcy/poolmarket/internal/store/sqlite"
)

// Dependencies bundles everything the operating modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Ledger     ledger.Ledger
	AuditStore domain.AuditStore

	// Redis; all nil when Redis is disabled.
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	ReplayGuard domain.ReplayGuard
	SignalBus   domain.SignalBus
	EventBus    *redis.EventBus

	// Blob storage; nil unless archiving is enabled.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   *s3blob.Archiver

	Notifier *notify.Notifier
	Hub      *ws.Hub
	Service  *service.SettlementService

	// Health holds one ping per external dependency.
	Health map[string]handler.Pinger
}

// needsS3 reports whether the object store must be connected.
func needsS3(cfg *config.Config) bool {
	return cfg.Archive.Enabled || strings.EqualFold(cfg.Mode, "archive")
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Health: make(map[string]handler.Pinger)}

	// --- Ledger ---
	switch strings.ToLower(cfg.Ledger.Backend) {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		deps.Ledger = postgres.NewLedger(pgClient.Pool(), cfg.Ledger.ConflictRetries)
		deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
		deps.Health["postgres"] = pgClient.Ping

	case "sqlite":
		db, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return fail("sqlite", err)
		}
		closers = append(closers, func() { _ = db.Close() })
		deps.Ledger = sqlite.NewLedger(db)
		deps.AuditStore = sqlite.NewAuditStore(db)
		deps.Health["sqlite"] = db.Ping

	default:
		deps.Ledger = ledger.NewMemory()
	}
	closers = append(closers, func() { _ = deps.Ledger.Close() })

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		bus := redis.NewSignalBus(redisClient)
		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.ReplayGuard = redis.NewReplayGuard(redisClient)
		deps.SignalBus = bus
		deps.EventBus = redis.NewEventBus(bus)
		deps.Health["redis"] = redisClient.Ping
	}

	// --- S3 blob storage ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		reader := s3blob.NewReader(s3Client)
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = reader
		deps.Archiver = s3blob.NewArchiver(
			deps.Ledger,
			deps.BlobWriter,
			reader,
			deps.AuditStore,
			cfg.Archive.Prefix,
			logger,
		)
		deps.Health["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- WebSocket hub and settlement service ---
	// With Redis the hub follows the bus, so every instance sees every
	// event; without it the service feeds the hub directly.
	deps.Hub = ws.NewHub(deps.SignalBus, logger, ws.Config{
		Mode:           cfg.Mode,
		AllowedOrigins: cfg.Server.CORSOrigins,
		History:        deps.Ledger,
	})

	svc := service.NewSettlementService(
		deps.Ledger,
		engine.New(engine.Policy{
			MinDuration: cfg.Platform.MinDuration.Duration,
			MaxDuration: cfg.Platform.MaxDuration.Duration,
		}),
		deps.AuditStore,
		logger,
	)
	if deps.EventBus != nil {
		svc.WithCache(deps.MarketCache).
			WithLocks(deps.LockManager, cfg.Redis.LockTTL.Duration).
			WithPublisher(deps.EventBus).
			WithReplayer(deps.EventBus)
	} else {
		svc.WithPublisher(deps.Hub)
	}
	if deps.Notifier.Enabled() {
		svc.WithNotifier(deps.Notifier)
	}
	deps.Service = svc

	return deps, cleanup, nil
}

// bootstrap initializes the registry from configuration when asked to.
func (a *App) bootstrap(ctx context.Context, deps *Dependencies) error {
	p := a.cfg.Platform
	if !p.Bootstrap {
		return nil
	}
	signer, err := crypto.LoadSigner(crypto.KeyConfig{
		RawPrivateKey:    p.AuthorityKey,
		EncryptedKeyPath: p.EncryptedKeyPath,
		KeyPassword:      p.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("app: load authority key: %w", err)
	}
	reg, err := deps.Service.Bootstrap(ctx, signer.Address(), uint32(p.FeeBps), common.HexToAddress(p.FeeRecipient))
	if err != nil {
		return fmt.Errorf("app: bootstrap registry: %w", err)
	}
	a.logger.InfoContext(ctx, "registry ready",
		slog.String("authority", reg.Authority.Hex()),
		slog.Int("fee_bps", int(reg.FeeBps)),
		slog.Uint64("total_markets", reg.TotalMarkets),
	)
	return nil
}
