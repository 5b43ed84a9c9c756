package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/poolmarket/internal/server"
	"github.com/alanyoungcy/poolmarket/internal/server/handler"
)

// ServerMode serves the HTTP and WebSocket API. The archiver runs alongside
// when archiving is enabled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		a.startArchiver(ctx, g, deps)
	}
	return g.Wait()
}

// ArchiveMode only moves settled markets to the object store.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")
	if deps.Archiver == nil {
		return errors.New("app: archive mode needs an object store")
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startArchiver(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the API and the archiver together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	if deps.Archiver == nil {
		return errors.New("app: full mode needs archive.enabled and an object store")
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	a.startArchiver(ctx, g, deps)
	return g.Wait()
}

// startHTTPServer registers the API server, the WebSocket hub loop and the
// graceful shutdown watcher on g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(deps.Health, a.logger),
		Settlement: handler.NewSettlementHandler(deps.Service, a.logger),
	}
	if deps.Archiver != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.BlobReader, deps.Archiver, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		MaxClockSkew: a.cfg.Server.MaxClockSkew.Duration,
		RateLimit:    a.cfg.Server.RateLimit,
		RateWindow:   a.cfg.Server.RateWindow.Duration,
		Replay:       deps.ReplayGuard,
	}, handlers, deps.Hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		if err := deps.Hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("ws hub: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startArchiver sweeps settled markets once at start and then on every tick
// of archive.interval.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	g.Go(func() error {
		runOnce := func() {
			start := time.Now()
			n, err := deps.Archiver.ArchiveSettled(ctx)
			if err != nil {
				a.logger.ErrorContext(ctx, "archive: sweep failed",
					slog.Int("archived", n),
					slog.String("error", err.Error()),
				)
				return
			}
			if n > 0 {
				a.logger.InfoContext(ctx, "archive: sweep complete",
					slog.Int("archived", n),
					slog.Duration("took", time.Since(start)),
				)
			}
		}

		runOnce()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				runOnce()
			}
		}
	})

	a.logger.InfoContext(ctx, "archiver started",
		slog.Duration("interval", interval),
		slog.String("prefix", deps.Archiver.Prefix()),
	)
}
