package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/poolmarket/internal/domain"
	"github.com/alanyoungcy/poolmarket/internal/ledger"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// ErrStreamUnavailable is returned by StreamEvents when no durable event
// stream is configured.
var ErrStreamUnavailable = fmt.Errorf("event stream not configured: %w", domain.ErrNotFound)

func pageSize(n int) int {
	switch {
	case n <= 0:
		return defaultPageSize
	case n > maxPageSize:
		return maxPageSize
	default:
		return n
	}
}

// Registry returns the platform registry.
func (s *SettlementService) Registry(ctx context.Context) (domain.Registry, error) {
	var reg domain.Registry
	err := s.ledger.View(ctx, func(tx *ledger.Tx) (err error) {
		reg, err = tx.Registry()
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Registry{}, domain.ErrRegistryNotInitialized
	}
	if err != nil {
		return domain.Registry{}, fmt.Errorf("settlement: registry: %w", err)
	}
	return reg, nil
}

func loadSnapshot(tx *ledger.Tx, id uint64) (domain.MarketSnapshot, error) {
	m, err := tx.Market(id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.MarketSnapshot{}, fmt.Errorf("market %d: %w", id, domain.ErrMarketNotFound)
	}
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	v, err := tx.Vault(m.Address)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	return domain.MarketSnapshot{Market: m, Vault: v}, nil
}

// Market returns market id with its vault, read through the cache.
func (s *SettlementService) Market(ctx context.Context, id uint64) (domain.MarketSnapshot, error) {
	var (
		gen    uint64
		genErr error
	)
	if s.cache != nil {
		if snap, err := s.cache.Get(ctx, id); err == nil {
			return snap, nil
		}
		gen, genErr = s.cache.Generation(ctx, id)
	}

	var snap domain.MarketSnapshot
	err := s.ledger.View(ctx, func(tx *ledger.Tx) (err error) {
		snap, err = loadSnapshot(tx, id)
		return err
	})
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("settlement: market %d: %w", id, err)
	}

	if s.cache != nil && genErr == nil {
		if _, err := s.cache.Set(ctx, snap, gen); err != nil {
			s.logger.WarnContext(ctx, "cache set failed",
				slog.Uint64("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return snap, nil
}

// Markets returns a page of markets, newest first. Offset counts back from
// the most recently created market.
func (s *SettlementService) Markets(ctx context.Context, opts domain.ListOpts) ([]domain.MarketSnapshot, error) {
	limit := pageSize(opts.Limit)
	offset := uint64(max(opts.Offset, 0))

	var out []domain.MarketSnapshot
	err := s.ledger.View(ctx, func(tx *ledger.Tx) error {
		reg, err := tx.Registry()
		if err != nil {
			return err
		}
		if offset >= reg.TotalMarkets {
			return nil
		}
		for id := reg.TotalMarkets - 1 - offset; len(out) < limit; id-- {
			snap, err := loadSnapshot(tx, id)
			if err != nil {
				return err
			}
			out = append(out, snap)
			if id == 0 {
				break
			}
		}
		return nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrRegistryNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("settlement: markets: %w", err)
	}
	return out, nil
}

// Bet returns user's ledger entry in market id.
func (s *SettlementService) Bet(ctx context.Context, id uint64, user common.Address) (domain.BetEntry, error) {
	var entry domain.BetEntry
	err := s.ledger.View(ctx, func(tx *ledger.Tx) error {
		m, err := tx.Market(id)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("market %d: %w", id, domain.ErrMarketNotFound)
		}
		if err != nil {
			return err
		}
		entry, err = tx.Bet(user, m.Address)
		return err
	})
	if err != nil {
		return domain.BetEntry{}, fmt.Errorf("settlement: bet: %w", err)
	}
	return entry, nil
}

// Balance returns owner's token account.
func (s *SettlementService) Balance(ctx context.Context, owner common.Address) (domain.TokenAccount, error) {
	var acct domain.TokenAccount
	err := s.ledger.View(ctx, func(tx *ledger.Tx) (err error) {
		acct, err = tx.Token(owner)
		return err
	})
	if err != nil {
		return domain.TokenAccount{}, fmt.Errorf("settlement: balance: %w", err)
	}
	return acct, nil
}

// Events returns committed events with sequence number above after.
func (s *SettlementService) Events(ctx context.Context, after uint64, count int) ([]domain.Event, error) {
	events, err := s.ledger.ListAfter(ctx, after, pageSize(count))
	if err != nil {
		return nil, fmt.Errorf("settlement: events: %w", err)
	}
	return events, nil
}

// MarketEvents returns every committed event of market id.
func (s *SettlementService) MarketEvents(ctx context.Context, id uint64) ([]domain.Event, error) {
	events, err := s.ledger.ListByMarket(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("settlement: market %d events: %w", id, err)
	}
	return events, nil
}

// StreamEvents replays the durable event stream after stream id from.
func (s *SettlementService) StreamEvents(ctx context.Context, from string, count int) ([]domain.StreamEvent, error) {
	if s.replayer == nil {
		return nil, ErrStreamUnavailable
	}
	if from == "" {
		from = "0"
	}
	events, err := s.replayer.ReadEvents(ctx, from, pageSize(count))
	if err != nil {
		return nil, fmt.Errorf("settlement: stream events: %w", err)
	}
	return events, nil
}

// AuditLog lists audit entries, newest first.
func (s *SettlementService) AuditLog(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if s.audit == nil {
		return nil, fmt.Errorf("settlement: audit log not configured: %w", domain.ErrNotFound)
	}
	opts.Limit = pageSize(opts.Limit)
	entries, err := s.audit.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("settlement: audit log: %w", err)
	}
	return entries, nil
}
