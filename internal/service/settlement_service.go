// Package service runs settlement operations against the ledger and carries
// their committed effects out to the audit log, cache, event bus and
// operator notifications.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/poolmarket/internal/domain"
	"github.com/alanyoungcy/poolmarket/internal/engine"
	"github.com/alanyoungcy/poolmarket/internal/ledger"
)

// Notifier forwards committed events to operators.
type Notifier interface {
	NotifyEvent(ctx context.Context, e domain.Event) error
}

const registryLockKey = "registry"

// SettlementService is the host of the settlement engine. Every operation is
// one ledger transaction; side effects run only after it commits and never
// fail the operation.
type SettlementService struct {
	ledger     ledger.Ledger
	engine     *engine.Engine
	audit      domain.AuditStore
	cache      domain.MarketCache
	locks      domain.LockManager
	lockTTL    time.Duration
	publishers []domain.EventPublisher
	replayer   domain.EventReplayer
	notifier   Notifier
	now        func() time.Time
	logger     *slog.Logger
}

// NewSettlementService creates a SettlementService. audit may be nil; the
// optional collaborators are attached with the With* methods.
func NewSettlementService(
	led ledger.Ledger,
	eng *engine.Engine,
	audit domain.AuditStore,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		ledger: led,
		engine: eng,
		audit:  audit,
		now:    time.Now,
		logger: logger.With(slog.String("component", "settlement")),
	}
}

// WithCache attaches a market snapshot cache.
func (s *SettlementService) WithCache(c domain.MarketCache) *SettlementService {
	s.cache = c
	return s
}

// WithLocks serializes operations on one market across instances.
func (s *SettlementService) WithLocks(l domain.LockManager, ttl time.Duration) *SettlementService {
	s.locks = l
	s.lockTTL = ttl
	return s
}

// WithPublisher adds a destination for committed events.
func (s *SettlementService) WithPublisher(p domain.EventPublisher) *SettlementService {
	s.publishers = append(s.publishers, p)
	return s
}

// WithReplayer attaches the durable event stream reader.
func (s *SettlementService) WithReplayer(r domain.EventReplayer) *SettlementService {
	s.replayer = r
	return s
}

// WithNotifier attaches operator notifications.
func (s *SettlementService) WithNotifier(n Notifier) *SettlementService {
	s.notifier = n
	return s
}

// WithClock replaces the wall clock used as the operation time.
func (s *SettlementService) WithClock(now func() time.Time) *SettlementService {
	s.now = now
	return s
}

func marketLockKey(id uint64) string {
	return "market:" + strconv.FormatUint(id, 10)
}

// run executes fn in one ledger transaction under the optional lock and
// dispatches the committed events.
func (s *SettlementService) run(
	ctx context.Context,
	op, lockKey string,
	signer common.Address,
	fn func(tx *ledger.Tx, call engine.Call) error,
) error {
	if s.locks != nil && lockKey != "" {
		unlock, err := s.locks.Acquire(ctx, lockKey, s.lockTTL)
		if err != nil {
			return fmt.Errorf("settlement: %s: %w", op, err)
		}
		defer unlock()
	}

	call := engine.Call{Signer: signer, Now: s.now()}
	events, err := s.ledger.Exec(ctx, func(tx *ledger.Tx) error {
		return fn(tx, call)
	})
	if err != nil {
		s.logger.DebugContext(ctx, "operation rejected",
			slog.String("op", op),
			slog.String("signer", signer.Hex()),
			slog.String("class", string(domain.ClassOf(err))),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("settlement: %s: %w", op, err)
	}

	s.logger.InfoContext(ctx, "operation committed",
		slog.String("op", op),
		slog.String("signer", signer.Hex()),
		slog.Int("events", len(events)),
	)
	s.dispatch(context.WithoutCancel(ctx), events)
	return nil
}

// dispatch delivers committed events. Failures are logged only; the ledger
// remains the source of truth.
func (s *SettlementService) dispatch(ctx context.Context, events []domain.Event) {
	for _, e := range events {
		attrs := []any{
			slog.String("kind", string(e.Kind)),
			slog.Uint64("seq", e.Seq),
		}

		if s.audit != nil {
			if err := s.audit.Log(ctx, string(e.Kind), auditDetail(e)); err != nil {
				s.logger.WarnContext(ctx, "audit log failed", append(attrs, slog.String("error", err.Error()))...)
			}
		}
		if id, ok := e.Market(); ok && s.cache != nil {
			if err := s.cache.Invalidate(ctx, id); err != nil {
				s.logger.WarnContext(ctx, "cache invalidate failed", append(attrs, slog.String("error", err.Error()))...)
			}
		}
		for _, p := range s.publishers {
			if err := p.PublishEvent(ctx, e); err != nil {
				s.logger.WarnContext(ctx, "event publish failed", append(attrs, slog.String("error", err.Error()))...)
			}
		}
		if s.notifier != nil {
			if err := s.notifier.NotifyEvent(ctx, e); err != nil {
				s.logger.WarnContext(ctx, "notification failed", append(attrs, slog.String("error", err.Error()))...)
			}
		}
	}
}

func auditDetail(e domain.Event) map[string]any {
	d := map[string]any{
		"event_id": e.ID,
		"seq":      e.Seq,
		"actor":    e.Actor.Hex(),
		"at":       e.At,
	}
	if id, ok := e.Market(); ok {
		d["market_id"] = id
	}
	if e.Amount != 0 {
		d["amount"] = e.Amount
	}
	if e.Outcome != nil {
		d["outcome"] = *e.Outcome
	}
	for k, v := range e.Detail {
		d[k] = v
	}
	return d
}

// Initialize creates the platform registry with signer as authority.
func (s *SettlementService) Initialize(ctx context.Context, signer common.Address, feeBps uint32, feeRecipient common.Address) (domain.Registry, error) {
	var reg domain.Registry
	err := s.run(ctx, "initialize", registryLockKey, signer, func(tx *ledger.Tx, call engine.Call) (err error) {
		reg, err = s.engine.Initialize(tx, call, feeBps, feeRecipient)
		return err
	})
	return reg, err
}

// Deposit credits owner's token account.
func (s *SettlementService) Deposit(ctx context.Context, signer, owner common.Address, amount uint64) (domain.TokenAccount, error) {
	var acct domain.TokenAccount
	err := s.run(ctx, "deposit", "", signer, func(tx *ledger.Tx, call engine.Call) (err error) {
		acct, err = s.engine.Deposit(tx, call, owner, amount)
		return err
	})
	return acct, err
}

// CreateMarket opens a new market with signer as creator.
func (s *SettlementService) CreateMarket(ctx context.Context, signer common.Address, p engine.CreateMarketParams) (domain.Market, error) {
	var m domain.Market
	err := s.run(ctx, "create_market", registryLockKey, signer, func(tx *ledger.Tx, call engine.Call) (err error) {
		m, err = s.engine.CreateMarket(tx, call, p)
		return err
	})
	return m, err
}

// PlaceBet stakes amount on outcome in market id.
func (s *SettlementService) PlaceBet(ctx context.Context, signer common.Address, id uint64, outcome int, amount uint64) (domain.BetEntry, error) {
	var entry domain.BetEntry
	err := s.run(ctx, "place_bet", marketLockKey(id), signer, func(tx *ledger.Tx, call engine.Call) (err error) {
		entry, err = s.engine.PlaceBet(tx, call, id, outcome, amount)
		return err
	})
	return entry, err
}

// ResolveMarket records the winning outcome of market id.
func (s *SettlementService) ResolveMarket(ctx context.Context, signer common.Address, id uint64, winning int) (domain.Market, error) {
	var m domain.Market
	err := s.run(ctx, "resolve_market", marketLockKey(id), signer, func(tx *ledger.Tx, call engine.Call) (err error) {
		m, err = s.engine.ResolveMarket(tx, call, id, winning)
		return err
	})
	return m, err
}

// CloseMarket cancels market id.
func (s *SettlementService) CloseMarket(ctx context.Context, signer common.Address, id uint64) (domain.Market, error) {
	var m domain.Market
	err := s.run(ctx, "close_market", marketLockKey(id), signer, func(tx *ledger.Tx, call engine.Call) (err error) {
		m, err = s.engine.CloseMarket(tx, call, id)
		return err
	})
	return m, err
}

// ClaimWinnings pays signer's share of resolved market id.
func (s *SettlementService) ClaimWinnings(ctx context.Context, signer common.Address, id uint64) (engine.Claim, error) {
	var c engine.Claim
	err := s.run(ctx, "claim_winnings", marketLockKey(id), signer, func(tx *ledger.Tx, call engine.Call) (err error) {
		c, err = s.engine.ClaimWinnings(tx, call, id)
		return err
	})
	return c, err
}

// ClaimRefund returns signer's stake from cancelled market id.
func (s *SettlementService) ClaimRefund(ctx context.Context, signer common.Address, id uint64) (engine.Claim, error) {
	var c engine.Claim
	err := s.run(ctx, "claim_refund", marketLockKey(id), signer, func(tx *ledger.Tx, call engine.Call) (err error) {
		c, err = s.engine.ClaimRefund(tx, call, id)
		return err
	})
	return c, err
}

// CollectFees moves the platform fee of resolved market id to the fee
// recipient and returns the amount.
func (s *SettlementService) CollectFees(ctx context.Context, signer common.Address, id uint64) (uint64, error) {
	var fee uint64
	err := s.run(ctx, "collect_fees", marketLockKey(id), signer, func(tx *ledger.Tx, call engine.Call) (err error) {
		fee, err = s.engine.CollectFees(tx, call, id)
		return err
	})
	return fee, err
}
