package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolmarket/internal/domain"
	"github.com/alanyoungcy/poolmarket/internal/engine"
	"github.com/alanyoungcy/poolmarket/internal/ledger"
)

var (
	authority = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	oracle    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	treasury  = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000d4")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000e5")
)

// ---- fakes ----

type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{
		ID:        int64(len(a.entries) + 1),
		Event:     event,
		MarketID:  domain.AuditMarket(detail),
		Detail:    detail,
		CreatedAt: time.Now(),
	})
	return nil
}

func (a *memAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.AuditEntry
	for i := len(a.entries) - 1; i >= 0 && len(out) < opts.Limit; i-- {
		e := a.entries[i]
		if opts.Event != "" && e.Event != opts.Event {
			continue
		}
		if opts.Market != nil && (e.MarketID == nil || *e.MarketID != *opts.Market) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

type mapCache struct {
	mu          sync.Mutex
	snaps       map[uint64]domain.MarketSnapshot
	gens        map[uint64]uint64
	hits        int
	invalidated []uint64
	// beforeSet runs at the start of Set, outside the lock.
	beforeSet func()
}

func newMapCache() *mapCache {
	return &mapCache{
		snaps: make(map[uint64]domain.MarketSnapshot),
		gens:  make(map[uint64]uint64),
	}
}

func (c *mapCache) Generation(_ context.Context, id uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[id], nil
}

func (c *mapCache) Set(_ context.Context, snap domain.MarketSnapshot, gen uint64) (bool, error) {
	if hook := c.beforeSet; hook != nil {
		c.beforeSet = nil
		hook()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[snap.Market.ID] != gen {
		return false, nil
	}
	c.snaps[snap.Market.ID] = snap
	return true, nil
}

func (c *mapCache) Get(_ context.Context, id uint64) (domain.MarketSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.snaps[id]
	if !ok {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	c.hits++
	return snap, nil
}

func (c *mapCache) Invalidate(_ context.Context, id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snaps, id)
	c.gens[id]++
	c.invalidated = append(c.invalidated, id)
	return nil
}

type heldLocks struct {
	held map[string]bool
}

func (l *heldLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() { delete(l.held, key) }, nil
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (r *recorder) PublishEvent(_ context.Context, e domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recorder) NotifyEvent(ctx context.Context, e domain.Event) error {
	return r.PublishEvent(ctx, e)
}

func (r *recorder) kinds() []domain.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

type stubReplayer struct {
	lastID string
	count  int
}

func (s *stubReplayer) ReadEvents(_ context.Context, lastID string, count int) ([]domain.StreamEvent, error) {
	s.lastID, s.count = lastID, count
	return []domain.StreamEvent{{StreamID: "1-0", Event: domain.Event{Kind: domain.EventMarketCreated}}}, nil
}

// ---- harness ----

type fixture struct {
	svc   *SettlementService
	led   *ledger.Memory
	audit *memAudit
	cache *mapCache
	locks *heldLocks
	pub   *recorder
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		led:   ledger.NewMemory(),
		audit: &memAudit{},
		cache: newMapCache(),
		locks: &heldLocks{held: make(map[string]bool)},
		pub:   &recorder{},
		now:   time.Unix(1_700_000_000, 0),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewSettlementService(f.led, engine.New(engine.Policy{}), f.audit, logger).
		WithCache(f.cache).
		WithLocks(f.locks, time.Second).
		WithPublisher(f.pub).
		WithClock(func() time.Time { return f.now })
	return f
}

// seed initializes a 2% fee platform, funds alice and bob, and opens
// market 0 with two outcomes.
func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.Initialize(ctx, authority, 200, treasury)
	require.NoError(t, err)
	for _, who := range []common.Address{alice, bob} {
		_, err := f.svc.Deposit(ctx, authority, who, 1_000)
		require.NoError(t, err)
	}
	_, err = f.svc.CreateMarket(ctx, alice, engine.CreateMarketParams{
		ID:       0,
		Question: "Will the bridge open on time?",
		Outcomes: []string{"yes", "no"},
		EndTime:  f.now.Add(time.Hour).Unix(),
		Oracle:   oracle,
		MinBet:   10,
	})
	require.NoError(t, err)
}

func TestSettlementLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	_, err := f.svc.PlaceBet(ctx, alice, 0, 0, 300)
	require.NoError(t, err)
	_, err = f.svc.PlaceBet(ctx, bob, 0, 1, 100)
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Hour)
	m, err := f.svc.ResolveMarket(ctx, oracle, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, m.Status)

	claim, err := f.svc.ClaimWinnings(ctx, alice, 0)
	require.NoError(t, err)
	// fee = 400*200/10000 = 8, payout = 392*300/300
	assert.Equal(t, uint64(8), claim.Settlement.Fee)
	assert.Equal(t, uint64(392), claim.Settlement.Payout)
	assert.Equal(t, uint64(700+392), claim.Balance)

	fee, err := f.svc.CollectFees(ctx, authority, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), fee)

	acct, err := f.svc.Balance(ctx, treasury)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), acct.Balance)

	snap, err := f.svc.Market(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, snap.Vault.Balance)
	assert.True(t, snap.Market.FeesCollected)

	t.Run("events are published in commit order", func(t *testing.T) {
		assert.Equal(t, []domain.EventKind{
			domain.EventPlatformInitialized,
			domain.EventFundsDeposited,
			domain.EventFundsDeposited,
			domain.EventMarketCreated,
			domain.EventBetPlaced,
			domain.EventBetPlaced,
			domain.EventMarketResolved,
			domain.EventWinningsClaimed,
			domain.EventFeesCollected,
		}, f.pub.kinds())
		for i, e := range f.pub.events {
			assert.Equal(t, uint64(i+1), e.Seq)
		}

		logged, err := f.svc.Events(ctx, 0, 0)
		require.NoError(t, err)
		assert.Len(t, logged, len(f.pub.events))

		byMarket, err := f.svc.MarketEvents(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, byMarket, 6)
	})

	t.Run("every event is audited", func(t *testing.T) {
		entries, err := f.svc.AuditLog(ctx, domain.ListOpts{Event: string(domain.EventFeesCollected)})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, uint64(8), entries[0].Detail["amount"])
		assert.Equal(t, uint64(0), entries[0].Detail["market_id"])

		market := uint64(0)
		scoped, err := f.svc.AuditLog(ctx, domain.ListOpts{Market: &market})
		require.NoError(t, err)
		assert.Len(t, scoped, 6)
	})

	t.Run("market events invalidate the cache", func(t *testing.T) {
		assert.Contains(t, f.cache.invalidated, uint64(0))
	})
}

func TestRefundAfterClose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	_, err := f.svc.PlaceBet(ctx, bob, 0, 1, 250)
	require.NoError(t, err)
	_, err = f.svc.CloseMarket(ctx, authority, 0)
	require.NoError(t, err)

	claim, err := f.svc.ClaimRefund(ctx, bob, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(250), claim.Settlement.Payout)
	assert.Equal(t, uint64(1_000), claim.Balance)

	_, err = f.svc.ClaimRefund(ctx, bob, 0)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
}

func TestRejectedOperationHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)
	published := len(f.pub.events)
	audited := len(f.audit.entries)

	_, err := f.svc.PlaceBet(ctx, alice, 0, 5, 100)
	require.ErrorIs(t, err, domain.ErrInvalidOutcome)
	assert.Equal(t, domain.ClassValidation, domain.ClassOf(err))

	_, err = f.svc.CloseMarket(ctx, alice, 0)
	require.ErrorIs(t, err, domain.ErrUnauthorizedMarketClose)

	assert.Len(t, f.pub.events, published)
	assert.Len(t, f.audit.entries, audited)

	acct, err := f.svc.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), acct.Balance)
}

func TestMarketLockHeld(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	f.locks.held[marketLockKey(0)] = true
	_, err := f.svc.PlaceBet(ctx, alice, 0, 0, 100)
	require.ErrorIs(t, err, domain.ErrLockHeld)
	assert.True(t, domain.Retryable(err))

	delete(f.locks.held, marketLockKey(0))
	_, err = f.svc.PlaceBet(ctx, alice, 0, 0, 100)
	require.NoError(t, err)
	assert.Empty(t, f.locks.held, "lock released after commit")
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.pub.err = errors.New("bus down")
	notifier := &recorder{err: errors.New("chat down")}
	f.svc.WithNotifier(notifier)

	_, err := f.svc.Initialize(ctx, authority, 0, treasury)
	require.NoError(t, err)
	assert.Len(t, notifier.events, 1)

	reg, err := f.svc.Registry(ctx)
	require.NoError(t, err)
	assert.Equal(t, authority, reg.Authority)
}

func TestMarketReadThroughCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	_, err := f.svc.Market(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, f.cache.hits)

	snap, err := f.svc.Market(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, f.cache.hits)
	assert.Equal(t, "Will the bridge open on time?", snap.Market.Question)

	_, err = f.svc.PlaceBet(ctx, alice, 0, 0, 50)
	require.NoError(t, err)
	snap, err = f.svc.Market(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), snap.Market.TotalPool, "bet invalidated the cached snapshot")

	_, err = f.svc.Market(ctx, 9)
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
}

func TestMarketCacheFillLosesToConcurrentCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	// A bet commits between the ledger read and the cache fill.
	f.cache.beforeSet = func() {
		_, err := f.svc.PlaceBet(ctx, alice, 0, 0, 70)
		require.NoError(t, err)
	}
	stale, err := f.svc.Market(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, stale.Market.TotalPool)

	f.cache.mu.Lock()
	_, cached := f.cache.snaps[0]
	f.cache.mu.Unlock()
	assert.False(t, cached, "stale snapshot must not be cached")

	snap, err := f.svc.Market(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(70), snap.Market.TotalPool)
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Registry(ctx)
	require.ErrorIs(t, err, domain.ErrRegistryNotInitialized)
	_, err = f.svc.Markets(ctx, domain.ListOpts{})
	require.ErrorIs(t, err, domain.ErrRegistryNotInitialized)

	f.seed(t)
	_, err = f.svc.PlaceBet(ctx, bob, 0, 1, 40)
	require.NoError(t, err)

	markets, err := f.svc.Markets(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, uint64(40), markets[0].Vault.Balance)

	for id := uint64(1); id <= 2; id++ {
		_, err = f.svc.CreateMarket(ctx, bob, engine.CreateMarketParams{
			ID:       id,
			Question: "Will the ferry run?",
			Outcomes: []string{"yes", "no"},
			EndTime:  f.now.Add(time.Hour).Unix(),
			MinBet:   1,
		})
		require.NoError(t, err)
	}
	ids := func(snaps []domain.MarketSnapshot) []uint64 {
		out := make([]uint64, 0, len(snaps))
		for _, s := range snaps {
			out = append(out, s.Market.ID)
		}
		return out
	}

	markets, err = f.svc.Markets(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 1, 0}, ids(markets), "newest first")

	markets, err = f.svc.Markets(ctx, domain.ListOpts{Offset: 1, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, ids(markets))

	markets, err = f.svc.Markets(ctx, domain.ListOpts{Offset: 2, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, []uint64{0}, ids(markets))

	markets, err = f.svc.Markets(ctx, domain.ListOpts{Offset: 3})
	require.NoError(t, err)
	assert.Empty(t, markets)

	entry, err := f.svc.Bet(ctx, 0, bob)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 40}, entry.Bets)

	_, err = f.svc.Bet(ctx, 0, alice)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.StreamEvents(ctx, "", 10)
	assert.ErrorIs(t, err, ErrStreamUnavailable)

	replay := &stubReplayer{}
	f.svc.WithReplayer(replay)
	events, err := f.svc.StreamEvents(ctx, "", 5000)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, "0", replay.lastID)
	assert.Equal(t, maxPageSize, replay.count)
}

func TestBootstrap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	reg, err := f.svc.Bootstrap(ctx, authority, 150, treasury)
	require.NoError(t, err)
	assert.Equal(t, uint16(150), reg.FeeBps)

	reg, err = f.svc.Bootstrap(ctx, bob, 900, bob)
	require.NoError(t, err)
	assert.Equal(t, authority, reg.Authority, "existing registry is kept")
	assert.Equal(t, uint16(150), reg.FeeBps)
}
