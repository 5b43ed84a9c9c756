package engine

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolmarket/internal/domain"
	"github.com/alanyoungcy/poolmarket/internal/ledger"
)

var (
	authority = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	oracle    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	treasury  = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000d4")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000e5")
	mallory   = common.HexToAddress("0x00000000000000000000000000000000000000f6")
)

type harness struct {
	t   *testing.T
	eng *Engine
	led *ledger.Memory
	now time.Time
}

func newHarness(t *testing.T, feeBps uint32) *harness {
	t.Helper()
	h := &harness{
		t:   t,
		eng: New(Policy{}),
		led: ledger.NewMemory(),
		now: time.Unix(1_700_000_000, 0),
	}
	_, err := h.exec(authority, func(tx *ledger.Tx, c Call) error {
		_, err := h.eng.Initialize(tx, c, feeBps, treasury)
		return err
	})
	require.NoError(t, err)
	return h
}

func (h *harness) call(signer common.Address) Call {
	return Call{Signer: signer, Now: h.now}
}

func (h *harness) exec(signer common.Address, fn func(tx *ledger.Tx, c Call) error) ([]domain.Event, error) {
	return h.led.Exec(context.Background(), func(tx *ledger.Tx) error {
		return fn(tx, h.call(signer))
	})
}

func (h *harness) fund(owner common.Address, amount uint64) {
	h.t.Helper()
	_, err := h.exec(authority, func(tx *ledger.Tx, c Call) error {
		_, err := h.eng.Deposit(tx, c, owner, amount)
		return err
	})
	require.NoError(h.t, err)
}

func (h *harness) create(id, minBet uint64, outcomes ...string) domain.Market {
	h.t.Helper()
	var m domain.Market
	_, err := h.exec(authority, func(tx *ledger.Tx, c Call) (err error) {
		m, err = h.eng.CreateMarket(tx, c, CreateMarketParams{
			ID:       id,
			Question: "Will it rain tomorrow?",
			Outcomes: outcomes,
			EndTime:  h.now.Add(time.Hour).Unix(),
			Oracle:   oracle,
			MinBet:   minBet,
		})
		return err
	})
	require.NoError(h.t, err)
	return m
}

func (h *harness) bet(user common.Address, id uint64, outcome int, amount uint64) error {
	_, err := h.exec(user, func(tx *ledger.Tx, c Call) error {
		_, err := h.eng.PlaceBet(tx, c, id, outcome, amount)
		return err
	})
	return err
}

func (h *harness) resolve(signer common.Address, id uint64, outcome int) error {
	_, err := h.exec(signer, func(tx *ledger.Tx, c Call) error {
		_, err := h.eng.ResolveMarket(tx, c, id, outcome)
		return err
	})
	return err
}

func (h *harness) claim(user common.Address, id uint64) (Claim, error) {
	var cl Claim
	_, err := h.exec(user, func(tx *ledger.Tx, c Call) (err error) {
		cl, err = h.eng.ClaimWinnings(tx, c, id)
		return err
	})
	return cl, err
}

func (h *harness) refund(user common.Address, id uint64) (Claim, error) {
	var cl Claim
	_, err := h.exec(user, func(tx *ledger.Tx, c Call) (err error) {
		cl, err = h.eng.ClaimRefund(tx, c, id)
		return err
	})
	return cl, err
}

func (h *harness) collect(signer common.Address, id uint64) (uint64, error) {
	var fee uint64
	_, err := h.exec(signer, func(tx *ledger.Tx, c Call) (err error) {
		fee, err = h.eng.CollectFees(tx, c, id)
		return err
	})
	return fee, err
}

func (h *harness) closeMarket(signer common.Address, id uint64) error {
	_, err := h.exec(signer, func(tx *ledger.Tx, c Call) error {
		_, err := h.eng.CloseMarket(tx, c, id)
		return err
	})
	return err
}

type view struct {
	market domain.Market
	vault  domain.Vault
}

func (h *harness) market(id uint64) view {
	h.t.Helper()
	var v view
	err := h.led.View(context.Background(), func(tx *ledger.Tx) (err error) {
		if v.market, err = tx.Market(id); err != nil {
			return err
		}
		v.vault, err = tx.Vault(v.market.Address)
		return err
	})
	require.NoError(h.t, err)
	return v
}

func (h *harness) entry(user common.Address, id uint64) (domain.BetEntry, error) {
	var b domain.BetEntry
	err := h.led.View(context.Background(), func(tx *ledger.Tx) (err error) {
		b, err = tx.Bet(user, ledger.MarketAddress(id))
		return err
	})
	return b, err
}

func (h *harness) balance(owner common.Address) uint64 {
	h.t.Helper()
	var acct domain.TokenAccount
	err := h.led.View(context.Background(), func(tx *ledger.Tx) (err error) {
		acct, err = tx.Token(owner)
		return err
	})
	require.NoError(h.t, err)
	return acct.Balance
}

func (h *harness) expire() {
	h.now = h.now.Add(2 * time.Hour)
}

func TestInitialize(t *testing.T) {
	t.Run("once", func(t *testing.T) {
		h := newHarness(t, 250)
		_, err := h.exec(mallory, func(tx *ledger.Tx, c Call) error {
			_, err := h.eng.Initialize(tx, c, 0, mallory)
			return err
		})
		assert.ErrorIs(t, err, domain.ErrRegistryAlreadyInitialized)

		err = h.led.View(context.Background(), func(tx *ledger.Tx) error {
			reg, err := tx.Registry()
			require.NoError(t, err)
			assert.Equal(t, authority, reg.Authority)
			assert.Equal(t, uint16(250), reg.FeeBps)
			assert.Equal(t, treasury, reg.FeeRecipient)
			assert.Zero(t, reg.TotalMarkets)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("fee bound", func(t *testing.T) {
		led := ledger.NewMemory()
		eng := New(Policy{})
		_, err := led.Exec(context.Background(), func(tx *ledger.Tx) error {
			_, err := eng.Initialize(tx, Call{Signer: authority}, 10_001, treasury)
			return err
		})
		assert.ErrorIs(t, err, domain.ErrFeeTooHigh)

		_, err = led.Exec(context.Background(), func(tx *ledger.Tx) error {
			_, err := eng.Initialize(tx, Call{Signer: authority}, 10_000, treasury)
			return err
		})
		assert.NoError(t, err)
	})

	t.Run("operations need a registry", func(t *testing.T) {
		led := ledger.NewMemory()
		eng := New(Policy{})
		_, err := led.Exec(context.Background(), func(tx *ledger.Tx) error {
			_, err := eng.CreateMarket(tx, Call{Signer: authority, Now: time.Unix(0, 0)}, CreateMarketParams{
				Question: "q", Outcomes: []string{"a", "b"}, EndTime: 100, MinBet: 1,
			})
			return err
		})
		assert.ErrorIs(t, err, domain.ErrRegistryNotInitialized)
	})
}

func TestDeposit(t *testing.T) {
	h := newHarness(t, 0)
	h.fund(alice, 100)
	h.fund(alice, 50)
	assert.Equal(t, uint64(150), h.balance(alice))

	_, err := h.exec(alice, func(tx *ledger.Tx, c Call) error {
		_, err := h.eng.Deposit(tx, c, alice, 1)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = h.exec(authority, func(tx *ledger.Tx, c Call) error {
		_, err := h.eng.Deposit(tx, c, alice, 0)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = h.exec(authority, func(tx *ledger.Tx, c Call) error {
		_, err := h.eng.Deposit(tx, c, alice, ^uint64(0))
		return err
	})
	assert.ErrorIs(t, err, domain.ErrOverflow)
	assert.Equal(t, uint64(150), h.balance(alice))
}

func TestCreateMarket(t *testing.T) {
	t.Run("allocates market and vault", func(t *testing.T) {
		h := newHarness(t, 0)
		m := h.create(0, 1, "Yes", "No")
		assert.Equal(t, ledger.MarketAddress(0), m.Address)
		assert.Equal(t, domain.MarketStatusActive, m.Status)
		assert.Equal(t, []uint64{0, 0}, m.OutcomePools)
		assert.Nil(t, m.WinningOutcome)

		v := h.market(0)
		assert.Equal(t, ledger.VaultAddress(m.Address), v.vault.Address)
		assert.Zero(t, v.vault.Balance)

		h.create(1, 1, "A", "B", "C")
		err := h.led.View(context.Background(), func(tx *ledger.Tx) error {
			reg, err := tx.Registry()
			assert.Equal(t, uint64(2), reg.TotalMarkets)
			return err
		})
		require.NoError(t, err)
	})

	t.Run("rejects", func(t *testing.T) {
		h := newHarness(t, 0)
		h.create(0, 1, "Yes", "No")
		labels := func(n int) []string {
			out := make([]string, n)
			for i := range out {
				out[i] = "x"
			}
			return out
		}
		long := make([]rune, MaxQuestionLen+1)
		for i := range long {
			long[i] = 'q'
		}

		cases := []struct {
			name string
			p    CreateMarketParams
			want error
		}{
			{"one outcome", CreateMarketParams{ID: 1, Outcomes: labels(1)}, domain.ErrInsufficientOutcomes},
			{"eleven outcomes", CreateMarketParams{ID: 1, Outcomes: labels(11)}, domain.ErrTooManyOutcomes},
			{"end in past", CreateMarketParams{ID: 1, Outcomes: labels(2), EndTime: h.now.Unix()}, domain.ErrInvalidEndTime},
			{"blank question", CreateMarketParams{ID: 1, Outcomes: labels(2), EndTime: h.now.Unix() + 60, Question: "  "}, domain.ErrInvalidQuestion},
			{"long question", CreateMarketParams{ID: 1, Outcomes: labels(2), EndTime: h.now.Unix() + 60, Question: string(long)}, domain.ErrInvalidQuestion},
			{"blank label", CreateMarketParams{ID: 1, Outcomes: []string{"a", ""}, EndTime: h.now.Unix() + 60, Question: "q"}, domain.ErrInvalidOutcomeLabel},
			{"zero min bet", CreateMarketParams{ID: 1, Outcomes: labels(2), EndTime: h.now.Unix() + 60, Question: "q"}, domain.ErrInvalidMinBet},
			{"reused id", CreateMarketParams{ID: 0, Outcomes: labels(2), EndTime: h.now.Unix() + 60, Question: "q", MinBet: 1}, domain.ErrInvalidMarketID},
			{"skipped id", CreateMarketParams{ID: 5, Outcomes: labels(2), EndTime: h.now.Unix() + 60, Question: "q", MinBet: 1}, domain.ErrInvalidMarketID},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := h.exec(authority, func(tx *ledger.Tx, c Call) error {
					_, err := h.eng.CreateMarket(tx, c, tc.p)
					return err
				})
				assert.ErrorIs(t, err, tc.want)
			})
		}
	})

	t.Run("policy bounds", func(t *testing.T) {
		h := newHarness(t, 0)
		h.eng = New(Policy{MinDuration: time.Hour, MaxDuration: 24 * time.Hour})
		try := func(d time.Duration) error {
			_, err := h.exec(authority, func(tx *ledger.Tx, c Call) error {
				_, err := h.eng.CreateMarket(tx, c, CreateMarketParams{
					Question: "q", Outcomes: []string{"a", "b"}, EndTime: h.now.Add(d).Unix(), MinBet: 1,
				})
				return err
			})
			return err
		}
		assert.ErrorIs(t, try(time.Minute), domain.ErrInvalidEndTime)
		assert.ErrorIs(t, try(48*time.Hour), domain.ErrEndTimeTooFar)
		assert.NoError(t, try(2*time.Hour))
	})
}

// Repeated bets on one outcome accumulate in the same entry.
func TestPlaceBetAccumulates(t *testing.T) {
	h := newHarness(t, 0)
	h.create(0, 1_000_000, "Yes", "No")
	h.fund(alice, 20_000_000)

	require.NoError(t, h.bet(alice, 0, 0, 10_000_000))
	require.NoError(t, h.bet(alice, 0, 0, 5_000_000))

	entry, err := h.entry(alice, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{15_000_000, 0}, entry.Bets)
	assert.Equal(t, uint64(15_000_000), entry.TotalBet)
	assert.False(t, entry.Claimed)

	v := h.market(0)
	assert.Equal(t, []uint64{15_000_000, 0}, v.market.OutcomePools)
	assert.Equal(t, uint64(15_000_000), v.market.TotalPool)
	assert.Equal(t, uint64(15_000_000), v.vault.Balance)
	assert.Equal(t, uint64(5_000_000), h.balance(alice))
}

func TestPlaceBetRejects(t *testing.T) {
	h := newHarness(t, 0)
	h.create(0, 1_000_000, "Yes", "No")
	h.fund(alice, 5_000_000)

	assert.ErrorIs(t, h.bet(alice, 0, 0, 999_999), domain.ErrBetTooSmall)
	assert.ErrorIs(t, h.bet(alice, 0, 2, 1_000_000), domain.ErrInvalidOutcome)
	assert.ErrorIs(t, h.bet(alice, 0, -1, 1_000_000), domain.ErrInvalidOutcome)
	assert.ErrorIs(t, h.bet(alice, 0, 0, 6_000_000), domain.ErrInsufficientFunds)
	assert.ErrorIs(t, h.bet(alice, 7, 0, 1_000_000), domain.ErrMarketNotFound)

	v := h.market(0)
	assert.Equal(t, []uint64{0, 0}, v.market.OutcomePools)
	assert.Zero(t, v.market.TotalPool)
	assert.Zero(t, v.vault.Balance)
	assert.Equal(t, uint64(5_000_000), h.balance(alice))
	_, err := h.entry(alice, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	h.expire()
	assert.ErrorIs(t, h.bet(alice, 0, 0, 1_000_000), domain.ErrMarketExpired)
}

func TestPlaceBetOverflowIsAtomic(t *testing.T) {
	h := newHarness(t, 0)
	h.create(0, 1, "Yes", "No")
	h.fund(alice, ^uint64(0))
	h.fund(bob, 10)

	require.NoError(t, h.bet(alice, 0, 0, ^uint64(0)-5))
	assert.ErrorIs(t, h.bet(bob, 0, 1, 10), domain.ErrOverflow)

	v := h.market(0)
	assert.Equal(t, []uint64{^uint64(0) - 5, 0}, v.market.OutcomePools)
	assert.Equal(t, ^uint64(0)-5, v.vault.Balance)
	assert.Equal(t, uint64(10), h.balance(bob))
	_, err := h.entry(bob, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolveMarket(t *testing.T) {
	h := newHarness(t, 0)
	h.create(0, 1, "Yes", "No")
	h.fund(alice, 10)
	require.NoError(t, h.bet(alice, 0, 1, 10))

	assert.ErrorIs(t, h.resolve(oracle, 0, 0), domain.ErrMarketNotExpired)
	h.expire()
	assert.ErrorIs(t, h.resolve(mallory, 0, 0), domain.ErrUnauthorizedResolver)
	assert.ErrorIs(t, h.resolve(oracle, 0, 2), domain.ErrInvalidOutcome)

	require.NoError(t, h.resolve(oracle, 0, 1))
	v := h.market(0)
	assert.Equal(t, domain.MarketStatusResolved, v.market.Status)
	require.NotNil(t, v.market.WinningOutcome)
	assert.Equal(t, uint8(1), *v.market.WinningOutcome)

	assert.ErrorIs(t, h.resolve(authority, 0, 0), domain.ErrMarketNotActive)
	assert.Equal(t, uint8(1), *h.market(0).market.WinningOutcome)
}

func TestResolveByAuthority(t *testing.T) {
	h := newHarness(t, 0)
	_, err := h.exec(authority, func(tx *ledger.Tx, c Call) error {
		_, err := h.eng.CreateMarket(tx, c, CreateMarketParams{
			Question: "q", Outcomes: []string{"a", "b"}, EndTime: h.now.Unix() + 1, MinBet: 1,
		})
		return err
	})
	require.NoError(t, err)
	h.fund(alice, 5)
	require.NoError(t, h.bet(alice, 0, 0, 5))
	h.expire()
	assert.ErrorIs(t, h.resolve(oracle, 0, 0), domain.ErrUnauthorizedResolver)
	assert.NoError(t, h.resolve(authority, 0, 0))
}

func TestResolveRejectsUnbackedOutcome(t *testing.T) {
	h := newHarness(t, 250)
	h.create(0, 1, "Yes", "No")
	h.fund(alice, 1_000)
	require.NoError(t, h.bet(alice, 0, 0, 1_000))
	h.expire()

	assert.ErrorIs(t, h.resolve(oracle, 0, 1), domain.ErrNoWinners)
	assert.Equal(t, domain.ClassState, domain.ClassOf(domain.ErrNoWinners))
	v := h.market(0)
	assert.Equal(t, domain.MarketStatusActive, v.market.Status)
	assert.Nil(t, v.market.WinningOutcome)

	// The stake is recoverable through close and refund.
	require.NoError(t, h.closeMarket(authority, 0))
	refund, err := h.refund(alice, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), refund.Settlement.Payout)
	assert.Equal(t, uint64(1_000), h.balance(alice))
	assert.Zero(t, h.market(0).vault.Balance)
}

func TestResolveEmptyMarketRejected(t *testing.T) {
	h := newHarness(t, 0)
	h.create(0, 1, "Yes", "No")
	h.expire()
	assert.ErrorIs(t, h.resolve(oracle, 0, 0), domain.ErrNoWinners)
	require.NoError(t, h.closeMarket(authority, 0))
}

func TestClaimWinnings(t *testing.T) {
	h := newHarness(t, 250)
	h.create(0, 1_000_000, "Yes", "No")
	h.fund(alice, 10_000_000)
	h.fund(bob, 40_000_000)
	require.NoError(t, h.bet(alice, 0, 0, 10_000_000))
	require.NoError(t, h.bet(bob, 0, 1, 40_000_000))

	_, err := h.claim(alice, 0)
	assert.ErrorIs(t, err, domain.ErrMarketNotResolved)

	h.expire()
	require.NoError(t, h.resolve(oracle, 0, 0))

	cl, err := h.claim(alice, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_250_000), cl.Settlement.Fee)
	assert.Equal(t, uint64(48_750_000), cl.Settlement.Distributable)
	assert.Equal(t, uint64(48_750_000), cl.Settlement.Payout)
	assert.True(t, cl.Entry.Claimed)
	assert.Equal(t, uint64(48_750_000), h.balance(alice))
	assert.Equal(t, uint64(1_250_000), h.market(0).vault.Balance)

	t.Run("second claim fails", func(t *testing.T) {
		_, err := h.claim(alice, 0)
		assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
		assert.Equal(t, uint64(48_750_000), h.balance(alice))
	})

	t.Run("loser has no winning bet", func(t *testing.T) {
		_, err := h.claim(bob, 0)
		assert.ErrorIs(t, err, domain.ErrNoWinningBet)
		assert.Zero(t, h.balance(bob))
		entry, err := h.entry(bob, 0)
		require.NoError(t, err)
		assert.False(t, entry.Claimed)
	})

	t.Run("non-bettor has no winning bet", func(t *testing.T) {
		_, err := h.claim(mallory, 0)
		assert.ErrorIs(t, err, domain.ErrNoWinningBet)
	})

	t.Run("fees collected once", func(t *testing.T) {
		_, err := h.collect(mallory, 0)
		assert.ErrorIs(t, err, domain.ErrUnauthorizedFeeCollection)

		fee, err := h.collect(authority, 0)
		require.NoError(t, err)
		assert.Equal(t, uint64(1_250_000), fee)
		assert.Equal(t, uint64(1_250_000), h.balance(treasury))
		assert.Zero(t, h.market(0).vault.Balance)

		_, err = h.collect(authority, 0)
		assert.ErrorIs(t, err, domain.ErrFeesAlreadyCollected)
		assert.Equal(t, uint64(1_250_000), h.balance(treasury))
	})
}

// Winners split the distributable pool pro rata; truncation dust stays in
// the vault and the vault never goes negative.
func TestClaimConservation(t *testing.T) {
	h := newHarness(t, 300)
	h.create(0, 1, "A", "B", "C")
	users := []common.Address{alice, bob, mallory}
	stakes := []struct {
		outcome int
		amount  uint64
	}{{0, 333}, {0, 667}, {2, 1001}}
	var total uint64
	for i, s := range stakes {
		h.fund(users[i], s.amount)
		require.NoError(t, h.bet(users[i], 0, s.outcome, s.amount))
		total += s.amount
	}
	h.expire()
	require.NoError(t, h.resolve(oracle, 0, 0))

	var paid uint64
	for _, u := range users[:2] {
		cl, err := h.claim(u, 0)
		require.NoError(t, err)
		paid += cl.Settlement.Payout
	}
	fee, err := h.collect(authority, 0)
	require.NoError(t, err)

	fee2, _ := PlatformFee(total, 300)
	assert.Equal(t, fee2, fee)
	assert.LessOrEqual(t, paid, total-fee)
	assert.Equal(t, total-fee-paid, h.market(0).vault.Balance)
}

func TestCloseMarketAndRefund(t *testing.T) {
	h := newHarness(t, 250)
	h.create(0, 1, "Yes", "No")
	h.fund(alice, 300)
	require.NoError(t, h.bet(alice, 0, 0, 100))
	require.NoError(t, h.bet(alice, 0, 1, 200))

	_, err := h.refund(alice, 0)
	assert.ErrorIs(t, err, domain.ErrMarketNotCancelled)

	assert.ErrorIs(t, h.closeMarket(oracle, 0), domain.ErrUnauthorizedMarketClose)
	require.NoError(t, h.closeMarket(authority, 0))
	assert.ErrorIs(t, h.closeMarket(authority, 0), domain.ErrMarketNotActive)

	assert.ErrorIs(t, h.bet(alice, 0, 0, 1), domain.ErrMarketNotActive)
	h.expire()
	assert.ErrorIs(t, h.resolve(oracle, 0, 0), domain.ErrMarketNotActive)
	_, err = h.claim(alice, 0)
	assert.ErrorIs(t, err, domain.ErrMarketNotResolved)
	_, err = h.collect(authority, 0)
	assert.ErrorIs(t, err, domain.ErrMarketNotResolved)

	cl, err := h.refund(alice, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), cl.Settlement.Payout)
	assert.Zero(t, cl.Settlement.Fee)
	assert.Equal(t, uint64(300), h.balance(alice))
	assert.Zero(t, h.market(0).vault.Balance)

	_, err = h.refund(alice, 0)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	_, err = h.refund(bob, 0)
	assert.ErrorIs(t, err, domain.ErrNothingToRefund)
}

func TestEventsEmittedOnCommit(t *testing.T) {
	h := newHarness(t, 0)
	h.create(0, 1, "Yes", "No")
	h.fund(alice, 10)

	events, err := h.exec(alice, func(tx *ledger.Tx, c Call) error {
		_, err := h.eng.PlaceBet(tx, c, 0, 1, 10)
		return err
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	evt := events[0]
	assert.Equal(t, domain.EventBetPlaced, evt.Kind)
	assert.Equal(t, alice, evt.Actor)
	assert.Equal(t, uint64(10), evt.Amount)
	require.NotNil(t, evt.Outcome)
	assert.Equal(t, uint8(1), *evt.Outcome)
	assert.NotEmpty(t, evt.ID)

	events, err = h.exec(alice, func(tx *ledger.Tx, c Call) error {
		_, err := h.eng.PlaceBet(tx, c, 0, 1, 10)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Empty(t, events)

	logged, err := h.led.ListByMarket(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, logged, 2)
	assert.Equal(t, domain.EventMarketCreated, logged[0].Kind)
	assert.Less(t, logged[0].Seq, logged[1].Seq)
}
