// Package ledgertest holds behaviour checks shared by every ledger.Ledger
// backend.
package ledgertest

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolmarket/internal/domain"
	"github.com/alanyoungcy/poolmarket/internal/ledger"
)

var owner = common.HexToAddress("0x0000000000000000000000000000000000000abc")

// Run exercises commit, rollback and event numbering against a fresh ledger
// returned by open.
func Run(t *testing.T, open func(t *testing.T) ledger.Ledger) {
	ctx := context.Background()

	t.Run("commit applies writes and numbers events", func(t *testing.T) {
		l := open(t)
		id := uint64(3)
		events, err := l.Exec(ctx, func(tx *ledger.Tx) error {
			if err := tx.PutToken(domain.TokenAccount{Owner: owner, Balance: 42}); err != nil {
				return err
			}
			tx.Emit(domain.Event{Kind: domain.EventFundsDeposited, Amount: 42, At: 1})
			tx.Emit(domain.Event{Kind: domain.EventMarketClosed, MarketID: &id, At: 2})
			return nil
		})
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Less(t, events[0].Seq, events[1].Seq)
		assert.NotEmpty(t, events[0].ID)

		err = l.View(ctx, func(tx *ledger.Tx) error {
			acct, err := tx.Token(owner)
			require.NoError(t, err)
			assert.Equal(t, uint64(42), acct.Balance)
			return nil
		})
		require.NoError(t, err)

		byMarket, err := l.ListByMarket(ctx, id)
		require.NoError(t, err)
		require.Len(t, byMarket, 1)
		assert.Equal(t, domain.EventMarketClosed, byMarket[0].Kind)
		assert.Equal(t, events[1].ID, byMarket[0].ID)

		after, err := l.ListAfter(ctx, events[0].Seq, 10)
		require.NoError(t, err)
		require.Len(t, after, 1)
		assert.Equal(t, events[1].Seq, after[0].Seq)
	})

	t.Run("error discards writes and events", func(t *testing.T) {
		l := open(t)
		boom := errors.New("boom")
		events, err := l.Exec(ctx, func(tx *ledger.Tx) error {
			if err := tx.PutToken(domain.TokenAccount{Owner: owner, Balance: 7}); err != nil {
				return err
			}
			tx.Emit(domain.Event{Kind: domain.EventFundsDeposited, Amount: 7})
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Empty(t, events)

		err = l.View(ctx, func(tx *ledger.Tx) error {
			acct, err := tx.Token(owner)
			require.NoError(t, err)
			assert.Zero(t, acct.Balance)
			_, err = tx.Registry()
			assert.ErrorIs(t, err, domain.ErrNotFound)
			return nil
		})
		require.NoError(t, err)

		all, err := l.ListAfter(ctx, 0, 0)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("reads see staged writes", func(t *testing.T) {
		l := open(t)
		_, err := l.Exec(ctx, func(tx *ledger.Tx) error {
			require.NoError(t, tx.PutRegistry(domain.Registry{Authority: owner, FeeBps: 100}))
			reg, err := tx.Registry()
			require.NoError(t, err)
			assert.Equal(t, uint16(100), reg.FeeBps)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("view rejects writes", func(t *testing.T) {
		l := open(t)
		err := l.View(ctx, func(tx *ledger.Tx) error {
			return tx.PutToken(domain.TokenAccount{Owner: owner, Balance: 1})
		})
		assert.Error(t, err)
	})

	t.Run("sequence continues across commits", func(t *testing.T) {
		l := open(t)
		var last uint64
		for i := 0; i < 3; i++ {
			events, err := l.Exec(ctx, func(tx *ledger.Tx) error {
				tx.Emit(domain.Event{Kind: domain.EventFundsDeposited, Amount: uint64(i + 1)})
				return nil
			})
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Greater(t, events[0].Seq, last)
			last = events[0].Seq
		}
		page, err := l.ListAfter(ctx, 0, 2)
		require.NoError(t, err)
		assert.Len(t, page, 2)
	})
}
