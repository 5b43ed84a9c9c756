// Package engine implements the market lifecycle state machine and the
// settlement rules. Every operation runs against a ledger.Tx, validates all
// preconditions and computes every new value before staging any write, so a
// failed operation leaves the transaction untouched.
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/poolmarket/internal/domain"
	"github.com/alanyoungcy/poolmarket/internal/ledger"
)

const (
	MinOutcomes        = 2
	MaxOutcomes        = 10
	MaxQuestionLen     = 200
	MaxOutcomeLabelLen = 50
	MaxFeeBps          = domain.BasisPointsDenominator
)

// Policy holds the tunable market creation bounds. Zero durations disable
// the corresponding check.
type Policy struct {
	MinDuration time.Duration
	MaxDuration time.Duration
}

// Call identifies who invoked an operation and when.
type Call struct {
	Signer common.Address
	Now    time.Time
}

// Engine applies settlement operations to ledger transactions.
type Engine struct {
	policy Policy
}

// New creates an Engine with the given creation policy.
func New(policy Policy) *Engine {
	return &Engine{policy: policy}
}

// Policy returns the engine's creation policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

func loadRegistry(tx *ledger.Tx) (domain.Registry, error) {
	reg, err := tx.Registry()
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Registry{}, domain.ErrRegistryNotInitialized
	}
	return reg, err
}

func loadMarket(tx *ledger.Tx, id uint64) (domain.Market, error) {
	m, err := tx.Market(id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Market{}, fmt.Errorf("market %d: %w", id, domain.ErrMarketNotFound)
	}
	if err != nil {
		return domain.Market{}, err
	}
	if !m.PoolsBalanced() {
		return domain.Market{}, fmt.Errorf("market %d: pools out of balance: %w", id, domain.ErrLayout)
	}
	return m, nil
}

func marketEvent(kind domain.EventKind, m domain.Market, call Call) domain.Event {
	id := m.ID
	return domain.Event{
		Kind:     kind,
		MarketID: &id,
		Actor:    call.Signer,
		At:       call.Now.Unix(),
	}
}
