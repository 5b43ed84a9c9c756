package engine

import (
	"errors"
	"fmt"

	"github.com/alanyoungcy/poolmarket/internal/domain"
	"github.com/alanyoungcy/poolmarket/internal/ledger"
)

// PlaceBet moves amount from the caller's token account into the market vault
// and records it against outcome in the market pools and the caller's entry.
func (e *Engine) PlaceBet(tx *ledger.Tx, call Call, id uint64, outcome int, amount uint64) (domain.BetEntry, error) {
	m, err := loadMarket(tx, id)
	if err != nil {
		return domain.BetEntry{}, err
	}
	if m.Status != domain.MarketStatusActive {
		return domain.BetEntry{}, domain.ErrMarketNotActive
	}
	if m.Expired(call.Now) {
		return domain.BetEntry{}, domain.ErrMarketExpired
	}
	if !m.ValidOutcome(outcome) {
		return domain.BetEntry{}, domain.ErrInvalidOutcome
	}
	if amount < m.MinBet {
		return domain.BetEntry{}, domain.ErrBetTooSmall
	}

	acct, err := tx.Token(call.Signer)
	if err != nil {
		return domain.BetEntry{}, err
	}
	if acct.Balance < amount {
		return domain.BetEntry{}, domain.ErrInsufficientFunds
	}
	vault, err := tx.Vault(m.Address)
	if err != nil {
		return domain.BetEntry{}, err
	}

	entry, err := tx.Bet(call.Signer, m.Address)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		entry = domain.BetEntry{
			Address: ledger.BetAddress(call.Signer, m.Address),
			User:    call.Signer,
			Market:  m.Address,
			Bets:    make([]uint64, len(m.Outcomes)),
		}
	case err != nil:
		return domain.BetEntry{}, err
	}
	if len(entry.Bets) != len(m.Outcomes) || !entry.Balanced() {
		return domain.BetEntry{}, fmt.Errorf("bet %s: %w", entry.Address.Hex(), domain.ErrLayout)
	}

	// Compute every new value before staging anything.
	nextMarket := m.Clone()
	nextEntry := entry.Clone()
	if nextMarket.OutcomePools[outcome], err = add(m.OutcomePools[outcome], amount); err != nil {
		return domain.BetEntry{}, err
	}
	if nextMarket.TotalPool, err = add(m.TotalPool, amount); err != nil {
		return domain.BetEntry{}, err
	}
	if nextEntry.Bets[outcome], err = add(entry.Bets[outcome], amount); err != nil {
		return domain.BetEntry{}, err
	}
	if nextEntry.TotalBet, err = add(entry.TotalBet, amount); err != nil {
		return domain.BetEntry{}, err
	}
	if vault.Balance, err = add(vault.Balance, amount); err != nil {
		return domain.BetEntry{}, err
	}
	acct.Balance -= amount

	if err := tx.PutToken(acct); err != nil {
		return domain.BetEntry{}, err
	}
	if err := tx.PutVault(vault); err != nil {
		return domain.BetEntry{}, err
	}
	if err := tx.PutMarket(nextMarket); err != nil {
		return domain.BetEntry{}, err
	}
	if err := tx.PutBet(nextEntry); err != nil {
		return domain.BetEntry{}, err
	}

	evt := marketEvent(domain.EventBetPlaced, nextMarket, call)
	idx := uint8(outcome)
	evt.Outcome = &idx
	evt.Amount = amount
	tx.Emit(evt)
	return nextEntry, nil
}
