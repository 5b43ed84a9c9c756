package engine

import (
	"errors"

	"github.com/alanyoungcy/poolmarket/internal/domain"
	"github.com/alanyoungcy/poolmarket/internal/ledger"
)

// Claim reports the funds released to a claimant.
type Claim struct {
	MarketID   uint64
	Settlement Settlement
	Entry      domain.BetEntry
	Balance    uint64
}

func loadEntry(tx *ledger.Tx, call Call, m domain.Market, missing error) (domain.BetEntry, error) {
	entry, err := tx.Bet(call.Signer, m.Address)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.BetEntry{}, missing
	}
	if err != nil {
		return domain.BetEntry{}, err
	}
	if err := requireSigner(entry.User, call.Signer, domain.ErrUnauthorized); err != nil {
		return domain.BetEntry{}, err
	}
	if len(entry.Bets) != len(m.Outcomes) || !entry.Balanced() {
		return domain.BetEntry{}, domain.ErrLayout
	}
	return entry, nil
}

// release stages the transfer of amount from the vault to the token account
// of the entry's user and marks the entry claimed.
func release(tx *ledger.Tx, vault domain.Vault, entry domain.BetEntry, amount uint64) (domain.BetEntry, uint64, error) {
	if vault.Balance < amount {
		return domain.BetEntry{}, 0, domain.ErrInsufficientVaultFunds
	}
	acct, err := tx.Token(entry.User)
	if err != nil {
		return domain.BetEntry{}, 0, err
	}
	if acct.Balance, err = add(acct.Balance, amount); err != nil {
		return domain.BetEntry{}, 0, err
	}
	vault.Balance -= amount
	next := entry.Clone()
	next.Claimed = true

	if err := tx.PutVault(vault); err != nil {
		return domain.BetEntry{}, 0, err
	}
	if err := tx.PutToken(acct); err != nil {
		return domain.BetEntry{}, 0, err
	}
	if err := tx.PutBet(next); err != nil {
		return domain.BetEntry{}, 0, err
	}
	return next, acct.Balance, nil
}

// ClaimWinnings pays the caller's proportional share of the resolved market's
// pool net of the platform fee. An entry can be claimed at most once.
func (e *Engine) ClaimWinnings(tx *ledger.Tx, call Call, id uint64) (Claim, error) {
	reg, err := loadRegistry(tx)
	if err != nil {
		return Claim{}, err
	}
	m, err := loadMarket(tx, id)
	if err != nil {
		return Claim{}, err
	}
	if m.Status != domain.MarketStatusResolved || m.WinningOutcome == nil {
		return Claim{}, domain.ErrMarketNotResolved
	}
	entry, err := loadEntry(tx, call, m, domain.ErrNoWinningBet)
	if err != nil {
		return Claim{}, err
	}
	if entry.Claimed {
		return Claim{}, domain.ErrAlreadyClaimed
	}

	win := int(*m.WinningOutcome)
	stake := entry.Bets[win]
	if stake == 0 {
		return Claim{}, domain.ErrNoWinningBet
	}
	s, err := Settle(m.TotalPool, reg.FeeBps, stake, m.OutcomePools[win])
	if err != nil {
		return Claim{}, err
	}

	vault, err := tx.Vault(m.Address)
	if err != nil {
		return Claim{}, err
	}
	next, balance, err := release(tx, vault, entry, s.Payout)
	if err != nil {
		return Claim{}, err
	}

	evt := marketEvent(domain.EventWinningsClaimed, m, call)
	evt.Amount = s.Payout
	evt.Outcome = m.WinningOutcome
	tx.Emit(evt)
	return Claim{MarketID: id, Settlement: s, Entry: next, Balance: balance}, nil
}

// ClaimRefund returns the caller's full stake from a cancelled market. No fee
// is taken.
func (e *Engine) ClaimRefund(tx *ledger.Tx, call Call, id uint64) (Claim, error) {
	m, err := loadMarket(tx, id)
	if err != nil {
		return Claim{}, err
	}
	if m.Status != domain.MarketStatusCancelled {
		return Claim{}, domain.ErrMarketNotCancelled
	}
	entry, err := loadEntry(tx, call, m, domain.ErrNothingToRefund)
	if err != nil {
		return Claim{}, err
	}
	if entry.Claimed {
		return Claim{}, domain.ErrAlreadyClaimed
	}
	if entry.TotalBet == 0 {
		return Claim{}, domain.ErrNothingToRefund
	}

	vault, err := tx.Vault(m.Address)
	if err != nil {
		return Claim{}, err
	}
	next, balance, err := release(tx, vault, entry, entry.TotalBet)
	if err != nil {
		return Claim{}, err
	}

	evt := marketEvent(domain.EventRefundClaimed, m, call)
	evt.Amount = entry.TotalBet
	tx.Emit(evt)
	return Claim{
		MarketID:   id,
		Settlement: Settlement{Distributable: entry.TotalBet, Payout: entry.TotalBet},
		Entry:      next,
		Balance:    balance,
	}, nil
}

// CollectFees transfers the platform fee of a resolved market to the fee
// recipient. It succeeds once per market.
func (e *Engine) CollectFees(tx *ledger.Tx, call Call, id uint64) (uint64, error) {
	reg, err := loadRegistry(tx)
	if err != nil {
		return 0, err
	}
	if err := requireSigner(reg.Authority, call.Signer, domain.ErrUnauthorizedFeeCollection); err != nil {
		return 0, err
	}
	m, err := loadMarket(tx, id)
	if err != nil {
		return 0, err
	}
	if m.Status != domain.MarketStatusResolved {
		return 0, domain.ErrMarketNotResolved
	}
	if m.FeesCollected {
		return 0, domain.ErrFeesAlreadyCollected
	}

	fee, err := PlatformFee(m.TotalPool, reg.FeeBps)
	if err != nil {
		return 0, err
	}
	vault, err := tx.Vault(m.Address)
	if err != nil {
		return 0, err
	}
	if vault.Balance < fee {
		return 0, domain.ErrInsufficientVaultFunds
	}
	recipient, err := tx.Token(reg.FeeRecipient)
	if err != nil {
		return 0, err
	}
	if recipient.Balance, err = add(recipient.Balance, fee); err != nil {
		return 0, err
	}
	vault.Balance -= fee
	next := m.Clone()
	next.FeesCollected = true

	if fee > 0 {
		if err := tx.PutVault(vault); err != nil {
			return 0, err
		}
		if err := tx.PutToken(recipient); err != nil {
			return 0, err
		}
	}
	if err := tx.PutMarket(next); err != nil {
		return 0, err
	}

	evt := marketEvent(domain.EventFeesCollected, next, call)
	evt.Amount = fee
	evt.Detail = map[string]any{"fee_recipient": reg.FeeRecipient.Hex()}
	tx.Emit(evt)
	return fee, nil
}
