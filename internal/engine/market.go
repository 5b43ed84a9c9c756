package engine

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/poolmarket/internal/domain"
	"github.com/alanyoungcy/poolmarket/internal/ledger"
)

// CreateMarketParams are the caller-supplied fields of a new market.
type CreateMarketParams struct {
	ID       uint64
	Question string
	Outcomes []string
	EndTime  int64
	Oracle   common.Address
	MinBet   uint64
}

func (e *Engine) validateMarket(p CreateMarketParams, call Call) error {
	switch {
	case len(p.Outcomes) < MinOutcomes:
		return domain.ErrInsufficientOutcomes
	case len(p.Outcomes) > MaxOutcomes:
		return domain.ErrTooManyOutcomes
	}

	now := call.Now.Unix()
	if p.EndTime <= now {
		return domain.ErrInvalidEndTime
	}
	remaining := p.EndTime - now
	if d := e.policy.MinDuration; d > 0 && remaining < int64(d.Seconds()) {
		return domain.ErrInvalidEndTime
	}
	if d := e.policy.MaxDuration; d > 0 && remaining > int64(d.Seconds()) {
		return domain.ErrEndTimeTooFar
	}

	if strings.TrimSpace(p.Question) == "" || utf8.RuneCountInString(p.Question) > MaxQuestionLen {
		return domain.ErrInvalidQuestion
	}
	for i, label := range p.Outcomes {
		if strings.TrimSpace(label) == "" || utf8.RuneCountInString(label) > MaxOutcomeLabelLen {
			return fmt.Errorf("outcome %d: %w", i, domain.ErrInvalidOutcomeLabel)
		}
	}
	if p.MinBet == 0 {
		return domain.ErrInvalidMinBet
	}
	return nil
}

// CreateMarket allocates a market record and its vault at addresses derived
// from the id, and advances the registry counter.
func (e *Engine) CreateMarket(tx *ledger.Tx, call Call, p CreateMarketParams) (domain.Market, error) {
	reg, err := loadRegistry(tx)
	if err != nil {
		return domain.Market{}, err
	}
	if err := e.validateMarket(p, call); err != nil {
		return domain.Market{}, err
	}
	if p.ID != reg.TotalMarkets {
		return domain.Market{}, fmt.Errorf("expected id %d, got %d: %w", reg.TotalMarkets, p.ID, domain.ErrInvalidMarketID)
	}

	_, err = tx.Market(p.ID)
	switch {
	case err == nil:
		return domain.Market{}, fmt.Errorf("market %d: %w", p.ID, domain.ErrMarketExists)
	case !errors.Is(err, domain.ErrNotFound):
		return domain.Market{}, err
	}

	total, err := add(reg.TotalMarkets, 1)
	if err != nil {
		return domain.Market{}, err
	}

	addr := ledger.MarketAddress(p.ID)
	m := domain.Market{
		Address:      addr,
		ID:           p.ID,
		Creator:      call.Signer,
		Oracle:       p.Oracle,
		Question:     p.Question,
		Outcomes:     append([]string(nil), p.Outcomes...),
		EndTime:      p.EndTime,
		MinBet:       p.MinBet,
		Status:       domain.MarketStatusActive,
		OutcomePools: make([]uint64, len(p.Outcomes)),
		CreatedAt:    call.Now.Unix(),
	}
	vault := domain.Vault{Address: ledger.VaultAddress(addr), Market: addr}
	reg.TotalMarkets = total

	if err := tx.PutMarket(m); err != nil {
		return domain.Market{}, err
	}
	if err := tx.PutVault(vault); err != nil {
		return domain.Market{}, err
	}
	if err := tx.PutRegistry(reg); err != nil {
		return domain.Market{}, err
	}

	evt := marketEvent(domain.EventMarketCreated, m, call)
	evt.Detail = map[string]any{
		"question": m.Question,
		"outcomes": m.Outcomes,
		"end_time": m.EndTime,
		"oracle":   m.Oracle.Hex(),
		"min_bet":  m.MinBet,
	}
	tx.Emit(evt)
	return m, nil
}

// ResolveMarket freezes the winning outcome. Only the market oracle or the
// platform authority may report it, and only once the market has ended. An
// outcome nobody staked on is rejected with ErrNoWinners; such a market can
// only be closed, which opens refunds.
func (e *Engine) ResolveMarket(tx *ledger.Tx, call Call, id uint64, winning int) (domain.Market, error) {
	reg, err := loadRegistry(tx)
	if err != nil {
		return domain.Market{}, err
	}
	m, err := loadMarket(tx, id)
	if err != nil {
		return domain.Market{}, err
	}

	if err := requireResolver(m, reg, call.Signer); err != nil {
		return domain.Market{}, err
	}
	if !m.Expired(call.Now) {
		return domain.Market{}, domain.ErrMarketNotExpired
	}
	if m.Status != domain.MarketStatusActive {
		return domain.Market{}, domain.ErrMarketNotActive
	}
	if !m.ValidOutcome(winning) {
		return domain.Market{}, domain.ErrInvalidOutcome
	}
	if m.OutcomePools[winning] == 0 {
		return domain.Market{}, domain.ErrNoWinners
	}

	next := m.Clone()
	w := uint8(winning)
	next.WinningOutcome = &w
	next.Status = domain.MarketStatusResolved
	if err := tx.PutMarket(next); err != nil {
		return domain.Market{}, err
	}

	evt := marketEvent(domain.EventMarketResolved, next, call)
	evt.Outcome = &w
	evt.Detail = map[string]any{"total_pool": next.TotalPool}
	tx.Emit(evt)
	return next, nil
}

// CloseMarket cancels an active market. No funds move; stakers recover their
// stakes through ClaimRefund.
func (e *Engine) CloseMarket(tx *ledger.Tx, call Call, id uint64) (domain.Market, error) {
	reg, err := loadRegistry(tx)
	if err != nil {
		return domain.Market{}, err
	}
	if err := requireSigner(reg.Authority, call.Signer, domain.ErrUnauthorizedMarketClose); err != nil {
		return domain.Market{}, err
	}
	m, err := loadMarket(tx, id)
	if err != nil {
		return domain.Market{}, err
	}
	if m.Status != domain.MarketStatusActive {
		return domain.Market{}, domain.ErrMarketNotActive
	}

	next := m.Clone()
	next.Status = domain.MarketStatusCancelled
	if err := tx.PutMarket(next); err != nil {
		return domain.Market{}, err
	}
	tx.Emit(marketEvent(domain.EventMarketClosed, next, call))
	return next, nil
}
