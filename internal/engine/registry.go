package engine

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/poolmarket/internal/domain"
	"github.com/alanyoungcy/poolmarket/internal/ledger"
)

// Initialize creates the platform registry with the caller as authority.
func (e *Engine) Initialize(tx *ledger.Tx, call Call, feeBps uint32, feeRecipient common.Address) (domain.Registry, error) {
	_, err := tx.Registry()
	switch {
	case err == nil:
		return domain.Registry{}, domain.ErrRegistryAlreadyInitialized
	case !errors.Is(err, domain.ErrNotFound):
		return domain.Registry{}, err
	}
	if feeBps > MaxFeeBps {
		return domain.Registry{}, domain.ErrFeeTooHigh
	}

	reg := domain.Registry{
		Address:      ledger.RegistryAddress(),
		Authority:    call.Signer,
		FeeBps:       uint16(feeBps),
		FeeRecipient: feeRecipient,
	}
	if err := tx.PutRegistry(reg); err != nil {
		return domain.Registry{}, err
	}

	tx.Emit(domain.Event{
		Kind:  domain.EventPlatformInitialized,
		Actor: call.Signer,
		At:    call.Now.Unix(),
		Detail: map[string]any{
			"fee_bps":       reg.FeeBps,
			"fee_recipient": reg.FeeRecipient.Hex(),
		},
	})
	return reg, nil
}

// Deposit credits owner's token account. Only the platform authority may
// bring funds onto the ledger.
func (e *Engine) Deposit(tx *ledger.Tx, call Call, owner common.Address, amount uint64) (domain.TokenAccount, error) {
	reg, err := loadRegistry(tx)
	if err != nil {
		return domain.TokenAccount{}, err
	}
	if err := requireSigner(reg.Authority, call.Signer, domain.ErrUnauthorized); err != nil {
		return domain.TokenAccount{}, err
	}
	if amount == 0 || owner == (common.Address{}) {
		return domain.TokenAccount{}, domain.ErrInvalidAmount
	}

	acct, err := tx.Token(owner)
	if err != nil {
		return domain.TokenAccount{}, err
	}
	balance, err := add(acct.Balance, amount)
	if err != nil {
		return domain.TokenAccount{}, err
	}
	acct.Balance = balance
	if err := tx.PutToken(acct); err != nil {
		return domain.TokenAccount{}, err
	}

	tx.Emit(domain.Event{
		Kind:   domain.EventFundsDeposited,
		Actor:  call.Signer,
		Amount: amount,
		At:     call.Now.Unix(),
		Detail: map[string]any{"owner": owner.Hex()},
	})
	return acct, nil
}
