package engine

import (
	"math/bits"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/poolmarket/internal/domain"
)

// Settlement is the payout breakdown for one winning stake.
type Settlement struct {
	Fee           uint64
	Distributable uint64
	Payout        uint64
}

// mulDiv returns floor(x*y/d) computed at 256-bit width.
func mulDiv(x, y, d uint64) (uint64, error) {
	if d == 0 {
		return 0, domain.ErrOverflow
	}
	var z uint256.Int
	res, overflow := z.MulDivOverflow(uint256.NewInt(x), uint256.NewInt(y), uint256.NewInt(d))
	if overflow || !res.IsUint64() {
		return 0, domain.ErrOverflow
	}
	return res.Uint64(), nil
}

func add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, domain.ErrOverflow
	}
	return sum, nil
}

func sub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, domain.ErrOverflow
	}
	return diff, nil
}

// PlatformFee is floor(totalPool * feeBps / 10000).
func PlatformFee(totalPool uint64, feeBps uint16) (uint64, error) {
	if uint64(feeBps) > MaxFeeBps {
		return 0, domain.ErrFeeTooHigh
	}
	return mulDiv(totalPool, uint64(feeBps), domain.BasisPointsDenominator)
}

// Settle computes the payout owed to a stake on the winning outcome:
//
//	fee           = floor(totalPool * feeBps / 10000)
//	distributable = totalPool - fee
//	payout        = floor(distributable * stake / winningPool)
//
// Truncation leaves dust in the vault rather than overpaying any claimant.
func Settle(totalPool uint64, feeBps uint16, stake, winningPool uint64) (Settlement, error) {
	fee, err := PlatformFee(totalPool, feeBps)
	if err != nil {
		return Settlement{}, err
	}
	distributable, err := sub(totalPool, fee)
	if err != nil {
		return Settlement{}, err
	}
	if stake > winningPool {
		return Settlement{}, domain.ErrOverflow
	}
	payout, err := mulDiv(distributable, stake, winningPool)
	if err != nil {
		return Settlement{}, err
	}
	return Settlement{Fee: fee, Distributable: distributable, Payout: payout}, nil
}
