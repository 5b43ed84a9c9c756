package domain

import "github.com/ethereum/go-ethereum/common"

// BasisPointsDenominator is the fee rate denominator: 10000 bps = 100%.
const BasisPointsDenominator = 10_000

// Registry is the platform-wide singleton holding fee configuration and the
// market counter.
type Registry struct {
	Address      common.Hash    `json:"address"`
	Authority    common.Address `json:"authority"`
	FeeBps       uint16         `json:"fee_bps"`
	FeeRecipient common.Address `json:"fee_recipient"`
	TotalMarkets uint64         `json:"total_markets"`
}

// TokenAccount is an identity's external balance. Bets debit it; payouts,
// refunds and fee collection credit it.
type TokenAccount struct {
	Address common.Hash    `json:"address"`
	Owner   common.Address `json:"owner"`
	Balance uint64         `json:"balance"`
}
