package domain

import "github.com/ethereum/go-ethereum/common"

// BetEntry records one user's stake breakdown in one market.
type BetEntry struct {
	Address  common.Hash    `json:"address"`
	User     common.Address `json:"user"`
	Market   common.Hash    `json:"market"`
	Bets     []uint64       `json:"bets"`
	TotalBet uint64         `json:"total_bet"`
	Claimed  bool           `json:"claimed"`
}

// Balanced checks totalBet == sum(bets).
func (b BetEntry) Balanced() bool {
	var sum uint64
	for _, v := range b.Bets {
		next := sum + v
		if next < sum {
			return false
		}
		sum = next
	}
	return sum == b.TotalBet
}

// Clone returns a deep copy of the entry.
func (b BetEntry) Clone() BetEntry {
	out := b
	out.Bets = append([]uint64(nil), b.Bets...)
	return out
}
