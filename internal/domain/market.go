package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus uint8

const (
	MarketStatusActive MarketStatus = iota
	MarketStatusResolved
	MarketStatusCancelled
)

func (s MarketStatus) String() string {
	switch s {
	case MarketStatusActive:
		return "active"
	case MarketStatusResolved:
		return "resolved"
	case MarketStatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can leave s.
func (s MarketStatus) Terminal() bool {
	return s == MarketStatusResolved || s == MarketStatusCancelled
}

// MarshalText encodes the status by name in JSON payloads.
func (s MarketStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name produced by MarshalText.
func (s *MarketStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "active":
		*s = MarketStatusActive
	case "resolved":
		*s = MarketStatusResolved
	case "cancelled":
		*s = MarketStatusCancelled
	default:
		return fmt.Errorf("unknown market status %q", text)
	}
	return nil
}

// Market is the authoritative record for one wagering contest.
type Market struct {
	Address        common.Hash    `json:"address"`
	ID             uint64         `json:"id"`
	Creator        common.Address `json:"creator"`
	Oracle         common.Address `json:"oracle"`
	Question       string         `json:"question"`
	Outcomes       []string       `json:"outcomes"`
	EndTime        int64          `json:"end_time"`
	MinBet         uint64         `json:"min_bet"`
	Status         MarketStatus   `json:"status"`
	TotalPool      uint64         `json:"total_pool"`
	OutcomePools   []uint64       `json:"outcome_pools"`
	WinningOutcome *uint8         `json:"winning_outcome,omitempty"`
	FeesCollected  bool           `json:"fees_collected"`
	CreatedAt      int64          `json:"created_at"`
}

// Expired reports whether betting has closed at the given time.
func (m Market) Expired(now time.Time) bool {
	return now.Unix() >= m.EndTime
}

// ValidOutcome reports whether idx addresses one of the market's outcomes.
func (m Market) ValidOutcome(idx int) bool {
	return idx >= 0 && idx < len(m.Outcomes)
}

// PoolsBalanced checks totalPool == sum(outcomePools) and that the pool
// vector matches the outcome count.
func (m Market) PoolsBalanced() bool {
	if len(m.OutcomePools) != len(m.Outcomes) {
		return false
	}
	var sum uint64
	for _, p := range m.OutcomePools {
		next := sum + p
		if next < sum {
			return false
		}
		sum = next
	}
	return sum == m.TotalPool
}

// Clone returns a deep copy so staged mutations never alias a committed record.
func (m Market) Clone() Market {
	out := m
	out.Outcomes = append([]string(nil), m.Outcomes...)
	out.OutcomePools = append([]uint64(nil), m.OutcomePools...)
	if m.WinningOutcome != nil {
		w := *m.WinningOutcome
		out.WinningOutcome = &w
	}
	return out
}

// Vault holds custody of every unsettled stake in one market.
type Vault struct {
	Address common.Hash `json:"address"`
	Market  common.Hash `json:"market"`
	Balance uint64      `json:"balance"`
}

// MarketSnapshot is the read model served to API clients and cached in Redis.
type MarketSnapshot struct {
	Market Market `json:"market"`
	Vault  Vault  `json:"vault"`
}
