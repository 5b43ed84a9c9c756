package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/alanyoungcy/poolmarket/internal/domain"
)

// Kind is the one-byte discriminator prefixed to every stored account.
type Kind uint8

const (
	KindRegistry Kind = iota + 1
	KindMarket
	KindVault
	KindBet
	KindToken
)

func (k Kind) String() string {
	switch k {
	case KindRegistry:
		return "registry"
	case KindMarket:
		return "market"
	case KindVault:
		return "vault"
	case KindBet:
		return "bet"
	case KindToken:
		return "token"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// KindOf returns the discriminator of an encoded account.
func KindOf(data []byte) (Kind, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("ledger: empty account: %w", domain.ErrLayout)
	}
	return Kind(data[0]), nil
}

type registryLayout struct {
	Authority    common.Address
	FeeBps       uint16
	FeeRecipient common.Address
	TotalMarkets uint64
}

// marketLayout stores the winner as a flag plus index: RLP encodes a zero
// uint8 and a nil pointer identically.
type marketLayout struct {
	ID            uint64
	Creator       common.Address
	Oracle        common.Address
	Question      string
	Outcomes      []string
	EndTime       uint64
	MinBet        uint64
	Status        uint8
	TotalPool     uint64
	OutcomePools  []uint64
	HasWinner     bool
	Winner        uint8
	FeesCollected bool
	CreatedAt     uint64
}

type vaultLayout struct {
	Market  common.Hash
	Balance uint64
}

type betLayout struct {
	User     common.Address
	Market   common.Hash
	Bets     []uint64
	TotalBet uint64
	Claimed  bool
}

type tokenLayout struct {
	Owner   common.Address
	Balance uint64
}

func encode(kind Kind, v any) ([]byte, error) {
	body, err := rlp.EncodeToBytes(v)
	if err != nil {
		return nil, fmt.Errorf("ledger: encode %s: %w", kind, err)
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, byte(kind))
	return append(out, body...), nil
}

func decode(kind Kind, data []byte, v any) error {
	got, err := KindOf(data)
	if err != nil {
		return err
	}
	if got != kind {
		return fmt.Errorf("ledger: expected %s account, found %s: %w", kind, got, domain.ErrLayout)
	}
	if err := rlp.DecodeBytes(data[1:], v); err != nil {
		return fmt.Errorf("ledger: decode %s: %v: %w", kind, err, domain.ErrLayout)
	}
	return nil
}

// EncodeRegistry serializes the registry account.
func EncodeRegistry(r domain.Registry) ([]byte, error) {
	return encode(KindRegistry, registryLayout{
		Authority:    r.Authority,
		FeeBps:       r.FeeBps,
		FeeRecipient: r.FeeRecipient,
		TotalMarkets: r.TotalMarkets,
	})
}

// DecodeRegistry parses a registry account stored at addr.
func DecodeRegistry(addr common.Hash, data []byte) (domain.Registry, error) {
	var l registryLayout
	if err := decode(KindRegistry, data, &l); err != nil {
		return domain.Registry{}, err
	}
	return domain.Registry{
		Address:      addr,
		Authority:    l.Authority,
		FeeBps:       l.FeeBps,
		FeeRecipient: l.FeeRecipient,
		TotalMarkets: l.TotalMarkets,
	}, nil
}

// EncodeMarket serializes a market record.
func EncodeMarket(m domain.Market) ([]byte, error) {
	l := marketLayout{
		ID:            m.ID,
		Creator:       m.Creator,
		Oracle:        m.Oracle,
		Question:      m.Question,
		Outcomes:      m.Outcomes,
		EndTime:       uint64(m.EndTime),
		MinBet:        m.MinBet,
		Status:        uint8(m.Status),
		TotalPool:     m.TotalPool,
		OutcomePools:  m.OutcomePools,
		FeesCollected: m.FeesCollected,
		CreatedAt:     uint64(m.CreatedAt),
	}
	if m.WinningOutcome != nil {
		l.HasWinner = true
		l.Winner = *m.WinningOutcome
	}
	return encode(KindMarket, l)
}

// DecodeMarket parses a market record stored at addr.
func DecodeMarket(addr common.Hash, data []byte) (domain.Market, error) {
	var l marketLayout
	if err := decode(KindMarket, data, &l); err != nil {
		return domain.Market{}, err
	}
	m := domain.Market{
		Address:       addr,
		ID:            l.ID,
		Creator:       l.Creator,
		Oracle:        l.Oracle,
		Question:      l.Question,
		Outcomes:      l.Outcomes,
		EndTime:       int64(l.EndTime),
		MinBet:        l.MinBet,
		Status:        domain.MarketStatus(l.Status),
		TotalPool:     l.TotalPool,
		OutcomePools:  l.OutcomePools,
		FeesCollected: l.FeesCollected,
		CreatedAt:     int64(l.CreatedAt),
	}
	if l.HasWinner {
		w := l.Winner
		m.WinningOutcome = &w
	}
	if m.Outcomes == nil {
		m.Outcomes = []string{}
	}
	if m.OutcomePools == nil {
		m.OutcomePools = []uint64{}
	}
	return m, nil
}

// EncodeVault serializes a vault account.
func EncodeVault(v domain.Vault) ([]byte, error) {
	return encode(KindVault, vaultLayout{Market: v.Market, Balance: v.Balance})
}

// DecodeVault parses a vault account stored at addr.
func DecodeVault(addr common.Hash, data []byte) (domain.Vault, error) {
	var l vaultLayout
	if err := decode(KindVault, data, &l); err != nil {
		return domain.Vault{}, err
	}
	return domain.Vault{Address: addr, Market: l.Market, Balance: l.Balance}, nil
}

// EncodeBet serializes a betting ledger entry.
func EncodeBet(b domain.BetEntry) ([]byte, error) {
	return encode(KindBet, betLayout{
		User:     b.User,
		Market:   b.Market,
		Bets:     b.Bets,
		TotalBet: b.TotalBet,
		Claimed:  b.Claimed,
	})
}

// DecodeBet parses a betting ledger entry stored at addr.
func DecodeBet(addr common.Hash, data []byte) (domain.BetEntry, error) {
	var l betLayout
	if err := decode(KindBet, data, &l); err != nil {
		return domain.BetEntry{}, err
	}
	b := domain.BetEntry{
		Address:  addr,
		User:     l.User,
		Market:   l.Market,
		Bets:     l.Bets,
		TotalBet: l.TotalBet,
		Claimed:  l.Claimed,
	}
	if b.Bets == nil {
		b.Bets = []uint64{}
	}
	return b, nil
}

// EncodeToken serializes a token account.
func EncodeToken(t domain.TokenAccount) ([]byte, error) {
	return encode(KindToken, tokenLayout{Owner: t.Owner, Balance: t.Balance})
}

// DecodeToken parses a token account stored at addr.
func DecodeToken(addr common.Hash, data []byte) (domain.TokenAccount, error) {
	var l tokenLayout
	if err := decode(KindToken, data, &l); err != nil {
		return domain.TokenAccount{}, err
	}
	return domain.TokenAccount{Address: addr, Owner: l.Owner, Balance: l.Balance}, nil
}
