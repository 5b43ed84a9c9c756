// Package ledger provides the transactional account store the settlement
// engine runs against. Accounts live at content-derived addresses, are
// encoded as a kind byte followed by RLP, and are only written when a
// transaction commits.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/poolmarket/internal/domain"
)

// Ledger executes settlement operations atomically. Exec stages every write
// made through the Tx and applies them only when fn returns nil; the returned
// events carry their commit sequence numbers.
type Ledger interface {
	Exec(ctx context.Context, fn func(tx *Tx) error) ([]domain.Event, error)
	View(ctx context.Context, fn func(tx *Tx) error) error
	domain.EventLog
	Close() error
}

// Loader fetches the encoded account at key. It returns domain.ErrNotFound
// when no account has been created there.
type Loader func(key common.Hash) ([]byte, error)

// Write is one staged account mutation.
type Write struct {
	Key  common.Hash
	Kind Kind
	Data []byte
}

// Tx is a transaction view over the ledger. Reads see the transaction's own
// staged writes first.
type Tx struct {
	load     Loader
	readOnly bool
	writes   map[common.Hash][]byte
	order    []common.Hash
	events   []domain.Event
}

// NewTx returns a writable transaction view backed by load.
func NewTx(load Loader) *Tx {
	return &Tx{
		load:   load,
		writes: make(map[common.Hash][]byte),
	}
}

// NewReadTx returns a view whose writes are rejected.
func NewReadTx(load Loader) *Tx {
	tx := NewTx(load)
	tx.readOnly = true
	return tx
}

var errReadOnly = errors.New("ledger: write in read-only transaction")

func (tx *Tx) get(key common.Hash) ([]byte, error) {
	if data, ok := tx.writes[key]; ok {
		return data, nil
	}
	return tx.load(key)
}

func (tx *Tx) put(key common.Hash, data []byte) error {
	if tx.readOnly {
		return errReadOnly
	}
	if _, ok := tx.writes[key]; !ok {
		tx.order = append(tx.order, key)
	}
	tx.writes[key] = data
	return nil
}

// Writes returns the staged mutations in first-write order.
func (tx *Tx) Writes() []Write {
	out := make([]Write, 0, len(tx.order))
	for _, key := range tx.order {
		data := tx.writes[key]
		out = append(out, Write{Key: key, Kind: Kind(data[0]), Data: data})
	}
	return out
}

// Emit stages an event for publication on commit.
func (tx *Tx) Emit(e domain.Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	tx.events = append(tx.events, e)
}

// Events returns the staged events.
func (tx *Tx) Events() []domain.Event {
	return append([]domain.Event(nil), tx.events...)
}

// Registry loads the platform registry.
func (tx *Tx) Registry() (domain.Registry, error) {
	addr := RegistryAddress()
	data, err := tx.get(addr)
	if err != nil {
		return domain.Registry{}, fmt.Errorf("ledger: registry: %w", err)
	}
	return DecodeRegistry(addr, data)
}

// PutRegistry stages the registry account.
func (tx *Tx) PutRegistry(r domain.Registry) error {
	data, err := EncodeRegistry(r)
	if err != nil {
		return err
	}
	return tx.put(RegistryAddress(), data)
}

// Market loads the market record with the given id.
func (tx *Tx) Market(id uint64) (domain.Market, error) {
	addr := MarketAddress(id)
	data, err := tx.get(addr)
	if err != nil {
		return domain.Market{}, fmt.Errorf("ledger: market %d: %w", id, err)
	}
	return DecodeMarket(addr, data)
}

// PutMarket stages a market record at the address derived from its id.
func (tx *Tx) PutMarket(m domain.Market) error {
	data, err := EncodeMarket(m)
	if err != nil {
		return err
	}
	return tx.put(MarketAddress(m.ID), data)
}

// Vault loads the escrow vault of the market at marketAddr.
func (tx *Tx) Vault(marketAddr common.Hash) (domain.Vault, error) {
	addr := VaultAddress(marketAddr)
	data, err := tx.get(addr)
	if err != nil {
		return domain.Vault{}, fmt.Errorf("ledger: vault %s: %w", addr.Hex(), err)
	}
	return DecodeVault(addr, data)
}

// PutVault stages a vault account.
func (tx *Tx) PutVault(v domain.Vault) error {
	data, err := EncodeVault(v)
	if err != nil {
		return err
	}
	return tx.put(VaultAddress(v.Market), data)
}

// Bet loads the ledger entry for (user, market).
func (tx *Tx) Bet(user common.Address, marketAddr common.Hash) (domain.BetEntry, error) {
	addr := BetAddress(user, marketAddr)
	data, err := tx.get(addr)
	if err != nil {
		return domain.BetEntry{}, fmt.Errorf("ledger: bet %s: %w", addr.Hex(), err)
	}
	return DecodeBet(addr, data)
}

// PutBet stages a ledger entry.
func (tx *Tx) PutBet(b domain.BetEntry) error {
	data, err := EncodeBet(b)
	if err != nil {
		return err
	}
	return tx.put(BetAddress(b.User, b.Market), data)
}

// Token loads owner's token account. An owner that never held funds has an
// implicit zero-balance account.
func (tx *Tx) Token(owner common.Address) (domain.TokenAccount, error) {
	addr := TokenAddress(owner)
	data, err := tx.get(addr)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.TokenAccount{Address: addr, Owner: owner}, nil
	}
	if err != nil {
		return domain.TokenAccount{}, fmt.Errorf("ledger: token %s: %w", owner.Hex(), err)
	}
	return DecodeToken(addr, data)
}

// PutToken stages a token account.
func (tx *Tx) PutToken(t domain.TokenAccount) error {
	data, err := EncodeToken(t)
	if err != nil {
		return err
	}
	return tx.put(TokenAddress(t.Owner), data)
}
