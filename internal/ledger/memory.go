package ledger

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/poolmarket/internal/domain"
)

// Memory is an in-process Ledger. Exec calls are fully serialized.
type Memory struct {
	mu       sync.Mutex
	accounts map[common.Hash][]byte
	events   []domain.Event
	seq      uint64
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{accounts: make(map[common.Hash][]byte)}
}

func (m *Memory) loader() Loader {
	return func(key common.Hash) ([]byte, error) {
		data, ok := m.accounts[key]
		if !ok {
			return nil, domain.ErrNotFound
		}
		return data, nil
	}
}

// Exec implements Ledger.
func (m *Memory) Exec(ctx context.Context, fn func(tx *Tx) error) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := NewTx(m.loader())
	if err := fn(tx); err != nil {
		return nil, err
	}

	for _, w := range tx.Writes() {
		m.accounts[w.Key] = w.Data
	}
	events := tx.Events()
	for i := range events {
		m.seq++
		events[i].Seq = m.seq
	}
	m.events = append(m.events, events...)
	return events, nil
}

// View implements Ledger.
func (m *Memory) View(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(NewReadTx(m.loader()))
}

// ListByMarket implements domain.EventLog.
func (m *Memory) ListByMarket(ctx context.Context, marketID uint64) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Event
	for _, e := range m.events {
		if id, ok := e.Market(); ok && id == marketID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListAfter implements domain.EventLog.
func (m *Memory) ListAfter(ctx context.Context, seq uint64, limit int) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Event
	for _, e := range m.events {
		if e.Seq <= seq {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Close implements Ledger.
func (m *Memory) Close() error { return nil }

var _ Ledger = (*Memory)(nil)
