package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/poolmarket/internal/domain"
	"github.com/alanyoungcy/poolmarket/internal/ledger"
)

// Ledger implements ledger.Ledger on SQLite. Writers are serialized by the
// database lock taken at BEGIN IMMEDIATE.
//
// SQLite integers are signed, so uint64 amounts and market ids are stored as
// their two's-complement int64 bit pattern.
type Ledger struct {
	db *DB
}

// NewLedger creates a Ledger over db.
func NewLedger(db *DB) *Ledger {
	return &Ledger{db: db}
}

func loader(ctx context.Context, q *sql.Tx) ledger.Loader {
	return func(key common.Hash) ([]byte, error) {
		var data []byte
		err := q.QueryRowContext(ctx, `SELECT data FROM accounts WHERE address = ?`, key.Bytes()).Scan(&data)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("sqlite: load account %s: %w", key.Hex(), err)
		}
		return data, nil
	}
}

// Exec implements ledger.Ledger.
func (l *Ledger) Exec(ctx context.Context, fn func(tx *ledger.Tx) error) ([]domain.Event, error) {
	sqlTx, err := l.db.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		if isBusy(err) {
			return nil, fmt.Errorf("sqlite: begin: %v: %w", err, domain.ErrConflict)
		}
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	tx := ledger.NewTx(loader(ctx, sqlTx))
	if err := fn(tx); err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	for _, w := range tx.Writes() {
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO accounts (address, kind, data, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (address) DO UPDATE SET
				kind = excluded.kind,
				data = excluded.data,
				updated_at = excluded.updated_at`,
			w.Key.Bytes(), int(w.Kind), w.Data, now,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: write %s account %s: %w", w.Kind, w.Key.Hex(), err)
		}
	}

	events := tx.Events()
	if len(events) > 0 {
		var last int64
		if err := sqlTx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&last); err != nil {
			return nil, fmt.Errorf("sqlite: read event seq: %w", err)
		}
		for i := range events {
			events[i].Seq = uint64(last) + uint64(i) + 1
			if err := insertEvent(ctx, sqlTx, events[i]); err != nil {
				return nil, err
			}
		}
	}

	if err := sqlTx.Commit(); err != nil {
		if isBusy(err) {
			return nil, fmt.Errorf("sqlite: commit: %v: %w", err, domain.ErrConflict)
		}
		return nil, fmt.Errorf("sqlite: commit: %w", err)
	}
	return events, nil
}

// View implements ledger.Ledger. It reads a snapshot from the read-only pool
// and does not contend with Exec for the write lock.
func (l *Ledger) View(ctx context.Context, fn func(tx *ledger.Tx) error) error {
	sqlTx, err := l.db.readDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin view: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()
	return fn(ledger.NewReadTx(loader(ctx, sqlTx)))
}

func insertEvent(ctx context.Context, q *sql.Tx, e domain.Event) error {
	var detail sql.NullString
	if len(e.Detail) > 0 {
		raw, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("sqlite: marshal event detail: %w", err)
		}
		detail = sql.NullString{String: string(raw), Valid: true}
	}
	var marketID sql.NullInt64
	if id, ok := e.Market(); ok {
		marketID = sql.NullInt64{Int64: int64(id), Valid: true}
	}
	var outcome sql.NullInt64
	if e.Outcome != nil {
		outcome = sql.NullInt64{Int64: int64(*e.Outcome), Valid: true}
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO events (seq, id, kind, market_id, actor, amount, outcome, detail, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(e.Seq), e.ID, string(e.Kind), marketID, e.Actor.Bytes(),
		int64(e.Amount), outcome, detail, e.At,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert event %s: %w", e.Kind, err)
	}
	return nil
}

const eventColumns = `seq, id, kind, market_id, actor, amount, outcome, detail, at`

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var (
			e        domain.Event
			seq      int64
			kind     string
			marketID sql.NullInt64
			actor    []byte
			amount   int64
			outcome  sql.NullInt64
			detail   sql.NullString
		)
		if err := rows.Scan(&seq, &e.ID, &kind, &marketID, &actor, &amount, &outcome, &detail, &e.At); err != nil {
			return nil, fmt.Errorf("sqlite: scan event: %w", err)
		}
		e.Seq = uint64(seq)
		e.Kind = domain.EventKind(kind)
		e.Actor = common.BytesToAddress(actor)
		e.Amount = uint64(amount)
		if marketID.Valid {
			id := uint64(marketID.Int64)
			e.MarketID = &id
		}
		if outcome.Valid {
			o := uint8(outcome.Int64)
			e.Outcome = &o
		}
		if detail.Valid {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: event %d detail: %w", seq, err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list events rows: %w", err)
	}
	return out, nil
}

// ListByMarket implements domain.EventLog.
func (l *Ledger) ListByMarket(ctx context.Context, marketID uint64) ([]domain.Event, error) {
	rows, err := l.db.readDB.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE market_id = ? ORDER BY seq`, int64(marketID))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list events for market %d: %w", marketID, err)
	}
	return scanEvents(rows)
}

// ListAfter implements domain.EventLog. A non-positive limit returns every
// later event.
func (l *Ledger) ListAfter(ctx context.Context, seq uint64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.readDB.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE seq > ? ORDER BY seq LIMIT ?`, int64(seq), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list events after %d: %w", seq, err)
	}
	return scanEvents(rows)
}

// Close is a no-op; the handle belongs to the DB.
func (l *Ledger) Close() error { return nil }

var _ ledger.Ledger = (*Ledger)(nil)
