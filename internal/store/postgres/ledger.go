package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/poolmarket/internal/domain"
	"github.com/alanyoungcy/poolmarket/internal/ledger"
)

// serializationFailure is the SQLSTATE for a rejected SERIALIZABLE commit.
const serializationFailure = "40001"

// Ledger implements ledger.Ledger on PostgreSQL. Each Exec runs in a
// SERIALIZABLE transaction; accounts read through the Tx are row-locked.
type Ledger struct {
	pool     *pgxpool.Pool
	attempts int
}

// NewLedger creates a Ledger over pool. A transaction that loses a
// serialization race is retried up to attempts times before ErrConflict.
func NewLedger(pool *pgxpool.Pool, attempts int) *Ledger {
	if attempts < 1 {
		attempts = 1
	}
	return &Ledger{pool: pool, attempts: attempts}
}

func loader(ctx context.Context, q pgx.Tx, lock bool) ledger.Loader {
	query := `SELECT data FROM accounts WHERE address = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	return func(key common.Hash) ([]byte, error) {
		var data []byte
		err := q.QueryRow(ctx, query, key.Bytes()).Scan(&data)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("postgres: load account %s: %w", key.Hex(), err)
		}
		return data, nil
	}
}

// Exec implements ledger.Ledger.
func (l *Ledger) Exec(ctx context.Context, fn func(tx *ledger.Tx) error) ([]domain.Event, error) {
	var lastErr error
	for attempt := 0; attempt < l.attempts; attempt++ {
		events, err := l.execOnce(ctx, fn)
		if err == nil {
			return events, nil
		}
		if !isSerializationFailure(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("postgres: exec after %d attempts: %v: %w", l.attempts, lastErr, domain.ErrConflict)
}

func (l *Ledger) execOnce(ctx context.Context, fn func(tx *ledger.Tx) error) ([]domain.Event, error) {
	pgTx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = pgTx.Rollback(ctx) }()

	tx := ledger.NewTx(loader(ctx, pgTx, true))
	if err := fn(tx); err != nil {
		return nil, err
	}

	const upsert = `
		INSERT INTO accounts (address, kind, data, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (address) DO UPDATE SET
			kind       = EXCLUDED.kind,
			data       = EXCLUDED.data,
			updated_at = NOW()`
	for _, w := range tx.Writes() {
		if _, err := pgTx.Exec(ctx, upsert, w.Key.Bytes(), int16(w.Kind), w.Data); err != nil {
			return nil, fmt.Errorf("postgres: write %s account %s: %w", w.Kind, w.Key.Hex(), err)
		}
	}

	events := tx.Events()
	if len(events) > 0 {
		var last int64
		err := pgTx.QueryRow(ctx,
			`UPDATE event_seq SET seq = seq + $1 RETURNING seq`, len(events),
		).Scan(&last)
		if err != nil {
			return nil, fmt.Errorf("postgres: reserve event seq: %w", err)
		}
		first := uint64(last) - uint64(len(events)) + 1
		for i := range events {
			events[i].Seq = first + uint64(i)
			if err := insertEvent(ctx, pgTx, events[i]); err != nil {
				return nil, err
			}
		}
	}

	if err := pgTx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit: %w", err)
	}
	return events, nil
}

// View implements ledger.Ledger.
func (l *Ledger) View(ctx context.Context, fn func(tx *ledger.Tx) error) error {
	pgTx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("postgres: begin view: %w", err)
	}
	defer func() { _ = pgTx.Rollback(ctx) }()
	return fn(ledger.NewReadTx(loader(ctx, pgTx, false)))
}

func insertEvent(ctx context.Context, q pgx.Tx, e domain.Event) error {
	var detail []byte
	if len(e.Detail) > 0 {
		var err error
		if detail, err = json.Marshal(e.Detail); err != nil {
			return fmt.Errorf("postgres: marshal event detail: %w", err)
		}
	}
	var marketID *string
	if id, ok := e.Market(); ok {
		s := strconv.FormatUint(id, 10)
		marketID = &s
	}
	var outcome *int16
	if e.Outcome != nil {
		o := int16(*e.Outcome)
		outcome = &o
	}

	const query = `
		INSERT INTO events (seq, id, kind, market_id, actor, amount, outcome, detail, at)
		VALUES ($1, $2::text::uuid, $3, $4::text::numeric, $5, $6::text::numeric, $7, $8, $9)`
	_, err := q.Exec(ctx, query,
		int64(e.Seq), e.ID, string(e.Kind), marketID, e.Actor.Bytes(),
		strconv.FormatUint(e.Amount, 10), outcome, detail, e.At,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert event %s: %w", e.Kind, err)
	}
	return nil
}

const eventColumns = `seq, id::text, kind, market_id::text, actor, amount::text, outcome, detail, at`

func scanEvents(rows pgx.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var (
			e        domain.Event
			seq      int64
			kind     string
			marketID *string
			actor    []byte
			amount   string
			outcome  *int16
			detail   []byte
		)
		if err := rows.Scan(&seq, &e.ID, &kind, &marketID, &actor, &amount, &outcome, &detail, &e.At); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		e.Seq = uint64(seq)
		e.Kind = domain.EventKind(kind)
		e.Actor = common.BytesToAddress(actor)
		if marketID != nil {
			id, err := strconv.ParseUint(*marketID, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("postgres: event %d market id: %w", seq, err)
			}
			e.MarketID = &id
		}
		amt, err := strconv.ParseUint(amount, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("postgres: event %d amount: %w", seq, err)
		}
		e.Amount = amt
		if outcome != nil {
			o := uint8(*outcome)
			e.Outcome = &o
		}
		if detail != nil {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: event %d detail: %w", seq, err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return out, nil
}

// ListByMarket implements domain.EventLog.
func (l *Ledger) ListByMarket(ctx context.Context, marketID uint64) ([]domain.Event, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE market_id = $1::text::numeric ORDER BY seq`,
		strconv.FormatUint(marketID, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events for market %d: %w", marketID, err)
	}
	return scanEvents(rows)
}

// ListAfter implements domain.EventLog. A non-positive limit returns every
// later event.
func (l *Ledger) ListAfter(ctx context.Context, seq uint64, limit int) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE seq > $1 ORDER BY seq`
	args := []any{int64(seq)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events after %d: %w", seq, err)
	}
	return scanEvents(rows)
}

// Close is a no-op; the pool belongs to the Client.
func (l *Ledger) Close() error { return nil }

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == serializationFailure
}

var _ ledger.Ledger = (*Ledger)(nil)
