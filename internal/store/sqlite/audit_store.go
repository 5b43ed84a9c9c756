package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/poolmarket/internal/domain"
)

// AuditStore implements domain.AuditStore on SQLite. Detail is kept as JSON
// text and created_at as unix milliseconds.
type AuditStore struct {
	db *DB
}

// NewAuditStore creates an AuditStore over db.
func NewAuditStore(db *DB) *AuditStore {
	return &AuditStore{db: db}
}

// Log appends an audit entry.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	var market sql.NullInt64
	if id := domain.AuditMarket(detail); id != nil {
		market = sql.NullInt64{Int64: int64(*id), Valid: true}
	}
	_, err = s.db.sqlDB.ExecContext(ctx,
		`INSERT INTO audit_log (event, market_id, detail, created_at) VALUES (?, ?, ?, ?)`,
		event, market, string(raw), time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns audit entries newest first, filtered by opts.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if opts.Event != "" {
		where = append(where, "event = ?")
		args = append(args, opts.Event)
	}
	if opts.Market != nil {
		where = append(where, "market_id = ?")
		args = append(args, int64(*opts.Market))
	}
	if opts.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, opts.Since.UTC().UnixMilli())
	}
	if opts.Until != nil {
		where = append(where, "created_at <= ?")
		args = append(args, opts.Until.UTC().UnixMilli())
	}

	query := `SELECT id, event, market_id, detail, created_at FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := s.db.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries rows: %w", err)
	}
	return entries, nil
}

func scanAuditEntry(rows *sql.Rows) (domain.AuditEntry, error) {
	var (
		e       domain.AuditEntry
		market  sql.NullInt64
		detail  sql.NullString
		created int64
	)
	if err := rows.Scan(&e.ID, &e.Event, &market, &detail, &created); err != nil {
		return e, fmt.Errorf("sqlite: scan audit entry: %w", err)
	}
	e.CreatedAt = time.UnixMilli(created).UTC()
	if market.Valid {
		id := uint64(market.Int64)
		e.MarketID = &id
	}
	if detail.Valid {
		if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
			return e, fmt.Errorf("sqlite: unmarshal audit detail: %w", err)
		}
	}
	return e, nil
}
