package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/poolmarket/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL. Entries that carry
// a market_id in their detail are indexed by market.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends an audit entry. pgx encodes the detail map as JSONB.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	var market *int64
	if id := domain.AuditMarket(detail); id != nil {
		v := int64(*id)
		market = &v
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (event, market_id, detail) VALUES ($1, $2, $3)`,
		event, market, detail,
	)
	if err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", event, err)
	}
	return nil
}

// auditFilter accumulates WHERE clauses with positional arguments.
type auditFilter struct {
	where []string
	args  []any
}

func (f *auditFilter) add(clause string, v any) {
	f.args = append(f.args, v)
	f.where = append(f.where, strings.Replace(clause, "?", "$"+strconv.Itoa(len(f.args)), 1))
}

// List returns audit entries newest first, filtered by opts.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var f auditFilter
	if opts.Event != "" {
		f.add("event = ?", opts.Event)
	}
	if opts.Market != nil {
		f.add("market_id = ?", int64(*opts.Market))
	}
	if opts.Since != nil {
		f.add("created_at >= ?", *opts.Since)
	}
	if opts.Until != nil {
		f.add("created_at <= ?", *opts.Until)
	}

	var b strings.Builder
	b.WriteString(`SELECT id, event, market_id, detail, created_at FROM audit_log`)
	if len(f.where) > 0 {
		b.WriteString(" WHERE " + strings.Join(f.where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC")
	if opts.Limit > 0 {
		f.args = append(f.args, opts.Limit)
		b.WriteString(" LIMIT $" + strconv.Itoa(len(f.args)))
	}
	if opts.Offset > 0 {
		f.args = append(f.args, opts.Offset)
		b.WriteString(" OFFSET $" + strconv.Itoa(len(f.args)))
	}

	rows, err := s.pool.Query(ctx, b.String(), f.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AuditEntry, error) {
		var (
			e      domain.AuditEntry
			market *int64
		)
		if err := row.Scan(&e.ID, &e.Event, &market, &e.Detail, &e.CreatedAt); err != nil {
			return e, err
		}
		if market != nil {
			id := uint64(*market)
			e.MarketID = &id
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan audit entries: %w", err)
	}
	return entries, nil
}
