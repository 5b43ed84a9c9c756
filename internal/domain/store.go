package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Event  string
	Market *uint64
	Since  *time.Time
	Until  *time.Time
}

// EventLog reads committed settlement events back from the ledger.
type EventLog interface {
	ListByMarket(ctx context.Context, marketID uint64) ([]Event, error)
	ListAfter(ctx context.Context, seq uint64, limit int) ([]Event, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	MarketID  *uint64        `json:"market_id,omitempty"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditMarket extracts the market_id key from an audit detail map. Values
// may arrive as Go integers or as float64 after a JSON round trip.
func AuditMarket(detail map[string]any) *uint64 {
	var id uint64
	switch v := detail["market_id"].(type) {
	case uint64:
		id = v
	case int:
		if v < 0 {
			return nil
		}
		id = uint64(v)
	case int64:
		if v < 0 {
			return nil
		}
		id = uint64(v)
	case float64:
		if v < 0 || v != float64(uint64(v)) {
			return nil
		}
		id = uint64(v)
	default:
		return nil
	}
	return &id
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
