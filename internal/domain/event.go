package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind names a settlement event.
type EventKind string

const (
	EventPlatformInitialized EventKind = "platform_initialized"
	EventFundsDeposited      EventKind = "funds_deposited"
	EventMarketCreated       EventKind = "market_created"
	EventBetPlaced           EventKind = "bet_placed"
	EventMarketResolved      EventKind = "market_resolved"
	EventMarketClosed        EventKind = "market_closed"
	EventWinningsClaimed     EventKind = "winnings_claimed"
	EventRefundClaimed       EventKind = "refund_claimed"
	EventFeesCollected       EventKind = "fees_collected"
)

// Event is emitted by a committed settlement operation. Seq is assigned by the
// ledger at commit and is strictly increasing per ledger.
type Event struct {
	ID       string         `json:"id"`
	Seq      uint64         `json:"seq"`
	Kind     EventKind      `json:"kind"`
	MarketID *uint64        `json:"market_id,omitempty"`
	Actor    common.Address `json:"actor"`
	Amount   uint64         `json:"amount,omitempty"`
	Outcome  *uint8         `json:"outcome,omitempty"`
	Detail   map[string]any `json:"detail,omitempty"`
	At       int64          `json:"at"`
}

// Market returns the market id the event belongs to, if any.
func (e Event) Market() (uint64, bool) {
	if e.MarketID == nil {
		return 0, false
	}
	return *e.MarketID, true
}

// Channel is the pub/sub channel an event is published on.
func (e Event) Channel() string {
	return "settlement:" + string(e.Kind)
}

// EventStream is the durable stream all settlement events are appended to.
const EventStream = "settlement:events"

// StreamEvent is an event read back from the durable stream.
type StreamEvent struct {
	StreamID string `json:"stream_id"`
	Event    Event  `json:"event"`
}

// EventPublisher fans committed events out to live subscribers and the
// durable stream.
type EventPublisher interface {
	PublishEvent(ctx context.Context, e Event) error
}

// EventReplayer reads events back from the durable stream.
type EventReplayer interface {
	ReadEvents(ctx context.Context, lastID string, count int) ([]StreamEvent, error)
}
