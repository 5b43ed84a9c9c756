package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/poolmarket/internal/domain"
)

// EncodeEvent serializes e as a protobuf Struct for the durable stream.
// uint64 fields travel as decimal strings since Struct numbers are doubles.
func EncodeEvent(e domain.Event) ([]byte, error) {
	fields := map[string]any{
		"id":     e.ID,
		"seq":    strconv.FormatUint(e.Seq, 10),
		"kind":   string(e.Kind),
		"actor":  e.Actor.Hex(),
		"amount": strconv.FormatUint(e.Amount, 10),
		"at":     strconv.FormatInt(e.At, 10),
	}
	if id, ok := e.Market(); ok {
		fields["market_id"] = strconv.FormatUint(id, 10)
	}
	if e.Outcome != nil {
		fields["outcome"] = float64(*e.Outcome)
	}
	if len(e.Detail) > 0 {
		detail, err := normalize(e.Detail)
		if err != nil {
			return nil, fmt.Errorf("redis: encode event detail: %w", err)
		}
		fields["detail"] = detail
	}

	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("redis: encode event: %w", err)
	}
	return proto.Marshal(st)
}

// normalize maps detail onto JSON-compatible values structpb accepts.
func normalize(detail map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(detail)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeEvent parses a payload produced by EncodeEvent.
func DecodeEvent(data []byte) (domain.Event, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return domain.Event{}, fmt.Errorf("redis: decode event: %w", err)
	}
	f := st.GetFields()
	str := func(k string) string { return f[k].GetStringValue() }

	e := domain.Event{
		ID:    str("id"),
		Kind:  domain.EventKind(str("kind")),
		Actor: common.HexToAddress(str("actor")),
	}
	var err error
	if e.Seq, err = strconv.ParseUint(str("seq"), 10, 64); err != nil {
		return domain.Event{}, fmt.Errorf("redis: decode event seq: %w", err)
	}
	if e.Amount, err = strconv.ParseUint(str("amount"), 10, 64); err != nil {
		return domain.Event{}, fmt.Errorf("redis: decode event amount: %w", err)
	}
	if e.At, err = strconv.ParseInt(str("at"), 10, 64); err != nil {
		return domain.Event{}, fmt.Errorf("redis: decode event time: %w", err)
	}
	if v, ok := f["market_id"]; ok {
		id, err := strconv.ParseUint(v.GetStringValue(), 10, 64)
		if err != nil {
			return domain.Event{}, fmt.Errorf("redis: decode event market id: %w", err)
		}
		e.MarketID = &id
	}
	if v, ok := f["outcome"]; ok {
		o := uint8(v.GetNumberValue())
		e.Outcome = &o
	}
	if v, ok := f["detail"]; ok {
		e.Detail = v.GetStructValue().AsMap()
	}
	return e, nil
}

// EventBus implements domain.EventPublisher and domain.EventReplayer over a
// SignalBus: JSON on the per-kind Pub/Sub channel, protobuf on the stream.
type EventBus struct {
	bus domain.SignalBus
}

// NewEventBus wraps bus.
func NewEventBus(bus domain.SignalBus) *EventBus {
	return &EventBus{bus: bus}
}

// PublishEvent fans e out to live subscribers and appends it to the stream.
func (b *EventBus) PublishEvent(ctx context.Context, e domain.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}
	if err := b.bus.Publish(ctx, e.Channel(), payload); err != nil {
		return err
	}
	encoded, err := EncodeEvent(e)
	if err != nil {
		return err
	}
	return b.bus.StreamAppend(ctx, domain.EventStream, encoded)
}

// ReadEvents returns up to count stream entries after lastID.
func (b *EventBus) ReadEvents(ctx context.Context, lastID string, count int) ([]domain.StreamEvent, error) {
	msgs, err := b.bus.StreamRead(ctx, domain.EventStream, lastID, count)
	if err != nil {
		return nil, err
	}
	out := make([]domain.StreamEvent, 0, len(msgs))
	for _, m := range msgs {
		e, err := DecodeEvent(m.Payload)
		if err != nil {
			return nil, fmt.Errorf("redis: stream entry %s: %w", m.ID, err)
		}
		out = append(out, domain.StreamEvent{StreamID: m.ID, Event: e})
	}
	return out, nil
}

var (
	_ domain.EventPublisher = (*EventBus)(nil)
	_ domain.EventReplayer  = (*EventBus)(nil)
)
