package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolmarket/internal/domain"
)

type chanBus struct {
	ch chan []byte
}

func (b *chanBus) Publish(context.Context, string, []byte) error { return nil }

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	if channel != allEvents {
		return nil, io.EOF
	}
	return b.ch, nil
}

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

// sliceLog serves a fixed committed history.
type sliceLog []domain.Event

func (l sliceLog) ListByMarket(context.Context, uint64) ([]domain.Event, error) { return nil, nil }

func (l sliceLog) ListAfter(_ context.Context, seq uint64, limit int) ([]domain.Event, error) {
	var out []domain.Event
	for _, e := range l {
		if e.Seq > seq {
			out = append(out, e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type receivedFrame struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

func (f receivedFrame) event(t *testing.T) domain.Event {
	t.Helper()
	require.Equal(t, frameEvent, f.Type)
	var e domain.Event
	require.NoError(t, json.Unmarshal(f.Payload, &e))
	return e
}

func marketEvent(seq, market uint64, kind domain.EventKind) domain.Event {
	return domain.Event{Seq: seq, Kind: kind, MarketID: &market}
}

func startHub(t *testing.T, bus domain.SignalBus, history domain.EventLog) (*Hub, *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "server", History: history})
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	status := readFrame(t, conn)
	require.Equal(t, frameStatus, status.Type)
	return hub, conn
}

func readFrame(t *testing.T, conn *websocket.Conn) receivedFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f receivedFrame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

// waitTopics blocks until the single connected client has exactly want.
func waitTopics(t *testing.T, hub *Hub, want ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			c.mu.Lock()
			n := len(c.topics)
			all := true
			for _, w := range want {
				if _, ok := c.topics[w]; !ok {
					all = false
				}
			}
			c.mu.Unlock()
			return all && n == len(want)
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubPublishEvent(t *testing.T) {
	hub, conn := startHub(t, nil, nil)

	e := marketEvent(7, 3, domain.EventBetPlaced)
	e.Amount = 50
	require.NoError(t, hub.PublishEvent(context.Background(), e))

	f := readFrame(t, conn)
	assert.Equal(t, "settlement:bet_placed", f.Topic)
	got := f.event(t)
	assert.Equal(t, domain.EventBetPlaced, got.Kind)
	assert.Equal(t, uint64(7), got.Seq)
	assert.Equal(t, uint64(50), got.Amount)
}

func TestHubMarketTopic(t *testing.T) {
	hub, conn := startHub(t, nil, nil)

	require.NoError(t, conn.WriteJSON(command{Action: "unsubscribe", Topics: []string{allEvents}}))
	require.NoError(t, conn.WriteJSON(command{Action: "subscribe", Topics: []string{MarketTopic(3)}}))
	waitTopics(t, hub, "market:3")

	ctx := context.Background()
	require.NoError(t, hub.PublishEvent(ctx, marketEvent(1, 4, domain.EventBetPlaced)))
	require.NoError(t, hub.PublishEvent(ctx, domain.Event{Seq: 2, Kind: domain.EventFundsDeposited}))
	require.NoError(t, hub.PublishEvent(ctx, marketEvent(3, 3, domain.EventMarketResolved)))

	got := readFrame(t, conn).event(t)
	assert.Equal(t, uint64(3), got.Seq)
	assert.Equal(t, domain.EventMarketResolved, got.Kind)
}

func TestHubForwardsBusEvents(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 4)}
	_, conn := startHub(t, bus, nil)

	payload, err := json.Marshal(marketEvent(9, 1, domain.EventFeesCollected))
	require.NoError(t, err)
	bus.ch <- []byte("not json")
	bus.ch <- payload

	f := readFrame(t, conn)
	assert.Equal(t, "settlement:fees_collected", f.Topic)
	assert.Equal(t, uint64(9), f.event(t).Seq)
}

func TestHubResume(t *testing.T) {
	history := sliceLog{
		marketEvent(1, 1, domain.EventMarketCreated),
		marketEvent(2, 2, domain.EventMarketCreated),
		marketEvent(3, 1, domain.EventBetPlaced),
		marketEvent(4, 2, domain.EventBetPlaced),
		marketEvent(5, 1, domain.EventMarketResolved),
	}
	hub, conn := startHub(t, nil, history)

	require.NoError(t, conn.WriteJSON(command{Action: "unsubscribe", Topics: []string{allEvents}}))
	require.NoError(t, conn.WriteJSON(command{Action: "subscribe", Topics: []string{MarketTopic(1)}}))
	waitTopics(t, hub, "market:1")
	require.NoError(t, conn.WriteJSON(command{Action: "resume", After: 1}))

	assert.Equal(t, uint64(3), readFrame(t, conn).event(t).Seq)
	assert.Equal(t, uint64(5), readFrame(t, conn).event(t).Seq)

	done := readFrame(t, conn)
	require.Equal(t, frameReplayDone, done.Type)
	assert.JSONEq(t, `{"last_seq":5}`, string(done.Payload))

	ctx := context.Background()
	// already replayed
	require.NoError(t, hub.PublishEvent(ctx, marketEvent(5, 1, domain.EventMarketResolved)))
	require.NoError(t, hub.PublishEvent(ctx, marketEvent(6, 1, domain.EventWinningsClaimed)))
	assert.Equal(t, uint64(6), readFrame(t, conn).event(t).Seq)
}

func TestHubResumeWithoutHistory(t *testing.T) {
	_, conn := startHub(t, nil, nil)

	require.NoError(t, conn.WriteJSON(command{Action: "resume", After: 0}))
	f := readFrame(t, conn)
	assert.Equal(t, frameError, f.Type)
}

func TestHubRefusesClientsAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "server"})
	stopped := make(chan error, 1)
	go func() { stopped <- hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	live, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { live.Close() })
	require.Equal(t, frameStatus, readFrame(t, live).Type)

	cancel()
	select {
	case err := <-stopped:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	// the connected client is closed rather than left hanging
	require.NoError(t, live.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = live.ReadMessage()
	require.Error(t, err)
	var ne net.Error
	assert.False(t, errors.As(err, &ne) && ne.Timeout(), "client left open: %v", err)

	late, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { late.Close() })
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example"})

	req := httptest.NewRequest("GET", "/ws", nil)
	assert.True(t, check(req), "no origin header")

	req.Header.Set("Origin", "https://app.example")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))
}
