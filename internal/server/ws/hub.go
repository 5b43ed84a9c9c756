// Package ws pushes committed settlement events to WebSocket clients.
//
// Every event is delivered on two topics: its kind channel
// ("settlement:bet_placed") and, when it belongs to a market, that market's
// topic ("market:7"). Clients pick topics with subscribe frames and can ask
// for the committed history after a sequence number with a resume frame,
// after which live delivery continues without gaps or duplicates.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/poolmarket/internal/domain"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 4096
	sendBuffer   = 256

	// replayPage is how many events one history read returns.
	replayPage = 500
	// maxPending bounds live events held back while a client replays.
	// Beyond it the client re-reads history instead.
	maxPending = 1024
)

// allEvents is the pub/sub pattern covering every settlement channel.
const allEvents = "settlement:*"

// Frame types written to clients.
const (
	frameStatus     = "status"
	frameEvent      = "event"
	frameReplayDone = "replay_done"
	frameError      = "error"
)

var errClientGone = errors.New("ws: client gone")

// MarketTopic is the topic carrying every event of market id.
func MarketTopic(id uint64) string {
	return "market:" + strconv.FormatUint(id, 10)
}

// topics lists every topic e is delivered on.
func topics(e domain.Event) []string {
	out := []string{e.Channel()}
	if id, ok := e.Market(); ok {
		out = append(out, MarketTopic(id))
	}
	return out
}

// frame is every message the hub writes.
type frame struct {
	Type    string `json:"type"`
	Topic   string `json:"topic,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// command is a client request, e.g.
// {"action":"subscribe","topics":["market:3"]} or {"action":"resume","after":41}.
type command struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
	After  uint64   `json:"after"`
}

// delivery is one live event on its way to clients, encoded once.
type delivery struct {
	event  domain.Event
	topics []string
	data   []byte
}

func newDelivery(e domain.Event) (delivery, error) {
	data, err := json.Marshal(frame{Type: frameEvent, Topic: e.Channel(), Payload: e})
	if err != nil {
		return delivery{}, err
	}
	return delivery{event: e, topics: topics(e), data: data}, nil
}

// Config captures runtime metadata sent to clients on connect.
type Config struct {
	Mode           string
	StartedAt      time.Time
	AllowedOrigins []string
	// History serves resume requests. Nil disables resume.
	History domain.EventLog
}

// Hub tracks connected clients and delivers settlement events to them.
// Events arrive either from the Redis pub/sub bus or directly through
// PublishEvent when the instance runs without Redis.
type Hub struct {
	clients    map[*client]struct{}
	deliveries chan delivery
	register   chan *client
	unregister chan *client
	stopped    chan struct{}
	stopOnce   sync.Once
	bus        domain.SignalBus
	history    domain.EventLog
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

// NewHub creates a Hub. bus may be nil.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return &Hub{
		clients:    make(map[*client]struct{}),
		deliveries: make(chan delivery, sendBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
		stopped:    make(chan struct{}),
		bus:        bus,
		history:    cfg.History,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		logger:    logger.With(slog.String("component", "ws")),
		mode:      mode,
		startedAt: startedAt,
	}
}

// originChecker accepts requests without an Origin header, and otherwise
// only the allowed origins. An empty list allows all.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// Run is the hub event loop. It returns when ctx is cancelled, after which
// connections are refused and disconnecting clients no longer wait on it.
func (h *Hub) Run(ctx context.Context) error {
	defer h.stopOnce.Do(func() { close(h.stopped) })
	if h.bus != nil {
		go h.follow(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.close()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", n))

		case d := <-h.deliveries:
			h.mu.RLock()
			for c := range h.clients {
				c.offer(d)
			}
			h.mu.RUnlock()
		}
	}
}

// follow forwards every settlement event published on the bus.
func (h *Hub) follow(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, allEvents)
	if err != nil {
		h.logger.Error("subscribe failed",
			slog.String("channel", allEvents),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("following event bus", slog.String("channel", allEvents))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("bus subscription closed", slog.String("channel", allEvents))
				return
			}
			var e domain.Event
			if err := json.Unmarshal(data, &e); err != nil || e.Kind == "" {
				h.logger.Warn("dropping malformed event")
				continue
			}
			d, err := newDelivery(e)
			if err != nil {
				continue
			}
			select {
			case h.deliveries <- d:
			case <-ctx.Done():
				return
			}
		}
	}
}

// PublishEvent hands e to local clients without blocking. It implements
// domain.EventPublisher for instances without a shared bus.
func (h *Hub) PublishEvent(ctx context.Context, e domain.Event) error {
	d, err := newDelivery(e)
	if err != nil {
		return err
	}
	select {
	case h.deliveries <- d:
	default:
		h.logger.WarnContext(ctx, "delivery queue full, dropping event",
			slog.String("kind", string(e.Kind)),
			slog.Uint64("seq", e.Seq),
		)
	}
	return nil
}

// HandleWS upgrades the request and registers the client, subscribed to
// every settlement channel.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		topics: map[string]struct{}{allEvents: {}},
	}
	select {
	case h.register <- c:
	case <-h.stopped:
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}
	c.write(frame{Type: frameStatus, Payload: map[string]any{
		"mode":           h.mode,
		"uptime_seconds": max(int64(time.Since(h.startedAt).Seconds()), 0),
		"resume":         h.history != nil,
	}}, false)

	go c.writePump()
	go c.readPump()
}

// client is one WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	mu     sync.Mutex
	topics map[string]struct{}
	// floor is the last replayed sequence; live events at or below it were
	// already sent.
	floor     uint64
	replaying bool
	pending   []delivery
	missed    bool
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// matches reports whether any of ts is subscribed, exactly or through a
// trailing-* pattern. c.mu must be held.
func (c *client) matches(ts []string) bool {
	for _, t := range ts {
		if _, ok := c.topics[t]; ok {
			return true
		}
		for sub := range c.topics {
			if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(t, prefix) {
				return true
			}
		}
	}
	return false
}

// offer routes a live delivery. While the client replays, deliveries wait in
// pending.
func (c *client) offer(d delivery) {
	c.mu.Lock()
	if !c.matches(d.topics) || (d.event.Seq != 0 && d.event.Seq <= c.floor) {
		c.mu.Unlock()
		return
	}
	if c.replaying {
		if len(c.pending) < maxPending {
			c.pending = append(c.pending, d)
		} else {
			c.missed = true
		}
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if !c.enqueue(d.data, false) {
		c.hub.logger.Warn("dropping event for slow client", slog.String("kind", string(d.event.Kind)))
	}
}

// enqueue queues data for the write pump. Blocking sends wait up to
// writeWait.
func (c *client) enqueue(data []byte, block bool) bool {
	if !block {
		select {
		case c.send <- data:
			return true
		case <-c.done:
			return false
		default:
			return false
		}
	}
	t := time.NewTimer(writeWait)
	defer t.Stop()
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	case <-t.C:
		return false
	}
}

func (c *client) write(f frame, block bool) bool {
	data, err := json.Marshal(f)
	if err != nil {
		return false
	}
	return c.enqueue(data, block)
}

// resume replays committed events after seq that match the client's topics,
// then drains whatever arrived live meanwhile and returns to live delivery.
func (c *client) resume(ctx context.Context, after uint64) {
	if c.hub.history == nil {
		c.write(frame{Type: frameError, Payload: "resume unavailable"}, false)
		return
	}

	c.mu.Lock()
	if c.replaying {
		c.mu.Unlock()
		c.write(frame{Type: frameError, Payload: "resume already running"}, false)
		return
	}
	c.replaying = true
	c.floor = after
	c.mu.Unlock()

	cursor := after
	err := func() error {
		for {
			var err error
			if cursor, err = c.replay(ctx, cursor); err != nil {
				return err
			}
			c.mu.Lock()
			if c.missed {
				c.missed = false
				c.pending = nil
				c.mu.Unlock()
				continue
			}
			pending := c.pending
			c.pending = nil
			if len(pending) == 0 {
				c.floor = cursor
				c.replaying = false
				c.mu.Unlock()
				return nil
			}
			c.mu.Unlock()

			for _, d := range pending {
				if d.event.Seq != 0 && d.event.Seq <= cursor {
					continue
				}
				if !c.enqueue(d.data, true) {
					return errClientGone
				}
			}
		}
	}()
	if err != nil {
		c.mu.Lock()
		c.replaying = false
		c.pending = nil
		c.missed = false
		c.mu.Unlock()
		if !errors.Is(err, errClientGone) {
			c.hub.logger.Warn("resume failed", slog.String("error", err.Error()))
			c.write(frame{Type: frameError, Payload: "resume failed"}, false)
		}
		return
	}
	c.write(frame{Type: frameReplayDone, Payload: map[string]uint64{"last_seq": cursor}}, true)
}

// replay sends history after cursor page by page and returns the last
// sequence read.
func (c *client) replay(ctx context.Context, cursor uint64) (uint64, error) {
	for {
		events, err := c.hub.history.ListAfter(ctx, cursor, replayPage)
		if err != nil {
			return cursor, err
		}
		for _, e := range events {
			cursor = e.Seq
			c.mu.Lock()
			wanted := c.matches(topics(e))
			c.mu.Unlock()
			if !wanted {
				continue
			}
			if !c.write(frame{Type: frameEvent, Topic: e.Channel(), Payload: e}, true) {
				return cursor, errClientGone
			}
		}
		if len(events) < replayPage {
			return cursor, nil
		}
	}
}

// readPump handles client commands until the connection drops.
func (c *client) readPump() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopped:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var cmd command
		if json.Unmarshal(message, &cmd) != nil {
			continue
		}
		switch cmd.Action {
		case "subscribe":
			c.mu.Lock()
			for _, t := range cmd.Topics {
				c.topics[t] = struct{}{}
			}
			c.mu.Unlock()
		case "unsubscribe":
			c.mu.Lock()
			for _, t := range cmd.Topics {
				delete(c.topics, t)
			}
			c.mu.Unlock()
		case "resume":
			go c.resume(ctx, cmd.After)
		}
	}
}

// writePump sends queued frames and keepalive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

var _ domain.EventPublisher = (*Hub)(nil)
