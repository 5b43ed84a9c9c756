package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolmarket/internal/domain"
)

type fakeSender struct {
	name   string
	err    error
	titles []string
}

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	f.titles = append(f.titles, title)
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyEventFilters(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{"market_resolved", " fees_collected "}, quietLogger())
	ctx := context.Background()
	id := uint64(1)

	require.NoError(t, n.NotifyEvent(ctx, domain.Event{Kind: domain.EventBetPlaced, MarketID: &id}))
	require.NoError(t, n.NotifyEvent(ctx, domain.Event{Kind: domain.EventMarketResolved, MarketID: &id}))
	require.NoError(t, n.NotifyEvent(ctx, domain.Event{Kind: domain.EventFeesCollected, MarketID: &id}))
	assert.Equal(t, []string{"Market resolved", "Fees collected"}, s.titles)
}

func TestNotifyContinuesAfterFailure(t *testing.T) {
	bad := &fakeSender{name: "bad", err: errors.New("down")}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quietLogger())

	err := n.NotifyAll(context.Background(), "t", "m")
	assert.Error(t, err)
	assert.Len(t, good.titles, 1)

	var empty *Notifier
	assert.NoError(t, empty.NotifyEvent(context.Background(), domain.Event{}))
}

func TestFormat(t *testing.T) {
	id := uint64(9)
	outcome := uint8(1)
	title, msg := Format(domain.Event{
		Kind:     domain.EventMarketResolved,
		MarketID: &id,
		Outcome:  &outcome,
	})
	assert.Equal(t, "Market resolved", title)
	assert.Equal(t, "market #9 resolved to outcome 1", msg)

	title, msg = Format(domain.Event{
		Kind:   domain.EventFundsDeposited,
		Actor:  common.HexToAddress("0x01"),
		Amount: 5,
	})
	assert.Equal(t, "funds deposited", title)
	assert.Contains(t, msg, "platform by 0x")
	assert.Contains(t, msg, "amount 5")
}

func TestSendersPostJSON(t *testing.T) {
	var got []map[string]string
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		got = append(got, body)
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ctx := context.Background()
	require.NoError(t, NewTelegramSender("tok", "42").WithAPIBase(srv.URL+"/").Send(ctx, "Hi", "there"))
	require.NoError(t, NewDiscordSender(srv.URL+"/hook").Send(ctx, "Hi", "there"))

	require.Len(t, got, 2)
	assert.Equal(t, "/bottok/sendMessage", paths[0])
	assert.Equal(t, "42", got[0]["chat_id"])
	assert.Equal(t, "*Hi*\nthere", got[0]["text"])
	assert.Equal(t, "/hook", paths[1])
	assert.Equal(t, "**Hi**\nthere", got[1]["content"])

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer failing.Close()
	err := NewDiscordSender(failing.URL).Send(ctx, "a", "b")
	assert.ErrorContains(t, err, "unexpected status 400")
}
