// Package notify forwards settlement events to operator chat channels.
// Events are filtered by kind so operators only hear about what they
// subscribed to.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/poolmarket/internal/domain"
)

// Sender delivers one message to a chat channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches notifications to every configured Sender.
type Notifier struct {
	senders []Sender
	kinds   map[domain.EventKind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only event kinds listed in kinds are
// forwarded by NotifyEvent; an empty list forwards every kind.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventKind]bool, len(kinds))
	for _, k := range kinds {
		if k = strings.TrimSpace(k); k != "" {
			allowed[domain.EventKind(k)] = true
		}
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// NotifyEvent formats e and sends it if its kind passes the filter.
func (n *Notifier) NotifyEvent(ctx context.Context, e domain.Event) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.kinds) > 0 && !n.kinds[e.Kind] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("kind", string(e.Kind)))
		return nil
	}
	title, message := Format(e)
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a free-form message regardless of the filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// dispatch tries every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// Format renders an event as a chat title and body.
func Format(e domain.Event) (title, message string) {
	var b strings.Builder
	market := "platform"
	if id, ok := e.Market(); ok {
		market = fmt.Sprintf("market #%d", id)
	}

	switch e.Kind {
	case domain.EventMarketCreated:
		title = "Market created"
		fmt.Fprintf(&b, "%s: %v", market, e.Detail["question"])
	case domain.EventMarketResolved:
		title = "Market resolved"
		fmt.Fprintf(&b, "%s resolved", market)
		if e.Outcome != nil {
			fmt.Fprintf(&b, " to outcome %d", *e.Outcome)
		}
	case domain.EventMarketClosed:
		title = "Market cancelled"
		fmt.Fprintf(&b, "%s cancelled; stakes are refundable", market)
	case domain.EventWinningsClaimed:
		title = "Winnings claimed"
		fmt.Fprintf(&b, "%s paid %d to %s", market, e.Amount, e.Actor.Hex())
	case domain.EventRefundClaimed:
		title = "Refund claimed"
		fmt.Fprintf(&b, "%s refunded %d to %s", market, e.Amount, e.Actor.Hex())
	case domain.EventFeesCollected:
		title = "Fees collected"
		fmt.Fprintf(&b, "%s collected fee %d", market, e.Amount)
	case domain.EventBetPlaced:
		title = "Bet placed"
		fmt.Fprintf(&b, "%s: %s staked %d", market, e.Actor.Hex(), e.Amount)
		if e.Outcome != nil {
			fmt.Fprintf(&b, " on outcome %d", *e.Outcome)
		}
	default:
		title = strings.ReplaceAll(string(e.Kind), "_", " ")
		fmt.Fprintf(&b, "%s by %s", market, e.Actor.Hex())
		if e.Amount > 0 {
			fmt.Fprintf(&b, " amount %d", e.Amount)
		}
	}
	return title, b.String()
}
