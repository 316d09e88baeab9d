// Package notify delivers operator alerts for market lifecycle events to
// Telegram and Discord.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// EventPayoutFailed is the filter name for a payout run with failures. It
// is derived from payout_completed events.
const EventPayoutFailed = "payout_failed"

// Notifier fans a notification out to every sender. An allow list of event
// names filters what Notify forwards; an empty list allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Notify sends title and message when event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// Lifecycle renders a lifecycle event and sends it. Payout runs without
// failures and market updates are not sent.
func (n *Notifier) Lifecycle(ctx context.Context, ev domain.LifecycleEvent) error {
	event, title, message, ok := render(ev)
	if !ok {
		return nil
	}
	return n.Notify(ctx, event, title, message)
}

func render(ev domain.LifecycleEvent) (event, title, message string, ok bool) {
	switch ev.Type {
	case domain.EventMarketCreated:
		return string(ev.Type), "Market created",
			fmt.Sprintf("%s\ntype: %s\nid: %s", detail(ev, "question"), ev.MarketType, ev.MarketID), true
	case domain.EventMarketResolved:
		return string(ev.Type), "Market resolved",
			fmt.Sprintf("%s\noutcome: %s\npool: %s\ncommitment: %s",
				detail(ev, "question"), ev.Outcome, detail(ev, "total_pool"), detail(ev, "commitment_hash")), true
	case domain.EventPayoutCompleted:
		failed, _ := ev.Detail["failed"].(int)
		if failed == 0 {
			return "", "", "", false
		}
		var lines []string
		if fs, ok := ev.Detail["failures"].([]string); ok {
			lines = fs
		}
		return EventPayoutFailed, "Payout failures",
			fmt.Sprintf("market %s: %d transfer(s) failed\n%s", ev.MarketID, failed, strings.Join(lines, "\n")), true
	default:
		return "", "", "", false
	}
}

func detail(ev domain.LifecycleEvent, key string) string {
	if v, ok := ev.Detail[key]; ok {
		return fmt.Sprint(v)
	}
	return ""
}

// dispatch delivers to every sender. One sender failing does not stop the
// others.
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
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), err)
	}
	return nil
}
