// Package events publishes market lifecycle events to the signal bus, its
// durable stream and operator notifications.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// Alerter receives every lifecycle event for operator notification.
type Alerter interface {
	Lifecycle(ctx context.Context, ev domain.LifecycleEvent) error
}

// Publisher implements domain.EventPublisher. Failures are logged and
// never returned to the caller.
type Publisher struct {
	bus     domain.SignalBus
	alerter Alerter
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

var _ domain.EventPublisher = (*Publisher)(nil)

// NewPublisher creates a Publisher. alerter may be nil.
func NewPublisher(bus domain.SignalBus, alerter Alerter, logger *slog.Logger) *Publisher {
	return &Publisher{
		bus:     bus,
		alerter: alerter,
		timeout: 15 * time.Second,
		logger:  logger.With(slog.String("component", "events")),
	}
}

// Publish sends ev on domain.LifecycleChannel and appends it to
// domain.LifecycleStream. Alerts are delivered in the background.
func (p *Publisher) Publish(ctx context.Context, ev domain.LifecycleEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to encode lifecycle event",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := p.bus.Publish(ctx, domain.LifecycleChannel, payload); err != nil {
		p.logger.WarnContext(ctx, "failed to publish lifecycle event",
			slog.String("type", string(ev.Type)),
			slog.String("market_id", ev.MarketID),
			slog.String("error", err.Error()),
		)
	}
	if err := p.bus.StreamAppend(ctx, domain.LifecycleStream, payload); err != nil {
		p.logger.WarnContext(ctx, "failed to append lifecycle event to stream",
			slog.String("type", string(ev.Type)),
			slog.String("market_id", ev.MarketID),
			slog.String("error", err.Error()),
		)
	}

	if p.alerter == nil {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		if err := p.alerter.Lifecycle(actx, ev); err != nil {
			p.logger.WarnContext(actx, "lifecycle alert failed",
				slog.String("type", string(ev.Type)),
				slog.String("market_id", ev.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Close waits for in-flight alerts.
func (p *Publisher) Close() error {
	p.wg.Wait()
	return nil
}
