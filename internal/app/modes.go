package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/events"
	"github.com/alanyoungcy/marketengine/internal/imaging"
	"github.com/alanyoungcy/marketengine/internal/payout"
	"github.com/alanyoungcy/marketengine/internal/resolution"
	"github.com/alanyoungcy/marketengine/internal/rotation"
	"github.com/alanyoungcy/marketengine/internal/server"
	"github.com/alanyoungcy/marketengine/internal/server/handler"
	"github.com/alanyoungcy/marketengine/internal/server/ws"
	"github.com/alanyoungcy/marketengine/internal/targets"
)

// FullMode runs market creation, resolution and the HTTP API in one
// process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	publisher := a.newPublisher(deps)
	defer a.closePublisher(publisher)

	g, ctx := errgroup.WithContext(ctx)

	scheduler := a.newScheduler(deps, publisher)
	monitor := a.newMonitor(deps, publisher)

	g.Go(func() error {
		return scheduler.RunLoop(ctx, a.cfg.Automation.Interval.Duration)
	})
	g.Go(func() error {
		return monitor.RunLoop(ctx, a.cfg.Resolution.TickInterval.Duration, a.cfg.Resolution.ExpiryInterval.Duration)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, scheduler)
	}

	return g.Wait()
}

// CreatorMode runs only the creation loop, plus the HTTP API if enabled.
func (a *App) CreatorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting creator mode")

	publisher := a.newPublisher(deps)
	defer a.closePublisher(publisher)

	g, ctx := errgroup.WithContext(ctx)

	scheduler := a.newScheduler(deps, publisher)
	g.Go(func() error {
		return scheduler.RunLoop(ctx, a.cfg.Automation.Interval.Duration)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, scheduler)
	}

	return g.Wait()
}

// ResolverMode runs only the resolution monitor, plus the HTTP API if
// enabled. The manual creation trigger is unavailable in this mode.
func (a *App) ResolverMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting resolver mode")

	publisher := a.newPublisher(deps)
	defer a.closePublisher(publisher)

	g, ctx := errgroup.WithContext(ctx)

	monitor := a.newMonitor(deps, publisher)
	g.Go(func() error {
		return monitor.RunLoop(ctx, a.cfg.Resolution.TickInterval.Duration, a.cfg.Resolution.ExpiryInterval.Duration)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, nil)
	}

	return g.Wait()
}

// ServerMode runs only the HTTP API. Manual creation is available when a
// feed is configured.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	publisher := a.newPublisher(deps)
	defer a.closePublisher(publisher)

	g, ctx := errgroup.WithContext(ctx)

	var runner handler.CreationRunner
	if a.cfg.Feed.BaseURL != "" {
		runner = a.newScheduler(deps, publisher)
	}
	a.startHTTPServer(ctx, g, deps, runner)

	return g.Wait()
}

// OnceMode performs one creation run and one full resolution sweep, then
// returns.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting once mode")

	publisher := a.newPublisher(deps)
	defer a.closePublisher(publisher)

	var errs []error

	entry, err := a.newScheduler(deps, publisher).RunOnce(ctx)
	switch {
	case errors.Is(err, domain.ErrLockHeld):
		a.logger.InfoContext(ctx, "creation skipped, another run holds the lock")
	case err != nil:
		errs = append(errs, fmt.Errorf("creation: %w", err))
	default:
		a.logger.InfoContext(ctx, "market created",
			slog.String("market_id", entry.MarketID),
			slog.String("market_type", string(entry.QuestionType)),
		)
	}

	if err := a.newMonitor(deps, publisher).Tick(ctx); err != nil {
		errs = append(errs, fmt.Errorf("resolution: %w", err))
	}
	return errors.Join(errs...)
}

func (a *App) newPublisher(deps *Dependencies) *events.Publisher {
	var alerter events.Alerter
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		alerter = deps.Notifier
	}
	return events.NewPublisher(deps.Bus, alerter, a.logger)
}

// closePublisher waits for in-flight alerts.
func (a *App) closePublisher(p *events.Publisher) {
	if err := p.Close(); err != nil {
		a.logger.Warn("event publisher close failed", slog.String("error", err.Error()))
	}
}

func (a *App) newScheduler(deps *Dependencies, publisher domain.EventPublisher) *rotation.Scheduler {
	ac := a.cfg.Automation

	ladders := targets.DefaultLadders()
	if len(ac.Ladders.MarketCap) > 0 {
		ladders.MarketCap = ac.Ladders.MarketCap
	}
	if len(ac.Ladders.Volume) > 0 {
		ladders.Volume = ac.Ladders.Volume
	}
	if len(ac.Ladders.Holders) > 0 {
		ladders.Holders = ac.Ladders.Holders
	}

	imgCfg := imaging.DefaultConfig()
	if a.cfg.S3.ImagePrefix != "" {
		imgCfg.Prefix = a.cfg.S3.ImagePrefix
	}

	return rotation.New(rotation.Deps{
		Feed:         deps.Feed,
		Markets:      deps.Markets,
		State:        deps.State,
		Reservations: deps.Reservations,
		Logs:         deps.Logs,
		Locks:        deps.Locks,
		Images:       imaging.NewCompositor(deps.BlobWriter, deps.BlobReader, deps.BlobDeleter, imgCfg, a.logger),
		Events:       publisher,
		Targets:      targets.NewCalculator(ladders),
	}, rotation.Config{
		MaxAttempts:    ac.MaxAttempts,
		MatchTolerance: ac.MatchTolerance,
		Windows:        ac.WindowDurations(),
		Epoch:          ac.Epoch.Duration,
		RunTimeout:     ac.RunTimeout.Duration,
		Category:       ac.Category,
		FetchTimeout:   ac.FetchTimeout.Duration,
	}, a.logger)
}

func (a *App) newMonitor(deps *Dependencies, publisher domain.EventPublisher) *resolution.Monitor {
	rc := a.cfg.Resolution

	distributor := payout.NewDistributor(payout.Config{
		Mode:            domain.PayoutMode(a.cfg.Payout.Mode),
		Workers:         a.cfg.Payout.Workers,
		TransferTimeout: a.cfg.Payout.TransferTimeout.Duration,
	}, deps.Treasury, deps.Balances, deps.Payouts, a.logger)

	settler := resolution.NewSettler(deps.Markets, deps.Bets, distributor, publisher, a.logger)

	return resolution.NewMonitor(deps.Feed, deps.Markets, deps.Tracking, deps.Locks, settler, resolution.Config{
		Tolerance:    rc.Tolerance.Duration,
		Grace:        rc.Grace.Duration,
		Workers:      rc.Workers,
		LockTTL:      rc.LockTTL.Duration,
		FetchTimeout: rc.FetchTimeout.Duration,
		Coarse:       domain.Granularity(rc.Coarse),
		Fine:         domain.Granularity(rc.Fine),
	}, a.logger)
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled. runner may be nil, which disables the manual creation trigger.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, runner handler.CreationRunner) {
	hub := ws.NewHub(deps.Bus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:     handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Markets:    handler.NewMarketHandler(deps.Markets, deps.Payouts, a.logger),
		Automation: handler.NewAutomationHandler(runner, deps.Logs, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
