package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"vigil/internal/config"
	"vigil/internal/control"
	"vigil/internal/gateway/binance"
	"vigil/internal/gateway/exchange"
	"vigil/internal/gateway/notifier"
	"vigil/internal/logger"
	"vigil/internal/reconcile"
	"vigil/internal/watch"

	"golang.org/x/sync/errgroup"
)

// App owns the full dependency graph, constructed once at process start and
// passed by reference everywhere: no package-level registries.
type App struct {
	cfg *config.Config

	store     *watch.Store
	gateway   exchange.Gateway
	notify    notifier.TextNotifier
	watcher   *watch.Watcher
	audit     *reconcile.AuditLog
	engine    *reconcile.Engine
	scheduler *watch.Scheduler
	handler   *control.Handler
	httpSrv   *control.Server
	fileQueue *control.FileQueue

	running atomic.Bool
}

// NewApp builds the object graph without starting anything.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	gw, err := binance.New(binance.Config{
		APIKey:           cfg.Exchange.APIKey,
		APISecret:        cfg.Exchange.APISecret,
		RESTBaseURL:      cfg.Exchange.RESTBaseURL,
		HTTPTimeout:      time.Duration(cfg.Exchange.HTTPTimeoutSeconds) * time.Second,
		ProxyEnabled:     cfg.Exchange.ProxyEnabled,
		RESTProxyURL:     cfg.Exchange.RESTProxyURL,
		BreakerThreshold: cfg.Exchange.BreakerThreshold,
		BreakerTimeout:   time.Duration(cfg.Exchange.BreakerTimeoutSecs) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("init binance gateway: %w", err)
	}

	var tn notifier.TextNotifier = notifier.Noop{}
	if cfg.Notify.Telegram.Enabled {
		tn = notifier.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
	}

	store := watch.NewStore(cfg.App.StatePath)
	watcher := watch.NewWatcher(store, gw, tn, watch.Options{
		Leverage:             cfg.Watch.Leverage,
		ExpiryWarning:        time.Duration(cfg.Watch.ExpiryWarningMinutes) * time.Minute,
		TrailingTriggerRatio: cfg.Watch.TrailingTriggerRatio,
		TrailingCloseRatio:   cfg.Watch.TrailingCloseRatio,
		TrailingStopRatio:    cfg.Watch.TrailingStopRatio,
		RecoveryStopPct:      cfg.Watch.RecoveryStopPct,
		RecoveryTakePct:      cfg.Watch.RecoveryTakePct,
	})

	audit, err := reconcile.NewAuditLog(cfg.Audit.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init audit log: %w", err)
	}
	engine := reconcile.NewEngine(watcher, gw, tn, audit)

	a := &App{
		cfg:     cfg,
		store:   store,
		gateway: gw,
		notify:  tn,
		watcher: watcher,
		audit:   audit,
		engine:  engine,
	}
	a.scheduler = watch.NewScheduler(
		watcher,
		time.Duration(cfg.Watch.PollIntervalSeconds)*time.Second,
		cfg.Watch.ReconcileEvery,
		engine.RunAndReport,
	)
	a.handler = control.NewHandler(watcher, &a.running)
	a.handler.BreakerState = func() string { return gw.Breaker().State().String() }
	if cfg.Control.HTTPEnabled {
		a.httpSrv = control.NewServer(cfg.Control.HTTPAddr, a.handler)
	}
	if cfg.Control.QueueEnabled {
		a.fileQueue = control.NewFileQueue(cfg.Control.RequestPath, cfg.Control.ResponsePath, a.handler)
	}
	return a, nil
}

// Watcher exposes the watcher for the one-shot CLI modes.
func (a *App) Watcher() *watch.Watcher { return a.watcher }

// Engine exposes the reconciliation engine for the one-shot CLI modes.
func (a *App) Engine() *reconcile.Engine { return a.engine }

// Audit exposes the audit log for the one-shot CLI modes.
func (a *App) Audit() *reconcile.AuditLog { return a.audit }

// Close releases resources for the one-shot CLI modes that never call Run.
func (a *App) Close() error { return a.audit.Close() }

// Run loads state, recovers from the exchange, then drives the poll loop and
// control listeners until ctx is cancelled. On the way out it drains the
// registry with the configured shutdown policy and persists a final snapshot.
func (a *App) Run(ctx context.Context) error {
	defer a.audit.Close()

	if err := a.store.Load(); err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	report, err := a.watcher.Recover(ctx)
	if err != nil {
		// A dead venue at boot is not fatal: the loop keeps retrying and the
		// next reconciliation pass covers the gap.
		logger.Warnf("startup recovery incomplete: %v", err)
	}
	var syncRes *reconcile.SyncResult
	if err == nil {
		if syncRes, err = a.engine.Run(ctx); err != nil {
			logger.Warnf("startup reconciliation failed: %v", err)
		}
	}
	a.sendRecoveryReport(report, syncRes)

	a.running.Store(true)
	defer a.running.Store(false)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return a.scheduler.Run(groupCtx)
	})
	if a.httpSrv != nil {
		group.Go(func() error {
			if err := a.httpSrv.Start(groupCtx); err != nil {
				return fmt.Errorf("control http: %w", err)
			}
			return nil
		})
	}
	if a.fileQueue != nil {
		group.Go(func() error {
			if err := a.fileQueue.Run(groupCtx); err != nil {
				return fmt.Errorf("control file queue: %w", err)
			}
			return nil
		})
	}
	runErr := group.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.watcher.Drain(drainCtx, watch.ShutdownPolicy{
		CancelPending: a.cfg.Shutdown.CancelPending,
		Interactive:   a.cfg.Shutdown.Interactive,
	})
	return runErr
}

// sendRecoveryReport emits the single consolidated startup notice instead of
// one message per rebuilt item. Heuristic levels are called out explicitly.
func (a *App) sendRecoveryReport(report *watch.RecoveryReport, syncRes *reconcile.SyncResult) {
	if report == nil {
		return
	}
	logger.Infof("state recovered: %s", report.Summary())
	issues := 0
	if syncRes != nil {
		issues = syncRes.ActionsTaken() + len(syncRes.Orphans())
	}
	msg := fmt.Sprintf("♻️ *state recovered*\n%s\nreconciliation issues=%d", report.Summary(), issues)
	if report.Rebuilt > 0 {
		msg += "\n⚠️ rebuilt orders carry heuristic stop/take levels, review them"
	}
	if err := a.notify.SendText(msg); err != nil {
		logger.Warnf("recovery notify failed: %v", err)
	}
}
