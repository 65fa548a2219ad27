// Package app wires configuration, logging, storage, transport and services
// together and owns their start/stop order.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"shiftbot/internal/config"
	"shiftbot/internal/router"
	"shiftbot/internal/services/reconciler"
	"shiftbot/internal/services/submit"
	"shiftbot/internal/storage"
	"shiftbot/internal/timewindow"
	kit "shiftbot/internal/transport"
	"shiftbot/internal/transport/telegram"
	"shiftbot/pkg/logx"
)

const defaultCanonicalTZ = "America/Montreal"

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	adapter *telegram.Adapter
	store   storage.Store

	recon   *reconciler.Service
	pending *submit.PendingCache
	routes  *router.Router

	updates chan kit.Update

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:          cfg.Telegram.Token,
		PollTimeout:    pollTimeout,
		SendRatePerSec: cfg.Telegram.SendRatePerSec,
	}, logSvc.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, logSvc.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	canonical, err := canonicalLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, err
	}

	tickPeriod, err := config.ParseDurationOrDefault("scheduler.tick_period", cfg.Scheduler.TickPeriod, 20*time.Second)
	if err != nil {
		return nil, err
	}
	leadTime, err := config.ParseDurationOrDefault("scheduler.lead_time", cfg.Scheduler.LeadTime, 15*time.Minute)
	if err != nil {
		return nil, err
	}
	pendingTTL, err := config.ParseDurationOrDefault("submit.pending_ttl", cfg.Submit.PendingTTL, 5*time.Minute)
	if err != nil {
		return nil, err
	}

	recon := reconciler.New(reconciler.Config{
		Enabled:    cfg.Scheduler.Enabled,
		TickPeriod: tickPeriod,
		LeadTime:   leadTime,
	}, store, ad, logSvc.Logger().With(logx.String("comp", "reconciler")))

	resolver := timewindow.NewResolver(canonical)
	submits := submit.New(store, resolver, logSvc.Logger().With(logx.String("comp", "submit")))
	pending := submit.NewPendingCache(pendingTTL, logSvc.Logger().With(logx.String("comp", "pending")))

	routes := router.New(router.Config{LeadTime: leadTime},
		ad, submits, pending, logSvc.Logger().With(logx.String("comp", "router")))

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		adapter: ad,
		store:   store,
		recon:   recon,
		pending: pending,
		routes:  routes,
		updates: make(chan kit.Update, 256),
	}, nil
}

func canonicalLocation(tz string) (*time.Location, error) {
	name := strings.TrimSpace(tz)
	if name == "" {
		name = defaultCanonicalTZ
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: invalid %q: %w", name, err)
	}
	return loc, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
			return err
		}
		if _, err := config.ParseDurationField("scheduler.tick_period", cfg.Scheduler.TickPeriod); err != nil {
			return err
		}
		if _, err := config.ParseDurationField("scheduler.lead_time", cfg.Scheduler.LeadTime); err != nil {
			return err
		}
		if _, err := config.ParseDurationField("submit.pending_ttl", cfg.Submit.PendingTTL); err != nil {
			return err
		}
		if _, err := canonicalLocation(cfg.Scheduler.Timezone); err != nil {
			return err
		}
		return nil
	})

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}

	if a.recon.Enabled() {
		a.recon.Start(runCtx)
	}
	a.pending.Start(runCtx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.routes.DispatchLoop(runCtx, a.updates)
	}()

	// hot reload fan-out
	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-runCtx.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(runCtx, newCfg)
			}
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(runCtx)
	}()

	a.log.Info("app started")
	return nil
}

// applyConfig propagates a hot-reloaded config to the live services.
// Telegram token, storage and the canonical timezone require a restart.
func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	tickPeriod, err := config.ParseDurationOrDefault("scheduler.tick_period", cfg.Scheduler.TickPeriod, 20*time.Second)
	if err != nil {
		a.log.Warn("invalid scheduler.tick_period; keeping default", logx.Err(err))
		tickPeriod = 20 * time.Second
	}
	leadTime, err := config.ParseDurationOrDefault("scheduler.lead_time", cfg.Scheduler.LeadTime, 15*time.Minute)
	if err != nil {
		a.log.Warn("invalid scheduler.lead_time; keeping default", logx.Err(err))
		leadTime = 15 * time.Minute
	}

	prevEnabled := a.recon.Enabled()
	a.recon.Apply(reconciler.Config{
		Enabled:    cfg.Scheduler.Enabled,
		TickPeriod: tickPeriod,
		LeadTime:   leadTime,
	})
	if prevEnabled && !cfg.Scheduler.Enabled {
		a.log.Info("reconciler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.recon.Stop(stopCtx)
		cancel()
	} else if !prevEnabled && cfg.Scheduler.Enabled {
		a.log.Info("reconciler enabled via config")
		a.recon.Start(ctx)
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")

	// Helper: bound each shutdown step so one component can't stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context)) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
		}
		start := time.Now()
		fn(stepCtx)
		if cancel != nil {
			cancel()
		}
		a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	// Let an in-flight tick finish before tearing anything else down.
	step("reconciler", 5*time.Second, func(c context.Context) { a.recon.Stop(c) })
	step("pending", time.Second, func(context.Context) { a.pending.Stop() })
	step("adapter", 2*time.Second, func(c context.Context) { _ = a.adapter.Stop(c) })

	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("stop timed out waiting for background loops", logx.Err(ctx.Err()))
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}
