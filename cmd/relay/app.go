package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/pysugar/chat-relay/internal/api"
	"github.com/pysugar/chat-relay/internal/browser"
	"github.com/pysugar/chat-relay/internal/config"
	"github.com/pysugar/chat-relay/internal/db"
	"github.com/pysugar/chat-relay/internal/diagnostics"
	"github.com/pysugar/chat-relay/internal/dispatch"
	"github.com/pysugar/chat-relay/internal/providers"
	"github.com/pysugar/chat-relay/internal/providers/catalog"
	"github.com/pysugar/chat-relay/internal/queue"
	"github.com/pysugar/chat-relay/internal/quota"
	"github.com/pysugar/chat-relay/internal/selector"
	"github.com/pysugar/chat-relay/internal/usage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// app holds the shared connections every subcommand builds on.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	db      *gorm.DB
	rdb     *redis.Client
	catalog *catalog.Catalog
	started time.Time
}

func openApp(ctx context.Context, rt *runtime) (*app, error) {
	level := gormlogger.Warn
	if rt.cfg.LogLevel == "debug" {
		level = gormlogger.Info
	}
	database, err := db.InitDB(rt.cfg.DatabasePath, level)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	rdb, err := queue.Connect(ctx, rt.cfg.RedisURL)
	if err != nil {
		if sqlDB, dbErr := database.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}

	cat, err := catalog.Load(rt.cfg.CatalogPath)
	if err != nil {
		rt.logger.Warn("provider catalog not loaded, using built-in catalog", zap.Error(err))
	}

	return &app{
		cfg:     rt.cfg,
		logger:  rt.logger,
		db:      database,
		rdb:     rdb,
		catalog: cat,
		started: time.Now(),
	}, nil
}

func (a *app) Close() {
	if err := a.rdb.Close(); err != nil {
		a.logger.Warn("failed to close redis client", zap.Error(err))
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func (a *app) alerter() *quota.Alerter {
	return quota.NewAlerter(a.db, a.rdb, a.cfg.AlertChannel, a.logger)
}

func (a *app) tracker() *quota.Tracker {
	return quota.NewTracker(a.db, a.alerter(), quota.Options{
		CheckInterval:       a.cfg.CheckInterval,
		SessionScanInterval: a.cfg.SessionScanInterval,
		SessionLookahead:    a.cfg.SessionLookahead,
		AlertThreshold:      a.cfg.AlertThreshold,
		DefaultDailyLimit:   a.cfg.DefaultDailyLimit,
		DefaultMonthlyLimit: a.cfg.DefaultMonthlyLimit,
		Logger:              a.logger,
	})
}

func (a *app) queue() *queue.Queue {
	return queue.New(a.rdb, a.cfg.QueueName, queue.Options{PollInterval: a.cfg.QueuePollInterval})
}

// adapters registers a site adapter for every enabled provider.
func (a *app) adapters() (*providers.Registry, error) {
	reg := providers.NewRegistry()
	for _, e := range a.catalog.Entries() {
		if !e.Enabled {
			continue
		}
		site, ok := a.catalog.Site(e.Kind)
		if !ok {
			continue
		}
		if err := reg.Register(providers.NewSiteAdapter(site, providers.DefaultWindows, a.logger)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// workerStack is the browser side: launcher, pool, recorder and dispatcher.
type workerStack struct {
	launcher   *browser.PlaywrightLauncher
	pool       *browser.Pool
	recorder   *usage.Recorder
	dispatcher *dispatch.Dispatcher
}

func (a *app) worker() (*workerStack, error) {
	reg, err := a.adapters()
	if err != nil {
		return nil, err
	}

	launcher := browser.NewPlaywrightLauncher(browser.PlaywrightOptions{
		SessionsDir: a.cfg.SessionsDir,
		VideosDir:   a.cfg.VideosDir,
		Headless:    a.cfg.Headless,
		RecordVideo: a.cfg.VideoRecording,
		Install:     a.cfg.InstallBrowsers,
	})
	if err := launcher.Start(); err != nil {
		return nil, err
	}

	pool := browser.NewPool(launcher, db.NewSessionStore(a.db), browser.PoolOptions{
		SessionTTL: a.cfg.SessionTTL,
		Logger:     a.logger,
	})
	recorder := usage.NewRecorder(a.db, a.catalog, a.logger)

	d := dispatch.New(dispatch.Config{
		DB:            a.db,
		Source:        a.queue(),
		Pool:          pool,
		Adapters:      reg,
		Usage:         recorder,
		Quotas:        a.tracker(),
		Screenshots:   diagnostics.NewScreenshotSink(a.cfg.ScreenshotsDir, a.cfg.ScreenshotOnError, a.logger),
		Concurrency:   a.cfg.Concurrency,
		JobsPerSecond: a.cfg.JobsPerSecond,
		QuotaUnit:     a.cfg.QuotaUnit,
		Logger:        a.logger,
	})
	return &workerStack{launcher: launcher, pool: pool, recorder: recorder, dispatcher: d}, nil
}

// run drives the dispatcher and stops the driver once every browser is closed.
func (w *workerStack) run(ctx context.Context) error {
	err := w.dispatcher.Run(ctx)
	if stopErr := w.launcher.Stop(); stopErr != nil && err == nil {
		err = fmt.Errorf("failed to stop playwright: %w", stopErr)
	}
	return err
}

func (a *app) selector() *selector.Selector {
	order := make([]providers.Kind, 0, len(a.cfg.ProviderOrder))
	for _, p := range a.cfg.ProviderOrder {
		order = append(order, providers.Kind(p))
	}
	return selector.New(a.db, order, a.catalog.Enabled)
}

// apiDeps are the always-present parts of the router.
func (a *app) apiDeps() api.Deps {
	return api.Deps{
		DB:             a.db,
		MaxPromptChars: a.cfg.MaxPromptChars,
		AdminPassword:  a.cfg.AdminPassword,
		WorkerID:       a.cfg.WorkerID,
		Started:        a.started,
		Logger:         a.logger,
	}
}

// withIntake mounts the chat, quota and usage routes on d.
func (a *app) withIntake(d api.Deps) api.Deps {
	d.Selector = a.selector()
	d.Limiter = selector.NewRateLimiter(a.rdb, int(a.cfg.RateLimit), a.cfg.RateWindow)
	d.Queue = a.queue()
	d.Usage = usage.NewRecorder(a.db, a.catalog, a.logger)
	return d
}

// withWorker exposes the worker's counters and pool on d.
func withWorker(d api.Deps, w *workerStack) api.Deps {
	d.Pool = w.pool
	d.Stats = w.recorder.Stats
	d.Usage = w.recorder
	return d
}

func (a *app) server(d api.Deps) *api.Server {
	return api.NewServer(a.cfg.HTTPAddr, api.NewRouter(d), a.logger)
}

// runUntilSignal runs fns until SIGINT/SIGTERM or the first failure, then
// waits for all of them to return.
func runUntilSignal(parent context.Context, logger *zap.Logger, fns ...func(context.Context) error) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	for _, fn := range fns {
		fn := fn
		g.Go(func() error { return fn(ctx) })
	}
	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
	}()
	return g.Wait()
}
