// Package server builds the application graph from configuration and runs
// it either as a long-lived service or as a one-shot crawl.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/shelfscan/internal/api"
	"github.com/JakeFAU/shelfscan/internal/clock"
	"github.com/JakeFAU/shelfscan/internal/config"
	"github.com/JakeFAU/shelfscan/internal/crawler"
	"github.com/JakeFAU/shelfscan/internal/dispatcher"
	"github.com/JakeFAU/shelfscan/internal/id/uuid"
	"github.com/JakeFAU/shelfscan/internal/metrics"
	"github.com/JakeFAU/shelfscan/internal/orchestrator"
	queueMemory "github.com/JakeFAU/shelfscan/internal/queue/memory"
	"github.com/JakeFAU/shelfscan/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	clock     crawler.Clock
	jobs      crawler.JobStore
	queue     *queueMemory.Queue
	registry  *worker.Registry
	workers   []*worker.Worker
	dispatch  *dispatcher.Dispatcher
	apiServer *api.Server
	redis     *goredis.Client
	checks    map[string]api.ReadinessCheck
	closers   []closer
}

type closer struct {
	name string
	fn   func() error
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Build creates the application's dependencies. On error everything opened
// so far is closed.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (app *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  clock.New(),
		checks: map[string]api.ReadinessCheck{},
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.logger.Info("building application dependencies",
		zap.String("store", cfg.Store.Backend),
		zap.String("dedup", cfg.Dedup.Backend),
		zap.String("snapshots", cfg.Snapshots.Backend),
		zap.String("publisher", cfg.Publisher.Backend),
		zap.Bool("headless", cfg.Headless.Enabled),
	)

	if cfg.Dedup.Backend == "redis" || cfg.Publisher.Backend == "redis" {
		a.setupRedis()
	}
	jobs, products, err := a.setupStores(ctx)
	if err != nil {
		return nil, err
	}
	a.jobs = jobs
	snapshots, err := a.setupSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	deps, err := a.setupFetchers()
	if err != nil {
		return nil, err
	}
	deps.Store = products
	deps.Snapshots = snapshots
	deps.Publisher = publisher
	deps.Clock = a.clock
	deps.NewIndex = a.indexFactory()

	orch, err := orchestrator.New(a.orchestratorConfig(), deps, logger)
	if err != nil {
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}

	a.queue = queueMemory.NewQueue(cfg.Queue.Depth)
	a.registry = worker.NewRegistry()
	for range cfg.Workers.Count {
		a.workers = append(a.workers, worker.New(a.queue, jobs, orch, a.registry, logger))
	}
	a.dispatch = dispatcher.New(dispatcher.Deps{
		Queue:    a.queue,
		Jobs:     jobs,
		IDs:      uuid.New(),
		Clock:    a.clock,
		Registry: a.registry,
		Workers:  a.workers,
	}, logger)
	a.apiServer = api.NewServer(a.dispatch, api.Options{
		APIKey:         cfg.Server.APIKey,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		Checks:         a.checks,
	}, logger)
	return a, nil
}

func (a *App) orchestratorConfig() orchestrator.Config {
	prefix := a.cfg.Snapshots.Prefix
	if a.cfg.Snapshots.Backend == "gcs" {
		// The GCS store applies the prefix itself.
		prefix = ""
	}
	return orchestrator.Config{
		State:              a.cfg.State(),
		Retailer:           a.cfg.Crawl.Retailer,
		RequestDelay:       a.cfg.Crawl.RequestDelay,
		ListingConcurrency: a.cfg.Crawl.ListingConcurrency,
		DetailConcurrency:  a.cfg.Crawl.DetailConcurrency,
		FetchTimeout:       a.cfg.Crawl.FetchTimeout,
		HeadlessAllowed:    a.cfg.Headless.Enabled,
		Topic:              a.cfg.Publisher.Topic,
		MaxSnapshots:       a.cfg.Crawl.MaxSnapshots,
		SnapshotPrefix:     prefix,
	}
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Serve runs the workers, the HTTP server and the scheduled crawls until
// ctx ends.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", len(a.workers)))
		a.dispatch.Run(ctx)
	}()

	window, err := a.cfg.Window()
	if err != nil {
		return err
	}
	sched := newScheduler(a.dispatch, a.clock, window, a.scheduledParams(), a.logger)
	go sched.Run(ctx, time.Minute)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	<-dispatchDone
	return nil
}

func (a *App) scheduledParams() crawler.JobParameters {
	return crawler.JobParameters{Seeds: a.cfg.Crawl.Schedule, Retailer: a.cfg.Crawl.Retailer}
}

// Crawl runs one job for params in the foreground and returns its final
// record.
func (a *App) Crawl(ctx context.Context, params crawler.JobParameters) (crawler.Job, error) {
	job, err := a.dispatch.Submit(ctx, params)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("submit crawl: %w", err)
	}
	item, err := a.queue.Dequeue(ctx)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("dequeue crawl: %w", err)
	}
	if len(a.workers) == 0 {
		return crawler.Job{}, errors.New("no workers configured")
	}
	a.workers[0].Process(ctx, item)
	// The job may have been canceled along with ctx; read it back regardless.
	final, err := a.jobs.GetJob(context.WithoutCancel(ctx), job.ID)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("load crawl result: %w", err)
	}
	return final, nil
}

// Close releases every opened resource in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}
