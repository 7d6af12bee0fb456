package server

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/shelfscan/internal/crawler"
	collyfetcher "github.com/JakeFAU/shelfscan/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/shelfscan/internal/fetcher/headless"
	"github.com/JakeFAU/shelfscan/internal/hash/sha256"
	"github.com/JakeFAU/shelfscan/internal/headless/detector"
	"github.com/JakeFAU/shelfscan/internal/identity"
	"github.com/JakeFAU/shelfscan/internal/orchestrator"
	"github.com/JakeFAU/shelfscan/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/shelfscan/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/shelfscan/internal/publisher/pubsub"
	redispublisher "github.com/JakeFAU/shelfscan/internal/publisher/redis"
	gcsstorage "github.com/JakeFAU/shelfscan/internal/storage/gcs"
	localstorage "github.com/JakeFAU/shelfscan/internal/storage/local"
	memorystorage "github.com/JakeFAU/shelfscan/internal/storage/memory"
	pgstore "github.com/JakeFAU/shelfscan/internal/storage/postgres"
)

// fingerprintBytes keeps name digests short while staying collision-safe
// at catalogue scale.
const fingerprintBytes = 16

func (a *App) setupRedis() {
	a.redis = goredis.NewClient(&goredis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	a.onClose("redis", a.redis.Close)
	a.checks["redis"] = func(ctx context.Context) error {
		return a.redis.Ping(ctx).Err()
	}
	a.logger.Info("redis client configured", zap.String("addr", a.cfg.Redis.Addr), zap.Int("db", a.cfg.Redis.DB))
}

func (a *App) setupStores(ctx context.Context) (crawler.JobStore, crawler.ProductStore, error) {
	if a.cfg.Store.Backend != "postgres" {
		a.logger.Info("using in-memory job and product stores")
		return memorystorage.NewJobStore(a.clock), memorystorage.NewProductStore(), nil
	}
	pool, err := pgstore.Connect(ctx, pgstore.Config{
		DSN:      a.cfg.Store.DSN,
		Table:    a.cfg.Store.Table,
		MaxConns: a.cfg.Store.MaxConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres init failed: %w", err)
	}
	a.onClose("postgres", func() error {
		pool.Close()
		return nil
	})
	if err := pgstore.EnsureSchema(ctx, pool, a.cfg.Store.Table); err != nil {
		return nil, nil, fmt.Errorf("postgres schema: %w", err)
	}
	products, err := pgstore.NewProductStore(pool, a.cfg.Store.Table)
	if err != nil {
		return nil, nil, fmt.Errorf("product store init failed: %w", err)
	}
	jobs, err := pgstore.NewJobStore(pool, a.clock)
	if err != nil {
		return nil, nil, fmt.Errorf("job store init failed: %w", err)
	}
	a.checks["postgres"] = pool.Ping
	a.logger.Info("using postgres stores", zap.String("table", a.cfg.Store.Table))
	return jobs, products, nil
}

func (a *App) setupSnapshots(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Snapshots.Backend {
	case "gcs":
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{
			Bucket: a.cfg.Snapshots.Bucket,
			Prefix: a.cfg.Snapshots.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs snapshot store init failed: %w", err)
		}
		a.onClose("gcs", store.Close)
		a.logger.Info("using GCS snapshot store", zap.String("bucket", a.cfg.Snapshots.Bucket))
		return store, nil
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Snapshots.Dir})
		if err != nil {
			return nil, fmt.Errorf("local snapshot store init failed: %w", err)
		}
		a.logger.Info("using local snapshot store", zap.String("dir", a.cfg.Snapshots.Dir))
		return store, nil
	case "memory":
		return memorystorage.NewBlobStore(), nil
	default:
		a.logger.Info("debug snapshots disabled")
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	switch a.cfg.Publisher.Backend {
	case "pubsub":
		pub, err := gcppublisher.New(ctx, a.cfg.Publisher.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.onClose("pubsub", pub.Close)
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.Publisher.ProjectID),
			zap.String("topic", a.cfg.Publisher.Topic),
		)
		return pub, nil
	case "redis":
		a.logger.Info("redis stream publisher initialized", zap.String("stream", a.cfg.Redis.Stream))
		return redispublisher.New(a.redis, a.cfg.Redis.Stream, a.cfg.Redis.StreamMaxLen), nil
	case "memory":
		return memorypublisher.New(), nil
	default:
		a.logger.Info("record notifications disabled")
		return nil, nil
	}
}

func (a *App) setupFetchers() (orchestrator.Deps, error) {
	crawl := a.cfg.Crawl
	probe, err := collyfetcher.New(collyfetcher.Config{
		UserAgent:     crawl.UserAgent,
		RespectRobots: crawl.RespectRobots,
		Timeout:       crawl.FetchTimeout,
	}, collyfetcher.WithLogger(a.logger.Named("colly")))
	if err != nil {
		return orchestrator.Deps{}, fmt.Errorf("colly fetcher init failed: %w", err)
	}
	a.logger.Info("using colly probe fetcher",
		zap.String("user_agent", crawl.UserAgent),
		zap.Bool("respect_robots", crawl.RespectRobots),
	)

	deps := orchestrator.Deps{
		Probe:   probe,
		Limiter: ratelimit.New(ratelimit.Config{DefaultRPS: crawl.RatePerSecond, DefaultBurst: 1}),
		// max_retries counts retries after the first attempt.
		Retry:   crawler.NewExponentialRetryPolicy(crawl.MaxRetries+1, crawl.RetryBaseDelay, crawl.RetryMaxDelay),
		Blocker: crawler.NewDomainBlocker(crawl.ForbiddenThreshold).Deny(crawl.BlockedDomains...),
		Hasher:  sha256.NewTruncated(fingerprintBytes),
	}

	if !a.cfg.Headless.Enabled {
		a.logger.Info("headless rendering disabled")
		return deps, nil
	}
	browser, err := headlessfetcher.New(a.cfg.Headless.Engine, headlessfetcher.Config{
		MaxParallel:       a.cfg.Headless.MaxParallel,
		UserAgent:         crawl.UserAgent,
		NavigationTimeout: a.cfg.Headless.NavTimeout,
		Logger:            a.logger.Named("headless"),
	})
	if err != nil {
		a.logger.Warn("headless fetcher init failed; continuing without rendering", zap.Error(err))
		return deps, nil
	}
	a.onClose("headless", browser.Close)
	deps.Headless = browser
	deps.Detector = detector.NewHeuristic(a.cfg.Headless.PromotionThreshold)
	a.logger.Info("using headless fetcher",
		zap.String("engine", a.cfg.Headless.Engine),
		zap.Int("max_parallel", a.cfg.Headless.MaxParallel),
	)
	return deps, nil
}

func (a *App) indexFactory() func(runID string) crawler.DedupIndex {
	if a.cfg.Dedup.Backend != "redis" || a.redis == nil {
		return func(string) crawler.DedupIndex { return identity.NewMemoryIndex() }
	}
	return func(runID string) crawler.DedupIndex {
		return identity.NewRedisIndex(a.redis, a.cfg.Dedup.Prefix, runID, a.cfg.Dedup.TTL)
	}
}
