// Package orchestrator drives listing crawls: listings run in parallel,
// pages within one listing run in order, and products lacking an image get
// one deferred detail-page fetch before they are emitted.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/shelfscan/internal/clock"
	"github.com/JakeFAU/shelfscan/internal/crawler"
	"github.com/JakeFAU/shelfscan/internal/crawlstate"
	"github.com/JakeFAU/shelfscan/internal/identity"
)

// ErrNoSeeds is returned when a run has nothing to crawl.
var ErrNoSeeds = errors.New("no seed urls")

// Config controls orchestrator behavior.
type Config struct {
	State              crawlstate.Config
	Retailer           string
	RequestDelay       time.Duration
	ListingConcurrency int
	DetailConcurrency  int
	FetchTimeout       time.Duration
	HeadlessAllowed    bool
	Topic              string
	// MaxSnapshots bounds debug snapshots per listing; zero disables them.
	MaxSnapshots   int
	SnapshotPrefix string
}

// Deps are the collaborators a run uses. Probe is required; everything
// else is optional.
type Deps struct {
	Probe     crawler.Fetcher
	Headless  crawler.Fetcher
	Detector  crawler.HeadlessDetector
	Limiter   crawler.RateLimiter
	Retry     *crawler.ExponentialRetryPolicy
	Blocker   *crawler.DomainBlocker
	Store     crawler.ProductStore
	Publisher crawler.Publisher
	Snapshots crawler.BlobStore
	Hasher    crawler.Hasher
	Clock     crawler.Clock
	// NewIndex returns the dedup index for one run. Defaults to an
	// in-memory index.
	NewIndex func(runID string) crawler.DedupIndex
}

// Orchestrator runs crawl jobs.
type Orchestrator struct {
	cfg         Config
	deps        Deps
	fingerprint *identity.Fingerprinter
	logger      *zap.Logger
}

// Result is the outcome of one run.
type Result struct {
	Counters crawler.JobCounters
	Listings []crawler.ListingResult
}

// New constructs an Orchestrator.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Probe == nil {
		return nil, fmt.Errorf("orchestrator: probe fetcher is required")
	}
	if deps.Hasher == nil {
		return nil, fmt.Errorf("orchestrator: hasher is required")
	}
	if err := cfg.State.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	if cfg.ListingConcurrency <= 0 {
		cfg.ListingConcurrency = 1
	}
	if cfg.DetailConcurrency <= 0 {
		cfg.DetailConcurrency = 1
	}
	if deps.Retry == nil {
		deps.Retry = crawler.NewExponentialRetryPolicy(0, 0, 0)
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.NewIndex == nil {
		deps.NewIndex = func(string) crawler.DedupIndex { return identity.NewMemoryIndex() }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:         cfg,
		deps:        deps,
		fingerprint: identity.NewFingerprinter(deps.Hasher),
		logger:      logger.Named("orchestrator"),
	}, nil
}

// run is the state shared by every listing of one job.
type run struct {
	jobID    string
	params   crawler.JobParameters
	state    crawlstate.Config
	headless bool
	index    crawler.DedupIndex
}

// Run crawls every seed of params and blocks until all listings and their
// detail fetches finish. A failed listing never aborts its siblings; the
// returned error is only set for unusable input or cancellation.
func (o *Orchestrator) Run(ctx context.Context, jobID string, params crawler.JobParameters) (Result, error) {
	if len(params.Seeds) == 0 {
		return Result{}, ErrNoSeeds
	}
	r := &run{
		jobID:    jobID,
		params:   params,
		state:    o.stateConfig(params),
		headless: o.headlessAllowed(params),
		index:    o.deps.NewIndex(jobID),
	}

	var (
		mu     sync.Mutex
		result = Result{Listings: make([]crawler.ListingResult, len(params.Seeds))}
	)
	g := new(errgroup.Group)
	g.SetLimit(o.cfg.ListingConcurrency)
	for i, seed := range params.Seeds {
		g.Go(func() error {
			lr := o.crawlListing(ctx, r, seed)
			mu.Lock()
			result.Listings[i] = lr
			result.Counters.Add(lr.Counters)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	o.logger.Info("run finished",
		zap.String("job_id", jobID),
		zap.Int("listings", len(params.Seeds)),
		zap.Int("pages", result.Counters.PagesFetched),
		zap.Int("emitted", result.Counters.ProductsEmitted),
		zap.Int("duplicates", result.Counters.Duplicates),
	)
	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("run canceled: %w", err)
	}
	return result, nil
}

// stateConfig layers per-job overrides onto the service thresholds.
func (o *Orchestrator) stateConfig(params crawler.JobParameters) crawlstate.Config {
	cfg := o.cfg.State
	if params.MaxPages > 0 {
		cfg.MaxPages = params.MaxPages
	}
	if params.AutoExpand != nil {
		cfg.AutoExpand = *params.AutoExpand
	}
	if params.MinSafePages > 0 {
		cfg.MinSafePages = params.MinSafePages
	}
	return cfg
}

func (o *Orchestrator) headlessAllowed(params crawler.JobParameters) bool {
	if o.deps.Headless == nil {
		return false
	}
	if params.HeadlessAllowed != nil {
		return *params.HeadlessAllowed
	}
	return o.cfg.HeadlessAllowed
}

func (o *Orchestrator) retailer(params crawler.JobParameters, seed string) string {
	switch {
	case params.Retailer != "":
		return params.Retailer
	case o.cfg.Retailer != "":
		return o.cfg.Retailer
	default:
		return crawler.RetailerFromURL(seed)
	}
}
