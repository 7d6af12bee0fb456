// Package dispatcher owns job submission, cancellation and worker fan-out.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/shelfscan/internal/crawler"
	"github.com/JakeFAU/shelfscan/internal/worker"
)

// ErrQueueFull is returned when a job cannot be queued without blocking.
var ErrQueueFull = errors.New("job queue is full")

// ErrInvalidJob wraps parameter problems found at submission.
var ErrInvalidJob = errors.New("invalid job")

type tryEnqueuer interface {
	TryEnqueue(item crawler.QueueItem) error
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue    crawler.Queue
	jobs     crawler.JobStore
	ids      crawler.IDGenerator
	clock    crawler.Clock
	registry *worker.Registry
	workers  []*worker.Worker
	logger   *zap.Logger
}

// Deps are the collaborators of a Dispatcher.
type Deps struct {
	Queue    crawler.Queue
	Jobs     crawler.JobStore
	IDs      crawler.IDGenerator
	Clock    crawler.Clock
	Registry *worker.Registry
	Workers  []*worker.Worker
}

// New creates a Dispatcher.
func New(deps Deps, logger *zap.Logger) *Dispatcher {
	if deps.Registry == nil {
		deps.Registry = worker.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:    deps.Queue,
		jobs:     deps.Jobs,
		ids:      deps.IDs,
		clock:    deps.Clock,
		registry: deps.Registry,
		workers:  deps.Workers,
		logger:   logger.Named("dispatcher"),
	}
}

// Run starts all workers and blocks until every one has returned, which
// happens when ctx ends or the queue is closed.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if tq, ok := d.queue.(tryEnqueuer); ok {
		if err := tq.TryEnqueue(item); err != nil {
			return fmt.Errorf("queue enqueue: %w: %w", ErrQueueFull, err)
		}
		return nil
	}
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Submit records a queued job for params and hands it to the workers.
func (d *Dispatcher) Submit(ctx context.Context, params crawler.JobParameters) (crawler.Job, error) {
	if len(params.Seeds) == 0 {
		return crawler.Job{}, fmt.Errorf("%w: at least one seed is required", ErrInvalidJob)
	}
	seeds := make([]string, 0, len(params.Seeds))
	for _, seed := range params.Seeds {
		norm, err := crawler.NormalizeURL(seed)
		if err == nil && crawler.Host(norm) == "" {
			err = errors.New("missing host")
		}
		if err == nil && !strings.HasPrefix(norm, "http://") && !strings.HasPrefix(norm, "https://") {
			err = errors.New("scheme must be http or https")
		}
		if err != nil {
			return crawler.Job{}, fmt.Errorf("%w: seed %q: %w", ErrInvalidJob, seed, err)
		}
		seeds = append(seeds, norm)
	}
	params.Seeds = seeds
	if params.MaxPages < 0 || params.MinSafePages < 0 {
		return crawler.Job{}, fmt.Errorf("%w: page limits must not be negative", ErrInvalidJob)
	}

	id, err := d.ids.NewID()
	if err != nil {
		return crawler.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	now := d.clock.Now()
	job := crawler.Job{
		ID:         id,
		Status:     crawler.JobStatusQueued,
		Submitted:  now,
		Parameters: params,
	}
	if err := d.jobs.CreateJob(ctx, job); err != nil {
		return crawler.Job{}, fmt.Errorf("create job: %w", err)
	}
	item := crawler.QueueItem{JobID: id, Params: params, Attempt: 1, Submitted: now.Unix()}
	if err := d.Enqueue(ctx, item); err != nil {
		if uerr := d.jobs.UpdateJobStatus(ctx, id, crawler.JobStatusFailed, err.Error(), crawler.JobCounters{}); uerr != nil {
			d.logger.Error("mark unqueued job failed", zap.String("job_id", id), zap.Error(uerr))
		}
		return crawler.Job{}, err
	}
	d.logger.Info("job submitted", zap.String("job_id", id), zap.Int("seeds", len(params.Seeds)))
	return job, nil
}

// Cancel stops a queued or running job and returns its current record.
// Finished jobs are returned unchanged.
func (d *Dispatcher) Cancel(ctx context.Context, jobID string) (crawler.Job, error) {
	job, err := d.jobs.GetJob(ctx, jobID)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job: %w", err)
	}
	if job.Status.IsTerminal() {
		return job, nil
	}
	if !d.registry.Cancel(jobID) {
		if err := d.jobs.UpdateJobStatus(ctx, jobID, crawler.JobStatusCanceled, "canceled before start", job.Counters); err != nil {
			return crawler.Job{}, fmt.Errorf("cancel job: %w", err)
		}
	}
	d.logger.Info("job cancel requested", zap.String("job_id", jobID))
	job, err = d.jobs.GetJob(ctx, jobID)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Job returns the stored record for jobID.
func (d *Dispatcher) Job(ctx context.Context, jobID string) (crawler.Job, error) {
	job, err := d.jobs.GetJob(ctx, jobID)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}
