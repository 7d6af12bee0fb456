// Package worker runs queued crawl jobs through the orchestrator and
// records their lifecycle in the job store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/shelfscan/internal/crawler"
	"github.com/JakeFAU/shelfscan/internal/metrics"
	"github.com/JakeFAU/shelfscan/internal/orchestrator"
)

// Runner executes one job. *orchestrator.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, jobID string, params crawler.JobParameters) (orchestrator.Result, error)
}

// Worker consumes queue items and executes them one at a time.
type Worker struct {
	queue    crawler.Queue
	jobStore crawler.JobStore
	runner   Runner
	registry *Registry
	logger   *zap.Logger
}

// New constructs a Worker. A nil registry makes jobs uncancelable from
// outside.
func New(queue crawler.Queue, jobStore crawler.JobStore, runner Runner, registry *Registry, logger *zap.Logger) *Worker {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    queue,
		jobStore: jobStore,
		runner:   runner,
		registry: registry,
		logger:   logger.Named("worker"),
	}
}

// Run blocks, consuming queue items until the context finishes or the
// queue is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Info("queue drained", zap.Error(err))
			return
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.Process(ctx, item)
	}
}

// Process runs a single job to a terminal status.
func (w *Worker) Process(ctx context.Context, item crawler.QueueItem) {
	logger := w.logger.With(zap.String("job_id", item.JobID))

	jobCtx, done, ok := w.registry.Start(ctx, item.JobID)
	defer done()
	if !ok {
		logger.Info("job canceled before start")
		w.finish(ctx, logger, item.JobID, crawler.JobStatusCanceled, "canceled before start", crawler.JobCounters{})
		return
	}

	if job, err := w.jobStore.GetJob(ctx, item.JobID); err == nil && job.Status.IsTerminal() {
		logger.Info("job already finished", zap.String("status", string(job.Status)))
		return
	}
	if err := w.jobStore.UpdateJobStatus(ctx, item.JobID, crawler.JobStatusRunning, "", crawler.JobCounters{}); err != nil {
		logger.Error("update job status failed", zap.Error(err))
		return
	}

	result, runErr := w.runner.Run(jobCtx, item.JobID, item.Params)
	for _, lr := range result.Listings {
		if lr.SeedURL == "" {
			continue
		}
		if err := w.jobStore.RecordListing(context.WithoutCancel(ctx), item.JobID, lr); err != nil {
			logger.Error("record listing failed", zap.String("listing", lr.SeedURL), zap.Error(err))
		}
	}

	status, errText := deriveFinalStatus(jobCtx, result, runErr)
	w.finish(ctx, logger, item.JobID, status, errText, result.Counters)
}

func (w *Worker) finish(
	ctx context.Context,
	logger *zap.Logger,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) {
	// Final bookkeeping must land even when the job context was canceled.
	if err := w.jobStore.UpdateJobStatus(context.WithoutCancel(ctx), jobID, status, errText, counters); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
	}
	metrics.ObserveJob(string(status))
	logger.Info("job finished",
		zap.String("status", string(status)),
		zap.Int("pages", counters.PagesFetched),
		zap.Int("emitted", counters.ProductsEmitted),
		zap.Int("listings_failed", counters.ListingsFailed),
	)
}

// deriveFinalStatus maps a run outcome to a job status. Every listing
// failing is a failure; some failing, or any listing carrying an error,
// is partial.
func deriveFinalStatus(ctx context.Context, result orchestrator.Result, runErr error) (crawler.JobStatus, string) {
	if ctx.Err() != nil || errors.Is(runErr, context.Canceled) {
		return crawler.JobStatusCanceled, "canceled"
	}
	if runErr != nil {
		return crawler.JobStatusFailed, runErr.Error()
	}

	var failed int
	var errs []string
	for _, lr := range result.Listings {
		if lr.Failed {
			failed++
		}
		if lr.ErrorText != "" {
			errs = append(errs, fmt.Sprintf("%s: %s", lr.SeedURL, lr.ErrorText))
		}
	}
	errText := strings.Join(errs, "; ")
	switch {
	case len(result.Listings) == 0:
		return crawler.JobStatusFailed, "no listings were crawled"
	case failed == len(result.Listings):
		return crawler.JobStatusFailed, errText
	case len(errs) > 0:
		return crawler.JobStatusPartial, errText
	default:
		return crawler.JobStatusSucceeded, ""
	}
}
