package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/shelfscan/internal/crawler"
	"github.com/JakeFAU/shelfscan/internal/metrics"
)

// penalizer is implemented by rate limiters that slow a host down after a
// throttling response.
type penalizer interface {
	Penalize(url string) rate.Limit
}

// ErrHostBlocked is returned for hosts that kept answering 403/429.
var ErrHostBlocked = errors.New("host blocked after repeated forbidden responses")

// fetch retrieves url with retries. Rehydration and detail fetches go
// straight to the headless renderer when one is allowed; listing pages are
// probed over HTTP first and promoted when the detector asks for it. The
// int result counts retries.
func (o *Orchestrator) fetch(ctx context.Context, r *run, url string, script crawler.Script, forceHeadless bool) (crawler.FetchResponse, int, error) {
	retries := 0
	for attempt := 1; ; attempt++ {
		resp, err := o.fetchOnce(ctx, r, url, script, forceHeadless)
		if err == nil {
			return resp, retries, nil
		}
		o.throttle(url, err)
		if errors.Is(err, ErrHostBlocked) || !o.deps.Retry.ShouldRetry(err, attempt) {
			return crawler.FetchResponse{}, retries, err
		}
		retries++
		metrics.ObserveRetry(crawler.ErrorTypeLabel(err))
		o.logger.Debug("retrying fetch",
			zap.String("job_id", r.jobID),
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if perr := crawler.Pause(ctx, o.deps.Retry.Backoff(attempt)); perr != nil {
			return crawler.FetchResponse{}, retries, perr
		}
	}
}

// throttle feeds forbidden and throttling statuses into the domain blocker
// and the rate limiter.
func (o *Orchestrator) throttle(url string, err error) {
	var fe *crawler.FetchError
	if !errors.As(err, &fe) || fe.Kind != crawler.FetchErrorStatus {
		return
	}
	switch fe.StatusCode {
	case http.StatusForbidden, http.StatusTooManyRequests:
		if o.deps.Blocker.MarkForbidden(crawler.Host(url)) {
			o.logger.Warn("host blocked", zap.String("host", crawler.Host(url)))
		}
	}
	if fe.StatusCode == http.StatusTooManyRequests {
		if p, ok := o.deps.Limiter.(penalizer); ok {
			next := p.Penalize(url)
			o.logger.Info("host throttled", zap.String("host", crawler.Host(url)), zap.Float64("rate", float64(next)))
		}
	}
}

func (o *Orchestrator) fetchOnce(ctx context.Context, r *run, url string, script crawler.Script, forceHeadless bool) (crawler.FetchResponse, error) {
	if o.deps.Blocker.IsBlocked(crawler.Host(url)) {
		return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", url, ErrHostBlocked)
	}
	if o.deps.Limiter != nil {
		if err := o.deps.Limiter.Wait(ctx, url); err != nil {
			return crawler.FetchResponse{}, err
		}
	}
	req := crawler.FetchRequest{JobID: r.jobID, URL: url, Script: script}

	if forceHeadless && r.headless {
		req.UseHeadless = true
		return o.callFetcher(ctx, o.deps.Headless, req)
	}

	probe, err := o.callFetcher(ctx, o.deps.Probe, req)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	if !r.headless || o.deps.Detector == nil || !o.deps.Detector.ShouldPromote(probe) {
		return probe, nil
	}

	req.UseHeadless = true
	rendered, err := o.callFetcher(ctx, o.deps.Headless, req)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.FetchResponse{}, err
		}
		o.logger.Warn("headless promotion failed", zap.String("job_id", r.jobID), zap.String("url", url), zap.Error(err))
		return probe, nil
	}
	o.logger.Debug("headless promotion applied", zap.String("job_id", r.jobID), zap.String("url", url))
	rendered.UsedHeadless = true
	return rendered, nil
}

// callFetcher bounds one Document Source call by the fetch timeout.
func (o *Orchestrator) callFetcher(ctx context.Context, f crawler.Fetcher, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	callCtx := ctx
	if o.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.cfg.FetchTimeout)
		defer cancel()
	}
	resp, err := f.Fetch(callCtx, req)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", req.URL, ctx.Err())
		}
		return crawler.FetchResponse{}, crawler.ClassifyFetchError(req.URL, err)
	}
	if resp.URL == "" {
		resp.URL = req.URL
	}
	return resp, nil
}
