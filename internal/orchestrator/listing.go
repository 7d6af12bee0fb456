package orchestrator

import (
	"context"
	"errors"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/shelfscan/internal/crawler"
	"github.com/JakeFAU/shelfscan/internal/crawlstate"
	"github.com/JakeFAU/shelfscan/internal/document"
	"github.com/JakeFAU/shelfscan/internal/extract"
	"github.com/JakeFAU/shelfscan/internal/identity"
	"github.com/JakeFAU/shelfscan/internal/metrics"
)

// listing is the per-seed state. Detail goroutines share counters and
// snapshots with the page loop, so both sit behind mu.
type listing struct {
	run      *run
	seed     string
	retailer string
	logger   *zap.Logger

	details sync.WaitGroup
	slots   *semaphore.Weighted

	mu        sync.Mutex
	counters  crawler.JobCounters
	snapshots int
	errText   string
}

func (l *listing) count(f func(*crawler.JobCounters)) {
	l.mu.Lock()
	f(&l.counters)
	l.mu.Unlock()
}

func (l *listing) fail(err error) {
	l.mu.Lock()
	if l.errText == "" {
		l.errText = err.Error()
	}
	l.mu.Unlock()
}

// pageOutcome is what one fetched listing page produced.
type pageOutcome struct {
	nodes      int
	duplicates int
	emitted    int
}

func (o *Orchestrator) crawlListing(ctx context.Context, r *run, seed string) crawler.ListingResult {
	l := &listing{
		run:      r,
		seed:     seed,
		retailer: o.retailer(r.params, seed),
		slots:    semaphore.NewWeighted(int64(o.cfg.DetailConcurrency)),
	}
	l.logger = o.logger.With(zap.String("job_id", r.jobID), zap.String("listing", seed), zap.String("retailer", l.retailer))
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	ctrl := crawlstate.NewController(r.state)
	s := ctrl.Start(seed)
	rehydrating := false
	failed := false

	for !s.Terminated() {
		if ctx.Err() != nil {
			s = s.Terminate(crawlstate.ReasonCanceled)
			break
		}
		script := crawler.ScriptListing
		if rehydrating {
			script = crawler.ScriptRehydrate
		}
		s.Phase = crawlstate.PhaseFetching
		resp, retries, err := o.fetch(ctx, r, s.URL, script, rehydrating)
		l.count(func(c *crawler.JobCounters) { c.Retries += retries })

		var pr crawlstate.PageResult
		pr.Rehydration = rehydrating
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				s = s.Terminate(crawlstate.ReasonCanceled)
				break
			}
			if s.Page == 1 && !rehydrating && s.PageSize == 0 {
				l.logger.Error("seed fetch failed", zap.Error(err))
				metrics.ObservePage(l.retailer, "failed")
				l.fail(err)
				s = ctrl.Fail(s)
				failed = true
				break
			}
			l.logger.Warn("page skipped", zap.Int("page", s.Page), zap.String("url", s.URL), zap.Error(err))
			metrics.ObservePage(l.retailer, "skipped")
			l.count(func(c *crawler.JobCounters) { c.PagesSkipped++ })
			pr.Skipped = true
		} else {
			doc, perr := document.FromResponse(resp)
			if perr != nil {
				l.logger.Warn("page unparseable", zap.Int("page", s.Page), zap.Error(perr))
				metrics.ObservePage(l.retailer, "skipped")
				l.count(func(c *crawler.JobCounters) { c.PagesSkipped++ })
				pr.Skipped = true
			} else {
				out := o.processPage(ctx, l, doc)
				pr.Doc = doc
				pr.Nodes = out.nodes
				pr.Duplicates = out.duplicates
				metrics.ObservePage(l.retailer, "fetched")
				l.count(func(c *crawler.JobCounters) { c.PagesFetched++ })
				l.logger.Debug("page processed",
					zap.Int("page", s.Page),
					zap.String("url", s.URL),
					zap.Int("nodes", out.nodes),
					zap.Int("duplicates", out.duplicates),
					zap.Int("emitted", out.emitted),
					zap.Bool("rehydration", rehydrating),
					zap.Bool("headless", resp.UsedHeadless),
				)
			}
		}

		var d crawlstate.Decision
		s, d = ctrl.Step(s, pr)
		if s.Page == 1 && pr.Doc != nil && s.TotalCount == 0 && !rehydrating {
			o.snapshot(ctx, l, "no-total", pr.Doc.Raw())
		}
		if d.TotalSource != "" {
			l.logger.Debug("total learned", zap.String("source", d.TotalSource), zap.Int("total", s.TotalCount), zap.Int("max_pages", s.MaxPages))
		}

		switch d.Action {
		case crawlstate.ActionRehydrate:
			rehydrating = true
			l.count(func(c *crawler.JobCounters) { c.Rehydrations++ })
			l.logger.Info("rehydrating empty page", zap.Int("page", s.Page), zap.String("url", s.URL))
		case crawlstate.ActionAdvance:
			rehydrating = false
		case crawlstate.ActionTerminate:
			continue
		}
		if err := crawler.Pause(ctx, o.cfg.RequestDelay); err != nil {
			s = s.Terminate(crawlstate.ReasonCanceled)
		}
	}

	// No further fetches are issued for this listing; outstanding detail
	// fetches still complete and emit.
	l.details.Wait()

	metrics.ObserveTermination(string(s.Reason))
	l.logger.Info("listing terminated",
		zap.String("reason", string(s.Reason)),
		zap.Int("pages", s.Page),
		zap.Int("page_size", s.PageSize),
		zap.Int("total", s.TotalCount),
	)

	l.mu.Lock()
	defer l.mu.Unlock()
	if failed {
		l.counters.ListingsFailed++
	}
	return crawler.ListingResult{
		SeedURL:    seed,
		Retailer:   l.retailer,
		Pages:      s.Page,
		PageSize:   s.PageSize,
		TotalCount: s.TotalCount,
		Reason:     string(s.Reason),
		Failed:     failed,
		ErrorText:  l.errText,
		Counters:   l.counters,
	}
}

// processPage extracts every product node, emits the products that already
// carry an image and schedules detail fetches for the rest.
func (o *Orchestrator) processPage(ctx context.Context, l *listing, doc *document.Document) pageOutcome {
	nodes := extract.ProductNodes(doc)
	out := pageOutcome{nodes: nodes.Length()}
	var ready []crawler.ProductRecord

	nodes.Each(func(_ int, node *goquery.Selection) {
		if extract.IsPlaceholder(node) {
			return
		}
		item := extract.Product(extract.Input{Doc: doc, Node: node, Retailer: l.retailer})
		rec := item.Record
		if rec.Name == "" {
			o.snapshotNode(ctx, l, node)
			return
		}
		fp, err := o.fingerprint.Fingerprint(l.retailer, item.SiteKey, rec.Name)
		if err != nil {
			if !errors.Is(err, identity.ErrNoIdentity) {
				l.logger.Warn("fingerprint failed", zap.String("name", rec.Name), zap.Error(err))
			}
			return
		}
		rec.SourceURL = doc.URL()
		rec.Retailer = l.retailer
		rec.Fingerprint = fp
		rec.ScrapedAt = o.deps.Clock.Now()

		if rec.ImageURL == "" {
			o.snapshotNode(ctx, l, node)
		}
		if rec.ImageURL == "" && rec.DetailURL != "" {
			reserved, err := l.run.index.Reserve(ctx, fp)
			if err != nil {
				l.logger.Warn("dedup reserve failed", zap.String("fingerprint", fp), zap.Error(err))
				return
			}
			if !reserved {
				out.duplicates++
				return
			}
			o.scheduleDetail(ctx, l, rec)
			return
		}
		claimed, err := l.run.index.Claim(ctx, fp)
		if err != nil {
			l.logger.Warn("dedup claim failed", zap.String("fingerprint", fp), zap.Error(err))
			return
		}
		if !claimed {
			out.duplicates++
			return
		}
		ready = append(ready, rec)
	})

	if out.duplicates > 0 {
		metrics.ObserveDuplicates(l.retailer, out.duplicates)
		l.count(func(c *crawler.JobCounters) { c.Duplicates += out.duplicates })
	}
	out.emitted = o.emit(ctx, l, ready)
	return out
}
