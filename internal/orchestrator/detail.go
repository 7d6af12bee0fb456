package orchestrator

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/shelfscan/internal/crawler"
	"github.com/JakeFAU/shelfscan/internal/document"
	"github.com/JakeFAU/shelfscan/internal/extract"
	"github.com/JakeFAU/shelfscan/internal/metrics"
	"github.com/JakeFAU/shelfscan/internal/resolve"
)

// scheduleDetail fetches rec.DetailURL in the background to backfill the
// image, then emits rec. The fingerprint must already be reserved. The
// fetch runs alongside the listing's next page and is bound to the job
// context, not to the listing loop.
func (o *Orchestrator) scheduleDetail(ctx context.Context, l *listing, rec crawler.ProductRecord) {
	l.details.Add(1)
	go func() {
		defer l.details.Done()
		if err := l.slots.Acquire(ctx, 1); err != nil {
			o.release(l, rec.Fingerprint)
			return
		}
		defer l.slots.Release(1)

		rec = o.backfill(ctx, l, rec)
		if ctx.Err() != nil {
			o.release(l, rec.Fingerprint)
			return
		}
		completed, err := l.run.index.Complete(ctx, rec.Fingerprint)
		if err != nil {
			l.logger.Warn("dedup complete failed", zap.String("fingerprint", rec.Fingerprint), zap.Error(err))
			return
		}
		if !completed {
			return
		}
		o.emit(ctx, l, []crawler.ProductRecord{rec})
	}()
}

// release hands a reservation back when its detail fetch never ran, so a
// later page may claim the product.
func (o *Orchestrator) release(l *listing, fingerprint string) {
	if err := l.run.index.Release(context.Background(), fingerprint); err != nil {
		l.logger.Warn("dedup release failed", zap.String("fingerprint", fingerprint), zap.Error(err))
	}
}

// backfill loads the detail page and fills the image plus any field the
// listing card lacked. Failures keep the partial record.
func (o *Orchestrator) backfill(ctx context.Context, l *listing, rec crawler.ProductRecord) crawler.ProductRecord {
	l.count(func(c *crawler.JobCounters) { c.DetailFetches++ })
	resp, retries, err := o.fetch(ctx, l.run, rec.DetailURL, crawler.ScriptDetail, true)
	l.count(func(c *crawler.JobCounters) { c.Retries += retries })
	if err != nil {
		metrics.ObserveDetailFetch(l.retailer, "failed")
		l.logger.Warn("detail fetch failed", zap.String("url", rec.DetailURL), zap.Error(err))
		return rec
	}
	doc, err := document.FromResponse(resp)
	if err != nil {
		metrics.ObserveDetailFetch(l.retailer, "failed")
		l.logger.Warn("detail page unparseable", zap.String("url", rec.DetailURL), zap.Error(err))
		return rec
	}

	in := extract.Input{Doc: doc, Name: rec.Name, Retailer: l.retailer}
	rec.ImageURL = extract.Image(in)
	if rec.ImageURL == "" {
		rec.ImageURL = lazyImage(doc)
	}
	if rec.Price == "" {
		if amount, ok := extract.Price(in); ok {
			rec.Price = amount.String()
			rec.NumericPrice = resolve.ParseNumeric(rec.Price)
		}
	}
	if rec.Category == "" {
		rec.Category = extract.Category(in)
	}

	outcome := "image"
	if rec.ImageURL == "" {
		outcome = "no_image"
	}
	metrics.ObserveDetailFetch(l.retailer, outcome)
	return rec
}

// lazyImage returns the data-src of the first image still showing an
// inline placeholder.
func lazyImage(doc *document.Document) string {
	var out string
	doc.Find("img[data-src]").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		src := strings.TrimSpace(img.AttrOr("src", ""))
		if src != "" && !strings.HasPrefix(strings.ToLower(src), "data:") {
			return true
		}
		out = doc.Resolve(strings.TrimSpace(img.AttrOr("data-src", "")))
		return out == ""
	})
	return out
}
