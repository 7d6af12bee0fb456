package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/shelfscan/internal/crawler"
	"github.com/JakeFAU/shelfscan/internal/metrics"
)

const snapshotContentType = "text/html; charset=utf-8"

// emit upserts records and publishes one notification per record. It
// returns how many records reached the store.
func (o *Orchestrator) emit(ctx context.Context, l *listing, records []crawler.ProductRecord) int {
	if len(records) == 0 {
		return 0
	}
	if o.deps.Store != nil {
		if err := o.deps.Store.Upsert(ctx, l.retailer, records); err != nil {
			l.logger.Error("store upsert failed", zap.Int("records", len(records)), zap.Error(err))
			l.fail(fmt.Errorf("store upsert: %w", err))
			return 0
		}
	}
	if o.deps.Publisher != nil && o.cfg.Topic != "" {
		for _, rec := range records {
			if _, err := o.deps.Publisher.Publish(ctx, o.cfg.Topic, rec); err != nil {
				l.logger.Warn("publish record failed", zap.String("fingerprint", rec.Fingerprint), zap.Error(err))
			}
		}
	}
	metrics.ObserveEmitted(l.retailer, len(records))
	l.count(func(c *crawler.JobCounters) { c.ProductsEmitted += len(records) })
	return len(records)
}

// snapshot saves body for offline debugging, at most MaxSnapshots times per
// listing.
func (o *Orchestrator) snapshot(ctx context.Context, l *listing, kind string, body []byte) {
	if o.deps.Snapshots == nil || o.cfg.MaxSnapshots <= 0 || len(body) == 0 {
		return
	}
	l.mu.Lock()
	if l.snapshots >= o.cfg.MaxSnapshots {
		l.mu.Unlock()
		return
	}
	l.snapshots++
	l.mu.Unlock()

	digest, err := o.deps.Hasher.Hash(body)
	if err != nil {
		l.logger.Warn("snapshot hash failed", zap.Error(err))
		return
	}
	uri, err := o.deps.Snapshots.PutObject(ctx, o.snapshotPath(l, kind, digest), snapshotContentType, body)
	if err != nil {
		l.logger.Warn("snapshot write failed", zap.String("kind", kind), zap.Error(err))
		return
	}
	l.logger.Debug("snapshot saved", zap.String("kind", kind), zap.String("uri", uri))
}

func (o *Orchestrator) snapshotNode(ctx context.Context, l *listing, node *goquery.Selection) {
	if o.deps.Snapshots == nil || o.cfg.MaxSnapshots <= 0 {
		return
	}
	html, err := goquery.OuterHtml(node)
	if err != nil {
		return
	}
	o.snapshot(ctx, l, "no-image", []byte(html))
}

func (o *Orchestrator) snapshotPath(l *listing, kind, digest string) string {
	site := metrics.SanitizeSite(l.seed)
	name := fmt.Sprintf("%s/%s/%s-%s.html", l.run.jobID, site, kind, digest)
	prefix := strings.Trim(o.cfg.SnapshotPrefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
