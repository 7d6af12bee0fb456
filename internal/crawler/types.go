// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusPartial   JobStatus = "partial"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// IsTerminal reports whether no further transitions are expected.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusPartial, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// JobParameters captures per-job configuration knobs requested by the client.
// Zero values fall back to the service configuration.
type JobParameters struct {
	Seeds           []string `json:"seeds" mapstructure:"seeds"`
	Retailer        string   `json:"retailer,omitempty" mapstructure:"retailer"`
	MaxPages        int      `json:"max_pages,omitempty" mapstructure:"max_pages"`
	AutoExpand      *bool    `json:"auto_expand,omitempty" mapstructure:"auto_expand"`
	MinSafePages    int      `json:"min_safe_pages,omitempty" mapstructure:"min_safe_pages"`
	HeadlessAllowed *bool    `json:"headless_allowed,omitempty" mapstructure:"headless_allowed"`
}

// Job represents the metadata persisted for each submitted crawl request.
type Job struct {
	ID         string          `json:"id"`
	Status     JobStatus       `json:"status"`
	Submitted  time.Time       `json:"submitted_at"`
	Started    *time.Time      `json:"started_at,omitempty"`
	Finished   *time.Time      `json:"finished_at,omitempty"`
	ErrorText  string          `json:"error_text,omitempty"`
	Parameters JobParameters   `json:"parameters"`
	Counters   JobCounters     `json:"counters"`
	Listings   []ListingResult `json:"listings,omitempty"`
}

// JobCounters tracks crawl statistics per job.
type JobCounters struct {
	PagesFetched    int `json:"pages_fetched"`
	PagesSkipped    int `json:"pages_skipped"`
	Rehydrations    int `json:"rehydrations"`
	Retries         int `json:"retries"`
	ProductsEmitted int `json:"products_emitted"`
	Duplicates      int `json:"duplicates"`
	DetailFetches   int `json:"detail_fetches"`
	ListingsFailed  int `json:"listings_failed"`
}

// Add folds other into c.
func (c *JobCounters) Add(other JobCounters) {
	c.PagesFetched += other.PagesFetched
	c.PagesSkipped += other.PagesSkipped
	c.Rehydrations += other.Rehydrations
	c.Retries += other.Retries
	c.ProductsEmitted += other.ProductsEmitted
	c.Duplicates += other.Duplicates
	c.DetailFetches += other.DetailFetches
	c.ListingsFailed += other.ListingsFailed
}

// ListingResult summarizes how one listing crawl ended.
type ListingResult struct {
	SeedURL    string      `json:"seed_url"`
	Retailer   string      `json:"retailer"`
	Pages      int         `json:"pages"`
	PageSize   int         `json:"page_size"`
	TotalCount int         `json:"total_count,omitempty"`
	Reason     string      `json:"reason"`
	Failed     bool        `json:"failed"`
	ErrorText  string      `json:"error_text,omitempty"`
	Counters   JobCounters `json:"counters"`
}

// ProductRecord is the cleaned, deduplicated output of the engine.
type ProductRecord struct {
	Name         string    `json:"name"`
	Price        string    `json:"price"`
	NumericPrice *float64  `json:"numeric_price"`
	ImageURL     string    `json:"image_url,omitempty"`
	Category     string    `json:"category,omitempty"`
	SourceURL    string    `json:"source_url"`
	DetailURL    string    `json:"detail_url,omitempty"`
	Retailer     string    `json:"retailer"`
	Fingerprint  string    `json:"fingerprint"`
	ScrapedAt    time.Time `json:"scraped_at"`
}

// StoreKey is the upsert key used by downstream stores.
func (r ProductRecord) StoreKey() string {
	if r.DetailURL != "" {
		return r.DetailURL
	}
	return r.Name
}

// Candidate is a tentative extracted value produced by one strategy.
// Weight is a pixel width for images and a cascade rank for categories.
type Candidate struct {
	Value  string
	Weight int
	Source string
	Alt    string
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	JobID       string
	URL         string
	Script      Script
	UseHeadless bool
	Headers     http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Params    JobParameters
	Attempt   int
	Submitted int64
}
