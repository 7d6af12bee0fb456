package crawler

import (
	"context"
	"time"
)

// Script names the page interaction a renderer should run before capturing
// the DOM. Plain HTTP fetchers ignore it.
type Script string

// Interaction scripts understood by the headless fetchers.
const (
	ScriptNone      Script = ""
	ScriptListing   Script = "listing"
	ScriptRehydrate Script = "rehydrate"
	ScriptDetail    Script = "detail"
)

// JobStore persists job metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) error
	RecordListing(ctx context.Context, jobID string, result ListingResult) error
	GetJob(ctx context.Context, jobID string) (Job, error)
}

// ProductStore upserts emitted records keyed by retailer plus StoreKey.
type ProductStore interface {
	Upsert(ctx context.Context, retailer string, records []ProductRecord) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes record notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// DedupIndex tracks product identities for one crawl run.
type DedupIndex interface {
	State(ctx context.Context, fingerprint string) (IdentityState, error)
	Reserve(ctx context.Context, fingerprint string) (bool, error)
	Claim(ctx context.Context, fingerprint string) (bool, error)
	Complete(ctx context.Context, fingerprint string) (bool, error)
	Release(ctx context.Context, fingerprint string) error
}

// IdentityState is the tri-state value kept per fingerprint.
type IdentityState int

// Identity states.
const (
	IdentityUnseen IdentityState = iota
	IdentityReserved
	IdentitySeen
)

func (s IdentityState) String() string {
	switch s {
	case IdentityReserved:
		return "reserved"
	case IdentitySeen:
		return "seen"
	default:
		return "unseen"
	}
}

// Queue provides enqueue/dequeue semantics for crawl jobs.
type Queue interface {
	Enqueue(ctx context.Context, job QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// RateLimiter paces requests per host.
type RateLimiter interface {
	Wait(ctx context.Context, url string) error
}

// Hasher computes digests for fingerprints and snapshot names.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
