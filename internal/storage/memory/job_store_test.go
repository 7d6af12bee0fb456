package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shelfscan/internal/crawler"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	store := NewJobStore(fixedClock{now})
	ctx := context.Background()
	job := crawler.Job{ID: "job-1", Status: crawler.JobStatusQueued}

	require.NoError(t, store.CreateJob(ctx, job))
	require.ErrorIs(t, store.CreateJob(ctx, job), crawler.ErrJobExists)
	require.NoError(t, store.UpdateJobStatus(ctx, job.ID, crawler.JobStatusRunning, "", crawler.JobCounters{}))

	listing := crawler.ListingResult{SeedURL: "https://shop.example/c/milk", Reason: "max_pages", Pages: 3}
	require.NoError(t, store.RecordListing(ctx, job.ID, listing))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	got.Listings[0].Reason = "modified"

	require.NoError(t, store.UpdateJobStatus(ctx, job.ID, crawler.JobStatusSucceeded, "", crawler.JobCounters{PagesFetched: 3}))
	final, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusSucceeded, final.Status)
	require.Equal(t, now, *final.Started)
	require.Equal(t, now, *final.Finished)
	require.Equal(t, 3, final.Counters.PagesFetched)
	require.Equal(t, "max_pages", final.Listings[0].Reason)

	// Terminal status sticks.
	require.NoError(t, store.UpdateJobStatus(ctx, job.ID, crawler.JobStatusRunning, "", crawler.JobCounters{}))
	final, err = store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusSucceeded, final.Status)
}

func TestJobStoreMissingJob(t *testing.T) {
	t.Parallel()

	store := NewJobStore(nil)
	ctx := context.Background()
	_, err := store.GetJob(ctx, "nope")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.ErrorIs(t, store.UpdateJobStatus(ctx, "nope", crawler.JobStatusRunning, "", crawler.JobCounters{}), crawler.ErrNotFound)
	require.ErrorIs(t, store.RecordListing(ctx, "nope", crawler.ListingResult{}), crawler.ErrNotFound)
}
