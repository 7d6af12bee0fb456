package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shelfscan/internal/crawler"
	"github.com/JakeFAU/shelfscan/internal/orchestrator"
	memqueue "github.com/JakeFAU/shelfscan/internal/queue/memory"
	"github.com/JakeFAU/shelfscan/internal/storage/memory"
)

type runnerMock struct{ mock.Mock }

func (m *runnerMock) Run(ctx context.Context, jobID string, params crawler.JobParameters) (orchestrator.Result, error) {
	args := m.Called(ctx, jobID, params)
	return args.Get(0).(orchestrator.Result), args.Error(1)
}

func newJob(t *testing.T, store *memory.JobStore, id string, seeds ...string) crawler.QueueItem {
	t.Helper()
	params := crawler.JobParameters{Seeds: seeds}
	require.NoError(t, store.CreateJob(context.Background(), crawler.Job{
		ID:         id,
		Status:     crawler.JobStatusQueued,
		Parameters: params,
	}))
	return crawler.QueueItem{JobID: id, Params: params}
}

func TestProcessFinalStatus(t *testing.T) {
	t.Parallel()

	ok := crawler.ListingResult{SeedURL: "https://shop.example/a", Reason: "final_page", Counters: crawler.JobCounters{PagesFetched: 2}}
	failed := crawler.ListingResult{SeedURL: "https://shop.example/b", Reason: "seed_failed", Failed: true, ErrorText: "status 404"}
	storeErr := crawler.ListingResult{SeedURL: "https://shop.example/c", Reason: "max_pages", ErrorText: "store upsert: boom"}

	tests := []struct {
		name     string
		result   orchestrator.Result
		err      error
		want     crawler.JobStatus
		wantText string
		recorded int
	}{
		{
			name:     "all listings succeed",
			result:   orchestrator.Result{Listings: []crawler.ListingResult{ok}, Counters: crawler.JobCounters{PagesFetched: 2}},
			want:     crawler.JobStatusSucceeded,
			recorded: 1,
		},
		{
			name:     "one listing fails",
			result:   orchestrator.Result{Listings: []crawler.ListingResult{ok, failed}},
			want:     crawler.JobStatusPartial,
			wantText: "https://shop.example/b: status 404",
			recorded: 2,
		},
		{
			name:     "store error on a finished listing",
			result:   orchestrator.Result{Listings: []crawler.ListingResult{storeErr}},
			want:     crawler.JobStatusPartial,
			wantText: "https://shop.example/c: store upsert: boom",
			recorded: 1,
		},
		{
			name:     "every listing fails",
			result:   orchestrator.Result{Listings: []crawler.ListingResult{failed}},
			want:     crawler.JobStatusFailed,
			wantText: "https://shop.example/b: status 404",
			recorded: 1,
		},
		{
			name:     "unusable input",
			err:      orchestrator.ErrNoSeeds,
			want:     crawler.JobStatusFailed,
			wantText: orchestrator.ErrNoSeeds.Error(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := memory.NewJobStore(nil)
			item := newJob(t, store, "job-1", "https://shop.example/a")
			runner := &runnerMock{}
			runner.On("Run", mock.Anything, "job-1", item.Params).Return(tt.result, tt.err).Once()

			New(memqueue.NewQueue(1), store, runner, nil, nil).Process(context.Background(), item)

			job, err := store.GetJob(context.Background(), "job-1")
			require.NoError(t, err)
			require.Equal(t, tt.want, job.Status)
			require.Equal(t, tt.wantText, job.ErrorText)
			require.Len(t, job.Listings, tt.recorded)
			require.Equal(t, tt.result.Counters, job.Counters)
			require.NotNil(t, job.Started)
			require.NotNil(t, job.Finished)
			runner.AssertExpectations(t)
		})
	}
}

func TestProcessCancelWhileRunning(t *testing.T) {
	t.Parallel()

	store := memory.NewJobStore(nil)
	item := newJob(t, store, "job-2", "https://shop.example/a")
	registry := NewRegistry()
	started := make(chan struct{})

	runner := &runnerMock{}
	runner.On("Run", mock.Anything, "job-2", item.Params).
		Run(func(args mock.Arguments) {
			close(started)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(orchestrator.Result{}, errors.New("run canceled: context canceled")).Once()

	done := make(chan struct{})
	go func() {
		New(memqueue.NewQueue(1), store, runner, registry, nil).Process(context.Background(), item)
		close(done)
	}()

	<-started
	require.Equal(t, 1, registry.Running())
	require.True(t, registry.Cancel("job-2"))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not stop after cancel")
	}

	job, err := store.GetJob(context.Background(), "job-2")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCanceled, job.Status)
	require.Zero(t, registry.Running())
}

func TestProcessCanceledBeforeStart(t *testing.T) {
	t.Parallel()

	store := memory.NewJobStore(nil)
	item := newJob(t, store, "job-3", "https://shop.example/a")
	registry := NewRegistry()
	require.False(t, registry.Cancel("job-3"))

	runner := &runnerMock{}
	New(memqueue.NewQueue(1), store, runner, registry, nil).Process(context.Background(), item)

	job, err := store.GetJob(context.Background(), "job-3")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCanceled, job.Status)
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessSkipsFinishedJob(t *testing.T) {
	t.Parallel()

	store := memory.NewJobStore(nil)
	item := newJob(t, store, "job-4", "https://shop.example/a")
	require.NoError(t, store.UpdateJobStatus(context.Background(), "job-4", crawler.JobStatusCanceled, "", crawler.JobCounters{}))

	runner := &runnerMock{}
	New(memqueue.NewQueue(1), store, runner, nil, nil).Process(context.Background(), item)
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunDrainsQueue(t *testing.T) {
	t.Parallel()

	store := memory.NewJobStore(nil)
	q := memqueue.NewQueue(2)
	runner := &runnerMock{}
	for _, id := range []string{"job-5", "job-6"} {
		item := newJob(t, store, id, "https://shop.example/"+id)
		runner.On("Run", mock.Anything, id, item.Params).
			Return(orchestrator.Result{Listings: []crawler.ListingResult{{SeedURL: item.Params.Seeds[0]}}}, nil).Once()
		require.NoError(t, q.Enqueue(context.Background(), item))
	}
	q.Close()

	New(q, store, runner, nil, nil).Run(context.Background())

	for _, id := range []string{"job-5", "job-6"} {
		job, err := store.GetJob(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, crawler.JobStatusSucceeded, job.Status)
	}
	runner.AssertExpectations(t)
}
