package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/shelfscan/internal/clock"
	"github.com/JakeFAU/shelfscan/internal/crawler"
	"github.com/JakeFAU/shelfscan/internal/dispatcher"
	"github.com/JakeFAU/shelfscan/internal/id/uuid"
	queueMemory "github.com/JakeFAU/shelfscan/internal/queue/memory"
	"github.com/JakeFAU/shelfscan/internal/storage/memory"
)

type fixture struct {
	server *Server
	queue  *queueMemory.Queue
	store  *memory.JobStore
}

func newFixture(t *testing.T, depth int, opts Options) fixture {
	t.Helper()
	store := memory.NewJobStore(clock.Fixed(time.Unix(100, 0).UTC()))
	q := queueMemory.NewQueue(depth)
	d := dispatcher.New(dispatcher.Deps{
		Queue: q,
		Jobs:  store,
		IDs:   uuid.New(),
		Clock: clock.Fixed(time.Unix(100, 0).UTC()),
	}, zap.NewNop())
	return fixture{server: NewServer(d, opts, zap.NewNop()), queue: q, store: store}
}

func (f fixture) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeJob(t *testing.T, rec *httptest.ResponseRecorder) crawler.Job {
	t.Helper()
	var job crawler.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	return job
}

func TestSubmitJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 4, Options{})
	rec := f.do(http.MethodPost, "/v1/jobs",
		`{"seeds":["https://www.checkers.co.za/c-2413/All-Departments/Food"],"max_pages":3,"headless_allowed":false}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	job := decodeJob(t, rec)
	require.True(t, uuid.Valid(job.ID))
	require.Equal(t, crawler.JobStatusQueued, job.Status)
	require.Equal(t, "/v1/jobs/"+job.ID, rec.Header().Get("Location"))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	item, err := f.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, job.ID, item.JobID)
	require.Equal(t, 3, item.Params.MaxPages)
	require.NotNil(t, item.Params.HeadlessAllowed)
	require.False(t, *item.Params.HeadlessAllowed)
}

func TestSubmitJobRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want int
		msg  string
	}{
		{"invalid json", `{invalid`, http.StatusBadRequest, "invalid JSON"},
		{"unknown field", `{"urls":["https://shop.example"]}`, http.StatusBadRequest, "invalid JSON"},
		{"no seeds", `{"seeds":[]}`, http.StatusBadRequest, "at least one seed"},
		{"bad seed", `{"seeds":["mailto:x@y"]}`, http.StatusBadRequest, "invalid job"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, 1, Options{})
			rec := f.do(http.MethodPost, "/v1/jobs", tt.body)
			require.Equal(t, tt.want, rec.Code)
			require.Contains(t, rec.Body.String(), tt.msg)
			require.Zero(t, f.queue.Len())
		})
	}
}

func TestSubmitJobQueueFull(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1, Options{})
	body := `{"seeds":["https://shop.example/c/milk"]}`
	require.Equal(t, http.StatusAccepted, f.do(http.MethodPost, "/v1/jobs", body).Code)

	rec := f.do(http.MethodPost, "/v1/jobs", body)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "30", rec.Header().Get("Retry-After"))
}

func TestGetAndCancelJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2, Options{})
	submitted := decodeJob(t, f.do(http.MethodPost, "/v1/jobs", `{"seeds":["https://shop.example/c/milk"]}`))

	rec := f.do(http.MethodGet, "/v1/jobs/"+submitted.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, crawler.JobStatusQueued, decodeJob(t, rec).Status)

	rec = f.do(http.MethodDelete, "/v1/jobs/"+submitted.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, crawler.JobStatusCanceled, decodeJob(t, rec).Status)

	stored, err := f.store.GetJob(context.Background(), submitted.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCanceled, stored.Status)
}

func TestJobNotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1, Options{})
	for _, path := range []string{
		"/v1/jobs/0190a3f2-7c1e-7d3a-9b2c-1f2e3d4c5b6a",
		"/v1/jobs/not-a-uuid",
	} {
		require.Equal(t, http.StatusNotFound, f.do(http.MethodGet, path, "").Code, path)
		require.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, path, "").Code, path)
	}
}

func TestAPIKey(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1, Options{APIKey: "secret"})
	body := `{"seeds":["https://shop.example/c/milk"]}`

	require.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/v1/jobs", body).Code)
	require.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/v1/jobs", body, "X-API-Key", "wrong").Code)
	require.Equal(t, http.StatusAccepted, f.do(http.MethodPost, "/v1/jobs", body, "X-API-Key", "secret").Code)
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/healthz", "").Code)
}

func TestReadiness(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1, Options{Checks: map[string]ReadinessCheck{
		"store": func(context.Context) error { return nil },
	}})
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/readyz", "").Code)

	f = newFixture(t, 1, Options{Checks: map[string]ReadinessCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	}})
	rec := f.do(http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "connection refused")
}

func TestMetricsAndCORS(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1, Options{AllowedOrigins: []string{"https://ops.example"}})
	rec := f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")

	rec = f.do(http.MethodOptions, "/v1/jobs", "",
		"Origin", "https://ops.example",
		"Access-Control-Request-Method", http.MethodPost,
	)
	require.Equal(t, "https://ops.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = f.do(http.MethodGet, "/healthz", "", "Origin", "https://evil.example")
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, Options{}, zap.NewNop())
	h := s.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
