package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/shelfscan/internal/crawler"
	"github.com/JakeFAU/shelfscan/internal/crawlstate"
	"github.com/JakeFAU/shelfscan/internal/document"
	"github.com/JakeFAU/shelfscan/internal/hash/sha256"
)

type fakePage struct {
	body string
	err  error
}

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]fakePage
	calls []crawler.FetchRequest
}

func newFakeFetcher(pages map[string]fakePage) *fakeFetcher {
	return &fakeFetcher{pages: pages}
}

func (f *fakeFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	p, ok := f.pages[req.URL]
	f.mu.Unlock()
	if !ok {
		return crawler.FetchResponse{}, crawler.NewStatusError(req.URL, http.StatusNotFound)
	}
	if p.err != nil {
		return crawler.FetchResponse{}, p.err
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(p.body)}, nil
}

func (f *fakeFetcher) requests() []crawler.FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crawler.FetchRequest(nil), f.calls...)
}

func (f *fakeFetcher) count(url string) int {
	n := 0
	for _, c := range f.requests() {
		if c.URL == url {
			n++
		}
	}
	return n
}

type storeMock struct {
	mock.Mock
	mu      sync.Mutex
	records []crawler.ProductRecord
}

func (m *storeMock) Upsert(ctx context.Context, retailer string, records []crawler.ProductRecord) error {
	args := m.Called(ctx, retailer, records)
	if args.Error(0) == nil {
		m.mu.Lock()
		m.records = append(m.records, records...)
		m.mu.Unlock()
	}
	return args.Error(0)
}

func (m *storeMock) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.Name)
	}
	sort.Strings(out)
	return out
}

type publisherMock struct {
	mock.Mock
}

func (m *publisherMock) Publish(ctx context.Context, topic string, payload any) (string, error) {
	args := m.Called(ctx, topic, payload)
	return args.String(0), args.Error(1)
}

type detectorStub bool

func (d detectorStub) ShouldPromote(crawler.FetchResponse) bool { return bool(d) }

type blobRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (b *blobRecorder) PutObject(_ context.Context, path, _ string, _ []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paths = append(b.paths, path)
	return "mem://" + path, nil
}

func card(id, name, img, href string) string {
	if img == "" {
		img = "data:image/gif;base64,R0"
	}
	return fmt.Sprintf(`<div class="product-list__item" data-cnstrc-item-id="%s" data-cnstrc-item-name="%s">
<a class="product--view" href="%s"><img src="%s" alt="%s"></a><span class="price">R 10.00</span></div>`, id, name, href, img, name)
}

func html(parts ...string) string {
	return "<html><head></head><body>" + strings.Join(parts, "") + "</body></html>"
}

func testConfig() Config {
	return Config{
		State:              crawlstate.DefaultConfig(),
		ListingConcurrency: 2,
		DetailConcurrency:  2,
		FetchTimeout:       time.Second,
		Topic:              "records",
	}
}

func testDeps(probe crawler.Fetcher, store crawler.ProductStore) Deps {
	return Deps{
		Probe:  probe,
		Store:  store,
		Hasher: sha256.New(),
		Retry:  crawler.NewExponentialRetryPolicy(2, time.Millisecond, 2*time.Millisecond),
	}
}

func newOrchestrator(t *testing.T, cfg Config, deps Deps) *Orchestrator {
	t.Helper()
	o, err := New(cfg, deps, zap.NewNop())
	require.NoError(t, err)
	return o
}

func TestRunPaginatesDedupsAndBackfillsImages(t *testing.T) {
	t.Parallel()

	seed := "https://shop.example/c/bakery"
	probe := newFakeFetcher(map[string]fakePage{
		seed: {body: html("<p>Showing 1-2 of 4 results</p>",
			card("A1", "Brown Bread", "/img/brown.jpg", "/p/brown-bread"),
			card("B2", "White Bread", "", "/p/white-bread"),
		)},
		seed + "?No=2": {body: html(
			card("C3", "Rye Bread", "/img/rye.jpg", "/p/rye-bread"),
			card("A1", "Brown Bread", "/img/brown.jpg", "/p/brown-bread"),
		)},
		"https://shop.example/p/white-bread": {body: html(`<h1>White Bread</h1><img src="data:image/gif;base64,R0" data-src="/img/white.jpg">`)},
	})
	store := &storeMock{}
	store.On("Upsert", mock.Anything, "Shop", mock.Anything).Return(nil)
	pub := &publisherMock{}
	pub.On("Publish", mock.Anything, "records", mock.AnythingOfType("crawler.ProductRecord")).Return("id", nil)

	deps := testDeps(probe, store)
	deps.Publisher = pub
	o := newOrchestrator(t, testConfig(), deps)

	res, err := o.Run(context.Background(), "job-1", crawler.JobParameters{Seeds: []string{seed}, Retailer: "Shop"})
	require.NoError(t, err)
	require.Len(t, res.Listings, 1)

	lr := res.Listings[0]
	require.Equal(t, string(crawlstate.ReasonMaxPages), lr.Reason)
	require.Equal(t, 2, lr.Pages)
	require.Equal(t, 2, lr.PageSize)
	require.Equal(t, 4, lr.TotalCount)
	require.False(t, lr.Failed)

	require.Equal(t, []string{"Brown Bread", "Rye Bread", "White Bread"}, store.names())
	require.Equal(t, 3, res.Counters.ProductsEmitted)
	require.Equal(t, 1, res.Counters.Duplicates)
	require.Equal(t, 2, res.Counters.PagesFetched)
	require.Equal(t, 1, res.Counters.DetailFetches)
	require.Equal(t, 1, probe.count("https://shop.example/p/white-bread"))
	pub.AssertNumberOfCalls(t, "Publish", 3)

	for _, rec := range store.records {
		require.Equal(t, "Shop", rec.Retailer)
		require.NotEmpty(t, rec.Fingerprint)
		if rec.Name == "White Bread" {
			require.Equal(t, "https://shop.example/img/white.jpg", rec.ImageURL)
			require.Equal(t, seed, rec.SourceURL)
		}
	}
}

func TestSeedFailureIsolatedToListing(t *testing.T) {
	t.Parallel()

	good := "https://shop.example/c/dairy"
	probe := newFakeFetcher(map[string]fakePage{
		good: {body: html("<p>1 results</p>", card("M1", "Milk", "/img/milk.jpg", "/p/milk"))},
	})
	store := &storeMock{}
	store.On("Upsert", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	o := newOrchestrator(t, testConfig(), testDeps(probe, store))

	res, err := o.Run(context.Background(), "job-2", crawler.JobParameters{
		Seeds: []string{"https://shop.example/c/missing", good},
	})
	require.NoError(t, err)
	require.True(t, res.Listings[0].Failed)
	require.Equal(t, string(crawlstate.ReasonSeedFailed), res.Listings[0].Reason)
	require.Contains(t, res.Listings[0].ErrorText, "status 404")
	require.False(t, res.Listings[1].Failed)
	require.Equal(t, 1, res.Counters.ListingsFailed)
	require.Equal(t, 1, res.Counters.ProductsEmitted)
	require.Equal(t, 1, probe.count("https://shop.example/c/missing"))
}

func TestTransientErrorsRetryThenSkipPage(t *testing.T) {
	t.Parallel()

	seed := "https://shop.example/c/snacks?page=1"
	probe := newFakeFetcher(map[string]fakePage{
		seed: {body: html(card("S1", "Chips", "/img/chips.jpg", "/p/chips"))},
		"https://shop.example/c/snacks?page=2": {err: crawler.NewStatusError("https://shop.example/c/snacks?page=2", http.StatusServiceUnavailable)},
	})
	store := &storeMock{}
	store.On("Upsert", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	cfg := testConfig()
	cfg.State.MaxPages = 2
	cfg.State.AutoExpand = false
	o := newOrchestrator(t, cfg, testDeps(probe, store))

	res, err := o.Run(context.Background(), "job-3", crawler.JobParameters{Seeds: []string{seed}})
	require.NoError(t, err)
	lr := res.Listings[0]
	require.Equal(t, string(crawlstate.ReasonMaxPages), lr.Reason)
	require.Equal(t, 1, res.Counters.PagesSkipped)
	require.Equal(t, 1, res.Counters.Retries)
	require.Equal(t, 2, probe.count("https://shop.example/c/snacks?page=2"))
}

func TestConcurrentListingsEmitEachProductOnce(t *testing.T) {
	t.Parallel()

	body := html("<p>3 results</p>",
		card("P1", "Apples", "/img/a.jpg", "/p/apples"),
		card("P2", "Pears", "", "/p/pears"),
		card("P3", "Plums", "/img/c.jpg", "/p/plums"),
	)
	seeds := []string{
		"https://www.checkers.co.za/c/fruit",
		"https://www.checkers.co.za/c/fresh",
		"https://www.checkers.co.za/c/deals",
	}
	pages := map[string]fakePage{
		"https://www.checkers.co.za/p/pears": {body: html(`<img src="/img/pears.jpg" alt="Pears">`)},
	}
	for _, s := range seeds {
		pages[s] = fakePage{body: body}
	}
	probe := newFakeFetcher(pages)
	store := &storeMock{}
	store.On("Upsert", mock.Anything, "Checkers", mock.Anything).Return(nil)

	cfg := testConfig()
	cfg.ListingConcurrency = 3
	o := newOrchestrator(t, cfg, testDeps(probe, store))

	res, err := o.Run(context.Background(), "job-4", crawler.JobParameters{Seeds: seeds})
	require.NoError(t, err)
	require.Equal(t, []string{"Apples", "Pears", "Plums"}, store.names())
	require.Equal(t, 3, res.Counters.ProductsEmitted)
	require.Equal(t, 6, res.Counters.Duplicates)
	require.Equal(t, 1, probe.count("https://www.checkers.co.za/p/pears"))
}

func TestEmptyPageRehydratesThroughHeadless(t *testing.T) {
	t.Parallel()

	seed := "https://shop.example/c/frozen"
	probe := newFakeFetcher(map[string]fakePage{
		seed: {body: html("<div id=\"app\">loading</div>")},
	})
	headless := newFakeFetcher(map[string]fakePage{
		seed: {body: html("<p>2 products</p>",
			card("F1", "Peas", "/img/peas.jpg", "/p/peas"),
			card("F2", "Ice Cream", "/img/ice.jpg", "/p/ice"),
		)},
	})
	store := &storeMock{}
	store.On("Upsert", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	cfg := testConfig()
	cfg.HeadlessAllowed = true
	deps := testDeps(probe, store)
	deps.Headless = headless
	deps.Detector = detectorStub(false)
	o := newOrchestrator(t, cfg, deps)

	res, err := o.Run(context.Background(), "job-5", crawler.JobParameters{Seeds: []string{seed}})
	require.NoError(t, err)
	require.Equal(t, 1, res.Counters.Rehydrations)
	require.Equal(t, 2, res.Counters.ProductsEmitted)
	require.Equal(t, string(crawlstate.ReasonMaxPages), res.Listings[0].Reason)

	calls := headless.requests()
	require.Len(t, calls, 1)
	require.True(t, calls[0].UseHeadless)
	require.Equal(t, crawler.ScriptRehydrate, calls[0].Script)
	require.Equal(t, crawler.ScriptListing, probe.requests()[0].Script)
}

func TestHeadlessDisallowedPerJob(t *testing.T) {
	t.Parallel()

	seed := "https://shop.example/c/tins"
	probe := newFakeFetcher(map[string]fakePage{
		seed: {body: html("<p>1 results</p>", card("T1", "Beans", "/img/beans.jpg", "/p/beans"))},
	})
	headless := newFakeFetcher(map[string]fakePage{})
	store := &storeMock{}
	store.On("Upsert", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	cfg := testConfig()
	cfg.HeadlessAllowed = true
	deps := testDeps(probe, store)
	deps.Headless = headless
	deps.Detector = detectorStub(true)
	o := newOrchestrator(t, cfg, deps)

	off := false
	_, err := o.Run(context.Background(), "job-6", crawler.JobParameters{Seeds: []string{seed}, HeadlessAllowed: &off})
	require.NoError(t, err)
	require.Empty(t, headless.requests())

	_, err = o.Run(context.Background(), "job-7", crawler.JobParameters{Seeds: []string{seed}})
	require.NoError(t, err)
	require.Len(t, headless.requests(), 1)
}

func TestHeadlessPromotionFailureKeepsProbe(t *testing.T) {
	t.Parallel()

	seed := "https://shop.example/c/oil"
	probe := newFakeFetcher(map[string]fakePage{
		seed: {body: html("<p>1 results</p>", card("O1", "Olive Oil", "/img/oil.jpg", "/p/oil"))},
	})
	store := &storeMock{}
	store.On("Upsert", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	cfg := testConfig()
	cfg.HeadlessAllowed = true
	deps := testDeps(probe, store)
	deps.Headless = newFakeFetcher(map[string]fakePage{seed: {err: &crawler.FetchError{URL: seed, Kind: crawler.FetchErrorRender}}})
	deps.Detector = detectorStub(true)
	o := newOrchestrator(t, cfg, deps)

	res, err := o.Run(context.Background(), "job-8", crawler.JobParameters{Seeds: []string{seed}})
	require.NoError(t, err)
	require.Equal(t, 1, res.Counters.ProductsEmitted)
}

func TestStoreFailureRecordedOnListing(t *testing.T) {
	t.Parallel()

	seed := "https://shop.example/c/rice"
	probe := newFakeFetcher(map[string]fakePage{
		seed: {body: html("<p>1 results</p>", card("R1", "Rice", "/img/rice.jpg", "/p/rice"))},
	})
	store := &storeMock{}
	store.On("Upsert", mock.Anything, mock.Anything, mock.Anything).Return(fmt.Errorf("db down"))
	o := newOrchestrator(t, testConfig(), testDeps(probe, store))

	res, err := o.Run(context.Background(), "job-9", crawler.JobParameters{Seeds: []string{seed}})
	require.NoError(t, err)
	require.Contains(t, res.Listings[0].ErrorText, "db down")
	require.Zero(t, res.Counters.ProductsEmitted)
}

func TestRunCanceled(t *testing.T) {
	t.Parallel()

	probe := newFakeFetcher(map[string]fakePage{})
	o := newOrchestrator(t, testConfig(), testDeps(probe, nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := o.Run(ctx, "job-10", crawler.JobParameters{Seeds: []string{"https://shop.example/c/a"}})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, string(crawlstate.ReasonCanceled), res.Listings[0].Reason)
	require.Empty(t, probe.requests())
}

func TestRunRequiresSeeds(t *testing.T) {
	t.Parallel()

	o := newOrchestrator(t, testConfig(), testDeps(newFakeFetcher(nil), nil))
	_, err := o.Run(context.Background(), "job", crawler.JobParameters{})
	require.ErrorIs(t, err, ErrNoSeeds)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(testConfig(), Deps{Hasher: sha256.New()}, nil)
	require.ErrorContains(t, err, "probe fetcher")

	_, err = New(testConfig(), Deps{Probe: newFakeFetcher(nil)}, nil)
	require.ErrorContains(t, err, "hasher")

	cfg := testConfig()
	cfg.State.DuplicateRatio = 0
	_, err = New(cfg, testDeps(newFakeFetcher(nil), nil), nil)
	require.Error(t, err)
}

func TestSnapshotsCappedPerListing(t *testing.T) {
	t.Parallel()

	seed := "https://shop.example/c/tea"
	probe := newFakeFetcher(map[string]fakePage{
		seed: {body: html(
			card("T1", "Rooibos", "", ""),
			card("T2", "Earl Grey", "", ""),
		)},
	})
	store := &storeMock{}
	store.On("Upsert", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	blobs := &blobRecorder{}

	cfg := testConfig()
	cfg.State.MaxPages = 1
	cfg.State.AutoExpand = false
	cfg.MaxSnapshots = 2
	cfg.SnapshotPrefix = "/snaps/"
	deps := testDeps(probe, store)
	deps.Snapshots = blobs
	o := newOrchestrator(t, cfg, deps)

	_, err := o.Run(context.Background(), "job-11", crawler.JobParameters{Seeds: []string{seed}})
	require.NoError(t, err)
	require.Len(t, blobs.paths, 2)
	for _, p := range blobs.paths {
		require.True(t, strings.HasPrefix(p, "snaps/job-11/shop.example/no-image-"), p)
	}
}

type penalizingLimiter struct {
	mu        sync.Mutex
	penalized []string
}

func (p *penalizingLimiter) Wait(context.Context, string) error { return nil }

func (p *penalizingLimiter) Penalize(url string) rate.Limit {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.penalized = append(p.penalized, url)
	return 0.5
}

func TestThrottledHostIsPenalizedAndBlocked(t *testing.T) {
	t.Parallel()

	seed := "https://slow.example/c/a"
	probe := newFakeFetcher(map[string]fakePage{
		seed: {err: crawler.NewStatusError(seed, http.StatusTooManyRequests)},
	})
	limiter := &penalizingLimiter{}
	deps := testDeps(probe, nil)
	deps.Limiter = limiter
	deps.Blocker = crawler.NewDomainBlocker(2)
	o := newOrchestrator(t, testConfig(), deps)

	res, err := o.Run(context.Background(), "job-12", crawler.JobParameters{Seeds: []string{seed}})
	require.NoError(t, err)
	require.True(t, res.Listings[0].Failed)
	require.Len(t, limiter.penalized, 2)
	require.True(t, deps.Blocker.IsBlocked("slow.example"))

	_, err = o.Run(context.Background(), "job-13", crawler.JobParameters{Seeds: []string{seed}})
	require.NoError(t, err)
	require.Equal(t, 2, probe.count(seed))
}

func TestJobOverridesStateConfig(t *testing.T) {
	t.Parallel()

	o := newOrchestrator(t, testConfig(), testDeps(newFakeFetcher(nil), nil))
	expand := false
	cfg := o.stateConfig(crawler.JobParameters{MaxPages: 7, AutoExpand: &expand, MinSafePages: 2})
	require.Equal(t, 7, cfg.MaxPages)
	require.False(t, cfg.AutoExpand)
	require.Equal(t, 2, cfg.MinSafePages)
	require.Equal(t, 24, cfg.DefaultPageSize)

	require.Equal(t, "Pick n Pay", o.retailer(crawler.JobParameters{}, "https://www.pnp.co.za/c/x"))
	require.Equal(t, "Own", o.retailer(crawler.JobParameters{Retailer: "Own"}, "https://www.pnp.co.za/c/x"))
}

func TestLazyImage(t *testing.T) {
	t.Parallel()

	doc, err := document.Parse("https://shop.example/p/x", []byte(html(
		`<img src="/img/real.jpg" data-src="/img/ignored.jpg">`,
		`<img src="data:image/png;base64,AA" data-src="/img/lazy.jpg">`,
	)))
	require.NoError(t, err)
	require.Equal(t, "https://shop.example/img/lazy.jpg", lazyImage(doc))

	doc, err = document.Parse("https://shop.example/p/x", []byte(html(`<img src="/img/real.jpg">`)))
	require.NoError(t, err)
	require.Empty(t, lazyImage(doc))
}
