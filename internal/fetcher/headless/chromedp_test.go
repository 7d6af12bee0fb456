package headless

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shelfscan/internal/crawler"
)

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	fetcher, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, fetcher.Close()) })
	require.NotNil(t, fetcher.slots)
	require.Equal(t, defaultNavigationTimeout, fetcher.navTimeout())
}

func TestNewRejectsUnknownEngine(t *testing.T) {
	t.Parallel()

	_, err := New("webkit", Config{})
	require.ErrorContains(t, err, "unknown headless engine")
}

func TestSlotsBlockUntilReleased(t *testing.T) {
	t.Parallel()

	slots := newSlots(1)
	require.NoError(t, acquireSlot(context.Background(), slots))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, acquireSlot(ctx, slots))

	releaseSlot(slots)
	require.NoError(t, acquireSlot(context.Background(), slots))

	require.Nil(t, newSlots(0))
	require.NoError(t, acquireSlot(context.Background(), nil))
	releaseSlot(nil)
}

func TestPlans(t *testing.T) {
	t.Parallel()

	listing := planFor(crawler.ScriptListing)
	require.Contains(t, listing.waitFor, "div.product-list__item")
	var joined strings.Builder
	for _, st := range listing.steps {
		joined.WriteString(st.js)
	}
	require.Contains(t, joined.String(), "data-scraped-image")
	require.Contains(t, joined.String(), "data-src")

	rehydrate := planFor(crawler.ScriptRehydrate)
	require.Greater(t, rehydrate.waitTimeout, listing.waitTimeout)
	var resize bool
	for _, st := range rehydrate.steps {
		resize = resize || strings.Contains(st.js, "resize")
	}
	require.True(t, resize)

	detail := planFor(crawler.ScriptDetail)
	require.NotEmpty(t, detail.steps)

	plain := planFor(crawler.ScriptNone)
	require.Empty(t, plain.waitFor)
	require.Len(t, plain.steps, 1)
}

func TestRenderErrorClassification(t *testing.T) {
	t.Parallel()

	var fe *crawler.FetchError
	err := renderError(context.Background(), "https://shop.example", context.DeadlineExceeded)
	require.ErrorAs(t, err, &fe)
	require.Equal(t, crawler.FetchErrorTimeout, fe.Kind)

	err = renderError(context.Background(), "https://shop.example", errors.New("target crashed"))
	require.ErrorAs(t, err, &fe)
	require.Equal(t, crawler.FetchErrorRender, fe.Kind)
	require.True(t, fe.Retryable())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = renderError(ctx, "https://shop.example", errors.New("context canceled"))
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, errors.As(err, &fe))
}

func TestForwardCancel(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()
	stop := forwardCancel(parent, cancelChild)
	defer stop()

	cancelParent()
	select {
	case <-child.Done():
	case <-time.After(time.Second):
		t.Fatal("child context not canceled")
	}
}

func TestCloneHeaderAndNetworkHeaders(t *testing.T) {
	t.Parallel()

	src := http.Header{"X-Test": {"a", "b"}}
	cloned := cloneHeader(src)
	cloned.Add("X-Test", "c")
	require.Len(t, src["X-Test"], 2)

	netHeaders := toNetworkHeaders(src)
	require.Equal(t, []string{"a", "b"}, netHeaders["X-Test"])
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeImage,
		Response: &network.Response{
			Status: 404,
			URL:    "https://shop.example/missing.png",
		},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  203,
			URL:     "https://shop.example/rendered",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})
	status, headers, url := meta.snapshotWithFallbacks("https://req", "")
	require.Equal(t, 203, status)
	require.Equal(t, "abc", headers.Get("X-Request-ID"))
	require.Equal(t, "https://shop.example/rendered", url)

	meta = newResponseMeta()
	status, _, url = meta.snapshotWithFallbacks("https://req", "https://final")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://final", url)
}

func TestNoopFetcherError(t *testing.T) {
	t.Parallel()

	_, err := NewNoop().Fetch(context.Background(), crawler.FetchRequest{URL: "https://shop.example"})
	var fe *crawler.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, crawler.FetchErrorRender, fe.Kind)
	require.ErrorIs(t, err, ErrDisabled)
	require.NoError(t, NewNoop().Close())
}
