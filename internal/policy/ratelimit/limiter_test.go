package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestLimiterWaitPacesSameHost(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://shop.example/c?page=1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://shop.example/c?page=2"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterDifferentHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example/1"))
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.5, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://shop.example"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://shop.example"))
}

func TestPenalize(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 2})
	require.Equal(t, rate.Limit(1), l.Penalize("https://shop.example/a"))
	require.Equal(t, rate.Limit(0.5), l.Penalize("https://shop.example/b"))
	for i := 0; i < 10; i++ {
		l.Penalize("https://shop.example/c")
	}
	require.Equal(t, minRate, l.Rate("https://shop.example"))
	require.Equal(t, rate.Limit(2), l.Rate("https://other.example"))

	unpaced := New(Config{})
	require.Equal(t, rate.Inf, unpaced.Penalize("https://shop.example"))
}
