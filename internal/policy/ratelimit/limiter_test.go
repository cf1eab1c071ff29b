package ratelimit

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/newscorpus/internal/harvest"
)

func TestLimiterWaitsPerHost(t *testing.T) {
	t.Parallel()

	l := New(Config{PerHost: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://thanhnien.test/a"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://other.test/a"))
	assert.Less(t, time.Since(start), 50*time.Millisecond, "other hosts have their own bucket")

	start = time.Now()
	require.NoError(t, l.Wait(ctx, "https://thanhnien.test/b"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterHonorsCancellation(t *testing.T) {
	t.Parallel()

	l := New(Config{PerHost: 0.01, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.test/"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "https://slow.test/")
	require.Error(t, err)
}

func TestTransportPassThroughWhenDisabled(t *testing.T) {
	t.Parallel()

	next := &countingTransport{}
	assert.Same(t, harvest.Transport(next), New(Config{}).Transport(next))
}

func TestTransportWaitsBeforeFetch(t *testing.T) {
	t.Parallel()

	next := &countingTransport{}
	tr := New(Config{PerHost: 1000, Burst: 2}).Transport(next)
	for range 3 {
		resp, err := tr.Fetch(context.Background(), harvest.FetchRequest{URL: "https://news.test/x"})
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
	}
	assert.Equal(t, int32(3), next.calls.Load())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	blocked := New(Config{PerHost: 0.01, Burst: 1}).Transport(next)
	_, err := blocked.Fetch(context.Background(), harvest.FetchRequest{URL: "https://news.test/y"})
	require.NoError(t, err)
	_, err = blocked.Fetch(ctx, harvest.FetchRequest{URL: "https://news.test/y"})
	require.Error(t, err)
	assert.Equal(t, int32(4), next.calls.Load())
}

type countingTransport struct {
	calls atomic.Int32
}

func (c *countingTransport) Fetch(_ context.Context, req harvest.FetchRequest) (harvest.FetchResponse, error) {
	c.calls.Add(1)
	return harvest.FetchResponse{URL: req.URL, StatusCode: 200}, nil
}
