package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "pushfeed/pkg/logx"
)

func TestPollerFetchesImmediatelyThenOnInterval(t *testing.T) {
	t.Parallel()
	var fetches atomic.Int64
	p := NewPoller(10*time.Millisecond, func(ctx context.Context) error {
		fetches.Add(1)
		return nil
	}, nil, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)
	defer cancel()

	waitFor(t, func() bool { return fetches.Load() >= 3 }, "poller did not keep fetching")
}

func TestPollerProbeSkipsUnchangedCounts(t *testing.T) {
	t.Parallel()
	var fetches atomic.Int64
	count := atomic.Int64{}
	count.Store(5)

	p := NewPoller(time.Minute, func(ctx context.Context) error {
		fetches.Add(1)
		return nil
	}, func(ctx context.Context) (int, error) {
		return int(count.Load()), nil
	}, logx.Nop())

	ctx := context.Background()
	p.tick(ctx)
	if fetches.Load() != 1 {
		t.Fatalf("first tick must fetch, got %d", fetches.Load())
	}

	// Unchanged count: skip the page fetch.
	p.tick(ctx)
	if fetches.Load() != 1 {
		t.Fatalf("unchanged count must skip the fetch, got %d", fetches.Load())
	}

	count.Store(6)
	p.tick(ctx)
	if fetches.Load() != 2 {
		t.Fatalf("changed count must trigger a fetch, got %d", fetches.Load())
	}
}

func TestPollerProbeFailureFallsThroughToFetch(t *testing.T) {
	t.Parallel()
	var fetches atomic.Int64
	p := NewPoller(time.Minute, func(ctx context.Context) error {
		fetches.Add(1)
		return nil
	}, func(ctx context.Context) (int, error) {
		return 0, errors.New("probe down")
	}, logx.Nop())

	p.tick(context.Background())
	if fetches.Load() != 1 {
		t.Fatalf("probe failure must fall through to the full fetch")
	}
}
