package refresh

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "pushfeed/pkg/logx"
)

type countingRefresher struct {
	calls atomic.Int64
}

func (c *countingRefresher) Refresh(ctx context.Context, force bool) error {
	if force {
		panic("scheduled runs must not force past the debounce")
	}
	c.calls.Add(1)
	return nil
}

func TestNewRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	if _, err := New("not a schedule", &countingRefresher{}, logx.Nop()); err == nil {
		t.Fatalf("invalid cron spec must be rejected")
	}
}

func TestScheduledRefreshRuns(t *testing.T) {
	t.Parallel()
	target := &countingRefresher{}
	svc, err := New("@every 100ms", target, logx.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	svc.Start()
	defer svc.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if target.calls.Load() >= 2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected at least 2 scheduled runs, got %d", target.calls.Load())
}
