package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pushfeed/internal/eventbus"
	logx "pushfeed/pkg/logx"
)

type fakeSyncAPI struct {
	mu        sync.Mutex
	fail      bool
	listCalls int
	readIDs   [][]string
	readAlls  int
	clears    int
	snapshot  []Notification
}

func (f *fakeSyncAPI) ListNotifications(ctx context.Context, limit int) ([]Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.fail {
		return nil, errors.New("backend down")
	}
	return f.snapshot, nil
}

func (f *fakeSyncAPI) MarkRead(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("backend down")
	}
	f.readIDs = append(f.readIDs, ids)
	return nil
}

func (f *fakeSyncAPI) MarkAllRead(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("backend down")
	}
	f.readAlls++
	return nil
}

func (f *fakeSyncAPI) ClearAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("backend down")
	}
	f.clears++
	return nil
}

func (f *fakeSyncAPI) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func newTestService(api *fakeSyncAPI) *Service {
	return NewService(NewStore(), api, eventbus.New(), logx.Nop())
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestServiceIngestPublishesInsertions(t *testing.T) {
	t.Parallel()
	api := &fakeSyncAPI{}
	bus := eventbus.New()
	svc := NewService(NewStore(), api, bus, logx.Nop())

	ch, unsub := bus.Subscribe(8)
	defer unsub()

	inserted := svc.Ingest(mk("a", time.Now()))
	if len(inserted) != 1 {
		t.Fatalf("expected 1 inserted, got %d", len(inserted))
	}
	select {
	case ev := <-ch:
		if ev.Type != eventbus.TopicFeedAdded {
			t.Fatalf("expected %s, got %s", eventbus.TopicFeedAdded, ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no feed.added event published")
	}

	// Re-ingesting the same id is a silent no-op.
	if inserted := svc.Ingest(mk("a", time.Now())); len(inserted) != 0 {
		t.Fatalf("duplicate ingest inserted %d entries", len(inserted))
	}
}

func TestServiceMarkAsReadSyncs(t *testing.T) {
	t.Parallel()
	api := &fakeSyncAPI{}
	svc := newTestService(api)
	svc.Ingest(mk("a", time.Now()))

	svc.MarkAsRead("a")
	waitFor(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return len(api.readIDs) == 1
	}, "mark-read never reached the backend")

	if n, _ := svc.Store().Get("a"); !n.IsRead {
		t.Fatalf("local state must flip before the sync completes")
	}
}

func TestServiceSyncFailureQueuesAndFlushes(t *testing.T) {
	t.Parallel()
	api := &fakeSyncAPI{}
	api.setFail(true)
	svc := newTestService(api)
	svc.Ingest(mk("a", time.Now()))

	svc.MarkAsRead("a")
	waitFor(t, func() bool { return svc.PendingSyncCount() == 1 },
		"failed sync was not queued")

	// Local read state survives the failure.
	if n, _ := svc.Store().Get("a"); !n.IsRead {
		t.Fatalf("sync failure must not roll back local state")
	}

	api.setFail(false)
	svc.FlushPending(context.Background())
	if svc.PendingSyncCount() != 0 {
		t.Fatalf("flush left %d pending ops", svc.PendingSyncCount())
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.readIDs) != 1 {
		t.Fatalf("expected the queued op to replay, got %d calls", len(api.readIDs))
	}
}

func TestServiceRefreshReplaysQueuedSyncs(t *testing.T) {
	t.Parallel()
	api := &fakeSyncAPI{}
	api.setFail(true)
	svc := newTestService(api)
	svc.Ingest(mk("a", time.Now()))

	svc.MarkAsRead("a")
	waitFor(t, func() bool { return svc.PendingSyncCount() == 1 },
		"failed sync was not queued")

	// The reconnect and polling paths both land here; the queued op must
	// replay without any further prompting.
	api.setFail(false)
	if err := svc.Refresh(context.Background(), true); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if svc.PendingSyncCount() != 0 {
		t.Fatalf("refresh left %d pending ops", svc.PendingSyncCount())
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.readIDs) != 1 {
		t.Fatalf("expected the queued op to replay, got %d calls", len(api.readIDs))
	}
}

func TestServiceRefreshDebounce(t *testing.T) {
	t.Parallel()
	api := &fakeSyncAPI{snapshot: []Notification{mk("s", time.Now())}}
	svc := newTestService(api)

	now := time.Now()
	svc.SetClock(func() time.Time { return now })

	if err := svc.Refresh(context.Background(), false); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	// Inside the debounce window: dropped without touching the backend.
	if err := svc.Refresh(context.Background(), false); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	api.mu.Lock()
	calls := api.listCalls
	api.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected debounce to drop the second refresh, got %d calls", calls)
	}

	// force bypasses the window.
	if err := svc.Refresh(context.Background(), true); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	api.mu.Lock()
	calls = api.listCalls
	api.mu.Unlock()
	if calls != 2 {
		t.Fatalf("expected forced refresh to run, got %d calls", calls)
	}
}

func TestServiceFreezeStopsEverything(t *testing.T) {
	t.Parallel()
	api := &fakeSyncAPI{}
	svc := newTestService(api)
	svc.Ingest(mk("a", time.Now()))

	svc.Freeze()

	if inserted := svc.Ingest(mk("b", time.Now())); inserted != nil {
		t.Fatalf("frozen service ingested entries")
	}
	if err := svc.Refresh(context.Background(), true); err != nil {
		t.Fatalf("frozen refresh must be a silent no-op, got %v", err)
	}
	svc.MarkAllAsRead()
	api.mu.Lock()
	defer api.mu.Unlock()
	if api.listCalls != 0 || api.readAlls != 0 {
		t.Fatalf("frozen service reached the backend")
	}
}
