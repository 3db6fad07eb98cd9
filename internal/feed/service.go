package feed

import (
	"context"
	"sync"
	"time"

	"pushfeed/internal/eventbus"
	logx "pushfeed/pkg/logx"
)

// RefreshDebounce collapses snapshot refreshes that land close together
// (reconnect refresh racing the periodic one, rapid manual refreshes).
const RefreshDebounce = 5 * time.Second

const syncTimeout = 10 * time.Second

// SyncAPI is the slice of the REST client the service needs. Local state is
// authoritative for the UI; these calls only keep the backend in step.
type SyncAPI interface {
	ListNotifications(ctx context.Context, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, ids []string) error
	MarkAllRead(ctx context.Context) error
	ClearAll(ctx context.Context) error
}

type pendingOp struct {
	kind string // "read", "readAll", "clear"
	ids  []string
}

// Service binds the Store to the backend: user actions mutate local state
// first and synchronize to the server in the background. Sync failures are
// logged and queued for retry, never rolled back locally.
type Service struct {
	store *Store
	api   SyncAPI
	bus   eventbus.Bus
	log   logx.Logger

	mu          sync.Mutex
	frozen      bool
	pending     []pendingOp
	lastRefresh time.Time
	now         func() time.Time
}

func NewService(store *Store, api SyncAPI, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, api: api, bus: bus, log: log, now: time.Now}
}

// SetClock overrides the service clock. Tests only.
func (s *Service) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Service) Store() *Store { return s.store }

// Ingest merges pushed notifications into the store and announces insertions.
// Returns the inserted entries (duplicates by id come back empty).
func (s *Service) Ingest(notifications ...Notification) []Notification {
	if s.isFrozen() || len(notifications) == 0 {
		return nil
	}
	added := s.store.Add(notifications...)
	if len(added) == 0 {
		return nil
	}
	inserted := make([]Notification, 0, len(added))
	for _, id := range added {
		if n, ok := s.store.Get(id); ok {
			inserted = append(inserted, n)
			s.publish(eventbus.TopicFeedAdded, n)
		}
	}
	s.publishStats()
	return inserted
}

// Refresh pulls an authoritative snapshot and reconciles it into the store.
// Calls inside the debounce window are dropped; force bypasses the window.
//
// Refresh runs on reconnect and on every polling tick, which is exactly when
// the backend is reachable again, so queued user-action syncs are replayed
// here first. The snapshot then reflects them.
func (s *Service) Refresh(ctx context.Context, force bool) error {
	if s.isFrozen() {
		return nil
	}
	s.FlushPending(ctx)

	s.mu.Lock()
	now := s.now()
	if !force && !s.lastRefresh.IsZero() && now.Sub(s.lastRefresh) < RefreshDebounce {
		s.mu.Unlock()
		s.log.Debug("snapshot refresh debounced")
		return nil
	}
	s.lastRefresh = now
	s.mu.Unlock()

	snapshot, err := s.api.ListNotifications(ctx, s.store.window)
	if err != nil {
		s.log.Warn("snapshot refresh failed", logx.Err(err))
		return err
	}
	if s.store.ApplySnapshot(snapshot) {
		s.publishStats()
	}
	return nil
}

// MarkAsRead flags entries read locally and syncs the change in the
// background. Unknown ids are ignored.
func (s *Service) MarkAsRead(ids ...string) {
	if s.isFrozen() {
		return
	}
	if s.store.MarkRead(ids...) == 0 {
		return
	}
	s.publishStats()
	s.syncAsync(pendingOp{kind: "read", ids: append([]string(nil), ids...)})
}

func (s *Service) MarkAllAsRead() {
	if s.isFrozen() {
		return
	}
	if s.store.MarkAllRead() == 0 {
		return
	}
	s.publishStats()
	s.syncAsync(pendingOp{kind: "readAll"})
}

func (s *Service) ClearAll() {
	if s.isFrozen() {
		return
	}
	s.store.Clear()
	s.publishStats()
	s.syncAsync(pendingOp{kind: "clear"})
}

// Acknowledge marks an ack-required entry as acted upon. The backend treats
// acknowledgment as a read.
func (s *Service) Acknowledge(id string) bool {
	if s.isFrozen() {
		return false
	}
	if !s.store.Acknowledge(id) {
		return false
	}
	s.publishStats()
	s.syncAsync(pendingOp{kind: "read", ids: []string{id}})
	return true
}

// Freeze stops all ingestion, refreshes and user actions. Called when the
// session is terminating; there is no unfreeze.
func (s *Service) Freeze() {
	s.mu.Lock()
	s.frozen = true
	s.pending = nil
	s.mu.Unlock()
}

func (s *Service) isFrozen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frozen
}

// FlushPending retries queued sync operations. Refresh calls it before every
// snapshot fetch; it is exported for hosts that want an explicit replay.
func (s *Service) FlushPending(ctx context.Context) {
	s.mu.Lock()
	ops := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, op := range ops {
		if err := s.syncOne(ctx, op); err != nil {
			s.requeue(op)
			s.log.Warn("pending sync retry failed", logx.String("op", op.kind), logx.Err(err))
		}
	}
}

func (s *Service) syncAsync(op pendingOp) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		defer cancel()
		if err := s.syncOne(ctx, op); err != nil {
			s.requeue(op)
			s.log.Warn("background sync failed, queued for retry",
				logx.String("op", op.kind), logx.Err(err))
		}
	}()
}

func (s *Service) syncOne(ctx context.Context, op pendingOp) error {
	switch op.kind {
	case "read":
		return s.api.MarkRead(ctx, op.ids)
	case "readAll":
		return s.api.MarkAllRead(ctx)
	case "clear":
		return s.api.ClearAll(ctx)
	}
	return nil
}

func (s *Service) requeue(op pendingOp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return
	}
	// A clear supersedes everything queued before it.
	if op.kind == "clear" {
		s.pending = s.pending[:0]
	}
	s.pending = append(s.pending, op)
	if len(s.pending) > 64 {
		s.pending = s.pending[len(s.pending)-64:]
	}
}

// PendingSyncCount reports queued, not-yet-synced operations.
func (s *Service) PendingSyncCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Service) publish(topic string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: topic, Data: data})
	}
}

func (s *Service) publishStats() {
	s.publish(eventbus.TopicFeedUpdated, s.store.Stats())
}
