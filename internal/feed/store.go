package feed

import (
	"sync"
	"time"
)

// DefaultWindow bounds the in-memory list to the most recent entries.
const DefaultWindow = 50

// Store is the canonical in-memory notification state: the ordered list plus
// derived counters. It is a pure state container; transports, REST sync and
// routing live elsewhere and mutate it only through the methods below.
//
// Invariants (checked by tests):
//   - no two entries share an id
//   - entries are ordered by createdAt descending
//   - Stats().Unread equals the number of unread entries plus unread entries
//     that were pushed out of the bounded window before being read
type Store struct {
	mu        sync.Mutex
	list      []Notification
	window    int
	tolerance time.Duration

	// Unread entries dropped by window truncation are still owed to the user;
	// they are carried here until a mark-all-read or clear.
	overflowUnread int
}

type StoreOption func(*Store)

func WithWindow(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.window = n
		}
	}
}

func WithTolerance(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.tolerance = d
		}
	}
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{window: DefaultWindow, tolerance: DefaultTolerance}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Add merges incoming events into the list. It returns the ids that were
// actually inserted (duplicates by id are dropped silently).
func (s *Store) Add(incoming ...Notification) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := make(map[string]struct{}, len(s.list))
	for _, n := range s.list {
		before[n.ID] = struct{}{}
	}

	s.list = Merge(s.list, incoming)
	s.truncateLocked()

	var added []string
	for _, n := range s.list {
		if _, ok := before[n.ID]; !ok {
			added = append(added, n.ID)
		}
	}
	return added
}

// ApplySnapshot reconciles an authoritative server snapshot into the list.
// It reports whether the list changed. Membership is compared by id, not by
// length: admitting newer entries into a full window truncates older ones and
// leaves the length untouched.
func (s *Store) ApplySnapshot(snapshot []Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := make(map[string]struct{}, len(s.list))
	for _, n := range s.list {
		before[n.ID] = struct{}{}
	}
	prevOverflow := s.overflowUnread
	s.list = Reconcile(s.list, snapshot, s.tolerance)
	s.truncateLocked()

	if len(s.list) != len(before) || s.overflowUnread != prevOverflow {
		return true
	}
	for _, n := range s.list {
		if _, ok := before[n.ID]; !ok {
			return true
		}
	}
	return false
}

// MarkRead flags the given ids as read. Unknown ids are ignored.
// It returns the number of entries flipped from unread to read.
func (s *Store) MarkRead(ids ...string) int {
	if len(ids) == 0 {
		return 0
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	flipped := 0
	for i := range s.list {
		if _, ok := want[s.list[i].ID]; ok && !s.list[i].IsRead {
			s.list[i].IsRead = true
			flipped++
		}
	}
	return flipped
}

// MarkAllRead flags every entry as read and settles the overflow debt.
func (s *Store) MarkAllRead() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	flipped := s.overflowUnread
	for i := range s.list {
		if !s.list[i].IsRead {
			s.list[i].IsRead = true
			flipped++
		}
	}
	s.overflowUnread = 0
	return flipped
}

// Acknowledge marks an ack-required entry as acted upon: it becomes read and
// no longer demands acknowledgment. Reports whether the id was present.
func (s *Store) Acknowledge(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.list {
		if s.list[i].ID == id {
			s.list[i].IsRead = true
			s.list[i].RequiresAck = false
			return true
		}
	}
	return false
}

// Clear empties the list and resets all counters.
func (s *Store) Clear() {
	s.mu.Lock()
	s.list = nil
	s.overflowUnread = 0
	s.mu.Unlock()
}

// List returns a copy of the current entries, newest first.
func (s *Store) List() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.list...)
}

// Get returns the entry with the given id, if present.
func (s *Store) Get(id string) (Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.list {
		if n.ID == id {
			return n, true
		}
	}
	return Notification{}, false
}

// Stats recomputes the derived counters from the live list.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Total:      len(s.list),
		Unread:     s.overflowUnread,
		ByPriority: make(map[Priority]int, 5),
	}
	for _, n := range s.list {
		st.ByPriority[n.Priority]++
		if !n.IsRead {
			st.Unread++
		}
	}
	return st
}

// truncateLocked bounds the list to the window. Unread entries below the cut
// are counted into overflowUnread before they are dropped so the unread badge
// stays honest.
func (s *Store) truncateLocked() {
	if s.window <= 0 || len(s.list) <= s.window {
		return
	}
	for _, n := range s.list[s.window:] {
		if !n.IsRead {
			s.overflowUnread++
		}
	}
	s.list = s.list[:s.window:s.window]
}
