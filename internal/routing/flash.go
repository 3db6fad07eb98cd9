package routing

import (
	"sync"
	"time"

	"pushfeed/internal/eventbus"
	"pushfeed/internal/feed"
)

// Auto-dismiss durations by priority. Acknowledgment-required entries ignore
// these and stay until acted upon.
var dismissAfter = map[feed.Priority]time.Duration{
	feed.PriorityCritical: 10 * time.Second,
	feed.PriorityHigh:     8 * time.Second,
	feed.PriorityMedium:   6 * time.Second,
	feed.PriorityLow:      4 * time.Second,
	feed.PrioritySilent:   4 * time.Second, // unreachable via Route; kept for direct pushes
}

// Flash is one active ephemeral alert.
type Flash struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Message     string        `json:"message"`
	Priority    feed.Priority `json:"priority"`
	Category    string        `json:"category"`
	EventType   string        `json:"eventType"`
	ShownAt     time.Time     `json:"shownAt"`
	ExpiresAt   time.Time     `json:"expiresAt"` // zero = sticky until acknowledged
	RequiresAck bool          `json:"requiresAck"`
	Blocking    bool          `json:"blocking"` // non-dismissible (session revocation notice)
}

// Sink holds the currently visible flash messages. Expired entries are pruned
// lazily on read; no timers are owned here, which keeps the sink trivially
// testable with an injected clock.
type Sink struct {
	mu     sync.Mutex
	active []Flash
	now    func() time.Time
	bus    eventbus.Bus
}

func NewSink(bus eventbus.Bus) *Sink {
	return &Sink{now: time.Now, bus: bus}
}

// SetClock overrides the sink's clock. Tests only.
func (s *Sink) SetClock(now func() time.Time) { s.now = now }

// Push surfaces a notification as a flash message.
func (s *Sink) Push(n feed.Notification) Flash {
	now := s.now()
	f := Flash{
		ID:          n.ID,
		Title:       n.Title,
		Message:     n.Message,
		Priority:    n.Priority,
		Category:    n.Category,
		EventType:   n.EventType,
		ShownAt:     now,
		RequiresAck: n.RequiresAck,
	}
	if !n.RequiresAck {
		f.ExpiresAt = now.Add(dismissAfter[n.Priority])
	}
	s.add(f)
	return f
}

// PushBlocking surfaces a sticky, non-dismissible notice. Used for the
// session-revocation warning.
func (s *Sink) PushBlocking(id, title, message string) Flash {
	f := Flash{
		ID:       id,
		Title:    title,
		Message:  message,
		Priority: feed.PriorityCritical,
		Category: "security",
		ShownAt:  s.now(),
		Blocking: true,
	}
	s.add(f)
	return f
}

func (s *Sink) add(f Flash) {
	s.mu.Lock()
	s.pruneLocked()
	// Same id re-pushed replaces the existing entry rather than stacking.
	for i := range s.active {
		if s.active[i].ID == f.ID {
			s.active[i] = f
			s.mu.Unlock()
			s.publish(f)
			return
		}
	}
	s.active = append(s.active, f)
	s.mu.Unlock()
	s.publish(f)
}

func (s *Sink) publish(f Flash) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TopicFlashShown, Data: f})
	}
}

// Acknowledge removes an ack-required (or any non-blocking) entry by id.
func (s *Sink) Acknowledge(id string) bool {
	return s.remove(id, true)
}

// Dismiss removes a non-blocking entry by id. Blocking notices cannot be
// dismissed by the user.
func (s *Sink) Dismiss(id string) bool {
	return s.remove(id, false)
}

func (s *Sink) remove(id string, allowAck bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.active {
		if s.active[i].ID != id {
			continue
		}
		if s.active[i].Blocking {
			return false
		}
		if s.active[i].RequiresAck && !allowAck {
			return false
		}
		s.active = append(s.active[:i], s.active[i+1:]...)
		return true
	}
	return false
}

// Active returns the currently visible entries, oldest first.
func (s *Sink) Active() []Flash {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	return append([]Flash(nil), s.active...)
}

func (s *Sink) pruneLocked() {
	now := s.now()
	kept := s.active[:0]
	for _, f := range s.active {
		if f.ExpiresAt.IsZero() || f.ExpiresAt.After(now) {
			kept = append(kept, f)
		}
	}
	s.active = kept
}
