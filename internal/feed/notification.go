package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Priority tiers for a notification. Lower value = more urgent.
type Priority int

const (
	PriorityCritical Priority = iota // P0: always surfaced, never mutable off
	PriorityHigh                     // P1: always surfaced, never mutable off
	PriorityMedium                   // P2
	PriorityLow                      // P3
	PrioritySilent                   // P4: log-only
)

func (p Priority) String() string {
	if p < PriorityCritical || p > PrioritySilent {
		return fmt.Sprintf("P?(%d)", int(p))
	}
	return fmt.Sprintf("P%d", int(p))
}

// Valid reports whether p is one of the defined tiers.
func (p Priority) Valid() bool { return p >= PriorityCritical && p <= PrioritySilent }

// ParsePriority accepts the canonical wire form ("P0".."P4") and the named
// aliases some backend event producers still emit.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "p0", "critical":
		return PriorityCritical, nil
	case "p1", "high":
		return PriorityHigh, nil
	case "p2", "medium", "normal":
		return PriorityMedium, nil
	case "p3", "low":
		return PriorityLow, nil
	case "p4", "silent", "log":
		return PrioritySilent, nil
	default:
		return PriorityMedium, fmt.Errorf("unknown priority %q", s)
	}
}

func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// MarshalText/UnmarshalText let Priority serve as a JSON map key
// (preference toggles are keyed by tier).
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func (p *Priority) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, perr := ParsePriority(s)
		if perr != nil {
			return perr
		}
		*p = v
		return nil
	}
	// Tolerate bare numbers (0..4).
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("priority: %w", err)
	}
	v := Priority(n)
	if !v.Valid() {
		return fmt.Errorf("priority out of range: %d", n)
	}
	*p = v
	return nil
}

// Notification is a single delivered event.
//
// ID is server-assigned and unique: two notifications with the same id are the
// same notification, even when they arrive over different transports.
type Notification struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	Priority    Priority       `json:"priority"`
	Category    string         `json:"category"`
	EventType   string         `json:"eventType"`
	CreatedAt   time.Time      `json:"createdAt"`
	IsRead      bool           `json:"isRead"`
	RequiresAck bool           `json:"requiresAck"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Stats is a derived view over the live list. It is recomputed from the list
// on demand rather than maintained as separate counters, so the count can
// never drift from the entries it describes.
type Stats struct {
	Total      int              `json:"total"`
	Unread     int              `json:"unread"`
	ByPriority map[Priority]int `json:"byPriority"`
}
