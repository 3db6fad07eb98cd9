package prefs

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"pushfeed/internal/feed"
)

// Channels toggles delivery channels. Only in-app delivery is handled by this
// module; the remaining toggles are carried for the server-side channels and
// persisted alongside.
type Channels struct {
	InApp bool `json:"inApp"`
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
	Push  bool `json:"push"`
}

// QuietHours is a daily window during which non-critical flash alerts are
// suppressed. Start/End are "HH:MM" (24h); the window may wrap past midnight
// (e.g. 22:00 → 07:00).
type QuietHours struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// Active reports whether t falls inside the window.
func (q QuietHours) Active(t time.Time) bool {
	if !q.Enabled {
		return false
	}
	start, err1 := parseHHMM(q.Start)
	end, err2 := parseHHMM(q.End)
	if err1 != nil || err2 != nil || start == end {
		return false
	}
	now := t.Hour()*60 + t.Minute()
	if start < end {
		return now >= start && now < end
	}
	// Wraps midnight.
	return now >= start || now < end
}

func parseHHMM(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

type Sound struct {
	Enabled bool    `json:"enabled"`
	Volume  float64 `json:"volume"` // 0..1
}

// PreferenceSet is the per-user notification filter, persisted across
// sessions. P0/P1 priority toggles are pinned on: attempts to disable them
// are no-ops (normalize enforces this on every mutation and load).
type PreferenceSet struct {
	Channels   Channels               `json:"channels"`
	Priorities map[feed.Priority]bool `json:"priorities"`
	Categories map[string]bool        `json:"categories"`
	QuietHours QuietHours             `json:"quietHours"`
	Sound      Sound                  `json:"sound"`
}

func Default() PreferenceSet {
	return PreferenceSet{
		Channels: Channels{InApp: true, Email: true, Push: true},
		Priorities: map[feed.Priority]bool{
			feed.PriorityCritical: true,
			feed.PriorityHigh:     true,
			feed.PriorityMedium:   true,
			feed.PriorityLow:      true,
			feed.PrioritySilent:   false,
		},
		Categories: map[string]bool{},
		Sound:      Sound{Enabled: true, Volume: 0.7},
	}
}

// PriorityEnabled reports whether the tier is surfaced. P0/P1 are always on.
func (p PreferenceSet) PriorityEnabled(pr feed.Priority) bool {
	if pr == feed.PriorityCritical || pr == feed.PriorityHigh {
		return true
	}
	if p.Priorities == nil {
		return true
	}
	enabled, ok := p.Priorities[pr]
	if !ok {
		return true
	}
	return enabled
}

// CategoryEnabled reports whether the category is surfaced. The category set
// is open; unknown categories default to enabled.
func (p PreferenceSet) CategoryEnabled(cat string) bool {
	if p.Categories == nil {
		return true
	}
	enabled, ok := p.Categories[cat]
	if !ok {
		return true
	}
	return enabled
}

func (p *PreferenceSet) normalize() {
	if p.Priorities == nil {
		p.Priorities = map[feed.Priority]bool{}
	}
	// Non-disableable tiers.
	p.Priorities[feed.PriorityCritical] = true
	p.Priorities[feed.PriorityHigh] = true
	if p.Categories == nil {
		p.Categories = map[string]bool{}
	}
	if p.Sound.Volume < 0 {
		p.Sound.Volume = 0
	}
	if p.Sound.Volume > 1 {
		p.Sound.Volume = 1
	}
}
