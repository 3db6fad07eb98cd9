package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"pushfeed/internal/feed"
	"pushfeed/internal/storage"
	logx "pushfeed/pkg/logx"
)

// Manager owns the live PreferenceSet for the session user. Loaded once at
// session start, mutated only by explicit user action, persisted immediately
// on change. Reads are cheap copies; no external caller can mutate the held
// set directly.
type Manager struct {
	mu     sync.Mutex
	cur    PreferenceSet
	userID string

	store storage.Store
	log   logx.Logger
}

func NewManager(store storage.Store, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{cur: Default(), store: store, log: log}
}

// Load reads the persisted set for the given user, falling back to defaults
// when nothing is stored yet (or storage is disabled).
func (m *Manager) Load(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("prefs: user id is required")
	}

	set := Default()
	if m.store != nil {
		raw, ok, err := m.store.GetPrefs(ctx, userID)
		if err != nil {
			return err
		}
		if ok {
			if uerr := json.Unmarshal(raw, &set); uerr != nil {
				// Corrupt record: start over from defaults rather than failing
				// the whole session.
				m.log.Warn("stored preferences unreadable, using defaults", logx.Err(uerr))
				set = Default()
			}
		}
	}
	set.normalize()

	m.mu.Lock()
	m.userID = userID
	m.cur = set
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current set.
func (m *Manager) Get() PreferenceSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copySet(m.cur)
}

// Update applies mutate to a copy of the current set, normalizes it (pinned
// tiers stay pinned), commits it, and persists immediately.
func (m *Manager) Update(ctx context.Context, mutate func(*PreferenceSet)) error {
	if mutate == nil {
		return nil
	}

	m.mu.Lock()
	next := copySet(m.cur)
	mutate(&next)
	next.normalize()
	m.cur = next
	userID := m.userID
	m.mu.Unlock()

	return m.persist(ctx, userID, next)
}

// SetPriority toggles a tier. P0/P1 cannot be disabled; such calls are no-ops.
func (m *Manager) SetPriority(ctx context.Context, pr feed.Priority, enabled bool) error {
	if !enabled && (pr == feed.PriorityCritical || pr == feed.PriorityHigh) {
		return nil
	}
	return m.Update(ctx, func(p *PreferenceSet) { p.Priorities[pr] = enabled })
}

func (m *Manager) SetCategory(ctx context.Context, category string, enabled bool) error {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil
	}
	return m.Update(ctx, func(p *PreferenceSet) { p.Categories[category] = enabled })
}

func (m *Manager) SetQuietHours(ctx context.Context, qh QuietHours) error {
	return m.Update(ctx, func(p *PreferenceSet) { p.QuietHours = qh })
}

func (m *Manager) persist(ctx context.Context, userID string, set PreferenceSet) error {
	if m.store == nil || userID == "" {
		return nil
	}
	b, err := json.Marshal(set)
	if err != nil {
		return err
	}
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := m.store.PutPrefs(pctx, userID, b); err != nil {
		m.log.Warn("persisting preferences failed", logx.Err(err))
		return err
	}
	return nil
}

func copySet(p PreferenceSet) PreferenceSet {
	cp := p
	cp.Priorities = make(map[feed.Priority]bool, len(p.Priorities))
	for k, v := range p.Priorities {
		cp.Priorities[k] = v
	}
	cp.Categories = make(map[string]bool, len(p.Categories))
	for k, v := range p.Categories {
		cp.Categories[k] = v
	}
	return cp
}
