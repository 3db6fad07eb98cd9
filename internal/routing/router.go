package routing

import (
	"context"
	"sync"
	"time"

	"pushfeed/internal/feed"
	"pushfeed/internal/prefs"
	"pushfeed/internal/storage"
	"pushfeed/internal/transport"
	logx "pushfeed/pkg/logx"
)

const (
	// DefaultFlashDedupWindow suppresses repeat flashes of the same
	// (eventType, title) pair. Permission-change events use the longer window
	// because bursty server pushes tend to repeat them. Empirically tuned.
	DefaultFlashDedupWindow    = 3 * time.Second
	PermissionFlashDedupWindow = 8 * time.Second
)

// Decision is the router's verdict for one notification.
type Decision struct {
	Bell  bool // persist in the notification list
	Flash bool // show an ephemeral on-screen alert
}

type Config struct {
	FlashDedupWindow      time.Duration // 0 means 3s
	PermissionDedupWindow time.Duration // 0 means 8s
	PersistDedup          bool          // survive restarts via storage
}

// Router classifies each notification and decides, per user preference,
// whether it becomes a bell entry, a flash message, both, or neither.
//
// Routing rules:
//  1. P0/P1 always reach the bell, regardless of preference.
//  2. P2–P4 reach the bell only when the in-app channel, the priority tier
//     and the category are all enabled.
//  3. Flash is independent of bell and suppressed during quiet hours unless
//     the priority is P0. P4 (log-only) never flashes.
//  4. Identical (eventType, title) pairs are not re-flashed inside the dedup
//     window.
type Router struct {
	cfg   Config
	store storage.Store
	log   logx.Logger
	now   func() time.Time

	mu        sync.Mutex
	lastFlash map[string]time.Time
}

func NewRouter(cfg Config, store storage.Store, log logx.Logger) *Router {
	if cfg.FlashDedupWindow <= 0 {
		cfg.FlashDedupWindow = DefaultFlashDedupWindow
	}
	if cfg.PermissionDedupWindow <= 0 {
		cfg.PermissionDedupWindow = PermissionFlashDedupWindow
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		cfg:       cfg,
		store:     store,
		log:       log,
		now:       time.Now,
		lastFlash: map[string]time.Time{},
	}
}

// SetClock overrides the router's clock. Tests only.
func (r *Router) SetClock(now func() time.Time) { r.now = now }

func (r *Router) Route(n feed.Notification, p prefs.PreferenceSet) Decision {
	var d Decision

	// Bell.
	switch n.Priority {
	case feed.PriorityCritical, feed.PriorityHigh:
		d.Bell = true
	default:
		d.Bell = p.Channels.InApp && p.PriorityEnabled(n.Priority) && p.CategoryEnabled(n.Category)
	}

	// Flash.
	if n.Priority == feed.PrioritySilent {
		return d
	}
	if !p.PriorityEnabled(n.Priority) || !p.CategoryEnabled(n.Category) {
		if n.Priority != feed.PriorityCritical {
			return d
		}
	}
	if p.QuietHours.Active(r.now()) && n.Priority != feed.PriorityCritical {
		return d
	}
	if r.flashSuppressed(n) {
		return d
	}
	d.Flash = true
	return d
}

// flashSuppressed applies the (eventType, title) dedup window and records the
// flash when it is allowed.
func (r *Router) flashSuppressed(n feed.Notification) bool {
	key := n.EventType + "|" + n.Title
	window := r.cfg.FlashDedupWindow
	if isPermissionEvent(n.EventType) {
		window = r.cfg.PermissionDedupWindow
	}
	now := r.now()

	r.mu.Lock()
	if last, ok := r.lastFlash[key]; ok && now.Sub(last) < window {
		r.mu.Unlock()
		return true
	}
	r.mu.Unlock()

	// Cross-restart check (best-effort, bounded).
	if r.cfg.PersistDedup && r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
		until, ok, err := r.store.GetDedup(ctx, "flash:"+key)
		cancel()
		if err == nil && ok && now.Before(until) {
			r.mu.Lock()
			r.lastFlash[key] = until.Add(-window)
			r.mu.Unlock()
			return true
		}
	}

	r.mu.Lock()
	r.lastFlash[key] = now
	// Opportunistic prune so the map stays bounded under event churn.
	if len(r.lastFlash) > 512 {
		for k, t := range r.lastFlash {
			if now.Sub(t) > r.cfg.PermissionDedupWindow {
				delete(r.lastFlash, k)
			}
		}
	}
	r.mu.Unlock()

	if r.cfg.PersistDedup && r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		if err := r.store.PutDedup(ctx, "flash:"+key, now.Add(window)); err != nil {
			r.log.Debug("persisting flash dedup failed", logx.Err(err))
		}
		cancel()
	}
	return false
}

func isPermissionEvent(eventType string) bool {
	switch eventType {
	case transport.FramePermissionSync, transport.FramePermissionsUpdated,
		transport.FrameRoleChanged, transport.FrameTenancyFeatures,
		transport.FrameTenancyPermissions, transport.FrameFeatureUpdate,
		"role_changed", "permissions_changed":
		return true
	}
	return false
}
