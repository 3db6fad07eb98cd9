package authsync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"pushfeed/internal/eventbus"
	"pushfeed/internal/feed"
	"pushfeed/internal/restapi"
	"pushfeed/internal/routing"
	"pushfeed/internal/transport"
	logx "pushfeed/pkg/logx"
)

const (
	// CoalesceWindow batches permission-change frames that arrive in a burst
	// into a single profile refetch.
	CoalesceWindow = 100 * time.Millisecond

	// RevocationGrace is how long the termination notice stays on screen
	// before the session is actually torn down.
	RevocationGrace = 3 * time.Second

	profileTimeout = 8 * time.Second
)

// ProfileAPI fetches the authoritative profile after a permission change.
type ProfileAPI interface {
	Profile(ctx context.Context) (restapi.Profile, error)
}

type BridgeDeps struct {
	Session Session
	API     ProfileAPI
	Feed    *feed.Service
	Sink    *routing.Sink
	Bus     eventbus.Bus
	Log     logx.Logger
}

// Bridge consumes authorization frames from the push channel and keeps the
// session's auth state in step with the server. It coalesces bursts, prefers
// a fresh profile fetch over frame payloads, and handles forced token refresh
// and session revocation.
type Bridge struct {
	session Session
	api     ProfileAPI
	feed    *feed.Service
	sink    *routing.Sink
	bus     eventbus.Bus
	log     logx.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	timer       *time.Timer
	last        transport.Frame // newest payload-carrying frame of the burst
	noisy       bool            // burst contains a frame that should surface to the user
	revoked     bool
	logoutTimer *time.Timer
}

func NewBridge(d BridgeDeps) *Bridge {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		session: d.Session,
		api:     d.API,
		feed:    d.Feed,
		sink:    d.Sink,
		bus:     d.Bus,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Close stops pending timers, including a not-yet-fired revocation logout.
// Safe to call more than once.
func (b *Bridge) Close() {
	b.cancel()
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if b.logoutTimer != nil {
		b.logoutTimer.Stop()
		b.logoutTimer = nil
	}
	b.mu.Unlock()
}

// HandleFrame dispatches one authorization frame. Non-auth frames are ignored.
func (b *Bridge) HandleFrame(f transport.Frame) {
	if !transport.IsAuthFrame(f.Type) {
		return
	}
	switch f.Type {
	case transport.FrameSessionRevoked:
		b.revokeSession(f)
	case transport.FrameForceTokenRefresh:
		// Forced session refresh: same refetch as a permission change, but
		// silent unless it fails.
		b.coalesce(f, true)
	default:
		b.coalesce(f, false)
	}
}

// coalesce arms (or re-arms) the burst timer. Only the newest payload-carrying
// frame of the burst is kept for fallback; the fetch is authoritative anyway.
func (b *Bridge) coalesce(f transport.Frame, quiet bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.revoked {
		return
	}
	if !quiet {
		b.noisy = true
	}
	if len(f.Data) > 0 || len(b.last.Data) == 0 {
		b.last = f
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(CoalesceWindow, b.applyBurst)
}

func (b *Bridge) applyBurst() {
	b.mu.Lock()
	f := b.last
	noisy := b.noisy
	b.timer = nil
	b.last = transport.Frame{}
	b.noisy = false
	revoked := b.revoked
	b.mu.Unlock()
	if revoked || b.ctx.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, profileTimeout)
	profile, err := b.api.Profile(ctx)
	cancel()
	if err == nil {
		b.applyState(f.Type, profile.Role, profile.Permissions, profile.Features, noisy)
		return
	}
	b.log.Warn("profile refetch failed, trying frame payload", logx.Err(err))

	// Fallback: apply what the frame itself carried. An empty payload means
	// we have nothing trustworthy to apply; drop the event. A silent-only
	// burst (forced refresh) carries no payload, so its failure is surfaced.
	role, perms, features, ok := decodePayload(f.Data)
	if !ok {
		if !noisy {
			b.log.Error("forced session refresh failed", logx.Err(err))
			b.feed.Ingest(feed.Notification{
				ID:        uuid.NewString(),
				Title:     "Session refresh failed",
				Message:   "Your session could not be renewed. You may need to sign in again.",
				Priority:  feed.PriorityHigh,
				Category:  "security",
				EventType: transport.FrameForceTokenRefresh,
				CreatedAt: time.Now(),
			})
			return
		}
		b.log.Warn("permission frame carried no usable payload, dropped",
			logx.String("frame", f.Type))
		return
	}
	b.applyState(f.Type, role, perms, features, noisy)
}

func (b *Bridge) applyState(frameType, role string, perms, features map[string]bool, noisy bool) {
	b.session.ReplaceAuthState(role, perms, features)

	topic := eventbus.TopicPermissionsChanged
	title := "Permissions updated"
	message := "Your access permissions have changed."
	if frameType == transport.FrameRoleChanged {
		topic = eventbus.TopicRoleChanged
		title = "Role changed"
		message = "Your account role has changed."
	}
	b.publish(topic, map[string]any{"role": role, "frame": frameType})

	// Surface the change in the feed so the user knows why the UI shifted.
	// A burst of forced-refresh frames alone stays out of the feed.
	if noisy {
		b.feed.Ingest(feed.Notification{
			ID:        uuid.NewString(),
			Title:     title,
			Message:   message,
			Priority:  feed.PriorityMedium,
			Category:  "system",
			EventType: frameType,
			CreatedAt: time.Now(),
		})
	}
	b.log.Info("auth state replaced", logx.String("frame", frameType), logx.String("role", role))
}

// revokeSession shows a blocking notice, freezes the feed, and logs the user
// out after the grace period. The logout timer is held so Close can cancel it
// when shutdown races the revocation.
func (b *Bridge) revokeSession(f transport.Frame) {
	reason := "Your session has been terminated by an administrator."
	var payload struct {
		Reason string `json:"reason"`
	}
	if len(f.Data) > 0 && json.Unmarshal(f.Data, &payload) == nil && payload.Reason != "" {
		reason = payload.Reason
	}

	b.mu.Lock()
	if b.revoked {
		b.mu.Unlock()
		return
	}
	b.revoked = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.logoutTimer = time.AfterFunc(RevocationGrace, func() {
		b.session.Logout(reason)
	})
	b.mu.Unlock()

	b.log.Warn("session revoked by server", logx.String("reason", reason))
	b.publish(eventbus.TopicSessionTerminating, map[string]any{"reason": reason})
	if b.sink != nil {
		b.sink.PushBlocking(uuid.NewString(), "Session terminated", reason)
	}
	b.feed.Freeze()
}

func (b *Bridge) publish(topic string, data any) {
	if b.bus != nil {
		b.bus.Publish(eventbus.Event{Type: topic, Data: data})
	}
}

// decodePayload extracts role/permissions/features from a frame body.
// Permission lists and maps are both accepted.
func decodePayload(raw json.RawMessage) (string, map[string]bool, map[string]bool, bool) {
	if len(raw) == 0 {
		return "", nil, nil, false
	}
	var p struct {
		Role            string          `json:"role"`
		Permissions     json.RawMessage `json:"permissions"`
		Features        map[string]bool `json:"features"`
		TenancyFeatures map[string]bool `json:"tenancyFeatures"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", nil, nil, false
	}
	perms := decodeBoolSet(p.Permissions)
	features := p.Features
	if features == nil {
		features = p.TenancyFeatures
	}
	if p.Role == "" && perms == nil && features == nil {
		return "", nil, nil, false
	}
	return p.Role, perms, features, true
}

func decodeBoolSet(raw json.RawMessage) map[string]bool {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]bool
	if err := json.Unmarshal(raw, &m); err == nil {
		return m
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make(map[string]bool, len(list))
		for _, p := range list {
			out[p] = true
		}
		return out
	}
	return nil
}
