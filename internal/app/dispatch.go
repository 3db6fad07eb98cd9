package app

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"pushfeed/internal/feed"
	"pushfeed/internal/transport"
	logx "pushfeed/pkg/logx"
)

// handleFrame is the single entry point for push-channel frames. Auth frames
// go to the bridge; notification frames are decoded, gated through the
// router, and fanned out to the feed and the flash sink.
func (a *App) handleFrame(f transport.Frame) {
	if transport.IsAuthFrame(f.Type) {
		a.bridge.HandleFrame(f)
		return
	}
	if !transport.IsNotificationFrame(f.Type) {
		a.log.Debug("unknown frame type ignored", logx.String("type", f.Type))
		return
	}

	n, err := decodeNotification(f)
	if err != nil {
		a.log.Warn("malformed notification frame dropped", logx.Err(err))
		return
	}

	decision := a.router.Route(n, a.prefs.Get())
	if decision.Bell {
		a.feed.Ingest(n)
	}
	if decision.Flash {
		a.sink.Push(n)
	}
}

func decodeNotification(f transport.Frame) (feed.Notification, error) {
	// The outer Priority pointer shadows the embedded field so an absent
	// priority can be told apart from an explicit P0.
	var raw struct {
		feed.Notification
		Priority *feed.Priority `json:"priority"`
	}
	if err := json.Unmarshal(f.Data, &raw); err != nil {
		return feed.Notification{}, err
	}
	n := raw.Notification
	if raw.Priority != nil {
		n.Priority = *raw.Priority
	} else {
		n.Priority = feed.PriorityMedium
	}
	if n.ID == "" {
		// Server-side pushes occasionally omit ids; synthesize one so dedup
		// and read tracking still work.
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = f.ReceivedAt
		if n.CreatedAt.IsZero() {
			n.CreatedAt = time.Now()
		}
	}
	// The dedicated high-priority frame overrides whatever tier the payload
	// claims; it exists so urgent events survive lossy payloads.
	if f.Type == transport.FrameHighPriority && n.Priority > feed.PriorityHigh {
		n.Priority = feed.PriorityHigh
	}
	return n, nil
}
