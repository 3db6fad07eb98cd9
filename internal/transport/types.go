package transport

import (
	"context"
	"encoding/json"
	"time"
)

// State describes the push-channel connection. Transitions are owned solely
// by the Manager (and its reconnect controller); everything else observes.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDegraded // polling fallback active, push channel down
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Named frames emitted by the push channel endpoint.
const (
	FrameNotification       = "notification"
	FrameHighPriority       = "high_priority_notification"
	FrameHeartbeat          = "heartbeat"
	FramePermissionSync     = "permission_sync"
	FramePermissionsUpdated = "permissionsUpdated"
	FrameRoleChanged        = "roleChanged"
	FrameTenancyFeatures    = "tenancyFeaturesUpdated"
	FrameTenancyPermissions = "tenancyPermissionsUpdated"
	FrameFeatureUpdate      = "feature_update"
	FrameForceTokenRefresh  = "force_token_refresh"
	FrameSessionRevoked     = "session_revoked"
)

// IsAuthFrame reports whether a frame type belongs to the authorization
// side-channel (handled by the sync bridge, not the notification feed).
func IsAuthFrame(t string) bool {
	switch t {
	case FramePermissionSync, FramePermissionsUpdated, FrameRoleChanged,
		FrameTenancyFeatures, FrameTenancyPermissions, FrameFeatureUpdate,
		FrameForceTokenRefresh, FrameSessionRevoked:
		return true
	}
	return false
}

// IsNotificationFrame reports whether a frame carries a feed notification.
func IsNotificationFrame(t string) bool {
	return t == FrameNotification || t == FrameHighPriority
}

// Frame is one inbound message, timestamped at receipt before any further
// processing.
type Frame struct {
	Type       string
	Data       json.RawMessage
	ReceivedAt time.Time
}

// Conn is a live push-channel connection. ReadFrame blocks until a frame
// arrives or the connection dies.
type Conn interface {
	ReadFrame() (Frame, error)
	Close() error
}

// Dialer establishes push-channel connections. The websocket dialer is the
// production implementation; tests substitute fakes.
type Dialer interface {
	Dial(ctx context.Context, token string) (Conn, error)
}

// TokenSource yields the current session credential at connect time.
type TokenSource func() string

// SnapshotFunc triggers an authoritative snapshot fetch + reconcile. The
// manager calls it once per successful connect; the poller calls it on its
// interval. Both paths converge on the same idempotent reconcile, which is
// what makes running them concurrently safe.
type SnapshotFunc func(ctx context.Context) error

// FrameHandler receives every non-heartbeat frame, regardless of transport.
type FrameHandler func(Frame)
