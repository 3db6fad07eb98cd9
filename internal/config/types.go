package config

type Config struct {
	Server    ServerConfig    `json:"server"`
	Transport TransportConfig `json:"transport"`
	Feed      FeedConfig      `json:"feed"`
	Routing   RoutingConfig   `json:"routing"`
	Refresh   RefreshConfig   `json:"refresh"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
}

// ServerConfig points at the backend endpoints. The websocket URL defaults to
// the REST base with the scheme swapped and "/ws" appended.
type ServerConfig struct {
	BaseURL      string `json:"base_url"`
	WebsocketURL string `json:"websocket_url,omitempty"`
	// RequestTimeout is a Go duration string (e.g. "10s").
	RequestTimeout string `json:"request_timeout,omitempty"`
}

// TransportConfig controls the push channel and its polling fallback.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - reconnect_base: "1s"
//   - max_attempts: 5
//   - grace_period: "5s"
//   - poll_interval: "10s"
//   - dial_timeout: "15s"
type TransportConfig struct {
	ReconnectBase string `json:"reconnect_base,omitempty"`
	MaxAttempts   int    `json:"max_attempts,omitempty"`
	GracePeriod   string `json:"grace_period,omitempty"`
	PollInterval  string `json:"poll_interval,omitempty"`
	DialTimeout   string `json:"dial_timeout,omitempty"`
}

// FeedConfig controls the in-memory notification list.
type FeedConfig struct {
	Window int `json:"window,omitempty"` // default 50
	// ReconcileTolerance admits slightly-older snapshot entries. Default "24h".
	ReconcileTolerance string `json:"reconcile_tolerance,omitempty"`
}

// RoutingConfig controls flash behavior.
type RoutingConfig struct {
	FlashDedupWindow      string `json:"flash_dedup_window,omitempty"`      // default "3s"
	PermissionDedupWindow string `json:"permission_dedup_window,omitempty"` // default "8s"
	PersistDedup          bool   `json:"persist_dedup,omitempty"`
}

// RefreshConfig controls the periodic background snapshot refresh.
//
// Schedule is a cron expression (e.g. "@every 5m", "*/10 * * * *").
// If the whole section is omitted, refresh defaults to enabled with "@every 5m".
type RefreshConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Schedule string `json:"schedule,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./pushfeed_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
