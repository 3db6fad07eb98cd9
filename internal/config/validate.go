package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate rejects configs that would misbehave at runtime. It runs before
// every commit, including live reloads.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	base := strings.TrimSpace(cfg.Server.BaseURL)
	if base == "" {
		return fmt.Errorf("server.base_url is required")
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server.base_url: invalid url %q", base)
	}
	if ws := strings.TrimSpace(cfg.Server.WebsocketURL); ws != "" {
		wu, err := url.Parse(ws)
		if err != nil || (wu.Scheme != "ws" && wu.Scheme != "wss") {
			return fmt.Errorf("server.websocket_url: must be a ws:// or wss:// url")
		}
	}

	durations := []struct{ path, raw string }{
		{"server.request_timeout", cfg.Server.RequestTimeout},
		{"transport.reconnect_base", cfg.Transport.ReconnectBase},
		{"transport.grace_period", cfg.Transport.GracePeriod},
		{"transport.poll_interval", cfg.Transport.PollInterval},
		{"transport.dial_timeout", cfg.Transport.DialTimeout},
		{"feed.reconcile_tolerance", cfg.Feed.ReconcileTolerance},
		{"routing.flash_dedup_window", cfg.Routing.FlashDedupWindow},
		{"routing.permission_dedup_window", cfg.Routing.PermissionDedupWindow},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	if cfg.Transport.MaxAttempts < 0 {
		return fmt.Errorf("transport.max_attempts: must be >= 0")
	}
	if cfg.Feed.Window < 0 {
		return fmt.Errorf("feed.window: must be >= 0")
	}

	if s := strings.TrimSpace(cfg.Refresh.Schedule); s != "" {
		if _, err := cron.ParseStandard(s); err != nil {
			return fmt.Errorf("refresh.schedule: invalid cron spec %q: %w", s, err)
		}
	}

	if cfg.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}
