// Package app assembles the notification subsystem: transport, feed state,
// routing, preferences, auth sync and the periodic refresh, wired together
// behind one Start/Stop pair.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pushfeed/internal/authsync"
	"pushfeed/internal/config"
	"pushfeed/internal/eventbus"
	"pushfeed/internal/feed"
	"pushfeed/internal/prefs"
	"pushfeed/internal/refresh"
	"pushfeed/internal/restapi"
	"pushfeed/internal/routing"
	rtsup "pushfeed/internal/runtime/supervisor"
	"pushfeed/internal/storage"
	"pushfeed/internal/transport"
	logx "pushfeed/pkg/logx"
)

type App struct {
	cfgm    *config.Manager
	session authsync.Session

	logsvc *logx.Service
	log    logx.Logger
	bus    eventbus.Bus
	store  storage.Store

	rest      *restapi.Client
	feed      *feed.Service
	prefs     *prefs.Manager
	router    *routing.Router
	sink      *routing.Sink
	bridge    *authsync.Bridge
	transport *transport.Manager
	refresher *refresh.Service

	sup *rtsup.Supervisor
}

// New builds the full component graph from a loaded config. Nothing runs
// until Start.
func New(cfgm *config.Manager, session authsync.Session) (*App, error) {
	cfg := cfgm.Get()
	if cfg == nil {
		return nil, fmt.Errorf("app: config not loaded")
	}
	if session == nil {
		return nil, fmt.Errorf("app: session is required")
	}

	logsvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("svc", "pushfeed"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{cfgm: cfgm, session: session, logsvc: logsvc, log: log, bus: eventbus.New()}
	if err := a.build(cfg); err != nil {
		_ = logsvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	if cfg.Storage != nil {
		busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			return err
		}
		st, err := storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, a.log.With(logx.String("comp", "storage")))
		if err != nil {
			return fmt.Errorf("app: open storage: %w", err)
		}
		a.store = st
	}

	reqTimeout, _ := config.ParseDurationField("server.request_timeout", cfg.Server.RequestTimeout)
	rest, err := restapi.New(restapi.Config{
		BaseURL: cfg.Server.BaseURL,
		Timeout: reqTimeout,
	}, a.session.Token, a.log.With(logx.String("comp", "rest")))
	if err != nil {
		return err
	}
	a.rest = rest

	window := cfg.Feed.Window
	tolerance, _ := config.ParseDurationField("feed.reconcile_tolerance", cfg.Feed.ReconcileTolerance)
	fstore := feed.NewStore(feed.WithWindow(window), feed.WithTolerance(tolerance))
	a.feed = feed.NewService(fstore, rest, a.bus, a.log.With(logx.String("comp", "feed")))

	a.prefs = prefs.NewManager(a.store, a.log.With(logx.String("comp", "prefs")))

	flashWin, _ := config.ParseDurationField("routing.flash_dedup_window", cfg.Routing.FlashDedupWindow)
	permWin, _ := config.ParseDurationField("routing.permission_dedup_window", cfg.Routing.PermissionDedupWindow)
	a.router = routing.NewRouter(routing.Config{
		FlashDedupWindow:      flashWin,
		PermissionDedupWindow: permWin,
		PersistDedup:          cfg.Routing.PersistDedup,
	}, a.store, a.log.With(logx.String("comp", "router")))
	a.sink = routing.NewSink(a.bus)

	a.bridge = authsync.NewBridge(authsync.BridgeDeps{
		Session: a.session,
		API:     rest,
		Feed:    a.feed,
		Sink:    a.sink,
		Bus:     a.bus,
		Log:     a.log.With(logx.String("comp", "authsync")),
	})

	wsURL := strings.TrimSpace(cfg.Server.WebsocketURL)
	if wsURL == "" {
		wsURL = deriveWebsocketURL(cfg.Server.BaseURL)
	}
	dialer, err := transport.NewWSDialer(transport.WSConfig{URL: wsURL},
		a.log.With(logx.String("comp", "ws")))
	if err != nil {
		return err
	}

	reconnectBase, _ := config.ParseDurationField("transport.reconnect_base", cfg.Transport.ReconnectBase)
	grace, _ := config.ParseDurationField("transport.grace_period", cfg.Transport.GracePeriod)
	pollEvery, _ := config.ParseDurationField("transport.poll_interval", cfg.Transport.PollInterval)
	dialTimeout, _ := config.ParseDurationField("transport.dial_timeout", cfg.Transport.DialTimeout)
	a.transport = transport.NewManager(transport.ManagerConfig{
		ReconnectBase: reconnectBase,
		MaxAttempts:   cfg.Transport.MaxAttempts,
		GracePeriod:   grace,
		PollInterval:  pollEvery,
		DialTimeout:   dialTimeout,
	}, transport.Deps{
		Dialer:  dialer,
		Token:   transport.TokenSource(a.session.Token),
		Fetch:   func(ctx context.Context) error { return a.feed.Refresh(ctx, false) },
		Probe:   rest.UnreadCount,
		OnFrame: a.handleFrame,
		Bus:     a.bus,
		Log:     a.log,
	})

	schedule := refresh.DefaultSchedule
	enabled := true
	if cfg.Refresh.Enabled != nil {
		enabled = *cfg.Refresh.Enabled
	}
	if cfg.Refresh.Schedule != "" {
		schedule = cfg.Refresh.Schedule
	}
	if enabled {
		ref, err := refresh.New(schedule, a.feed, a.log.With(logx.String("comp", "refresh")))
		if err != nil {
			return err
		}
		a.refresher = ref
	}
	return nil
}

// Start loads preferences, brings up the push channel and the background
// services, and begins watching the config file for live changes.
func (a *App) Start(ctx context.Context) error {
	userID, err := authsync.UserIDFromToken(a.session.Token())
	if err != nil {
		a.log.Warn("session token has no usable subject; preferences keyed locally", logx.Err(err))
		userID = "local"
	}
	lctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = a.prefs.Load(lctx, userID)
	cancel()
	if err != nil {
		return fmt.Errorf("app: load preferences: %w", err)
	}

	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "app"))))

	a.transport.Start(a.sup.Context())
	if a.refresher != nil {
		a.refresher.Start()
	}
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("config.apply", a.watchConfig)

	a.log.Info("notification subsystem started", logx.String("user", userID))
	return nil
}

// Stop tears everything down in reverse dependency order.
func (a *App) Stop(ctx context.Context) error {
	if a.refresher != nil {
		a.refresher.Stop()
	}
	var firstErr error
	if a.transport != nil {
		if err := a.transport.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.bridge.Close()
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.logsvc != nil {
		_ = a.logsvc.Close()
	}
	return firstErr
}

// watchConfig applies live-reloadable settings. Only logging changes take
// effect without a restart; everything else is logged as deferred.
func (a *App) watchConfig(ctx context.Context) {
	ch := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok || cfg == nil {
				return
			}
			a.logsvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.log.Info("logging settings applied; other changes take effect on restart")
		}
	}
}

// Reconnect is the manual retry affordance surfaced after the attempt cap.
func (a *App) Reconnect() { a.transport.Reconnect() }

func (a *App) Feed() *feed.Service          { return a.feed }
func (a *App) Prefs() *prefs.Manager        { return a.prefs }
func (a *App) Flashes() *routing.Sink       { return a.sink }
func (a *App) Bus() eventbus.Bus            { return a.bus }
func (a *App) Transport() *transport.Manager { return a.transport }

// deriveWebsocketURL maps the REST base to the push endpoint when no explicit
// websocket URL is configured.
func deriveWebsocketURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}
