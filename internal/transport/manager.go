package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"pushfeed/internal/eventbus"
	rtsup "pushfeed/internal/runtime/supervisor"
	logx "pushfeed/pkg/logx"
)

const (
	DefaultGracePeriod = 5 * time.Second
	DefaultDialTimeout = 15 * time.Second
)

// ManagerConfig tunes the transport state machine. The defaults mirror the
// production deployment; all of these are policy knobs, not invariants.
type ManagerConfig struct {
	ReconnectBase time.Duration // backoff base; 0 means 1s
	MaxAttempts   int           // reconnect attempt cap; 0 means 5
	GracePeriod   time.Duration // time without a connection before polling starts; 0 means 5s
	PollInterval  time.Duration // polling fallback period; 0 means 10s
	DialTimeout   time.Duration // per-attempt dial bound; 0 means 15s
}

// Deps are the manager's injected collaborators.
type Deps struct {
	Dialer  Dialer
	Token   TokenSource
	Fetch   SnapshotFunc                            // snapshot fetch + reconcile
	Probe   func(ctx context.Context) (int, error) // optional unread-count probe for polling
	OnFrame FrameHandler
	Bus     eventbus.Bus
	Log     logx.Logger
}

// Manager maintains exactly one live push-channel connection, with the
// interval-polling fallback as a concurrent safety net while the channel is
// down. It owns all ConnectionState transitions.
type Manager struct {
	cfg  ManagerConfig
	deps Deps
	ctrl *ReconnectController

	mu         sync.Mutex
	phase      State // the channel's own phase (connecting/connected/error/disconnected)
	state      State // published state, derived from phase + polling + cap
	pollActive bool
	exhausted  bool
	graceArmed bool
	pollCancel context.CancelFunc
	conn       Conn
	sup        *rtsup.Supervisor

	reconnectCh chan struct{}
}

func NewManager(cfg ManagerConfig, deps Deps) *Manager {
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = DefaultReconnectBase
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	return &Manager{
		cfg:         cfg,
		deps:        deps,
		ctrl:        NewReconnectController(cfg.ReconnectBase, cfg.MaxAttempts),
		phase:       StateDisconnected,
		state:       StateDisconnected,
		reconnectCh: make(chan struct{}, 1),
	}
}

// Start launches the connection loop. It is not idempotent; call once.
// The loop handles dial failures itself; the restart wrapper exists so a
// panic in frame handling brings the channel back instead of killing it.
func (m *Manager) Start(ctx context.Context) {
	sup := rtsup.New(ctx, rtsup.WithLogger(m.deps.Log.With(logx.String("comp", "transport"))))
	m.mu.Lock()
	m.sup = sup
	m.mu.Unlock()

	sup.GoRestart("channel", m.run,
		rtsup.WithRestartBackoff(time.Second, 30*time.Second))
}

// Stop tears down the push channel and cancels any pending reconnection timer
// and the polling loop.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	sup := m.sup
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if sup == nil {
		return nil
	}
	return sup.Stop(ctx)
}

// Reconnect resets the attempt counter and forces an immediate attempt. It is
// the manual affordance surfaced once the retry cap is exhausted.
func (m *Manager) Reconnect() {
	m.ctrl.Reset()
	m.mu.Lock()
	m.exhausted = false
	conn := m.conn
	m.mu.Unlock()

	select {
	case m.reconnectCh <- struct{}{}:
	default:
	}
	// If a (possibly stale) connection is up, drop it so the loop re-dials.
	if conn != nil {
		_ = conn.Close()
	}
}

// State returns the current published connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		m.setPhase(StateConnecting)

		dctx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
		conn, err := m.deps.Dialer.Dial(dctx, m.deps.Token())
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.deps.Log.Warn("push channel connect failed",
				logx.Err(err), logx.Int("attempt", m.ctrl.Attempts()))
			m.setPhase(StateError)
			m.armGrace(ctx)
			if !m.waitRetry(ctx) {
				return nil
			}
			continue
		}

		m.ctrl.Reset()
		m.mu.Lock()
		m.conn = conn
		m.exhausted = false
		m.mu.Unlock()
		m.stopPolling()
		m.setPhase(StateConnected)
		m.deps.Log.Info("push channel connected")

		// Reconcile anything missed while disconnected. Runs async so frame
		// reads are not blocked behind the fetch.
		if m.deps.Fetch != nil {
			m.sup.Go0("connect.refresh", func(c context.Context) {
				if ferr := m.deps.Fetch(c); ferr != nil && !errors.Is(ferr, context.Canceled) {
					m.deps.Log.Warn("post-connect snapshot fetch failed", logx.Err(ferr))
				}
			})
		}

		rerr := m.readLoop(conn)
		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
		_ = conn.Close()

		if ctx.Err() != nil {
			return nil
		}
		m.deps.Log.Warn("push channel dropped", logx.Err(rerr))
		m.setPhase(StateDisconnected)
		m.armGrace(ctx)
		if !m.waitRetry(ctx) {
			return nil
		}
	}
}

func (m *Manager) readLoop(conn Conn) error {
	for {
		f, err := conn.ReadFrame()
		if err != nil {
			return err
		}
		if f.Type == FrameHeartbeat {
			continue
		}
		if f.ReceivedAt.IsZero() {
			f.ReceivedAt = time.Now()
		}
		if m.deps.OnFrame != nil {
			m.deps.OnFrame(f)
		}
	}
}

// waitRetry blocks for the next backoff delay, an exhausted-cap manual wait,
// or cancellation. Returns false when the run loop should exit.
func (m *Manager) waitRetry(ctx context.Context) bool {
	delay, ok := m.ctrl.Next()
	if !ok {
		// Cap exhausted: stop auto-retrying, settle at disconnected, keep
		// polling as the only active path until a manual reconnect.
		m.startPolling(ctx)
		m.mu.Lock()
		m.exhausted = true
		m.mu.Unlock()
		m.setPhase(StateDisconnected)
		m.deps.Log.Error("reconnect attempts exhausted; manual reconnect required",
			logx.Int("attempts", m.cfg.MaxAttempts))
		select {
		case <-ctx.Done():
			return false
		case <-m.reconnectCh:
			m.ctrl.Reset()
			m.mu.Lock()
			m.exhausted = false
			m.mu.Unlock()
			return true
		}
	}

	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	case <-m.reconnectCh:
		m.ctrl.Reset()
		return true
	}
}

// armGrace starts the one-shot grace timer: if the channel is still down when
// it fires, the polling fallback starts. Subsequent failures while the timer
// is armed (or polling already runs) are no-ops.
func (m *Manager) armGrace(ctx context.Context) {
	m.mu.Lock()
	if m.graceArmed || m.pollActive {
		m.mu.Unlock()
		return
	}
	m.graceArmed = true
	m.mu.Unlock()

	m.sup.Go0("grace", func(c context.Context) {
		select {
		case <-c.Done():
			return
		case <-time.After(m.cfg.GracePeriod):
		}
		m.mu.Lock()
		m.graceArmed = false
		connected := m.phase == StateConnected
		m.mu.Unlock()
		if !connected {
			m.startPolling(ctx)
		}
	})
}

func (m *Manager) startPolling(ctx context.Context) {
	m.mu.Lock()
	if m.pollActive {
		m.mu.Unlock()
		return
	}
	pctx, cancel := context.WithCancel(ctx)
	m.pollCancel = cancel
	m.pollActive = true
	m.mu.Unlock()

	m.deps.Log.Info("polling fallback started", logx.Duration("interval", m.cfg.PollInterval))
	p := NewPoller(m.cfg.PollInterval, m.deps.Fetch, m.deps.Probe, m.deps.Log.With(logx.String("comp", "poller")))
	m.sup.Go0("poller", func(context.Context) { p.Run(pctx) })
	m.publishState()
}

func (m *Manager) stopPolling() {
	m.mu.Lock()
	cancel := m.pollCancel
	m.pollCancel = nil
	active := m.pollActive
	m.pollActive = false
	m.graceArmed = false
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if active {
		m.deps.Log.Info("polling fallback stopped; push channel is live")
	}
}

func (m *Manager) setPhase(p State) {
	m.mu.Lock()
	m.phase = p
	m.mu.Unlock()
	m.publishState()
}

// publishState derives the externally visible state and emits it on the bus
// when it changed.
func (m *Manager) publishState() {
	m.mu.Lock()
	st := m.deriveLocked()
	changed := st != m.state
	m.state = st
	m.mu.Unlock()

	if changed && m.deps.Bus != nil {
		m.deps.Bus.Publish(eventbus.Event{Type: eventbus.TopicTransportState, Data: st.String()})
	}
}

func (m *Manager) deriveLocked() State {
	switch {
	case m.phase == StateConnected:
		return StateConnected
	case m.exhausted:
		// Retries gave up: polling (if running) is the only path, and the
		// UI surfaces the manual-reconnect affordance.
		return StateDisconnected
	case m.pollActive:
		return StateDegraded
	default:
		return m.phase
	}
}
