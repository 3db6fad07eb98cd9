package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pushfeed/internal/eventbus"
	logx "pushfeed/pkg/logx"
)

type fakeConn struct {
	frames    chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan Frame, 8), done: make(chan struct{})}
}

func (c *fakeConn) ReadFrame() (Frame, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.done:
		return Frame{}, errors.New("connection closed")
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

type fakeDialer struct {
	mu    sync.Mutex
	fail  bool
	dials int
	conns []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, token string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fail {
		return nil, errors.New("dial refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func fastConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectBase: time.Millisecond,
		MaxAttempts:   3,
		GracePeriod:   5 * time.Millisecond,
		PollInterval:  5 * time.Millisecond,
		DialTimeout:   time.Second,
	}
}

func TestManagerConnectsAndDeliversFrames(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{}
	var fetches, frames atomic.Int64
	var lastFrame atomic.Value

	m := NewManager(fastConfig(), Deps{
		Dialer: d,
		Token:  func() string { return "tok" },
		Fetch: func(ctx context.Context) error {
			fetches.Add(1)
			return nil
		},
		OnFrame: func(f Frame) {
			frames.Add(1)
			lastFrame.Store(f)
		},
		Bus: eventbus.New(),
		Log: logx.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop(context.Background())

	waitFor(t, func() bool { return m.State() == StateConnected }, "never connected")
	waitFor(t, func() bool { return fetches.Load() >= 1 }, "post-connect snapshot fetch missing")

	conn := d.lastConn()
	conn.frames <- Frame{Type: FrameHeartbeat}
	conn.frames <- Frame{Type: FrameNotification, Data: json.RawMessage(`{"id":"n1"}`)}

	waitFor(t, func() bool { return frames.Load() == 1 }, "notification frame not delivered")
	if f := lastFrame.Load().(Frame); f.Type != FrameNotification {
		t.Fatalf("expected notification frame, got %s", f.Type)
	}
	if f := lastFrame.Load().(Frame); f.ReceivedAt.IsZero() {
		t.Fatalf("frames must be stamped on receipt")
	}
}

func TestManagerReconnectsAfterDrop(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{}
	m := NewManager(fastConfig(), Deps{
		Dialer: d,
		Token:  func() string { return "tok" },
		Bus:    eventbus.New(),
		Log:    logx.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop(context.Background())

	waitFor(t, func() bool { return m.State() == StateConnected }, "never connected")

	d.lastConn().Close()
	waitFor(t, func() bool { return d.dialCount() >= 2 && m.State() == StateConnected },
		"did not reconnect after drop")
}

func TestManagerExhaustsCapAndFallsBackToPolling(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{fail: true}
	var fetches atomic.Int64

	m := NewManager(fastConfig(), Deps{
		Dialer: d,
		Token:  func() string { return "tok" },
		Fetch: func(ctx context.Context) error {
			fetches.Add(1)
			return nil
		},
		Bus: eventbus.New(),
		Log: logx.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop(context.Background())

	// Initial dial plus three retries, then the cap.
	waitFor(t, func() bool { return d.dialCount() == 4 }, "expected 4 dial attempts")
	waitFor(t, func() bool { return m.State() == StateDisconnected },
		"exhausted cap must settle at disconnected")

	// Polling keeps the data flowing while the channel stays down.
	waitFor(t, func() bool { return fetches.Load() >= 2 }, "polling fallback not running")

	// Manual reconnect resumes dialing; a successful dial recovers the channel.
	d.mu.Lock()
	d.fail = false
	d.mu.Unlock()
	m.Reconnect()
	waitFor(t, func() bool { return m.State() == StateConnected }, "manual reconnect failed")
}

func TestManagerDegradedWhilePollingBeforeCap(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{fail: true}
	cfg := fastConfig()
	cfg.ReconnectBase = 40 * time.Millisecond // slow retries so grace fires first
	cfg.MaxAttempts = 5

	m := NewManager(cfg, Deps{
		Dialer: d,
		Token:  func() string { return "tok" },
		Fetch:  func(ctx context.Context) error { return nil },
		Bus:    eventbus.New(),
		Log:    logx.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop(context.Background())

	// Grace period elapses while retries are still scheduled: degraded, not
	// disconnected.
	waitFor(t, func() bool { return m.State() == StateDegraded },
		"expected degraded state while polling with retries remaining")
}
