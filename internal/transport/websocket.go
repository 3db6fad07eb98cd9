package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fasthttp/websocket"

	logx "pushfeed/pkg/logx"
)

// WSConfig configures the websocket push channel.
type WSConfig struct {
	URL string // ws:// or wss:// endpoint

	HandshakeTimeout time.Duration // 0 means 10s
	ReadLimit        int64         // 0 means 64 KiB
	PongWait         time.Duration // read deadline window; 0 means 60s
	PingPeriod       time.Duration // must be < PongWait; 0 means 30s
}

// WSDialer dials the push channel over a websocket, presenting the session
// token as a bearer credential during the handshake.
type WSDialer struct {
	cfg WSConfig
	log logx.Logger
}

func NewWSDialer(cfg WSConfig, log logx.Logger) (*WSDialer, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("transport: websocket url is required")
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 64 * 1024
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait / 2
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &WSDialer{cfg: cfg, log: log}, nil
}

func (d *WSDialer) Dial(ctx context.Context, token string) (Conn, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: d.cfg.HandshakeTimeout}
	hdr := http.Header{}
	if token != "" {
		hdr.Set("Authorization", "Bearer "+token)
	}

	ws, resp, err := dialer.DialContext(ctx, d.cfg.URL, hdr)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("transport: dial %s: status %d: %w", d.cfg.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("transport: dial %s: %w", d.cfg.URL, err)
	}

	c := &wsConn{ws: ws, cfg: d.cfg, log: d.log, done: make(chan struct{})}
	ws.SetReadLimit(d.cfg.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(d.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(d.cfg.PongWait))
	})
	go c.pingLoop()
	return c, nil
}

type wsConn struct {
	ws  *websocket.Conn
	cfg WSConfig
	log logx.Logger

	closeOnce sync.Once
	done      chan struct{}

	wmu sync.Mutex // serializes control writes with the ping loop
}

// wireFrame is the envelope the push endpoint emits. Older backends used
// "type" for the discriminator, newer ones "event"; accept both.
type wireFrame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (c *wsConn) ReadFrame() (Frame, error) {
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return Frame{}, err
		}
		at := time.Now()

		var wf wireFrame
		if err := json.Unmarshal(raw, &wf); err != nil {
			c.log.Debug("discarding malformed frame", logx.Err(err))
			continue
		}
		typ := wf.Event
		if typ == "" {
			typ = wf.Type
		}
		if typ == "" {
			c.log.Debug("discarding frame without type")
			continue
		}
		if typ == FrameHeartbeat {
			// Liveness only; the read deadline was just refreshed by the read
			// itself, nothing else to do.
			_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
			continue
		}
		return Frame{Type: typ, Data: wf.Data, ReceivedAt: at}, nil
	}
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.wmu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
			c.wmu.Unlock()
			if err != nil {
				// The read side will notice the dead connection shortly.
				return
			}
		}
	}
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.wmu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.wmu.Unlock()
	})
	return c.ws.Close()
}
