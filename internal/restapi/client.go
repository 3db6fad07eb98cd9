package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	logx "pushfeed/pkg/logx"
)

var (
	ErrUnauthorized = errors.New("rest: unauthorized")
	ErrBreakerOpen  = errors.New("rest: snapshot circuit open")
)

// StatusError is returned for non-2xx responses that are not retried.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rest: unexpected status %d: %s", e.Code, e.Body)
}

// TokenSource yields the current session bearer credential. It is consulted
// per request so token refreshes are picked up without rebuilding the client.
type TokenSource func() string

type Config struct {
	BaseURL string

	Timeout         time.Duration // per request; 0 means 10s
	RetryMaxElapsed time.Duration // total retry budget; 0 means 15s
	RatePerSec      int           // request rate cap; 0 means 10

	// Breaker guards the snapshot fetch path so a struggling backend is not
	// hammered by the reconnect/refresh/polling trio at once.
	BreakerFailures uint32        // consecutive failures before opening; 0 means 5
	BreakerCooldown time.Duration // open duration; 0 means 30s
}

// Client talks to the notification and profile REST surfaces.
// All requests carry the session token as a bearer credential.
type Client struct {
	cfg     Config
	http    *http.Client
	token   TokenSource
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     logx.Logger
}

func New(cfg Config, token TokenSource, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("rest: base url is required")
	}
	if token == nil {
		return nil, errors.New("rest: token source is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryMaxElapsed <= 0 {
		cfg.RetryMaxElapsed = 15 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 10
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    8,
		IdleConnTimeout: 90 * time.Second,
	}
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Transport: tr, Timeout: cfg.Timeout},
		token:   token,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:     log,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "snapshot",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("snapshot breaker state changed",
				logx.String("from", from.String()), logx.String("to", to.String()))
		},
	})
	return c, nil
}

// doJSON performs a request with retry and decodes a JSON response into out
// (out may be nil for fire-and-forget mutations).
//
// Retries network failures and 5xx with exponential backoff; 4xx is permanent.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("rest: encode body: %w", err)
		}
		payload = b
	}

	operation := func() error {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rd)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out == nil {
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(fmt.Errorf("rest: decode %s %s: %w", method, path, err))
			}
			return nil
		case resp.StatusCode == http.StatusUnauthorized:
			return backoff.Permanent(ErrUnauthorized)
		case resp.StatusCode >= 500:
			return &StatusError{Code: resp.StatusCode}
		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(&StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))})
		}
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.cfg.RetryMaxElapsed
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

// snapshot runs fn behind the snapshot circuit breaker.
func (c *Client) snapshot(fn func() (any, error)) (any, error) {
	v, err := c.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrBreakerOpen
	}
	return v, err
}
