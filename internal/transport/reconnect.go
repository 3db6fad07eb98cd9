package transport

import (
	"sync"
	"time"
)

const (
	DefaultReconnectBase = time.Second
	DefaultMaxAttempts   = 5
)

// ReconnectController owns retry scheduling for the push channel: exponential
// backoff (base * 2^attempt) up to a capped attempt count. It is independent
// of the polling fallback, which may run concurrently.
type ReconnectController struct {
	mu       sync.Mutex
	base     time.Duration
	cap      int
	attempts int
}

func NewReconnectController(base time.Duration, maxAttempts int) *ReconnectController {
	if base <= 0 {
		base = DefaultReconnectBase
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &ReconnectController{base: base, cap: maxAttempts}
}

// Next returns the delay before the next reconnection attempt and consumes one
// attempt. ok is false once the cap is exhausted; auto-retry must then stop
// until Reset (successful connect or manual reconnect).
func (c *ReconnectController) Next() (delay time.Duration, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempts >= c.cap {
		return 0, false
	}
	delay = c.base << uint(c.attempts)
	c.attempts++
	return delay, true
}

// Exhausted reports whether the attempt cap has been reached.
func (c *ReconnectController) Exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts >= c.cap
}

// Attempts returns how many attempts have been consumed since the last reset.
func (c *ReconnectController) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Reset zeroes the attempt counter. Called on every successful connection and
// on manual reconnect.
func (c *ReconnectController) Reset() {
	c.mu.Lock()
	c.attempts = 0
	c.mu.Unlock()
}
