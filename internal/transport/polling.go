package transport

import (
	"context"
	"errors"
	"time"

	logx "pushfeed/pkg/logx"
)

const DefaultPollInterval = 10 * time.Second

// Poller is the interval-polling safety net. It runs only while the push
// channel is down, fetching the authoritative snapshot on a fixed period.
// Duplicates against push-delivered events are resolved downstream by the
// idempotent reconcile path.
type Poller struct {
	interval time.Duration
	fetch    SnapshotFunc
	probe    func(ctx context.Context) (int, error) // optional unread-count probe
	log      logx.Logger

	lastCount int
	hasCount  bool
}

func NewPoller(interval time.Duration, fetch SnapshotFunc, probe func(ctx context.Context) (int, error), log logx.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Poller{interval: interval, fetch: fetch, probe: probe, log: log}
}

// Run polls until ctx is canceled. The first fetch happens immediately so a
// degraded session catches up without waiting a full period.
func (p *Poller) Run(ctx context.Context) {
	p.tick(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	// Cheap probe first: when the server-side unread count hasn't moved since
	// the last poll, skip the full page fetch.
	if p.probe != nil {
		count, err := p.probe(ctx)
		if err == nil {
			if p.hasCount && count == p.lastCount {
				return
			}
			p.lastCount = count
			p.hasCount = true
		}
		// Probe failures fall through to the full fetch; the snapshot path has
		// its own retry and breaker.
	}

	if err := p.fetch(ctx); err != nil && !errors.Is(err, context.Canceled) {
		// Fail-open: keep current state, keep polling.
		p.log.Debug("poll fetch failed", logx.Err(err))
	}
}
