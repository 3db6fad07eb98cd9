// Package refresh runs the periodic background snapshot refresh that keeps
// the feed honest across long websocket sessions.
package refresh

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	logx "pushfeed/pkg/logx"
)

const DefaultSchedule = "@every 5m"

const runTimeout = 30 * time.Second

// Refresher is the feed-side hook; force=false keeps the debounce active so a
// scheduled run racing a reconnect refresh is collapsed.
type Refresher interface {
	Refresh(ctx context.Context, force bool) error
}

type Service struct {
	cron *cron.Cron
	log  logx.Logger
}

func New(schedule string, target Refresher, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}

	c := cron.New(cron.WithChain(cron.Recover(cronLogger{log})))
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		if err := target.Refresh(ctx, false); err != nil {
			log.Debug("scheduled refresh failed", logx.Err(err))
		}
	})
	if err != nil {
		return nil, err
	}
	return &Service{cron: c, log: log}, nil
}

func (s *Service) Start() {
	s.cron.Start()
	s.log.Debug("refresh schedule started")
}

// Stop halts the schedule and waits for an in-flight run to finish.
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
}

// cronLogger adapts logx to cron's logger, used only by the panic recoverer.
type cronLogger struct{ log logx.Logger }

func (c cronLogger) Info(msg string, kv ...any) {
	c.log.Debug(msg, logx.Any("details", kv))
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.log.Error(msg, logx.Err(err), logx.Any("details", kv))
}
