package icons

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/drawmaid/internal/logging"
)

// DefaultSweepSchedule runs the cache sweep every five minutes.
const DefaultSweepSchedule = "*/5 * * * *"

// Janitor sweeps expired cache entries on a cron schedule.
type Janitor struct {
	cache    *Cache
	schedule cron.Schedule
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewJanitor parses a standard five-field cron expression.
func NewJanitor(cache *Cache, expr string, logger *slog.Logger) (*Janitor, error) {
	if expr == "" {
		expr = DefaultSweepSchedule
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", expr, err)
	}
	return &Janitor{cache: cache, schedule: schedule, logger: logging.OrDiscard(logger)}, nil
}

// Next returns the next sweep time after from.
func (j *Janitor) Next(from time.Time) time.Time {
	return j.schedule.Next(from)
}

// Start launches the sweep loop.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.done != nil {
		return fmt.Errorf("icon cache janitor already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})
	go j.loop(loopCtx, j.done)
	return nil
}

// Stop halts the loop and waits for it to exit.
func (j *Janitor) Stop() {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel, j.done = nil, nil
	j.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (j *Janitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		timer := time.NewTimer(time.Until(j.schedule.Next(time.Now())))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if n := j.cache.Sweep(); n > 0 {
				j.logger.Debug("icon cache swept", slog.Int("removed", n), slog.Int("remaining", j.cache.Len()))
			}
		}
	}
}
