package usecase

import (
	"context"
	"log/slog"
	"time"
)

const DefaultSweepInterval = 2 * time.Minute

type IdleSweeper interface {
	SweepIdle() int
}

type StorageSweeper interface {
	Sweep() int
}

// Janitor periodically evicts idle sessions and then removes storage no
// session owns. It blocks in Run until ctx is cancelled.
type Janitor struct {
	Sessions IdleSweeper
	Storage  StorageSweeper
	Logger   *slog.Logger
	Interval time.Duration
}

func (j Janitor) Run(ctx context.Context) {
	interval := j.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.RunOnce()
		}
	}
}

// RunOnce performs one idle sweep followed by one orphan sweep.
func (j Janitor) RunOnce() {
	evicted, removed := 0, 0
	if j.Sessions != nil {
		evicted = j.Sessions.SweepIdle()
	}
	if j.Storage != nil {
		removed = j.Storage.Sweep()
	}
	if (evicted > 0 || removed > 0) && j.Logger != nil {
		j.Logger.Info("janitor: sweep finished",
			slog.Int("idleEvicted", evicted),
			slog.Int("orphansRemoved", removed),
		)
	}
}
