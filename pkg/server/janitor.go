package server

import (
	"context"
	"time"

	"sgi/pkg/logx"
)

// PurgeFunc removes expired rows and reports how many went.
type PurgeFunc func(ctx context.Context) (int64, error)

// Janitor periodically purges expired magic links and delivery keys.
type Janitor struct {
	interval time.Duration
	tasks    map[string]PurgeFunc
	logger   *logx.Logger
}

// NewJanitor creates a janitor running tasks every interval.
func NewJanitor(interval time.Duration, tasks map[string]PurgeFunc) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{interval: interval, tasks: tasks, logger: logx.NewLogger("janitor")}
}

// Run purges once, then on every tick until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		j.Sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep runs every task once.
func (j *Janitor) Sweep(ctx context.Context) {
	for name, purge := range j.tasks {
		n, err := purge(ctx)
		switch {
		case err != nil:
			j.logger.Warn("purge of %s failed: %v", name, err)
		case n > 0:
			j.logger.Info("purged %d expired %s", n, name)
		}
	}
}
