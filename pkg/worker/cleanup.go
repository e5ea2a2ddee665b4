package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// startCleanup schedules the periodic removal of old terminal batches
// when cleanup is enabled. Returns a stop function.
func (w *Worker) startCleanup(ctx context.Context) (func(), error) {
	cfg := w.config.Cleanup
	if !cfg.Enabled {
		return func() {}, nil
	}

	interval := cfg.RunInterval
	if interval == "" {
		interval = "1h"
	}
	if _, err := time.ParseDuration(interval); err != nil {
		return nil, fmt.Errorf("batchq: bad cleanup run_interval %q: %w", interval, err)
	}
	days := cfg.OlderThanDays
	if days <= 0 {
		days = 30
	}

	c := cron.New()
	_, err := c.AddFunc("@every "+interval, func() {
		removed, err := w.mgr.Cleanup(ctx, days)
		if err != nil {
			w.logger.Error("cleanup pass failed", "error", err)
			return
		}
		if removed > 0 {
			w.logger.Info("cleanup pass removed old batches", "removed", removed, "older_than_days", days)
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return func() { c.Stop() }, nil
}
