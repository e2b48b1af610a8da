package coordinator

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"shopqueue-backend/internal/metrics"
)

// Sweep purges queue entries older than retention from every queue and
// returns how many were removed.
func (c *Coordinator) Sweep(ctx context.Context, retention time.Duration) (int, error) {
	providers, err := c.queue.Providers(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, providerID := range providers {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		removed, err := c.queue.ClearStale(ctx, providerID, retention)
		if err != nil {
			log.WithError(err).WithField("provider_id", providerID).Warn("stale entry cleanup failed")
			continue
		}
		if removed == 0 {
			continue
		}
		total += removed
		metrics.StaleEntriesRemoved.Add(float64(removed))
		log.WithFields(log.Fields{"provider_id": providerID, "removed": removed}).Info("removed stale queue entries")
		c.afterShrink(ctx, providerID)
	}
	return total, nil
}

// RunJanitor sweeps every interval until ctx is cancelled.
func (c *Coordinator) RunJanitor(ctx context.Context, interval, retention time.Duration) {
	log.WithFields(log.Fields{"interval": interval, "retention": retention}).Info("queue janitor started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := c.Sweep(ctx, retention); err != nil {
				log.WithError(err).Error("queue sweep failed")
			}
		case <-ctx.Done():
			log.Info("queue janitor shutting down")
			return
		}
	}
}
