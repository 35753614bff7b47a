package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobvault/internal/metrics"
)

// dispatch turns notifications and poll ticks into wake tokens until ctx is done
func (b *Broker) dispatch(ctx context.Context, hints <-chan string) {
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case queue, ok := <-hints:
			if !ok {
				b.logger.Warn("Notification channel closed, polling only")
				hints = nil
				continue
			}
			b.logger.Debug("Woken by notification", slog.String("queue", queue))
			metrics.WakeupsTotal.WithLabelValues("notify").Inc()
			b.signal()

		case <-ticker.C:
			metrics.WakeupsTotal.WithLabelValues("poll").Inc()
			b.signal()
		}
	}
}

// reclaimLoop periodically returns jobs with a lapsed lease to queued
func (b *Broker) reclaimLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := b.store.ReclaimStale(ctx, b.principal)
			if err != nil {
				b.logger.Error("Failed to reclaim stale jobs", slog.Any("error", err))
				continue
			}
			if n > 0 {
				metrics.JobsReclaimedTotal.Add(float64(n))
				b.logger.Warn("Requeued jobs with expired lease", slog.Int64("count", n))
				b.signal()
			}
		}
	}
}
