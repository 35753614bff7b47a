package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/jobvault/internal/domain"
	"github.com/cuongbtq/jobvault/internal/metrics"
	"github.com/cuongbtq/jobvault/internal/retry"
)

// spawnWorkerPool spawns Concurrency worker goroutines
func (b *Broker) spawnWorkerPool(ctx context.Context) {
	for i := 0; i < b.cfg.Concurrency; i++ {
		b.wg.Add(1)
		go b.workerLoop(ctx, i)
	}

	b.logger.Info("Worker pool spawned", slog.Int("worker_count", b.cfg.Concurrency))
}

// workerLoop waits for a wake token, then claims and runs jobs until none is left
func (b *Broker) workerLoop(ctx context.Context, workerNum int) {
	defer b.wg.Done()

	workerName := fmt.Sprintf("%s-%d", b.cfg.WorkerID, workerNum)
	logger := b.logger.With(slog.String("worker_name", workerName))

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Worker goroutine stopping")
			return
		case <-b.wake:
			b.drain(ctx, workerName, logger)
		}
	}
}

// drain runs queued jobs until the claim comes back empty or ctx is done
func (b *Broker) drain(ctx context.Context, workerName string, logger *slog.Logger) {
	for ctx.Err() == nil {
		job, err := b.claim(ctx, workerName)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Error("Failed to claim job", slog.Any("error", err))
			}
			return
		}
		if job == nil {
			return
		}

		metrics.JobsClaimedTotal.WithLabelValues(job.QueueName).Inc()
		b.processJob(ctx, workerName, job)
	}
}

func (b *Broker) claim(ctx context.Context, workerName string) (*domain.JobMessage, error) {
	var job *domain.JobMessage
	attempt := 0
	err := retry.Do(ctx, b.cfg.Retry, func(ctx context.Context) error {
		if attempt > 0 {
			metrics.StoreRetriesTotal.WithLabelValues("claim").Inc()
		}
		attempt++

		claimed, ok, err := b.store.ClaimNext(ctx, b.principal, b.cfg.Queues, workerName, b.cfg.LeaseDuration)
		if err != nil {
			return err
		}
		if ok {
			job = claimed
		}
		return nil
	})
	return job, err
}
