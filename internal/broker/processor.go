package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cuongbtq/jobvault/internal/domain"
	"github.com/cuongbtq/jobvault/internal/metrics"
	"github.com/cuongbtq/jobvault/internal/retry"
)

// processJob runs a claimed job and writes its terminal state. Actor failures
// of any kind end as rejected; only the write itself can fail here.
func (b *Broker) processJob(ctx context.Context, workerName string, job *domain.JobMessage) {
	logger := b.logger.With(
		slog.String("worker_name", workerName),
		slog.String("job_id", job.MessageID.String()),
		slog.String("actor", job.Payload.ActorName),
	)
	logger.Info("Processing job", slog.String("queue", job.QueueName))

	// shutdown lets the job finish within its own timeout instead of rejecting it
	runCtx := context.WithoutCancel(ctx)
	started := b.now()

	var outcome domain.Outcome
	actor, ok := b.registry.Lookup(job.Payload.ActorName)
	if !ok {
		outcome = rejected(fmt.Errorf("%w %q", domain.ErrUnknownActor, job.Payload.ActorName))
	} else {
		jobCtx, cancel := context.WithTimeout(runCtx, b.cfg.JobTimeout)
		stopHeartbeat := b.startHeartbeat(jobCtx, workerName, job, logger)

		value, err := b.execute(jobCtx, actor, job.Payload)

		stopHeartbeat()
		cancel()

		if err != nil {
			outcome = rejected(err)
		} else {
			outcome = b.done(value)
		}
	}

	if outcome.State == domain.JobStateRejected {
		logger.Warn("Job rejected", slog.String("reason", outcome.ErrorMessage))
	}

	if err := b.finish(runCtx, workerName, job, outcome, logger); err != nil {
		if errors.Is(err, domain.ErrIllegalTransition) {
			// the lease lapsed and another worker owns the job now
			logger.Error("Lost job before writing its outcome", slog.Any("error", err))
		} else {
			logger.Error("Failed to write job outcome", slog.Any("error", err))
		}
		return
	}

	elapsed := b.now().Sub(started)
	metrics.JobsFinishedTotal.WithLabelValues(job.QueueName, job.Payload.ActorName, outcome.State.String()).Inc()
	metrics.JobDuration.WithLabelValues(job.Payload.ActorName, outcome.State.String()).Observe(elapsed.Seconds())

	logger.Info("Job finished",
		slog.String("state", outcome.State.String()),
		slog.Duration("duration", elapsed),
	)
}

// execute calls the actor on its own goroutine so a hung actor cannot outlive
// its timeout, and converts panics into errors.
func (b *Broker) execute(ctx context.Context, actor Actor, payload domain.Payload) (any, error) {
	type result struct {
		value any
		err   error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("Actor panicked",
					slog.String("actor", actor.Name),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		value, err := actor.Fn(ctx, payload.Args, payload.Kwargs)
		done <- result{value: value, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, &domain.ExecutorFailure{Actor: actor.Name, Err: r.err}
		}
		return r.value, nil
	case <-ctx.Done():
		return nil, &domain.ExecutorFailure{Actor: actor.Name, Err: fmt.Errorf("timed out: %w", ctx.Err())}
	}
}

func (b *Broker) done(value any) domain.Outcome {
	raw, err := json.Marshal(value)
	if err != nil {
		return rejected(fmt.Errorf("result is not serialisable: %w", err))
	}
	if domain.EmptyResult(raw) {
		return rejected(errors.New("actor returned no result"))
	}

	out := domain.Outcome{State: domain.JobStateDone, Result: raw}
	if b.cfg.ResultTTL > 0 {
		expiry := b.now().Add(b.cfg.ResultTTL).UTC()
		out.ResultExpiry = &expiry
	}
	return out
}

func rejected(err error) domain.Outcome {
	return domain.Outcome{State: domain.JobStateRejected, ErrorMessage: err.Error()}
}

// finish writes the outcome until the store accepts or refuses it. Transient
// failures are retried for as long as the store stays unreachable, since the
// actor has already run and its outcome exists nowhere else.
func (b *Broker) finish(ctx context.Context, workerName string, job *domain.JobMessage, out domain.Outcome, logger *slog.Logger) error {
	onRetry := func(attempt int, err error) {
		metrics.StoreRetriesTotal.WithLabelValues("finish").Inc()
		if attempt%max(b.cfg.Retry.MaxAttempts, 1) == 0 {
			logger.Warn("Still retrying job outcome write", slog.Int("attempt", attempt), slog.Any("error", err))
		}
	}
	return retry.Persist(ctx, b.cfg.Retry, onRetry, func(ctx context.Context) error {
		return b.store.FinishJob(ctx, b.principal, job.MessageID, workerName, out)
	})
}

// startHeartbeat extends the job's lease until the returned stop is called.
// Without a lease it does nothing.
func (b *Broker) startHeartbeat(ctx context.Context, workerName string, job *domain.JobMessage, logger *slog.Logger) (stop func()) {
	if b.cfg.LeaseDuration <= 0 || b.cfg.HeartbeatInterval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)

		ticker := time.NewTicker(b.cfg.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := b.store.ExtendLease(ctx, b.principal, job.MessageID, workerName, b.cfg.LeaseDuration)
				if errors.Is(err, domain.ErrIllegalTransition) {
					logger.Warn("Job lease lost", slog.Any("error", err))
					return
				}
				if err != nil {
					logger.Warn("Failed to extend job lease", slog.Any("error", err))
				}
			}
		}
	}()

	return func() {
		close(done)
		<-finished
	}
}
