// Package broker claims queued jobs, runs their actors and writes the terminal
// state back. A broker wakes on enqueue notifications and on a poll timer, so
// a lost notification only delays work until the next tick.
package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/jobvault/internal/domain"
	"github.com/cuongbtq/jobvault/internal/notify"
	"github.com/cuongbtq/jobvault/internal/policy"
	"github.com/cuongbtq/jobvault/internal/retry"
)

// Store is the job storage the broker needs
type Store interface {
	ClaimNext(ctx context.Context, p policy.Principal, queues []string, workerID string, lease time.Duration) (*domain.JobMessage, bool, error)
	ExtendLease(ctx context.Context, p policy.Principal, id uuid.UUID, workerID string, lease time.Duration) error
	FinishJob(ctx context.Context, p policy.Principal, id uuid.UUID, workerID string, out domain.Outcome) error
	ReclaimStale(ctx context.Context, p policy.Principal) (int64, error)
}

// Config holds broker configuration
type Config struct {
	WorkerID     string
	Queues       []string
	Concurrency  int
	PollInterval time.Duration
	JobTimeout   time.Duration
	ResultTTL    time.Duration

	// LeaseDuration > 0 stamps claims with a lease that HeartbeatInterval
	// extends; ReclaimInterval > 0 requeues jobs whose lease lapsed.
	LeaseDuration     time.Duration
	HeartbeatInterval time.Duration
	ReclaimInterval   time.Duration

	Retry retry.Policy
}

// Validate reports the first unusable setting
func (c *Config) Validate() error {
	switch {
	case len(c.Queues) == 0:
		return errors.New("broker needs at least one queue")
	case c.Concurrency <= 0:
		return errors.New("broker concurrency must be positive")
	case c.PollInterval <= 0:
		return errors.New("broker poll interval must be positive")
	case c.JobTimeout <= 0:
		return errors.New("broker job timeout must be positive")
	case c.LeaseDuration > 0 && (c.HeartbeatInterval <= 0 || c.HeartbeatInterval >= c.LeaseDuration):
		return errors.New("broker heartbeat interval must be positive and shorter than the lease")
	case c.ReclaimInterval > 0 && c.LeaseDuration <= 0:
		return errors.New("broker reclaim needs a lease duration")
	}
	return nil
}

// Broker is one broker instance; several may share a store
type Broker struct {
	cfg       Config
	store     Store
	sub       notify.Subscriber
	registry  *Registry
	logger    *slog.Logger
	principal policy.Principal

	wake chan struct{}
	wg   sync.WaitGroup
	now  func() time.Time
}

// New creates a broker. sub may be nil, leaving the poll timer as the only wake-up source.
func New(cfg Config, store Store, sub notify.Subscriber, registry *Registry, logger *slog.Logger) (*Broker, error) {
	if cfg.WorkerID == "" {
		cfg.WorkerID = uuid.NewString()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Broker{
		cfg:       cfg,
		store:     store,
		sub:       sub,
		registry:  registry,
		logger:    logger.With(slog.String("worker_id", cfg.WorkerID)),
		principal: policy.Broker(),
		wake:      make(chan struct{}, cfg.Concurrency),
		now:       time.Now,
	}, nil
}

// Run processes jobs until ctx is done, then waits for in-flight jobs to be
// written back before returning.
func (b *Broker) Run(ctx context.Context) error {
	b.logger.Info("Starting broker",
		slog.Any("queues", b.cfg.Queues),
		slog.Int("concurrency", b.cfg.Concurrency),
		slog.Duration("poll_interval", b.cfg.PollInterval),
		slog.Duration("job_timeout", b.cfg.JobTimeout),
		slog.Duration("lease", b.cfg.LeaseDuration),
	)

	hints := b.subscribe(ctx)

	b.spawnWorkerPool(ctx)

	if b.cfg.ReclaimInterval > 0 {
		b.wg.Add(1)
		go b.reclaimLoop(ctx)
	}

	// work enqueued before startup has no pending notification
	b.signal()

	b.dispatch(ctx, hints)

	b.logger.Info("Broker stopping, waiting for in-flight jobs")
	b.wg.Wait()
	b.logger.Info("Broker stopped")
	return nil
}

func (b *Broker) subscribe(ctx context.Context) <-chan string {
	if b.sub == nil {
		b.logger.Info("No notification channel, polling only")
		return nil
	}

	hints, err := b.sub.Subscribe(ctx, b.cfg.Queues)
	if err != nil {
		b.logger.Warn("Failed to subscribe to enqueue notifications, polling only",
			slog.Any("error", err),
		)
		return nil
	}
	return hints
}

// signal hands out up to Concurrency wake tokens without blocking; tokens
// already waiting in the buffer cover the rest.
func (b *Broker) signal() {
	for i := 0; i < b.cfg.Concurrency; i++ {
		select {
		case b.wake <- struct{}{}:
		default:
			return
		}
	}
}

// Queues returns the queues this broker claims from
func (b *Broker) Queues() []string {
	return append([]string(nil), b.cfg.Queues...)
}
