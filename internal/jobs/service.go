// Package jobs is the producer side of the queue: enqueueing work on behalf of
// an identity and reading back the jobs that identity owns.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/jobvault/internal/domain"
	"github.com/cuongbtq/jobvault/internal/metrics"
	"github.com/cuongbtq/jobvault/internal/notify"
	"github.com/cuongbtq/jobvault/internal/policy"
	"github.com/cuongbtq/jobvault/internal/retry"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Store is the job storage the producer needs
type Store interface {
	InsertJob(ctx context.Context, p policy.Principal, job *domain.JobMessage) error
	ListJobs(ctx context.Context, p policy.Principal, f domain.JobFilter) ([]domain.JobMessage, error)
	GetJob(ctx context.Context, p policy.Principal, id uuid.UUID) (*domain.JobMessage, error)
}

// Catalog resolves an actor name to the queue its jobs go to
type Catalog interface {
	QueueFor(actor string) (string, bool)
}

// EnqueueRequest describes the work to enqueue
type EnqueueRequest struct {
	Actor     string
	QueueName string
	Args      []any
	Kwargs    map[string]any
	Options   map[string]any
}

// ListQuery narrows a job listing
type ListQuery struct {
	JobID    *uuid.UUID
	State    domain.JobState
	PageSize int
	Cursor   string
}

// Page is one page of job views
type Page struct {
	Jobs       []domain.JobView
	NextCursor string
}

// Service implements enqueue and result retrieval
type Service struct {
	store    Store
	catalog  Catalog
	notifier notify.Notifier
	retry    retry.Policy
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates the producer service. notifier may be nil, in which
// case brokers only find new work by polling.
func NewService(store Store, catalog Catalog, notifier notify.Notifier, retryPolicy retry.Policy, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		catalog:  catalog,
		notifier: notifier,
		retry:    retryPolicy,
		logger:   logger,
		now:      time.Now,
	}
}

// Enqueue stores a queued job owned by p and then notifies the job's queue.
// The notification is sent only after the row is durable; losing it merely
// delays the job until the next broker poll.
func (s *Service) Enqueue(ctx context.Context, p policy.Principal, req EnqueueRequest) (uuid.UUID, error) {
	queue, err := s.resolveQueue(req)
	if err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	job := &domain.JobMessage{
		MessageID: id,
		QueueName: queue,
		Payload: domain.Payload{
			ActorName:        req.Actor,
			QueueName:        queue,
			Args:             orEmptySlice(req.Args),
			Kwargs:           orEmptyMap(req.Kwargs),
			Options:          orEmptyMap(req.Options),
			MessageID:        id,
			MessageTimestamp: s.now().Unix(),
		},
	}

	err = s.withRetry(ctx, "insert_job", func(ctx context.Context) error {
		return s.store.InsertJob(ctx, p, job)
	})
	if err != nil {
		return uuid.Nil, err
	}
	metrics.JobsEnqueuedTotal.WithLabelValues(queue).Inc()

	s.logger.Info("Job enqueued",
		slog.String("job_id", id.String()),
		slog.String("queue", queue),
		slog.String("actor", req.Actor),
	)

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, queue); err != nil {
			metrics.NotifyErrorsTotal.WithLabelValues(queue).Inc()
			s.logger.Warn("Failed to notify brokers, job will be picked up by polling",
				slog.String("job_id", id.String()),
				slog.String("queue", queue),
				slog.Any("error", err),
			)
		}
	}
	return id, nil
}

func (s *Service) resolveQueue(req EnqueueRequest) (string, error) {
	if req.Actor == "" {
		return "", fmt.Errorf("%w: actor is required", domain.ErrInvalidInput)
	}

	queue, ok := s.catalog.QueueFor(req.Actor)
	if !ok {
		return "", fmt.Errorf("%w %q", domain.ErrUnknownActor, req.Actor)
	}
	if req.QueueName != "" && req.QueueName != queue {
		return "", fmt.Errorf("%w: actor %q runs on queue %q, not %q", domain.ErrInvalidInput, req.Actor, queue, req.QueueName)
	}
	return queue, nil
}

// List returns the caller's jobs newest first
func (s *Service) List(ctx context.Context, p policy.Principal, q ListQuery) (*Page, error) {
	if q.State != "" && !q.State.Valid() {
		return nil, fmt.Errorf("%w: unknown state %q", domain.ErrInvalidInput, q.State)
	}

	pageSize := q.PageSize
	switch {
	case pageSize <= 0:
		pageSize = DefaultPageSize
	case pageSize > MaxPageSize:
		pageSize = MaxPageSize
	}

	cursor, err := DecodeCursor(q.Cursor)
	if err != nil {
		return nil, err
	}

	filter := domain.JobFilter{
		JobID:    q.JobID,
		State:    q.State,
		PageSize: pageSize,
		Cursor:   cursor,
	}

	var rows []domain.JobMessage
	err = s.withRetry(ctx, "list_jobs", func(ctx context.Context) error {
		var err error
		rows, err = s.store.ListJobs(ctx, p, filter)
		return err
	})
	if err != nil {
		return nil, err
	}

	page := &Page{Jobs: make([]domain.JobView, 0, min(len(rows), pageSize))}
	hasMore := len(rows) > pageSize
	if hasMore {
		rows = rows[:pageSize]
	}
	for i := range rows {
		page.Jobs = append(page.Jobs, rows[i].View())
	}
	if hasMore {
		last := rows[len(rows)-1]
		page.NextCursor = EncodeCursor(domain.JobCursor{EnqueuedAt: last.EnqueuedAt, JobID: last.MessageID})
	}
	return page, nil
}

// Get returns one job of the caller. Jobs of other identities are NotFound.
func (s *Service) Get(ctx context.Context, p policy.Principal, id uuid.UUID) (*domain.JobView, error) {
	var job *domain.JobMessage
	err := s.withRetry(ctx, "get_job", func(ctx context.Context) error {
		var err error
		job, err = s.store.GetJob(ctx, p, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	view := job.View()
	return &view, nil
}

// withRetry retries transient store failures and reports exhaustion as
// ServiceUnavailable.
func (s *Service) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		if attempt > 0 {
			metrics.StoreRetriesTotal.WithLabelValues(op).Inc()
		}
		attempt++
		return fn(ctx)
	})
	if domain.IsTransient(err) {
		s.logger.Error("Store unavailable after retries", slog.String("op", op), slog.Any("error", err))
		return fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err)
	}
	return err
}

func orEmptySlice(v []any) []any {
	if v == nil {
		return []any{}
	}
	return v
}

func orEmptyMap(v map[string]any) map[string]any {
	if v == nil {
		return map[string]any{}
	}
	return v
}
