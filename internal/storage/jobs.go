package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cuongbtq/jobvault/internal/domain"
	"github.com/cuongbtq/jobvault/internal/policy"
)

// JobStore keeps job messages in the job_queue table
type JobStore struct {
	db     *sqlx.DB
	policy *policy.Evaluator
	logger *slog.Logger
}

// NewJobStore creates a new JobStore
func NewJobStore(db *sqlx.DB, evaluator *policy.Evaluator, logger *slog.Logger) *JobStore {
	return &JobStore{
		db:     db,
		policy: evaluator,
		logger: logger,
	}
}

// InsertJob stores job as queued and owned by the caller. OwnerID, State and
// the timestamps are filled in from the stored row.
func (s *JobStore) InsertJob(ctx context.Context, p policy.Principal, job *domain.JobMessage) error {
	if err := s.policy.CanEnqueue(p); err != nil {
		return err
	}

	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("%w: payload is not serialisable: %v", domain.ErrInvalidInput, err)
	}

	// the owner is resolved from the caller, never taken from the request
	query := `
		INSERT INTO job_queue (message_id, owner_id, queue_name, state, payload)
		SELECT $1, u.id, $2, $3, $4
		FROM users u
		WHERE u.email = $5
		RETURNING owner_id, enqueued_at, last_modified
	`

	var row struct {
		OwnerID      int64     `db:"owner_id"`
		EnqueuedAt   time.Time `db:"enqueued_at"`
		LastModified time.Time `db:"last_modified"`
	}
	err = s.db.GetContext(ctx, &row, query,
		job.MessageID, job.QueueName, domain.JobStateQueued, string(payload), p.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: identity no longer exists", domain.ErrUnauthenticated)
		}
		return wrapErr("insert job", err)
	}

	job.OwnerID = row.OwnerID
	job.State = domain.JobStateQueued
	job.EnqueuedAt = row.EnqueuedAt
	job.LastModified = row.LastModified
	return nil
}

// ListJobs returns the caller-visible jobs matching f, newest first. It reads
// one row past PageSize so callers can tell whether another page exists.
func (s *JobStore) ListJobs(ctx context.Context, p policy.Principal, f domain.JobFilter) ([]domain.JobMessage, error) {
	scope, err := s.policy.JobScope(p)
	if err != nil {
		return nil, err
	}

	builder := sq.Select(jobColumns...).
		From("job_queue").
		Where(scope).
		PlaceholderFormat(sq.Dollar)

	if f.JobID != nil {
		builder = builder.Where(sq.Eq{"message_id": *f.JobID})
	}
	if f.State != "" {
		builder = builder.Where(sq.Eq{"state": string(f.State)})
	}
	if f.Cursor != nil {
		builder = builder.Where(sq.Expr("(enqueued_at, message_id) < (?, ?)", f.Cursor.EnqueuedAt, f.Cursor.JobID))
	}
	builder = builder.OrderBy("enqueued_at DESC", "message_id DESC")
	if f.PageSize > 0 {
		builder = builder.Limit(uint64(f.PageSize) + 1)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build job list query: %w", err)
	}

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, wrapErr("list jobs", err)
	}

	jobs := make([]domain.JobMessage, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

// GetJob returns one job if the caller may see it
func (s *JobStore) GetJob(ctx context.Context, p policy.Principal, id uuid.UUID) (*domain.JobMessage, error) {
	jobs, err := s.ListJobs(ctx, p, domain.JobFilter{JobID: &id, PageSize: 1})
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, domain.ErrNotFound
	}
	return &jobs[0], nil
}

// ClaimNext moves the oldest queued job on one of queues to consumed and
// returns it. Concurrent claimers skip rows locked by each other, so a job is
// handed to exactly one of them. ok is false when nothing is queued.
func (s *JobStore) ClaimNext(ctx context.Context, p policy.Principal, queues []string, workerID string, lease time.Duration) (job *domain.JobMessage, ok bool, err error) {
	if err := s.policy.CanTransitionJob(p); err != nil {
		return nil, false, err
	}

	query := `
		UPDATE job_queue
		SET state = $1,
		    consumed_by = $2,
		    last_modified = now(),
		    lease_expires_at = CASE
		        WHEN $3::double precision > 0 THEN now() + make_interval(secs => $3::double precision)
		        ELSE NULL
		    END
		WHERE message_id = (
		    SELECT message_id
		    FROM job_queue
		    WHERE state = $4
		      AND queue_name = ANY($5)
		    ORDER BY last_modified, message_id
		    LIMIT 1
		    FOR UPDATE SKIP LOCKED
		)
		  AND state = $4
		RETURNING ` + jobReturning

	var row jobRow
	err = s.db.GetContext(ctx, &row, query,
		domain.JobStateConsumed, workerID, leaseSeconds(lease), domain.JobStateQueued, pq.Array(queues))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, wrapErr("claim job", err)
	}

	job, err = row.toDomain()
	if err != nil {
		return nil, false, err
	}

	s.logger.Debug("Job claimed",
		slog.String("job_id", job.MessageID.String()),
		slog.String("worker_id", workerID),
		slog.String("queue", job.QueueName),
	)
	return job, true, nil
}

// ExtendLease pushes the lease of a job still held by workerID
func (s *JobStore) ExtendLease(ctx context.Context, p policy.Principal, id uuid.UUID, workerID string, lease time.Duration) error {
	if err := s.policy.CanTransitionJob(p); err != nil {
		return err
	}

	query := `
		UPDATE job_queue
		SET lease_expires_at = now() + make_interval(secs => $1::double precision)
		WHERE message_id = $2 AND state = $3 AND consumed_by = $4
	`

	res, err := s.db.ExecContext(ctx, query, leaseSeconds(lease), id, domain.JobStateConsumed, workerID)
	if err != nil {
		return wrapErr("extend lease", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr("extend lease", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: lease on %s lost by %s", domain.ErrIllegalTransition, id, workerID)
	}
	return nil
}

// FinishJob writes the terminal outcome of a job consumed by workerID
func (s *JobStore) FinishJob(ctx context.Context, p policy.Principal, id uuid.UUID, workerID string, out domain.Outcome) error {
	if err := s.policy.CanTransitionJob(p); err != nil {
		return err
	}
	if err := checkOutcome(out); err != nil {
		return err
	}

	query := `
		UPDATE job_queue
		SET state = $1,
		    result = $2::jsonb,
		    result_expiry = $3,
		    error_message = NULLIF($4, ''),
		    last_modified = now(),
		    lease_expires_at = NULL
		WHERE message_id = $5 AND state = $6 AND consumed_by = $7
	`

	res, err := s.db.ExecContext(ctx, query,
		out.State, nullableJSON(out.Result), out.ResultExpiry, out.ErrorMessage,
		id, domain.JobStateConsumed, workerID)
	if err != nil {
		return wrapErr("finish job", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr("finish job", err)
	}
	if n > 0 {
		return nil
	}

	var current string
	err = s.db.GetContext(ctx, &current, `SELECT state FROM job_queue WHERE message_id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		return wrapErr("finish job", err)
	}
	return &domain.TransitionError{From: domain.JobState(current), To: out.State}
}

// ReclaimStale returns jobs whose lease lapsed to the queued state
func (s *JobStore) ReclaimStale(ctx context.Context, p policy.Principal) (int64, error) {
	if err := s.policy.CanTransitionJob(p); err != nil {
		return 0, err
	}

	query := `
		UPDATE job_queue
		SET state = $1,
		    consumed_by = NULL,
		    lease_expires_at = NULL,
		    last_modified = now()
		WHERE state = $2
		  AND lease_expires_at IS NOT NULL
		  AND lease_expires_at < now()
	`

	res, err := s.db.ExecContext(ctx, query, domain.JobStateQueued, domain.JobStateConsumed)
	if err != nil {
		return 0, wrapErr("reclaim stale jobs", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr("reclaim stale jobs", err)
	}
	if n > 0 {
		s.logger.Warn("Reclaimed jobs with expired lease", slog.Int64("count", n))
	}
	return n, nil
}
