// Package storage persists identities and job messages. Every method takes the
// calling principal and applies the access policy before touching rows, so
// callers never see or change data the policy hides from them.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/jobvault/internal/domain"
	"github.com/cuongbtq/jobvault/shared/postgresql"
)

var jobColumns = []string{
	"message_id", "owner_id", "queue_name", "state", "enqueued_at", "last_modified", "payload",
	"result", "result_expiry", "error_message", "consumed_by", "lease_expires_at",
}

const jobReturning = `message_id, owner_id, queue_name, state, enqueued_at, last_modified, payload,
	result, result_expiry, error_message, consumed_by, lease_expires_at`

type jobRow struct {
	MessageID      uuid.UUID      `db:"message_id"`
	OwnerID        int64          `db:"owner_id"`
	QueueName      string         `db:"queue_name"`
	State          string         `db:"state"`
	EnqueuedAt     time.Time      `db:"enqueued_at"`
	LastModified   time.Time      `db:"last_modified"`
	Payload        []byte         `db:"payload"`
	Result         []byte         `db:"result"`
	ResultExpiry   sql.NullTime   `db:"result_expiry"`
	ErrorMessage   sql.NullString `db:"error_message"`
	ConsumedBy     sql.NullString `db:"consumed_by"`
	LeaseExpiresAt sql.NullTime   `db:"lease_expires_at"`
}

func (r *jobRow) toDomain() (*domain.JobMessage, error) {
	job := &domain.JobMessage{
		MessageID:    r.MessageID,
		OwnerID:      r.OwnerID,
		QueueName:    r.QueueName,
		State:        domain.JobState(r.State),
		EnqueuedAt:   r.EnqueuedAt,
		LastModified: r.LastModified,
		ErrorMessage: r.ErrorMessage.String,
		ConsumedBy:   r.ConsumedBy.String,
	}

	if err := json.Unmarshal(r.Payload, &job.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload of %s: %w", r.MessageID, err)
	}
	if len(r.Result) > 0 {
		job.Result = json.RawMessage(r.Result)
	}
	if r.ResultExpiry.Valid {
		t := r.ResultExpiry.Time
		job.ResultExpiry = &t
	}
	if r.LeaseExpiresAt.Valid {
		t := r.LeaseExpiresAt.Time
		job.LeaseExpires = &t
	}
	return job, nil
}

// wrapErr tags connectivity and contention failures as transient so the
// retry layer can tell them apart from permanent ones.
func wrapErr(op string, err error) error {
	wrapped := fmt.Errorf("failed to %s: %w", op, err)
	if postgresql.IsTransient(err) {
		return domain.NewTransientStoreError(wrapped)
	}
	return wrapped
}

// checkOutcome rejects terminal writes that are not done or rejected, and done
// writes without a result
func checkOutcome(out domain.Outcome) error {
	if !out.State.Terminal() {
		return &domain.TransitionError{From: domain.JobStateConsumed, To: out.State}
	}
	if err := domain.CheckTransition(domain.JobStateConsumed, out.State); err != nil {
		return err
	}
	if out.State == domain.JobStateDone && domain.EmptyResult(out.Result) {
		return fmt.Errorf("%w: done outcome needs a result", domain.ErrInvalidInput)
	}
	return nil
}

// nullableJSON converts raw JSON into a value lib/pq sends as jsonb text
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func leaseSeconds(lease time.Duration) float64 {
	if lease <= 0 {
		return 0
	}
	return lease.Seconds()
}
