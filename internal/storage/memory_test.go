package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/jobvault/internal/domain"
	"github.com/cuongbtq/jobvault/internal/policy"
)

func TestMemory(t *testing.T) {
	runStoreContract(t, func(t *testing.T) store {
		return NewMemory(policy.NewEvaluator())
	})
}

func TestMemory_ReclaimStale(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(policy.NewEvaluator())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	alice := signup(t, m, "alice@example.com")
	job := enqueue(t, m, alice, "job_q")

	_, ok, err := m.ClaimNext(ctx, policy.Broker(), []string{"job_q"}, "w1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := m.ReclaimStale(ctx, policy.Broker())
	require.NoError(t, err)
	assert.Zero(t, n, "lease still valid")

	now = now.Add(2 * time.Minute)
	n, err = m.ReclaimStale(ctx, policy.Broker())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := m.GetJob(ctx, alice, job.MessageID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateQueued, got.State)
	assert.Empty(t, got.ConsumedBy)

	err = m.FinishJob(ctx, policy.Broker(), job.MessageID, "w1", domain.Outcome{State: domain.JobStateDone, Result: json.RawMessage(`1`)})
	assert.ErrorIs(t, err, domain.ErrIllegalTransition, "the old holder lost the job")
}

func TestMemory_InsertForDeletedIdentity(t *testing.T) {
	m := NewMemory(policy.NewEvaluator())

	err := m.InsertJob(context.Background(), policy.User("ghost@example.com"), &domain.JobMessage{})
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestMemory_JobsDoNotAliasCallerData(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(policy.NewEvaluator())
	_, err := m.CreateIdentity(ctx, policy.Anonymous(), "alice@example.com", "hash")
	require.NoError(t, err)
	alice := policy.User("alice@example.com")

	tests := []struct {
		name   string
		mutate func(job *domain.JobMessage)
	}{
		{name: "args", mutate: func(job *domain.JobMessage) { job.Payload.Args[0] = "changed" }},
		{name: "kwargs", mutate: func(job *domain.JobMessage) { job.Payload.Kwargs["k"] = "changed" }},
		{name: "options", mutate: func(job *domain.JobMessage) { job.Payload.Options["max_retries"] = 99.0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := uuid.New()
			job := &domain.JobMessage{
				MessageID: id,
				QueueName: "job_q",
				Payload: domain.Payload{
					ActorName: "job",
					QueueName: "job_q",
					Args:      []any{"a"},
					Kwargs:    map[string]any{"k": "v"},
					Options:   map[string]any{"max_retries": 1.0},
					MessageID: id,
				},
			}
			require.NoError(t, m.InsertJob(ctx, alice, job))

			tt.mutate(job)
			got, err := m.GetJob(ctx, alice, id)
			require.NoError(t, err)

			tt.mutate(got)
			got, err = m.GetJob(ctx, alice, id)
			require.NoError(t, err)
			assert.Equal(t, []any{"a"}, got.Payload.Args)
			assert.Equal(t, map[string]any{"k": "v"}, got.Payload.Kwargs)
			assert.Equal(t, map[string]any{"max_retries": 1.0}, got.Payload.Options)
		})
	}
}
