package storage

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/jobvault/internal/domain"
	"github.com/cuongbtq/jobvault/internal/policy"
)

// store is the method set shared by the PostgreSQL stores and Memory
type store interface {
	CreateIdentity(ctx context.Context, p policy.Principal, email, passwordHash string) (*domain.Identity, error)
	FindCredentials(ctx context.Context, p policy.Principal, email string) (*domain.Identity, error)
	GetProfile(ctx context.Context, p policy.Principal) (*domain.Profile, error)
	UpdateProfile(ctx context.Context, p policy.Principal, upd domain.ProfileUpdate) error
	InsertJob(ctx context.Context, p policy.Principal, job *domain.JobMessage) error
	ListJobs(ctx context.Context, p policy.Principal, f domain.JobFilter) ([]domain.JobMessage, error)
	GetJob(ctx context.Context, p policy.Principal, id uuid.UUID) (*domain.JobMessage, error)
	ClaimNext(ctx context.Context, p policy.Principal, queues []string, workerID string, lease time.Duration) (*domain.JobMessage, bool, error)
	ExtendLease(ctx context.Context, p policy.Principal, id uuid.UUID, workerID string, lease time.Duration) error
	FinishJob(ctx context.Context, p policy.Principal, id uuid.UUID, workerID string, out domain.Outcome) error
	ReclaimStale(ctx context.Context, p policy.Principal) (int64, error)
}

func signup(t *testing.T, s store, email string) policy.Principal {
	t.Helper()
	_, err := s.CreateIdentity(context.Background(), policy.Anonymous(), email, "$2a$10$hash")
	require.NoError(t, err)
	return policy.User(email)
}

func enqueue(t *testing.T, s store, p policy.Principal, queue string) *domain.JobMessage {
	t.Helper()
	id := uuid.New()
	job := &domain.JobMessage{
		MessageID: id,
		QueueName: queue,
		Payload: domain.Payload{
			ActorName:        "job",
			QueueName:        queue,
			Args:             []any{},
			Kwargs:           map[string]any{},
			Options:          map[string]any{},
			MessageID:        id,
			MessageTimestamp: time.Now().UnixMilli(),
		},
	}
	require.NoError(t, s.InsertJob(context.Background(), p, job))
	return job
}

func runStoreContract(t *testing.T, newStore func(t *testing.T) store) {
	ctx := context.Background()
	broker := policy.Broker()

	t.Run("duplicate email is rejected", func(t *testing.T) {
		s := newStore(t)
		signup(t, s, "dup@example.com")

		_, err := s.CreateIdentity(ctx, policy.Anonymous(), "dup@example.com", "x")
		assert.ErrorIs(t, err, domain.ErrDuplicateIdentity)
	})

	t.Run("only anonymous may sign up", func(t *testing.T) {
		s := newStore(t)
		_, err := s.CreateIdentity(ctx, policy.User("a@example.com"), "b@example.com", "x")
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("credentials are visible to the authenticator only", func(t *testing.T) {
		s := newStore(t)
		alice := signup(t, s, "alice@example.com")

		identity, err := s.FindCredentials(ctx, policy.Authenticator(), "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, "$2a$10$hash", identity.PasswordHash)
		assert.Equal(t, domain.RoleAPIUser, identity.Role)

		_, err = s.FindCredentials(ctx, alice, "alice@example.com")
		assert.ErrorIs(t, err, domain.ErrForbidden)

		_, err = s.FindCredentials(ctx, policy.Authenticator(), "nobody@example.com")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("profile update touches only set fields", func(t *testing.T) {
		s := newStore(t)
		alice := signup(t, s, "alice@example.com")
		first, last := "Alice", "Liddell"

		require.NoError(t, s.UpdateProfile(ctx, alice, domain.ProfileUpdate{
			FirstName: domain.Field{Set: true, Value: &first},
			LastName:  domain.Field{Set: true, Value: &last},
		}))
		require.NoError(t, s.UpdateProfile(ctx, alice, domain.ProfileUpdate{
			LastName: domain.Field{Set: true},
		}))

		profile, err := s.GetProfile(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", profile.Email)
		require.NotNil(t, profile.FirstName)
		assert.Equal(t, "Alice", *profile.FirstName)
		assert.Nil(t, profile.LastName)

		err = s.UpdateProfile(ctx, alice, domain.ProfileUpdate{})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("anonymous cannot read profiles", func(t *testing.T) {
		s := newStore(t)
		signup(t, s, "alice@example.com")

		_, err := s.GetProfile(ctx, policy.Anonymous())
		assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	})

	t.Run("enqueued job is queued and owned by the caller", func(t *testing.T) {
		s := newStore(t)
		alice := signup(t, s, "alice@example.com")
		job := enqueue(t, s, alice, "job_q")

		got, err := s.GetJob(ctx, alice, job.MessageID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStateQueued, got.State)
		assert.Equal(t, "job", got.Payload.ActorName)
		assert.Equal(t, job.MessageID, got.Payload.MessageID)
		assert.Nil(t, got.Result)
	})

	t.Run("jobs are isolated between identities", func(t *testing.T) {
		s := newStore(t)
		alice := signup(t, s, "alice@example.com")
		bob := signup(t, s, "bob@example.com")
		aliceJob := enqueue(t, s, alice, "job_q")
		enqueue(t, s, bob, "job_q")

		_, err := s.GetJob(ctx, bob, aliceJob.MessageID)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		jobs, err := s.ListJobs(ctx, bob, domain.JobFilter{PageSize: 10})
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.NotEqual(t, aliceJob.MessageID, jobs[0].MessageID)

		all, err := s.ListJobs(ctx, broker, domain.JobFilter{PageSize: 10})
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("users cannot change job state", func(t *testing.T) {
		s := newStore(t)
		alice := signup(t, s, "alice@example.com")
		job := enqueue(t, s, alice, "job_q")

		_, _, err := s.ClaimNext(ctx, alice, []string{"job_q"}, "w", 0)
		assert.ErrorIs(t, err, domain.ErrIllegalTransition)

		err = s.FinishJob(ctx, alice, job.MessageID, "w", domain.Outcome{State: domain.JobStateDone, Result: json.RawMessage(`1`)})
		assert.ErrorIs(t, err, domain.ErrIllegalTransition)
	})

	t.Run("listing pages newest first", func(t *testing.T) {
		s := newStore(t)
		alice := signup(t, s, "alice@example.com")
		var ids []uuid.UUID
		for i := 0; i < 5; i++ {
			ids = append(ids, enqueue(t, s, alice, "job_q").MessageID)
		}

		first, err := s.ListJobs(ctx, alice, domain.JobFilter{PageSize: 2})
		require.NoError(t, err)
		require.Len(t, first, 3, "one extra row signals another page")
		assert.Equal(t, ids[4], first[0].MessageID)
		assert.Equal(t, ids[3], first[1].MessageID)

		cursor := &domain.JobCursor{EnqueuedAt: first[1].EnqueuedAt, JobID: first[1].MessageID}
		second, err := s.ListJobs(ctx, alice, domain.JobFilter{PageSize: 2, Cursor: cursor})
		require.NoError(t, err)
		require.Len(t, second, 3)
		assert.Equal(t, ids[2], second[0].MessageID)
		assert.Equal(t, ids[1], second[1].MessageID)
	})

	t.Run("listing pages stay stable while jobs change state", func(t *testing.T) {
		s := newStore(t)
		alice := signup(t, s, "alice@example.com")
		var ids []uuid.UUID
		for i := 0; i < 5; i++ {
			ids = append(ids, enqueue(t, s, alice, "job_q").MessageID)
		}

		first, err := s.ListJobs(ctx, alice, domain.JobFilter{PageSize: 2})
		require.NoError(t, err)
		require.Len(t, first, 3)

		// the two oldest jobs finish between page fetches
		for range 2 {
			claimed, ok, err := s.ClaimNext(ctx, broker, []string{"job_q"}, "w1", 0)
			require.NoError(t, err)
			require.True(t, ok)
			require.NoError(t, s.FinishJob(ctx, broker, claimed.MessageID, "w1", domain.Outcome{
				State:  domain.JobStateDone,
				Result: json.RawMessage(`true`),
			}))
		}

		cursor := &domain.JobCursor{EnqueuedAt: first[1].EnqueuedAt, JobID: first[1].MessageID}
		second, err := s.ListJobs(ctx, alice, domain.JobFilter{PageSize: 2, Cursor: cursor})
		require.NoError(t, err)

		var got []uuid.UUID
		for _, job := range second {
			got = append(got, job.MessageID)
		}
		assert.Equal(t, []uuid.UUID{ids[2], ids[1], ids[0]}, got)
		assert.Equal(t, domain.JobStateDone, second[1].State)
	})

	t.Run("claim finish round trip", func(t *testing.T) {
		s := newStore(t)
		alice := signup(t, s, "alice@example.com")
		job := enqueue(t, s, alice, "job_q")

		_, ok, err := s.ClaimNext(ctx, broker, []string{"other_q"}, "w1", 0)
		require.NoError(t, err)
		assert.False(t, ok)

		claimed, ok, err := s.ClaimNext(ctx, broker, []string{"job_q"}, "w1", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, job.MessageID, claimed.MessageID)
		assert.Equal(t, domain.JobStateConsumed, claimed.State)
		assert.Equal(t, "w1", claimed.ConsumedBy)
		require.NotNil(t, claimed.LeaseExpires)

		err = s.FinishJob(ctx, broker, job.MessageID, "w2", domain.Outcome{State: domain.JobStateDone, Result: json.RawMessage(`1`)})
		assert.ErrorIs(t, err, domain.ErrIllegalTransition, "another worker cannot finish the job")

		require.NoError(t, s.FinishJob(ctx, broker, job.MessageID, "w1", domain.Outcome{
			State:  domain.JobStateDone,
			Result: json.RawMessage(`"done"`),
		}))

		got, err := s.GetJob(ctx, alice, job.MessageID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStateDone, got.State)
		assert.JSONEq(t, `"done"`, string(got.Result))

		err = s.FinishJob(ctx, broker, job.MessageID, "w1", domain.Outcome{State: domain.JobStateRejected})
		var terr *domain.TransitionError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, domain.JobStateDone, terr.From)
	})

	t.Run("rejection keeps result empty and records the error", func(t *testing.T) {
		s := newStore(t)
		alice := signup(t, s, "alice@example.com")
		job := enqueue(t, s, alice, "job_q")

		_, ok, err := s.ClaimNext(ctx, broker, []string{"job_q"}, "w1", 0)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, s.FinishJob(ctx, broker, job.MessageID, "w1", domain.Outcome{
			State:        domain.JobStateRejected,
			ErrorMessage: "boom",
		}))

		got, err := s.GetJob(ctx, broker, job.MessageID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStateRejected, got.State)
		assert.Nil(t, got.Result)
		assert.Equal(t, "boom", got.ErrorMessage)
	})

	t.Run("finish rejects non terminal outcome", func(t *testing.T) {
		s := newStore(t)
		err := s.FinishJob(ctx, broker, uuid.New(), "w1", domain.Outcome{State: domain.JobStateQueued})
		assert.ErrorIs(t, err, domain.ErrIllegalTransition)
	})

	t.Run("done outcome needs a result", func(t *testing.T) {
		s := newStore(t)
		alice := signup(t, s, "alice@example.com")
		job := enqueue(t, s, alice, "job_q")

		_, ok, err := s.ClaimNext(ctx, broker, []string{"job_q"}, "w1", 0)
		require.NoError(t, err)
		require.True(t, ok)

		for _, result := range []json.RawMessage{nil, json.RawMessage(`null`), json.RawMessage(" null ")} {
			err := s.FinishJob(ctx, broker, job.MessageID, "w1", domain.Outcome{State: domain.JobStateDone, Result: result})
			assert.ErrorIs(t, err, domain.ErrInvalidInput, "result %q", result)
		}

		got, err := s.GetJob(ctx, broker, job.MessageID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStateConsumed, got.State, "refused write leaves the job consumed")
	})

	t.Run("claims are fifo per queue", func(t *testing.T) {
		s := newStore(t)
		alice := signup(t, s, "alice@example.com")
		first := enqueue(t, s, alice, "job_q")
		second := enqueue(t, s, alice, "job_q")

		a, _, err := s.ClaimNext(ctx, broker, []string{"job_q"}, "w", 0)
		require.NoError(t, err)
		b, _, err := s.ClaimNext(ctx, broker, []string{"job_q"}, "w", 0)
		require.NoError(t, err)
		assert.Equal(t, first.MessageID, a.MessageID)
		assert.Equal(t, second.MessageID, b.MessageID)
	})

	t.Run("concurrent claimers get each job exactly once", func(t *testing.T) {
		s := newStore(t)
		alice := signup(t, s, "alice@example.com")
		const jobs = 20
		for i := 0; i < jobs; i++ {
			enqueue(t, s, alice, "job_q")
		}

		var (
			mu      sync.Mutex
			claimed = make(map[uuid.UUID]int)
			wg      sync.WaitGroup
		)
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(worker string) {
				defer wg.Done()
				for {
					job, ok, err := s.ClaimNext(ctx, broker, []string{"job_q"}, worker, 0)
					if !assert.NoError(t, err) || !ok {
						return
					}
					mu.Lock()
					claimed[job.MessageID]++
					mu.Unlock()
				}
			}(uuid.NewString())
		}
		wg.Wait()

		assert.Len(t, claimed, jobs)
		for id, n := range claimed {
			assert.Equal(t, 1, n, "job %s claimed more than once", id)
		}
	})

	t.Run("lease extension requires ownership", func(t *testing.T) {
		s := newStore(t)
		alice := signup(t, s, "alice@example.com")
		job := enqueue(t, s, alice, "job_q")

		_, _, err := s.ClaimNext(ctx, broker, []string{"job_q"}, "w1", time.Minute)
		require.NoError(t, err)

		assert.NoError(t, s.ExtendLease(ctx, broker, job.MessageID, "w1", time.Minute))
		assert.ErrorIs(t, s.ExtendLease(ctx, broker, job.MessageID, "w2", time.Minute), domain.ErrIllegalTransition)
	})
}
