package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/jobvault/internal/domain"
	"github.com/cuongbtq/jobvault/internal/policy"
)

// Memory is an in-process store with the same access rules as the PostgreSQL
// stores. It backs the standalone binary and the service tests.
type Memory struct {
	mu      sync.Mutex
	policy  *policy.Evaluator
	now     func() time.Time
	nextID  int64
	last    time.Time
	users   map[int64]*domain.Identity
	byEmail map[string]int64
	jobs    map[uuid.UUID]*domain.JobMessage
}

// NewMemory creates an empty in-memory store
func NewMemory(evaluator *policy.Evaluator) *Memory {
	return &Memory{
		policy:  evaluator,
		now:     time.Now,
		users:   make(map[int64]*domain.Identity),
		byEmail: make(map[string]int64),
		jobs:    make(map[uuid.UUID]*domain.JobMessage),
	}
}

// tick returns a timestamp strictly after the previous one so that ordering by
// enqueued_at or last_modified stays total within the process; m.mu must be held.
func (m *Memory) tick() time.Time {
	t := m.now().UTC()
	if !t.After(m.last) {
		t = m.last.Add(time.Microsecond)
	}
	m.last = t
	return t
}

// CreateIdentity implements the identity insert
func (m *Memory) CreateIdentity(_ context.Context, p policy.Principal, email, passwordHash string) (*domain.Identity, error) {
	if err := m.policy.CanSignup(p); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byEmail[email]; exists {
		return nil, domain.ErrDuplicateIdentity
	}

	m.nextID++
	identity := &domain.Identity{
		ID:           m.nextID,
		CreatedAt:    m.now().UTC(),
		Email:        email,
		PasswordHash: passwordHash,
		Role:         domain.RoleAPIUser,
	}
	m.users[identity.ID] = identity
	m.byEmail[email] = identity.ID

	out := *identity
	return &out, nil
}

// FindCredentials implements the credential lookup
func (m *Memory) FindCredentials(_ context.Context, p policy.Principal, email string) (*domain.Identity, error) {
	if err := m.policy.CanLookupCredentials(p); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byEmail[email]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *m.users[id]
	return &out, nil
}

// GetProfile implements the profile read
func (m *Memory) GetProfile(_ context.Context, p policy.Principal) (*domain.Profile, error) {
	if _, err := m.policy.IdentityScope(p); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	identity := m.caller(p)
	if identity == nil || !m.policy.CanReadIdentity(p, identity) {
		return nil, domain.ErrNotFound
	}
	return &domain.Profile{
		Email:     identity.Email,
		FirstName: identity.FirstName,
		LastName:  identity.LastName,
		CreatedAt: identity.CreatedAt,
	}, nil
}

// UpdateProfile implements the profile update
func (m *Memory) UpdateProfile(_ context.Context, p policy.Principal, upd domain.ProfileUpdate) error {
	if err := m.policy.CanUpdateProfile(p); err != nil {
		return err
	}
	if upd.Empty() {
		return fmt.Errorf("%w: no profile field to update", domain.ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	identity := m.caller(p)
	if identity == nil {
		return domain.ErrNotFound
	}
	if upd.FirstName.Set {
		identity.FirstName = cloneString(upd.FirstName.Value)
	}
	if upd.LastName.Set {
		identity.LastName = cloneString(upd.LastName.Value)
	}
	return nil
}

// InsertJob implements the job insert
func (m *Memory) InsertJob(_ context.Context, p policy.Principal, job *domain.JobMessage) error {
	if err := m.policy.CanEnqueue(p); err != nil {
		return err
	}
	payload, err := clonePayload(job.Payload)
	if err != nil {
		return fmt.Errorf("%w: payload is not serialisable: %v", domain.ErrInvalidInput, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	owner := m.caller(p)
	if owner == nil {
		return fmt.Errorf("%w: identity no longer exists", domain.ErrUnauthenticated)
	}
	if _, exists := m.jobs[job.MessageID]; exists {
		return fmt.Errorf("failed to insert job: message %s already exists", job.MessageID)
	}

	job.OwnerID = owner.ID
	job.State = domain.JobStateQueued
	job.LastModified = m.tick()
	job.EnqueuedAt = job.LastModified

	stored := *job
	stored.Payload = payload
	m.jobs[job.MessageID] = &stored
	return nil
}

// ListJobs implements the job listing
func (m *Memory) ListJobs(_ context.Context, p policy.Principal, f domain.JobFilter) ([]domain.JobMessage, error) {
	if _, err := m.policy.JobScope(p); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.JobMessage
	for _, job := range m.jobs {
		if !m.visible(p, job) {
			continue
		}
		if f.JobID != nil && job.MessageID != *f.JobID {
			continue
		}
		if f.State != "" && job.State != f.State {
			continue
		}
		if f.Cursor != nil && !before(job.EnqueuedAt, job.MessageID, f.Cursor.EnqueuedAt, f.Cursor.JobID) {
			continue
		}
		cp, err := cloneJob(job)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return before(out[j].EnqueuedAt, out[j].MessageID, out[i].EnqueuedAt, out[i].MessageID)
	})

	if f.PageSize > 0 && len(out) > f.PageSize+1 {
		out = out[:f.PageSize+1]
	}
	return out, nil
}

// GetJob implements the single job read
func (m *Memory) GetJob(ctx context.Context, p policy.Principal, id uuid.UUID) (*domain.JobMessage, error) {
	jobs, err := m.ListJobs(ctx, p, domain.JobFilter{JobID: &id, PageSize: 1})
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, domain.ErrNotFound
	}
	return &jobs[0], nil
}

// ClaimNext implements the broker claim
func (m *Memory) ClaimNext(_ context.Context, p policy.Principal, queues []string, workerID string, lease time.Duration) (*domain.JobMessage, bool, error) {
	if err := m.policy.CanTransitionJob(p); err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var oldest *domain.JobMessage
	for _, job := range m.jobs {
		if job.State != domain.JobStateQueued || !slices.Contains(queues, job.QueueName) {
			continue
		}
		if oldest == nil || before(job.LastModified, job.MessageID, oldest.LastModified, oldest.MessageID) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, false, nil
	}

	now := m.tick()
	oldest.State = domain.JobStateConsumed
	oldest.ConsumedBy = workerID
	oldest.LastModified = now
	oldest.LeaseExpires = nil
	if lease > 0 {
		until := now.Add(lease)
		oldest.LeaseExpires = &until
	}

	out, err := cloneJob(oldest)
	if err != nil {
		return nil, false, err
	}
	return &out, true, nil
}

// ExtendLease implements the lease heartbeat
func (m *Memory) ExtendLease(_ context.Context, p policy.Principal, id uuid.UUID, workerID string, lease time.Duration) error {
	if err := m.policy.CanTransitionJob(p); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.State != domain.JobStateConsumed || job.ConsumedBy != workerID {
		return fmt.Errorf("%w: lease on %s lost by %s", domain.ErrIllegalTransition, id, workerID)
	}
	until := m.now().UTC().Add(lease)
	job.LeaseExpires = &until
	return nil
}

// FinishJob implements the terminal write
func (m *Memory) FinishJob(_ context.Context, p policy.Principal, id uuid.UUID, workerID string, out domain.Outcome) error {
	if err := m.policy.CanTransitionJob(p); err != nil {
		return err
	}
	if err := checkOutcome(out); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if job.State != domain.JobStateConsumed || job.ConsumedBy != workerID {
		return &domain.TransitionError{From: job.State, To: out.State}
	}

	job.State = out.State
	job.Result = slices.Clone(out.Result)
	job.ResultExpiry = out.ResultExpiry
	job.ErrorMessage = out.ErrorMessage
	job.LastModified = m.tick()
	job.LeaseExpires = nil
	return nil
}

// ReclaimStale implements the lease sweep
func (m *Memory) ReclaimStale(_ context.Context, p policy.Principal) (int64, error) {
	if err := m.policy.CanTransitionJob(p); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	var n int64
	for _, job := range m.jobs {
		if job.State != domain.JobStateConsumed || job.LeaseExpires == nil || !job.LeaseExpires.Before(now) {
			continue
		}
		job.State = domain.JobStateQueued
		job.ConsumedBy = ""
		job.LeaseExpires = nil
		job.LastModified = m.tick()
		n++
	}
	return n, nil
}

// caller resolves p to its identity row; m.mu must be held
func (m *Memory) caller(p policy.Principal) *domain.Identity {
	id, ok := m.byEmail[p.Email]
	if !ok {
		return nil
	}
	return m.users[id]
}

// visible applies the job read policy; m.mu must be held
func (m *Memory) visible(p policy.Principal, job *domain.JobMessage) bool {
	var ownerEmail string
	if owner, ok := m.users[job.OwnerID]; ok {
		ownerEmail = owner.Email
	}
	return m.policy.CanReadJob(p, ownerEmail)
}

// before reports whether (ts, id) sorts strictly before (otherTS, otherID)
func before(ts time.Time, id uuid.UUID, otherTS time.Time, otherID uuid.UUID) bool {
	if !ts.Equal(otherTS) {
		return ts.Before(otherTS)
	}
	return bytes.Compare(id[:], otherID[:]) < 0
}

// cloneJob copies job so the caller shares no maps or slices with the store
func cloneJob(job *domain.JobMessage) (domain.JobMessage, error) {
	out := *job
	payload, err := clonePayload(job.Payload)
	if err != nil {
		return domain.JobMessage{}, fmt.Errorf("failed to copy payload of %s: %w", job.MessageID, err)
	}
	out.Payload = payload
	out.Result = slices.Clone(job.Result)
	out.ResultExpiry = cloneTime(job.ResultExpiry)
	out.LeaseExpires = cloneTime(job.LeaseExpires)
	return out, nil
}

// clonePayload deep-copies p through its JSON form, as a database round trip would
func clonePayload(p domain.Payload) (domain.Payload, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return domain.Payload{}, err
	}
	var out domain.Payload
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.Payload{}, err
	}
	return out, nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
