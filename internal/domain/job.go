package domain

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Payload is the structured document describing the requested work
type Payload struct {
	ActorName        string         `json:"actor_name"`
	QueueName        string         `json:"queue_name"`
	Args             []any          `json:"args"`
	Kwargs           map[string]any `json:"kwargs"`
	Options          map[string]any `json:"options"`
	MessageID        uuid.UUID      `json:"message_id"`
	MessageTimestamp int64          `json:"message_timestamp"`
}

// JobMessage is one durable unit of requested asynchronous work
type JobMessage struct {
	MessageID    uuid.UUID
	OwnerID      int64
	QueueName    string
	State        JobState
	EnqueuedAt   time.Time
	LastModified time.Time
	Payload      Payload
	Result       json.RawMessage
	ResultExpiry *time.Time
	ErrorMessage string
	ConsumedBy   string
	LeaseExpires *time.Time
}

// JobView is what the Result boundary exposes for a job
type JobView struct {
	JobID        uuid.UUID       `json:"job_id"`
	State        JobState        `json:"state"`
	Result       json.RawMessage `json:"result"`
	LastModified time.Time       `json:"-"`
}

// View projects the job for its owner
func (j *JobMessage) View() JobView {
	return JobView{
		JobID:        j.MessageID,
		State:        j.State,
		Result:       j.Result,
		LastModified: j.LastModified,
	}
}

// JobFilter narrows a job listing
type JobFilter struct {
	JobID    *uuid.UUID
	State    JobState
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is the keyset position of the last row of a page. It keys on the
// enqueue time, which no state change rewrites.
type JobCursor struct {
	EnqueuedAt time.Time
	JobID      uuid.UUID
}

// Outcome is the terminal result the broker writes back for a claimed job
type Outcome struct {
	State        JobState
	Result       json.RawMessage
	ResultExpiry *time.Time
	ErrorMessage string
}

// EmptyResult reports whether raw carries no value. A done job must never
// store one.
func EmptyResult(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
