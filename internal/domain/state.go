package domain

// JobState is the lifecycle state of a job message
type JobState string

// Job state constants
const (
	JobStateQueued   JobState = "queued"
	JobStateConsumed JobState = "consumed"
	JobStateRejected JobState = "rejected"
	JobStateDone     JobState = "done"
)

// transitions lists the allowed moves out of each state. consumed -> queued is
// only taken by the stale lease reclaim sweep.
var transitions = map[JobState][]JobState{
	JobStateQueued:   {JobStateConsumed},
	JobStateConsumed: {JobStateDone, JobStateRejected, JobStateQueued},
}

// Valid reports whether s is a known state
func (s JobState) Valid() bool {
	switch s {
	case JobStateQueued, JobStateConsumed, JobStateRejected, JobStateDone:
		return true
	default:
		return false
	}
}

// Terminal reports whether no transition leaves s
func (s JobState) Terminal() bool {
	return s == JobStateDone || s == JobStateRejected
}

func (s JobState) String() string {
	return string(s)
}

// CheckTransition returns ErrIllegalTransition unless from -> to is an edge of
// the job state machine.
func CheckTransition(from, to JobState) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return &TransitionError{From: from, To: to}
}
