package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned for malformed request shapes or values
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthenticated is returned when no valid identity is presented
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrTokenExpired is returned when a token signature is valid but its expiry has lapsed
	ErrTokenExpired = errors.New("token expired")

	// ErrDuplicateIdentity is returned when signing up with an email that already exists
	ErrDuplicateIdentity = errors.New("identity already exists")

	// ErrInvalidCredentials is returned for an unknown email or a wrong password
	ErrInvalidCredentials = errors.New("invalid user or password")

	// ErrIllegalTransition is returned when a job row change breaks the state machine
	// or is attempted by a party that may not perform it
	ErrIllegalTransition = errors.New("illegal job state transition")

	// ErrNotFound is returned when a row does not exist or is not visible to the caller
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the caller may see a row but not perform the operation
	ErrForbidden = errors.New("forbidden")

	// ErrUnknownActor is returned when enqueueing work for an actor nobody registered
	ErrUnknownActor = fmt.Errorf("%w: unknown actor", ErrInvalidInput)

	// ErrServiceUnavailable is returned once store retries are exhausted
	ErrServiceUnavailable = errors.New("service unavailable")
)

// TransitionError describes a rejected state change
type TransitionError struct {
	From JobState
	To   JobState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrIllegalTransition, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// TransientStoreError wraps connectivity or contention failures that are worth retrying
type TransientStoreError struct {
	Err error
}

func (e *TransientStoreError) Error() string {
	return "transient store error: " + e.Err.Error()
}

func (e *TransientStoreError) Unwrap() error {
	return e.Err
}

// NewTransientStoreError wraps err as a TransientStoreError
func NewTransientStoreError(err error) error {
	return &TransientStoreError{Err: err}
}

// IsTransient reports whether err carries a TransientStoreError
func IsTransient(err error) bool {
	var transient *TransientStoreError
	return errors.As(err, &transient)
}

// ExecutorFailure records that an actor itself failed. It never leaves the broker.
type ExecutorFailure struct {
	Actor string
	Err   error
}

func (e *ExecutorFailure) Error() string {
	return fmt.Sprintf("actor %q failed: %v", e.Actor, e.Err)
}

func (e *ExecutorFailure) Unwrap() error {
	return e.Err
}
