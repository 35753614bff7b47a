package policy

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/cuongbtq/jobvault/internal/domain"
)

// ownerOfCaller resolves the caller's identity id from the token email claim
const ownerOfCaller = "owner_id = (SELECT id FROM users WHERE email = ?)"

// Evaluator is the access policy shared by every store
type Evaluator struct{}

// NewEvaluator creates the access policy evaluator
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// CanSignup allows the identity insert for anonymous callers only
func (e *Evaluator) CanSignup(p Principal) error {
	if p.Role != RoleAnonymous {
		return fmt.Errorf("%w: %s may not create identities", domain.ErrForbidden, p.Role)
	}
	return nil
}

// CanLookupCredentials allows reading password hashes by email for the token service only
func (e *Evaluator) CanLookupCredentials(p Principal) error {
	if p.Role != RoleAuthenticator {
		return fmt.Errorf("%w: %s may not read credentials", domain.ErrForbidden, p.Role)
	}
	return nil
}

// IdentityScope returns the predicate limiting identity rows to the caller's own record
func (e *Evaluator) IdentityScope(p Principal) (sq.Sqlizer, error) {
	if err := e.requireUser(p); err != nil {
		return nil, err
	}
	return sq.Eq{"email": p.Email}, nil
}

// CanReadIdentity is the row form of IdentityScope
func (e *Evaluator) CanReadIdentity(p Principal, row *domain.Identity) bool {
	return p.IsUser() && row != nil && row.Email == p.Email
}

// CanUpdateProfile allows the owner to change its own profile fields
func (e *Evaluator) CanUpdateProfile(p Principal) error {
	return e.requireUser(p)
}

// CanEnqueue allows token-bearing identities to create job rows they own
func (e *Evaluator) CanEnqueue(p Principal) error {
	return e.requireUser(p)
}

// JobScope returns the predicate limiting job rows to what p may read.
// Brokers see every row, users only rows whose owner resolves to their email.
func (e *Evaluator) JobScope(p Principal) (sq.Sqlizer, error) {
	if p.Role == RoleBroker {
		return sq.Expr("TRUE"), nil
	}
	if err := e.requireUser(p); err != nil {
		return nil, err
	}
	return sq.Expr(ownerOfCaller, p.Email), nil
}

// CanReadJob is the row form of JobScope; ownerEmail is the email of the job's owner
func (e *Evaluator) CanReadJob(p Principal, ownerEmail string) bool {
	if p.Role == RoleBroker {
		return true
	}
	return p.IsUser() && ownerEmail == p.Email
}

// CanTransitionJob allows job state changes for brokers only
func (e *Evaluator) CanTransitionJob(p Principal) error {
	if p.Role != RoleBroker {
		return fmt.Errorf("%w: %s may not change job state", domain.ErrIllegalTransition, p.Role)
	}
	return nil
}

func (e *Evaluator) requireUser(p Principal) error {
	switch {
	case p.IsUser():
		return nil
	case p.Role == RoleAnonymous:
		return domain.ErrUnauthenticated
	default:
		return fmt.Errorf("%w: %s", domain.ErrForbidden, p.Role)
	}
}
