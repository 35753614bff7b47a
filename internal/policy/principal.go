// Package policy decides which identity and job rows a caller may see or change.
//
// Every store implementation consults an Evaluator before touching a row: the
// Postgres store folds the returned predicates into its WHERE clauses, the
// in-memory store calls the row checks directly. Callers never reach storage
// without a Principal.
package policy

import "github.com/cuongbtq/jobvault/internal/domain"

// Role is the authorization role a Principal acts under
type Role string

// Roles known to the evaluator
const (
	RoleAnonymous     Role = "anonymous"
	RoleAPIUser       Role = domain.RoleAPIUser
	RoleBroker        Role = "broker"
	RoleAuthenticator Role = "authenticator"
)

// Principal is the authenticated (or anonymous) party behind a store call
type Principal struct {
	Email string
	Role  Role
}

// Anonymous returns the principal of a caller that presented no token
func Anonymous() Principal {
	return Principal{Role: RoleAnonymous}
}

// User returns the principal asserted by a verified token
func User(email string) Principal {
	return Principal{Email: email, Role: RoleAPIUser}
}

// Broker returns the principal worker processes act under
func Broker() Principal {
	return Principal{Role: RoleBroker}
}

// Authenticator returns the principal the token service uses to look up credentials
func Authenticator() Principal {
	return Principal{Role: RoleAuthenticator}
}

// IsUser reports whether p is a token-bearing identity
func (p Principal) IsUser() bool {
	return p.Role == RoleAPIUser && p.Email != ""
}

func (p Principal) String() string {
	if p.Email == "" {
		return string(p.Role)
	}
	return string(p.Role) + ":" + p.Email
}
