package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/jobvault/internal/domain"
	"github.com/cuongbtq/jobvault/internal/policy"
	"github.com/cuongbtq/jobvault/shared/postgresql"
)

const identityColumns = "id, created_at, email, password_hash, role, first_name, last_name"

// IdentityStore keeps identities in the users table
type IdentityStore struct {
	db     *sqlx.DB
	policy *policy.Evaluator
	logger *slog.Logger
}

// NewIdentityStore creates a new IdentityStore
func NewIdentityStore(db *sqlx.DB, evaluator *policy.Evaluator, logger *slog.Logger) *IdentityStore {
	return &IdentityStore{
		db:     db,
		policy: evaluator,
		logger: logger,
	}
}

// CreateIdentity inserts a new apiuser identity
func (s *IdentityStore) CreateIdentity(ctx context.Context, p policy.Principal, email, passwordHash string) (*domain.Identity, error) {
	if err := s.policy.CanSignup(p); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO users (email, password_hash, role)
		VALUES ($1, $2, $3)
		RETURNING ` + identityColumns

	var identity domain.Identity
	err := s.db.GetContext(ctx, &identity, query, email, passwordHash, domain.RoleAPIUser)
	if err != nil {
		if postgresql.IsUniqueViolation(err) {
			return nil, domain.ErrDuplicateIdentity
		}
		return nil, wrapErr("create identity", err)
	}

	s.logger.Info("Identity created", slog.Int64("identity_id", identity.ID))
	return &identity, nil
}

// FindCredentials loads the stored hash for email on behalf of the token service
func (s *IdentityStore) FindCredentials(ctx context.Context, p policy.Principal, email string) (*domain.Identity, error) {
	if err := s.policy.CanLookupCredentials(p); err != nil {
		return nil, err
	}

	var identity domain.Identity
	err := s.db.GetContext(ctx, &identity, `SELECT `+identityColumns+` FROM users WHERE email = $1`, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, wrapErr("find credentials", err)
	}
	return &identity, nil
}

// GetProfile returns the caller's own profile
func (s *IdentityStore) GetProfile(ctx context.Context, p policy.Principal) (*domain.Profile, error) {
	scope, err := s.policy.IdentityScope(p)
	if err != nil {
		return nil, err
	}

	query, args, err := sq.Select("email", "first_name", "last_name", "created_at").
		From("users").
		Where(scope).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build profile query: %w", err)
	}

	var profile domain.Profile
	if err := s.db.GetContext(ctx, &profile, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, wrapErr("get profile", err)
	}
	return &profile, nil
}

// UpdateProfile writes the set fields of upd to the caller's own row
func (s *IdentityStore) UpdateProfile(ctx context.Context, p policy.Principal, upd domain.ProfileUpdate) error {
	if err := s.policy.CanUpdateProfile(p); err != nil {
		return err
	}
	if upd.Empty() {
		return fmt.Errorf("%w: no profile field to update", domain.ErrInvalidInput)
	}
	scope, err := s.policy.IdentityScope(p)
	if err != nil {
		return err
	}

	builder := sq.Update("users").Where(scope).PlaceholderFormat(sq.Dollar)
	if upd.FirstName.Set {
		builder = builder.Set("first_name", upd.FirstName.Value)
	}
	if upd.LastName.Set {
		builder = builder.Set("last_name", upd.LastName.Value)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build profile update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapErr("update profile", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr("update profile", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
