// Package auth is the token service: signup with hash-on-write, login and
// session token verification.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobvault/internal/domain"
	"github.com/cuongbtq/jobvault/internal/policy"
)

// IdentityStore is the credential storage the service needs
type IdentityStore interface {
	CreateIdentity(ctx context.Context, p policy.Principal, email, passwordHash string) (*domain.Identity, error)
	FindCredentials(ctx context.Context, p policy.Principal, email string) (*domain.Identity, error)
}

// Config tunes the token service
type Config struct {
	Secret            []byte
	TokenTTL          time.Duration
	BcryptCost        int
	PasswordMinLength int
}

// Session is a freshly issued token
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// Service implements signup, login and token verification
type Service struct {
	store     IdentityStore
	hasher    *Hasher
	tokens    *Tokens
	validator *Validator
	logger    *slog.Logger

	// dummyHash is compared against on unknown emails so both login failures cost the same
	dummyHash string
}

// NewService creates the token service
func NewService(store IdentityStore, cfg Config, logger *slog.Logger) (*Service, error) {
	hasher := NewHasher(cfg.BcryptCost)

	seed := make([]byte, 16)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to seed dummy hash: %w", err)
	}
	dummy, err := hasher.Hash(hex.EncodeToString(seed))
	if err != nil {
		return nil, err
	}

	return &Service{
		store:     store,
		hasher:    hasher,
		tokens:    NewTokens(cfg.Secret, cfg.TokenTTL),
		validator: NewValidator(cfg.PasswordMinLength),
		logger:    logger,
		dummyHash: dummy,
	}, nil
}

// Signup creates an identity. The password is hashed before the row is written.
func (s *Service) Signup(ctx context.Context, email, password string) (*domain.Identity, error) {
	email = NormalizeEmail(email)
	if err := s.validator.Credentials(email, password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	identity, err := s.store.CreateIdentity(ctx, policy.Anonymous(), email, hash)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Signed up", slog.Int64("identity_id", identity.ID))
	return identity, nil
}

// Login checks password against the stored hash and issues a session token.
// Unknown email and wrong password fail identically.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = NormalizeEmail(email)

	identity, err := s.store.FindCredentials(ctx, policy.Authenticator(), email)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		s.hasher.Matches(s.dummyHash, password)
		return nil, domain.ErrInvalidCredentials
	case err != nil:
		return nil, err
	}

	if !s.hasher.Matches(identity.PasswordHash, password) {
		return nil, domain.ErrInvalidCredentials
	}

	token, expires, err := s.tokens.Issue(identity.Email, identity.Role)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Logged in", slog.Int64("identity_id", identity.ID))
	return &Session{Token: token, ExpiresAt: expires}, nil
}

// Authenticate turns a presented token into the principal it asserts
func (s *Service) Authenticate(token string) (policy.Principal, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return policy.Anonymous(), err
	}
	if claims.Role != string(policy.RoleAPIUser) {
		return policy.Anonymous(), fmt.Errorf("%w: unsupported role %q", domain.ErrUnauthenticated, claims.Role)
	}
	return policy.User(claims.Email), nil
}
