// Package profile exposes the owner-visible slice of an identity.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/jobvault/internal/domain"
	"github.com/cuongbtq/jobvault/internal/policy"
)

// maxNameLength bounds first_name and last_name
const maxNameLength = 100

// Store is the profile storage the service needs
type Store interface {
	GetProfile(ctx context.Context, p policy.Principal) (*domain.Profile, error)
	UpdateProfile(ctx context.Context, p policy.Principal, upd domain.ProfileUpdate) error
}

// Service reads and updates the caller's own profile
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a new profile service
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Get returns the caller's profile
func (s *Service) Get(ctx context.Context, p policy.Principal) (*domain.Profile, error) {
	return s.store.GetProfile(ctx, p)
}

// Update applies upd to the caller's profile
func (s *Service) Update(ctx context.Context, p policy.Principal, upd domain.ProfileUpdate) error {
	if err := s.store.UpdateProfile(ctx, p, upd); err != nil {
		return err
	}
	s.logger.Info("Profile updated",
		slog.Bool("first_name", upd.FirstName.Set),
		slog.Bool("last_name", upd.LastName.Set),
	)
	return nil
}

// ParsePatch turns a JSON merge-patch body into a ProfileUpdate. Columns the
// owner may read but not write are Forbidden; any other unknown key, a non
// string value or an empty patch is InvalidInput.
func ParsePatch(body map[string]json.RawMessage) (domain.ProfileUpdate, error) {
	var upd domain.ProfileUpdate

	for key, raw := range body {
		switch key {
		case "first_name":
			f, err := parseName(key, raw)
			if err != nil {
				return upd, err
			}
			upd.FirstName = f
		case "last_name":
			f, err := parseName(key, raw)
			if err != nil {
				return upd, err
			}
			upd.LastName = f
		case "email", "created_at":
			return upd, fmt.Errorf("%w: %s is read-only", domain.ErrForbidden, key)
		default:
			return upd, fmt.Errorf("%w: unknown field %q", domain.ErrInvalidInput, key)
		}
	}

	if upd.Empty() {
		return upd, fmt.Errorf("%w: no profile field to update", domain.ErrInvalidInput)
	}
	return upd, nil
}

func parseName(key string, raw json.RawMessage) (domain.Field, error) {
	var value *string
	if err := json.Unmarshal(raw, &value); err != nil {
		return domain.Field{}, fmt.Errorf("%w: %s must be a string or null", domain.ErrInvalidInput, key)
	}
	if value != nil && len([]rune(*value)) > maxNameLength {
		return domain.Field{}, fmt.Errorf("%w: %s longer than %d characters", domain.ErrInvalidInput, key, maxNameLength)
	}
	return domain.Field{Set: true, Value: value}, nil
}
