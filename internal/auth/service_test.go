package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/cuongbtq/jobvault/internal/domain"
	"github.com/cuongbtq/jobvault/internal/policy"
	"github.com/cuongbtq/jobvault/internal/storage"
	"github.com/cuongbtq/jobvault/internal/testutil"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestService(t *testing.T) (*Service, *storage.Memory) {
	t.Helper()
	store := storage.NewMemory(policy.NewEvaluator())
	svc, err := NewService(store, Config{
		Secret:     testSecret,
		TokenTTL:   time.Hour,
		BcryptCost: bcrypt.MinCost,
	}, testutil.DiscardLogger())
	require.NoError(t, err)
	return svc, store
}

func TestService_Signup(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	identity, err := svc.Signup(ctx, "a@x.com", "pw1")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", identity.Email)
	assert.False(t, identity.CreatedAt.IsZero())

	stored, err := store.FindCredentials(ctx, policy.Authenticator(), "a@x.com")
	require.NoError(t, err)
	assert.NotEqual(t, "pw1", stored.PasswordHash)
	assert.True(t, strings.HasPrefix(stored.PasswordHash, "$2a$"))

	_, err = svc.Signup(ctx, "a@x.com", "pw2")
	assert.ErrorIs(t, err, domain.ErrDuplicateIdentity)

	_, err = svc.Signup(ctx, "  A@X.com ", "pw3")
	assert.ErrorIs(t, err, domain.ErrDuplicateIdentity, "emails compare case-insensitively")
}

func TestService_SignupValidation(t *testing.T) {
	svc, _ := newTestService(t)

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{name: "missing email", email: "", password: "secret"},
		{name: "malformed email", email: "not-an-email", password: "secret"},
		{name: "missing password", email: "a@x.com", password: ""},
		{name: "password over bcrypt limit", email: "a@x.com", password: strings.Repeat("p", 73)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Signup(context.Background(), tt.email, tt.password)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Signup(ctx, "a@x.com", "pw1")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "a@x.com", "wrong")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, unknownErr := svc.Login(ctx, "nobody@x.com", "pw1")
	assert.ErrorIs(t, unknownErr, domain.ErrInvalidCredentials)
	assert.Equal(t, err.Error(), unknownErr.Error(), "failures must not reveal whether the email exists")

	session, err := svc.Login(ctx, "a@x.com", "pw1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), session.ExpiresAt, 5*time.Second)

	claims, err := svc.tokens.Verify(session.Token)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", claims.Email)
	assert.Equal(t, domain.RoleAPIUser, claims.Role)

	principal, err := svc.Authenticate(session.Token)
	require.NoError(t, err)
	assert.Equal(t, policy.User("a@x.com"), principal)
}

func TestTokens_Verify(t *testing.T) {
	issued := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tokens := NewTokens(testSecret, time.Hour)
	tokens.now = func() time.Time { return issued }

	token, _, err := tokens.Issue("a@x.com", domain.RoleAPIUser)
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		claims, err := tokens.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, "a@x.com", claims.Email)
	})

	t.Run("expired", func(t *testing.T) {
		later := NewTokens(testSecret, time.Hour)
		later.now = func() time.Time { return issued.Add(2 * time.Hour) }

		_, err := later.Verify(token)
		assert.ErrorIs(t, err, domain.ErrTokenExpired)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewTokens([]byte("ffffffffffffffffffffffffffffffff"), time.Hour)
		other.now = tokens.now

		_, err := other.Verify(token)
		assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	})

	t.Run("tampered", func(t *testing.T) {
		_, err := tokens.Verify(token[:len(token)-2] + "xx")
		assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	})

	t.Run("algorithm none", func(t *testing.T) {
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(issued.Add(time.Hour))},
			Role:             domain.RoleAPIUser,
			Email:            "a@x.com",
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = tokens.Verify(unsigned)
		assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	})

	t.Run("missing expiry", func(t *testing.T) {
		noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
			Role:  domain.RoleAPIUser,
			Email: "a@x.com",
		}).SignedString(testSecret)
		require.NoError(t, err)

		_, err = tokens.Verify(noExp)
		assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	})
}

func TestService_AuthenticateRejectsForeignRoles(t *testing.T) {
	svc, _ := newTestService(t)

	token, _, err := svc.tokens.Issue("a@x.com", string(policy.RoleBroker))
	require.NoError(t, err)

	_, err = svc.Authenticate(token)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestHasher(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	hash, err := h.Hash("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", hash)
	assert.True(t, h.Matches(hash, "correct horse"))
	assert.False(t, h.Matches(hash, "battery staple"))

	assert.Equal(t, bcrypt.DefaultCost, NewHasher(0).cost)
}
