package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/cuongbtq/jobvault/internal/actors"
	"github.com/cuongbtq/jobvault/internal/api/dto"
	"github.com/cuongbtq/jobvault/internal/api/handler"
	"github.com/cuongbtq/jobvault/internal/auth"
	"github.com/cuongbtq/jobvault/internal/broker"
	"github.com/cuongbtq/jobvault/internal/jobs"
	"github.com/cuongbtq/jobvault/internal/notify"
	"github.com/cuongbtq/jobvault/internal/policy"
	"github.com/cuongbtq/jobvault/internal/profile"
	"github.com/cuongbtq/jobvault/internal/retry"
	"github.com/cuongbtq/jobvault/internal/storage"
	"github.com/cuongbtq/jobvault/internal/testutil"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testServer struct {
	engine   *gin.Engine
	store    *storage.Memory
	hub      *notify.Memory
	registry *broker.Registry
	health   map[string]handler.HealthCheck
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := testutil.DiscardLogger()

	store := storage.NewMemory(policy.NewEvaluator())
	hub := notify.NewMemory()
	t.Cleanup(func() { _ = hub.Close() })

	registry := broker.NewRegistry()
	require.NoError(t, actors.Register(registry))

	authSvc, err := auth.NewService(store, auth.Config{
		Secret:            []byte(testSecret),
		TokenTTL:          time.Hour,
		BcryptCost:        bcrypt.MinCost,
		PasswordMinLength: 1,
	}, logger)
	require.NoError(t, err)

	srv := &testServer{
		store:    store,
		hub:      hub,
		registry: registry,
		health: map[string]handler.HealthCheck{
			"database": func(context.Context) error { return nil },
		},
	}
	srv.engine = SetupRouter(&handler.Dependencies{
		Logger:       logger,
		ServiceName:  "jobvault-test",
		Auth:         authSvc,
		Profiles:     profile.NewService(store, logger),
		Jobs:         jobs.NewService(store, registry, hub, retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}, logger),
		HealthChecks: srv.health,
	}, opts)
	return srv
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) login(t *testing.T, email, password string) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/auth/signup", "", dto.CredentialsRequest{Email: email, Password: password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/v1/auth/login", "", dto.CredentialsRequest{Email: email, Password: password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp dto.LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Token
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestSignupAndLogin(t *testing.T) {
	srv := newTestServer(t, Options{})

	w := srv.do(t, http.MethodPost, "/api/v1/auth/signup", "", dto.CredentialsRequest{Email: "a@x.com", Password: "pw1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	signup := decode[dto.SignupResponse](t, w)
	assert.Equal(t, "a@x.com", signup.Email)
	assert.False(t, signup.CreatedAt.IsZero())
	assert.NotContains(t, w.Body.String(), "pw1")

	w = srv.do(t, http.MethodPost, "/api/v1/auth/signup", "", dto.CredentialsRequest{Email: "a@x.com", Password: "pw1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, handler.CodeDuplicateIdentity, decode[dto.ErrorResponse](t, w).Code)

	wrongPassword := srv.do(t, http.MethodPost, "/api/v1/auth/login", "", dto.CredentialsRequest{Email: "a@x.com", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	unknownEmail := srv.do(t, http.MethodPost, "/api/v1/auth/login", "", dto.CredentialsRequest{Email: "b@x.com", Password: "pw1"})
	assert.Equal(t, http.StatusUnauthorized, unknownEmail.Code)
	assert.Equal(t, wrongPassword.Body.String(), unknownEmail.Body.String())
	assert.Equal(t, handler.CodeInvalidCredentials, decode[dto.ErrorResponse](t, wrongPassword).Code)

	w = srv.do(t, http.MethodPost, "/api/v1/auth/login", "", dto.CredentialsRequest{Email: "a@x.com", Password: "pw1"})
	require.Equal(t, http.StatusOK, w.Code)
	session := decode[dto.LoginResponse](t, w)
	assert.WithinDuration(t, time.Now().Add(time.Hour), session.ExpiresAt, time.Minute)

	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(session.Token, claims)
	require.NoError(t, err)
	assert.Equal(t, "apiuser", claims["role"])
}

func TestSignup_InvalidInput(t *testing.T) {
	srv := newTestServer(t, Options{})

	tests := []struct {
		name string
		body any
	}{
		{name: "malformed json", body: `{"email":`},
		{name: "missing password", body: dto.CredentialsRequest{Email: "a@x.com"}},
		{name: "bad email", body: dto.CredentialsRequest{Email: "not-an-email", Password: "pw1"}},
		{name: "password over bcrypt limit", body: dto.CredentialsRequest{Email: "a@x.com", Password: strings.Repeat("x", 73)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := srv.do(t, http.MethodPost, "/api/v1/auth/signup", "", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, handler.CodeInvalidInput, decode[dto.ErrorResponse](t, w).Code)
		})
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, Options{})

	expired, _, err := auth.NewTokens([]byte(testSecret), -time.Minute).Issue("a@x.com", "apiuser")
	require.NoError(t, err)

	tests := []struct {
		name     string
		header   string
		wantCode string
	}{
		{name: "no header", header: "", wantCode: handler.CodeUnauthenticated},
		{name: "wrong scheme", header: "Basic abc", wantCode: handler.CodeUnauthenticated},
		{name: "garbage token", header: "Bearer abc.def.ghi", wantCode: handler.CodeUnauthenticated},
		{name: "expired token", header: "Bearer " + expired, wantCode: handler.CodeTokenExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, path := range []string{"/api/v1/jobs", "/api/v1/profile"} {
				req := httptest.NewRequest(http.MethodGet, path, nil)
				if tt.header != "" {
					req.Header.Set("Authorization", tt.header)
				}
				w := httptest.NewRecorder()
				srv.engine.ServeHTTP(w, req)

				assert.Equal(t, http.StatusUnauthorized, w.Code, path)
				assert.Equal(t, tt.wantCode, decode[dto.ErrorResponse](t, w).Code, path)
			}
		})
	}
}

func TestProfile(t *testing.T) {
	srv := newTestServer(t, Options{})
	token := srv.login(t, "a@x.com", "pw1")

	w := srv.do(t, http.MethodGet, "/api/v1/profile", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	p := decode[dto.ProfileResponse](t, w)
	assert.Equal(t, "a@x.com", p.Email)
	assert.Nil(t, p.FirstName)

	w = srv.do(t, http.MethodPatch, "/api/v1/profile", token, map[string]any{"first_name": "Ada"})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = srv.do(t, http.MethodGet, "/api/v1/profile", token, nil)
	p = decode[dto.ProfileResponse](t, w)
	require.NotNil(t, p.FirstName)
	assert.Equal(t, "Ada", *p.FirstName)
	assert.Nil(t, p.LastName)

	tests := []struct {
		name       string
		body       any
		wantStatus int
	}{
		{name: "email is read only", body: map[string]any{"email": "b@x.com"}, wantStatus: http.StatusForbidden},
		{name: "created_at is read only", body: map[string]any{"created_at": "2020-01-01T00:00:00Z"}, wantStatus: http.StatusForbidden},
		{name: "unknown field", body: map[string]any{"nickname": "ada"}, wantStatus: http.StatusBadRequest},
		{name: "empty body", body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "not a string", body: map[string]any{"last_name": 7}, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := srv.do(t, http.MethodPatch, "/api/v1/profile", token, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
}

func TestJobs_EnqueueListIsolation(t *testing.T) {
	srv := newTestServer(t, Options{})
	alice := srv.login(t, "alice@x.com", "pw1")
	bob := srv.login(t, "bob@x.com", "pw1")

	w := srv.do(t, http.MethodPost, "/api/v1/jobs", alice, dto.CreateJobRequest{Actor: "job"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	jobID := decode[dto.CreateJobResponse](t, w).JobID
	require.NotEmpty(t, jobID)

	w = srv.do(t, http.MethodGet, "/api/v1/jobs", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[dto.ListJobsResponse](t, w)
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, jobID, list.Jobs[0].JobID)
	assert.Contains(t, []string{"queued", "consumed"}, list.Jobs[0].State)
	assert.Equal(t, "null", string(list.Jobs[0].Result))

	w = srv.do(t, http.MethodGet, "/api/v1/jobs", bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[dto.ListJobsResponse](t, w).Jobs)
	assert.JSONEq(t, `{"jobs":[]}`, w.Body.String())

	w = srv.do(t, http.MethodGet, "/api/v1/jobs?job_id="+jobID, bob, nil)
	assert.Empty(t, decode[dto.ListJobsResponse](t, w).Jobs)

	w = srv.do(t, http.MethodGet, "/api/v1/jobs/"+jobID, bob, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJobs_InvalidRequests(t *testing.T) {
	srv := newTestServer(t, Options{})
	token := srv.login(t, "alice@x.com", "pw1")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{name: "unknown actor", method: http.MethodPost, path: "/api/v1/jobs", body: dto.CreateJobRequest{Actor: "nope"}},
		{name: "missing actor", method: http.MethodPost, path: "/api/v1/jobs", body: dto.CreateJobRequest{}},
		{name: "wrong queue", method: http.MethodPost, path: "/api/v1/jobs", body: dto.CreateJobRequest{Actor: "job", QueueName: "other_q"}},
		{name: "args not a list", method: http.MethodPost, path: "/api/v1/jobs", body: `{"actor":"job","args":{"a":1}}`},
		{name: "bad job id", method: http.MethodGet, path: "/api/v1/jobs/not-a-uuid"},
		{name: "bad job id filter", method: http.MethodGet, path: "/api/v1/jobs?job_id=nope"},
		{name: "bad state", method: http.MethodGet, path: "/api/v1/jobs?state=running"},
		{name: "bad cursor", method: http.MethodGet, path: "/api/v1/jobs?cursor=%25%25"},
		{name: "bad page size", method: http.MethodGet, path: "/api/v1/jobs?page_size=ten"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := srv.do(t, tt.method, tt.path, token, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, handler.CodeInvalidInput, decode[dto.ErrorResponse](t, w).Code)
		})
	}
}

func TestJobs_Pagination(t *testing.T) {
	srv := newTestServer(t, Options{})
	token := srv.login(t, "alice@x.com", "pw1")

	for i := 0; i < 3; i++ {
		w := srv.do(t, http.MethodPost, "/api/v1/jobs", token, dto.CreateJobRequest{Actor: "job"})
		require.Equal(t, http.StatusOK, w.Code)
	}

	seen := map[string]bool{}
	path := "/api/v1/jobs?page_size=2"
	for path != "" {
		w := srv.do(t, http.MethodGet, path, token, nil)
		require.Equal(t, http.StatusOK, w.Code)
		page := decode[dto.ListJobsResponse](t, w)
		for _, j := range page.Jobs {
			assert.False(t, seen[j.JobID], "job listed twice")
			seen[j.JobID] = true
		}
		path = ""
		if page.NextCursor != "" {
			path = "/api/v1/jobs?page_size=2&cursor=" + page.NextCursor
		}
	}
	assert.Len(t, seen, 3)
}

// The job reaches done through polling alone: the broker gets no subscription.
func TestJobs_RoundTrip(t *testing.T) {
	srv := newTestServer(t, Options{})
	token := srv.login(t, "alice@x.com", "pw1")

	b, err := broker.New(broker.Config{
		WorkerID:     "test",
		Queues:       srv.registry.Queues(),
		Concurrency:  2,
		PollInterval: 20 * time.Millisecond,
		JobTimeout:   time.Second,
		Retry:        retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond},
	}, srv.store, nil, srv.registry, testutil.DiscardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	w := srv.do(t, http.MethodPost, "/api/v1/jobs", token, dto.CreateJobRequest{Actor: "job"})
	require.Equal(t, http.StatusOK, w.Code)
	jobID := decode[dto.CreateJobResponse](t, w).JobID

	var job dto.JobDTO
	require.Eventually(t, func() bool {
		w := srv.do(t, http.MethodGet, "/api/v1/jobs/"+jobID, token, nil)
		if w.Code != http.StatusOK {
			return false
		}
		job = decode[dto.JobDTO](t, w)
		return job.State == "done"
	}, 5*time.Second, 10*time.Millisecond)

	assert.JSONEq(t, `"done"`, string(job.Result))
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, Options{})

	w := srv.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[dto.HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "jobvault-test", resp.Service)
	assert.Equal(t, "up", resp.Dependencies["database"])

	srv.health["database"] = func(context.Context) error { return errors.New("connection refused") }

	w = srv.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp = decode[dto.HealthResponse](t, w)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Contains(t, resp.Dependencies["database"], "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	off := newTestServer(t, Options{})
	assert.Equal(t, http.StatusNotFound, off.do(t, http.MethodGet, "/metrics", "", nil).Code)

	on := newTestServer(t, Options{MetricsEnabled: true})
	on.do(t, http.MethodGet, "/health", "", nil)
	w := on.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "jobvault_http_requests_total")
}

func TestAuthRateLimit(t *testing.T) {
	srv := newTestServer(t, Options{AuthRPS: 0.001, AuthBurst: 2})

	for i := 0; i < 2; i++ {
		w := srv.do(t, http.MethodPost, "/api/v1/auth/login", "", dto.CredentialsRequest{Email: "a@x.com", Password: "pw1"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}

	w := srv.do(t, http.MethodPost, "/api/v1/auth/login", "", dto.CredentialsRequest{Email: "a@x.com", Password: "pw1"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, handler.CodeRateLimited, decode[dto.ErrorResponse](t, w).Code)

	// other routes are not throttled
	w = srv.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
