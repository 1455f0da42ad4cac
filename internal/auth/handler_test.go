package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fitstack/backend/internal/telemetry/metrics"
	"github.com/fitstack/backend/internal/users"
	"github.com/fitstack/backend/pkg"

	"github.com/go-redis/redismock/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUsername = "testuser"
	testPassword = "testpass"
	// bcrypt hash of "testpass"
	testPasswordHash = "$2a$14$6Gmhg85si2etd3K9oB8nYu1cxfbrdmhkg6wI6OXsa88IF4L2r/L9i"
)

type usersRepoFake struct {
	users map[string]*users.User
}

func (f *usersRepoFake) GetByUsername(_ context.Context, username string) (*users.User, error) {
	u, ok := f.users[username]
	if !ok {
		return nil, users.ErrUserNotFound
	}
	return u, nil
}

func noopRateLimit(next http.Handler) http.Handler {
	return next
}

type authTestEnv struct {
	router      *mux.Router
	redisMock   redismock.ClientMock
	authService *Service
	metrics     *metrics.Manager
}

func newAuthTestEnv(t *testing.T) *authTestEnv {
	t.Helper()

	rdb, mock := redismock.NewClientMock()
	t.Cleanup(func() { _ = rdb.Close() })

	authService := NewService(time.Hour, rdb)
	usersRepo := &usersRepoFake{
		users: map[string]*users.User{
			testUsername: {
				ID:           42,
				Username:     testUsername,
				PasswordHash: testPasswordHash,
			},
		},
	}

	metricsManager := metrics.NewTestManager()
	handler := NewHandler(authService, usersRepo, metricsManager)
	router := mux.NewRouter()
	handler.SetupRoutes(router, noopRateLimit)
	return &authTestEnv{
		router:      router,
		redisMock:   mock,
		authService: authService,
		metrics:     metricsManager,
	}
}

func TestHandler_Login(t *testing.T) {
	env := newAuthTestEnv(t)

	testToken := "test_token"
	env.authService.RandStringFunc = func(s int) (string, error) {
		return testToken, nil
	}

	env.redisMock.CustomMatch(func(expected, actual []interface{}) error {
		// session value embeds login time, match on command and key only
		return nil
	}).ExpectSet(sessionKeyPrefix+testToken, "", 0).SetVal("OK")
	env.redisMock.ExpectSAdd(tokensSetKey, testToken).SetVal(1)

	body, err := json.Marshal(map[string]string{
		"username": testUsername,
		"password": testPassword,
	})
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	req, err := http.NewRequest("POST", "/a/login", bytes.NewBuffer(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	env.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, testToken, resp.Token)
	assert.Zero(t, testutil.ToFloat64(env.metrics.CounterFailedLoginAttempts))
}

func TestHandler_Login_WrongCredentials(t *testing.T) {
	env := newAuthTestEnv(t)

	cases := []map[string]string{
		{"username": testUsername, "password": "wrong"},
		{"username": "unknown", "password": testPassword},
	}

	for _, creds := range cases {
		body, err := json.Marshal(creds)
		require.NoError(t, err)

		rr := httptest.NewRecorder()
		req, err := http.NewRequest("POST", "/a/login", bytes.NewBuffer(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")

		env.router.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "wrong credentials")
	}

	// both rejections are counted
	assert.Equal(t, float64(len(cases)), testutil.ToFloat64(env.metrics.CounterFailedLoginAttempts))
}

func TestHandler_Login_EmptyFields(t *testing.T) {
	env := newAuthTestEnv(t)

	cases := []map[string]string{
		{"username": "", "password": testPassword},
		{"username": testUsername, "password": ""},
	}

	for _, creds := range cases {
		body, err := json.Marshal(creds)
		require.NoError(t, err)

		rr := httptest.NewRecorder()
		req, err := http.NewRequest("POST", "/a/login", bytes.NewBuffer(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")

		env.router.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	}
}

func TestHandler_Logout(t *testing.T) {
	env := newAuthTestEnv(t)

	token := "test_token"
	sessionKey := sessionKeyPrefix + token
	env.redisMock.ExpectGet(sessionKey).SetVal(sessionValue(42, time.Now()))
	env.redisMock.ExpectDel(sessionKey).SetVal(1)
	env.redisMock.ExpectSRem(tokensSetKey, token).SetVal(1)

	rr := httptest.NewRecorder()
	req, err := http.NewRequest("GET", "/a/logout", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	env.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "logged-out", rr.Body.String())
}

func TestHandler_Logout_NoToken(t *testing.T) {
	env := newAuthTestEnv(t)

	rr := httptest.NewRecorder()
	req, err := http.NewRequest("GET", "/a/logout", nil)
	require.NoError(t, err)

	env.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestPasswordHash_MatchesTestFixture(t *testing.T) {
	assert.True(t, pkg.CheckPasswordHash(testPassword, testPasswordHash))
	assert.False(t, pkg.CheckPasswordHash("wrong", testPasswordHash))
}
