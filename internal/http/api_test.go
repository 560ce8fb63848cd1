package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"review-api/internal/auth"
	"review-api/internal/notify"
	"review-api/internal/repository/memory"
	"review-api/internal/service"
	"review-api/internal/validation"
)

type outbox struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (o *outbox) Enqueue(msg notify.Message) error {
	o.mu.Lock()
	o.sent = append(o.sent, msg)
	o.mu.Unlock()
	return nil
}

func (o *outbox) messages() []notify.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]notify.Message(nil), o.sent...)
}

type testServer struct {
	router *gin.Engine
	svc    service.AuthService
	users  *memory.UserRepository
	outbox *outbox
}

func newTestServer(t *testing.T, rl RateLimitConfig) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger, _ := test.NewNullLogger()
	users := memory.NewUserRepository()
	revoked := memory.NewRevocationRegistry()
	tokens, err := auth.NewTokenIssuer(auth.TokenConfig{Secret: "test-secret", Issuer: "review-api", TTL: time.Hour}, revoked)
	require.NoError(t, err)
	box := &outbox{}

	svc, err := service.NewAuthService(service.Dependencies{
		Users:         users,
		Revocations:   revoked,
		Hasher:        auth.NewBcryptHasher(bcrypt.MinCost),
		Tokens:        tokens,
		Validator:     validation.New(validation.PasswordPolicy{MinLength: 8, RequireDigit: true, RequireLetter: true}),
		Notifications: box,
		Logger:        logger,
	})
	require.NoError(t, err)

	router := gin.New()
	NewHandler(svc, "/api/v1", rl, logger).RegisterRoutes(router)

	ts := &testServer{router: router, svc: svc, users: users, outbox: box}
	t.Cleanup(func() { _ = svc.ClearUsers(context.Background()) })
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case nil:
	case string:
		raw = []byte(b)
	default:
		var err error
		raw, err = json.Marshal(b)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(method, "/api/v1"+path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)

	var out map[string]any
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	}
	return rr, out
}

var (
	userData  = map[string]any{"email": "user@test.com", "username": "stephen", "password": "test1234"}
	loginData = map[string]any{"email": "user@test.com", "password": "test1234"}
)

func (ts *testServer) loginToken(t *testing.T) string {
	t.Helper()
	ts.do(t, http.MethodPost, "/register", userData, "")
	rr, body := ts.do(t, http.MethodPost, "/login", loginData, "")
	require.Equal(t, http.StatusOK, rr.Code, body)
	token, _ := body["access_token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestRegister(t *testing.T) {
	ts := newTestServer(t, RateLimitConfig{})

	rr, body := ts.do(t, http.MethodPost, "/register",
		map[string]any{"email": "A@B.com", "username": "ann  doe", "password": "test1234"}, "")
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, msgRegistered, body["message"])

	user, ok, err := ts.users.FindByEmail(context.Background(), "a@b.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a@b.com", user.Email)
	assert.Equal(t, "ann doe", user.Username)

	rr, body = ts.do(t, http.MethodPost, "/register",
		map[string]any{"email": "a@b.com", "username": "someone else", "password": "other9999"}, "")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, msgDuplicate, body["message"])
}

func TestRegister_BadRequests(t *testing.T) {
	ts := newTestServer(t, RateLimitConfig{})

	tests := []struct {
		name string
		body any
		msg  string
	}{
		{"empty body", nil, msgInvalidJSON},
		{"malformed json", `{"email": `, msgInvalidJSON},
		{"wrong type", map[string]any{"email": 42, "username": "s", "password": "test1234"}, msgInvalidJSON},
		{"missing password", map[string]any{"email": "user@test.com", "username": "stephen"}, "Password is required"},
		{"blank fields", map[string]any{"email": " ", "username": "", "password": "test1234"}, "Email, username are required"},
		{"invalid email", map[string]any{"email": "user", "username": "stephen", "password": "test1234"}, msgInvalidEmail},
		{"weak password", map[string]any{"email": "user@test.com", "username": "stephen", "password": "test"}, "Password must be at least 8 characters"},
		{"password over 72 bytes", map[string]any{"email": "user@test.com", "username": "stephen", "password": strings.Repeat("a1", 40)}, "Password must be at most 72 bytes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, body := ts.do(t, http.MethodPost, "/register", tt.body, "")
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, tt.msg, body["message"])
		})
	}
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t, RateLimitConfig{})
	ts.do(t, http.MethodPost, "/register", userData, "")

	rr, body := ts.do(t, http.MethodPost, "/login", loginData, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, body["access_token"])
	assert.Equal(t, msgLoggedIn, body["message"])
	user, _ := body["user"].(map[string]any)
	assert.Equal(t, "user@test.com", user["email"])
	assert.Equal(t, "stephen", user["username"])

	wrongRR, wrongBody := ts.do(t, http.MethodPost, "/login", map[string]any{"email": "user@test.com", "password": "test123"}, "")
	unknownRR, unknownBody := ts.do(t, http.MethodPost, "/login", map[string]any{"email": "notuser@me.com", "password": "test1234"}, "")
	assert.Equal(t, http.StatusUnauthorized, wrongRR.Code)
	assert.Equal(t, wrongRR.Code, unknownRR.Code)
	assert.Equal(t, wrongBody, unknownBody)
	assert.Equal(t, msgInvalidLogin, wrongBody["message"])

	rr, _ = ts.do(t, http.MethodPost, "/login", map[string]any{"email": "user@test.com"}, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLogout(t *testing.T) {
	ts := newTestServer(t, RateLimitConfig{})
	first := ts.loginToken(t)
	_, body := ts.do(t, http.MethodPost, "/login", loginData, "")
	second := body["access_token"].(string)

	rr, body := ts.do(t, http.MethodPost, "/logout", nil, first)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, msgLoggedOut, body["message"])

	rr, body = ts.do(t, http.MethodPost, "/logout", nil, first)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, msgUnauthorized, body["message"])

	rr, _ = ts.do(t, http.MethodPost, "/logout", nil, second)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestProtectedRoutes_RejectBadTokens(t *testing.T) {
	ts := newTestServer(t, RateLimitConfig{})

	for _, token := range []string{"", "garbage", "a.b.c"} {
		rr, body := ts.do(t, http.MethodPost, "/logout", nil, token)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, msgUnauthorized, body["message"])
	}

	req := httptest.NewRequest(http.MethodPut, "/api/v1/change-password", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestResetPassword(t *testing.T) {
	ts := newTestServer(t, RateLimitConfig{})
	ts.do(t, http.MethodPost, "/register", userData, "")

	rr, body := ts.do(t, http.MethodPost, "/reset-password", map[string]any{"email": "notuser@me.com"}, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, msgUnregistered, body["message"])
	assert.Empty(t, ts.outbox.messages())

	rr, _ = ts.do(t, http.MethodPost, "/reset-password", map[string]any{}, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, body = ts.do(t, http.MethodPost, "/reset-password", map[string]any{"email": "USER@test.com"}, "")
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, msgResetDone, body["message"])

	sent := ts.outbox.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "user@test.com", sent[0].To)

	rr, _ = ts.do(t, http.MethodPost, "/login", loginData, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	rr, _ = ts.do(t, http.MethodPost, "/login", map[string]any{"email": "user@test.com", "password": sent[0].Password}, "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestChangePassword(t *testing.T) {
	ts := newTestServer(t, RateLimitConfig{})
	used := ts.loginToken(t)
	_, body := ts.do(t, http.MethodPost, "/login", loginData, "")
	other := body["access_token"].(string)

	rr, body := ts.do(t, http.MethodPut, "/change-password",
		map[string]any{"old_password": "test123", "new_password": "newpass"}, used)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, msgIncorrectPassword, body["message"])

	rr, _ = ts.do(t, http.MethodPut, "/change-password",
		map[string]any{"old_password": "    ", "new_password": "newpass"}, used)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, body = ts.do(t, http.MethodPut, "/change-password",
		map[string]any{"old_password": "test1234", "new_password": "newtestpass"}, used)
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, msgPasswordChanged, body["message"])

	rr, _ = ts.do(t, http.MethodPut, "/change-password",
		map[string]any{"old_password": "newtestpass", "new_password": "again1234"}, used)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, _ = ts.do(t, http.MethodPost, "/logout", nil, other)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr, _ = ts.do(t, http.MethodPost, "/login", map[string]any{"email": "user@test.com", "password": "newtestpass"}, "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestChangePassword_NewPasswordTooLong(t *testing.T) {
	ts := newTestServer(t, RateLimitConfig{})
	token := ts.loginToken(t)

	rr, body := ts.do(t, http.MethodPut, "/change-password",
		map[string]any{"old_password": "test1234", "new_password": strings.Repeat("a1", 40)}, token)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Password must be at most 72 bytes", body["message"])

	rr, _ = ts.do(t, http.MethodPost, "/login", loginData, "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, RateLimitConfig{Enabled: true, PerSecond: 0.001, Burst: 2})

	for i := 0; i < 2; i++ {
		rr, _ := ts.do(t, http.MethodPost, "/login", loginData, "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	}
	rr, body := ts.do(t, http.MethodPost, "/login", loginData, "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "rate limit exceeded", body["message"])

	rr, _ = ts.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestIPRateLimiter_ForgetsIdleClients(t *testing.T) {
	now := time.Now()
	l := newIPRateLimiter(1, 1)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.2"))

	now = now.Add(10 * time.Minute)
	assert.True(t, l.allow("10.0.0.3"))
	assert.Len(t, l.clients, 1)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, RateLimitConfig{})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/login", nil)
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestBearerToken(t *testing.T) {
	tok, ok := bearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	tok, ok = bearerToken("bearer  abc ")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	for _, h := range []string{"", "Bearer", "Bearer   ", "Token abc", "abc"} {
		_, ok := bearerToken(h)
		assert.False(t, ok, h)
	}
}
