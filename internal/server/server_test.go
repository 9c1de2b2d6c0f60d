package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AtoyanMikhail/newsauth/internal/cache"
	"github.com/AtoyanMikhail/newsauth/internal/credentials"
	"github.com/AtoyanMikhail/newsauth/internal/logger"
	"github.com/AtoyanMikhail/newsauth/internal/metrics"
	"github.com/AtoyanMikhail/newsauth/internal/models"
	"github.com/AtoyanMikhail/newsauth/internal/repository/memory"
	"github.com/AtoyanMikhail/newsauth/internal/session"
	"github.com/AtoyanMikhail/newsauth/internal/token"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testEnv struct {
	srv      *Server
	users    *memory.UserStore
	sessions *memory.SessionStore
	creds    *credentials.Store
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	users := memory.NewUserStore()
	sessions := memory.NewSessionStore()
	ac := cache.NewAuthCache(cache.NewLocalCache(), logger.Nop())

	creds, err := credentials.NewStore(users, ac, credentials.Config{
		BcryptCost:  bcrypt.MinCost,
		LivenessTTL: 30 * time.Second,
	}, logger.Nop())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	svc := session.NewService(session.Deps{
		Credentials: creds,
		Codec: token.NewCodec(token.Config{
			AccessSecret:  "access-secret-access-secret-0123456789",
			RefreshSecret: "refresh-secret-refresh-secret-0123456789",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
		}),
		Sessions: sessions,
		Attempts: ac,
		Metrics:  metrics.New(reg),
	}, session.Config{MaxLoginAttempts: 5, AttemptWindow: time.Minute}, logger.Nop())

	cfg := Config{
		Addr:            "127.0.0.1:0",
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		ShutdownTimeout: time.Second,
		AllowedOrigins:  []string{"http://news.local"},
		Cookie:          CookieConfig{Name: "refreshToken", Path: "/api/auth"},
	}

	srv, err := New(cfg, svc, logger.Nop(), append([]Option{WithMetrics(reg)}, opts...)...)
	require.NoError(t, err)

	return &testEnv{srv: srv, users: users, sessions: sessions, creds: creds}
}

type reqOpt func(*http.Request)

func withBearer(tok string) reqOpt {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

func withCookie(c *http.Cookie) reqOpt {
	return func(r *http.Request) {
		if c != nil {
			r.AddCookie(c)
		}
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, opts ...reqOpt) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "server-test")
	for _, o := range opts {
		o(req)
	}

	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func refreshCookieFrom(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == "refreshToken" {
			return c
		}
	}
	return nil
}

func (e *testEnv) register(t *testing.T, username, email, password string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, RouteRegister, map[string]string{
		"username": username, "email": email, "password": password,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (e *testEnv) login(t *testing.T, email, password, fp string) (string, *http.Cookie) {
	t.Helper()
	rec := e.do(t, http.MethodPost, RouteLogin, map[string]string{
		"email": email, "password": password, "fingerprint": fp,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var data models.LoginRes
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &data))
	return data.AccessToken, refreshCookieFrom(rec)
}

func (e *testEnv) refresh(t *testing.T, c *http.Cookie, fp string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodPost, RouteRefresh, map[string]string{"fingerprint": fp}, withCookie(c))
}

func assertCleared(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	c := refreshCookieFrom(rec)
	require.NotNil(t, c, "expected the refresh cookie to be cleared")
	assert.Empty(t, c.Value)
	assert.Less(t, c.MaxAge, 0)
}

func TestServer_RotationAndTheftScenario(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "alice", "a@x.com", "password1")

	// login with F1
	rec := e.do(t, http.MethodPost, RouteLogin, map[string]string{
		"email": "a@x.com", "password": "password1", "fingerprint": "F1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)
	var login models.LoginRes
	require.NoError(t, json.Unmarshal(env.Data, &login))
	assert.NotEmpty(t, login.AccessToken)
	assert.Equal(t, "F1", login.Fingerprint)
	assert.Equal(t, "alice", login.User.Username)
	assert.NotContains(t, rec.Body.String(), "refreshToken")

	r1 := refreshCookieFrom(rec)
	require.NotNil(t, r1)
	assert.True(t, r1.HttpOnly)
	assert.False(t, r1.Secure)
	assert.Equal(t, http.SameSiteStrictMode, r1.SameSite)
	assert.Equal(t, "/api/auth", r1.Path)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), r1.Expires, 5*time.Second)

	// rotate R1 -> R2
	rec = e.refresh(t, r1, "F1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rotated models.RefreshRes
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &rotated))
	assert.NotEmpty(t, rotated.AccessToken)
	assert.Equal(t, "F1", rotated.Fingerprint)
	r2 := refreshCookieFrom(rec)
	require.NotNil(t, r2)
	assert.NotEqual(t, r1.Value, r2.Value)

	// R1 is spent
	rec = e.refresh(t, r1, "F1")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_refresh_token", decodeEnvelope(t, rec).Code)
	assertCleared(t, rec)
	assert.Equal(t, 1, e.sessions.Len())

	// R2 from another device looks like any other rejected token
	rec = e.refresh(t, r2, "F2")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	breach := decodeEnvelope(t, rec)
	assert.Equal(t, "invalid_refresh_token", breach.Code)
	assert.Equal(t, "invalid refresh token", breach.Error)
	assertCleared(t, rec)

	// and the legitimate device has been logged out too
	rec = e.refresh(t, r2, "F1")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_refresh_token", decodeEnvelope(t, rec).Code)
	assert.Zero(t, e.sessions.Len())
}

func TestServer_LoginErrors(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "alice", "a@x.com", "password1")

	tests := []struct {
		name     string
		body     any
		wantCode int
		wantErr  string
	}{
		{
			name:     "missing fingerprint",
			body:     map[string]string{"email": "a@x.com", "password": "password1"},
			wantCode: http.StatusBadRequest,
			wantErr:  "fingerprint_required",
		},
		{
			name:     "wrong password",
			body:     map[string]string{"email": "a@x.com", "password": "password2", "fingerprint": "F1"},
			wantCode: http.StatusUnauthorized,
			wantErr:  "invalid_credentials",
		},
		{
			name:     "unknown email",
			body:     map[string]string{"email": "b@x.com", "password": "password1", "fingerprint": "F1"},
			wantCode: http.StatusUnauthorized,
			wantErr:  "invalid_credentials",
		},
		{
			name:     "malformed email",
			body:     map[string]string{"email": "not-an-email", "password": "password1", "fingerprint": "F1"},
			wantCode: http.StatusBadRequest,
			wantErr:  "validation_error",
		},
		{
			name:     "unknown field",
			body:     map[string]string{"email": "a@x.com", "password": "password1", "role": "admin"},
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, RouteLogin, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			env := decodeEnvelope(t, rec)
			assert.False(t, env.Success)
			assert.Equal(t, tt.wantErr, env.Code)
			assert.Nil(t, refreshCookieFrom(rec))
		})
	}
}

func TestServer_LoginRateLimited(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "alice", "a@x.com", "password1")

	for i := 0; i < 5; i++ {
		rec := e.do(t, http.MethodPost, RouteLogin, map[string]string{
			"email": "a@x.com", "password": "wrong-pass", "fingerprint": "F1",
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := e.do(t, http.MethodPost, RouteLogin, map[string]string{
		"email": "a@x.com", "password": "password1", "fingerprint": "F1",
	})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "too_many_attempts", decodeEnvelope(t, rec).Code)
}

func TestServer_Register(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, RouteRegister, map[string]string{
		"username": "alice", "email": "a@x.com", "password": "password1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var user models.UserRes
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &user))
	assert.Equal(t, []string{"subscriber"}, user.Roles)
	assert.True(t, user.IsActive)
	assert.NotContains(t, rec.Body.String(), "password")

	tests := []struct {
		name     string
		body     map[string]string
		wantCode int
		wantErr  string
	}{
		{"duplicate email", map[string]string{"username": "alice2", "email": "A@x.com", "password": "password1"}, http.StatusConflict, "user_exists"},
		{"short username", map[string]string{"username": "al", "email": "c@x.com", "password": "password1"}, http.StatusBadRequest, "validation_error"},
		{"bad username chars", map[string]string{"username": "al ice", "email": "c@x.com", "password": "password1"}, http.StatusBadRequest, "validation_error"},
		{"short password", map[string]string{"username": "carol", "email": "c@x.com", "password": "short"}, http.StatusBadRequest, "validation_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, RouteRegister, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantErr, decodeEnvelope(t, rec).Code)
		})
	}
}

func TestServer_RefreshWithoutCookie(t *testing.T) {
	e := newTestEnv(t)

	rec := e.refresh(t, nil, "F1")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing_refresh_token", decodeEnvelope(t, rec).Code)
	assertCleared(t, rec)

	rec = e.do(t, http.MethodPost, RouteRefresh, nil, withCookie(&http.Cookie{Name: "refreshToken", Value: "x"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "fingerprint_required", decodeEnvelope(t, rec).Code)
	assertCleared(t, rec)
}

func TestServer_MeAndLogout(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "alice", "a@x.com", "password1")
	access, laptop := e.login(t, "a@x.com", "password1", "F1")
	_, phone := e.login(t, "a@x.com", "password1", "P1")

	rec := e.do(t, http.MethodGet, RouteMe, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeEnvelope(t, rec).Code)

	rec = e.do(t, http.MethodGet, RouteMe, nil, withBearer("garbage"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodGet, RouteMe, nil, withBearer(access))
	require.Equal(t, http.StatusOK, rec.Code)
	var me models.MeRes
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &me))
	assert.Equal(t, "alice", me.Username)
	assert.Equal(t, []string{"subscriber"}, me.Roles)

	rec = e.do(t, http.MethodGet, RouteSessions, nil, withBearer(access))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.SessionRes
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &list))
	assert.Len(t, list, 2)
	assert.NotContains(t, rec.Body.String(), laptop.Value)
	assert.Equal(t, "server-test", list[0].UserAgent)

	rec = e.do(t, http.MethodPost, RouteLogout, nil, withBearer(access), withCookie(laptop))
	require.Equal(t, http.StatusOK, rec.Code)
	assertCleared(t, rec)

	rec = e.refresh(t, laptop, "F1")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.refresh(t, phone, "P1")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPost, RouteLogout, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_LogoutAll(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "alice", "a@x.com", "password1")
	access, _ := e.login(t, "a@x.com", "password1", "F1")
	e.login(t, "a@x.com", "password1", "P1")

	rec := e.do(t, http.MethodPost, RouteLogoutAll, nil, withBearer(access))
	require.Equal(t, http.StatusOK, rec.Code)
	var res models.LogoutAllRes
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &res))
	assert.Equal(t, int64(2), res.Revoked)
	assertCleared(t, rec)
	assert.Zero(t, e.sessions.Len())
}

func (e *testEnv) seedAdmin(t *testing.T) {
	t.Helper()
	created, err := e.creds.EnsureAdmin(context.Background(), "root", "root@x.com", "admin-password")
	require.NoError(t, err)
	require.True(t, created)
}

func TestServer_Deactivation(t *testing.T) {
	e := newTestEnv(t)
	e.seedAdmin(t)
	e.register(t, "alice", "a@x.com", "password1")

	adminAccess, _ := e.login(t, "root@x.com", "admin-password", "ADMIN")
	userAccess, userCookie := e.login(t, "a@x.com", "password1", "F1")

	alice, err := e.users.FindByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	path := strings.Replace(RouteSetActive, "{id}", alice.ID, 1)

	// subscribers cannot manage users
	rec := e.do(t, http.MethodPatch, path, map[string]bool{"active": false}, withBearer(userAccess))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decodeEnvelope(t, rec).Code)

	rec = e.do(t, http.MethodPatch, path, map[string]any{}, withBearer(adminAccess))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPatch, path, map[string]bool{"active": false}, withBearer(adminAccess))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// the still well-signed access token is now refused
	rec = e.do(t, http.MethodGet, RouteMe, nil, withBearer(userAccess))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "account_deactivated", decodeEnvelope(t, rec).Code)

	rec = e.refresh(t, userCookie, "F1")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodPost, RouteLogin, map[string]string{
		"email": "a@x.com", "password": "password1", "fingerprint": "F1",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "account_deactivated", decodeEnvelope(t, rec).Code)

	rec = e.do(t, http.MethodPatch, strings.Replace(RouteSetActive, "{id}", "ghost", 1),
		map[string]bool{"active": true}, withBearer(adminAccess))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CORS(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, RouteRefresh, nil)
	req.Header.Set("Origin", "http://news.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://news.local", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodOptions, RouteRefresh, nil)
	req.Header.Set("Origin", "http://evil.local")
	rec = httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_HealthAndMetrics(t *testing.T) {
	failing := WithReadyCheck("database", func(context.Context) error { return errors.New("down") })

	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	e.register(t, "alice", "a@x.com", "password1")
	e.login(t, "a@x.com", "password1", "F1")
	rec = e.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `newsauth_logins_total{result="success"} 1`)

	e = newTestEnv(t, failing)
	rec = e.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_RecoverMiddleware(t *testing.T) {
	e := newTestEnv(t)
	h := ChainMiddleware(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}, e.srv.APIMiddleware()...)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestErrorFor(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{session.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
		{session.ErrAccountDeactivated, http.StatusUnauthorized, "account_deactivated"},
		{fmt.Errorf("%w: %w", session.ErrUnauthorized, session.ErrAccountDeactivated), http.StatusUnauthorized, "account_deactivated"},
		{session.ErrFingerprintRequired, http.StatusBadRequest, "fingerprint_required"},
		{session.ErrMissingRefreshToken, http.StatusUnauthorized, "missing_refresh_token"},
		{session.ErrInvalidRefreshToken, http.StatusUnauthorized, "invalid_refresh_token"},
		{session.ErrSecurityBreachDetected, http.StatusUnauthorized, "invalid_refresh_token"},
		{session.ErrRefreshTokenExpired, http.StatusUnauthorized, "refresh_token_expired"},
		{fmt.Errorf("%w: bad signature", session.ErrUnauthorized), http.StatusUnauthorized, "unauthorized"},
		{session.ErrTooManyAttempts, http.StatusTooManyRequests, "too_many_attempts"},
		{session.ErrUserExists, http.StatusConflict, "user_exists"},
		{errors.New("connection refused"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			got := errorFor(tt.err)
			assert.Equal(t, tt.wantStatus, got.status)
			assert.Equal(t, tt.wantCode, got.code)
		})
	}

	// theft and an unknown token must be indistinguishable on the wire
	assert.Equal(t, errorFor(session.ErrInvalidRefreshToken), errorFor(session.ErrSecurityBreachDetected))
}

func TestServer_Run(t *testing.T) {
	e := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- e.srv.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
