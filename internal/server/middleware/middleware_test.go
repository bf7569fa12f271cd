package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/altyn-ledger/internal/auth"
	"serotonyl.ru/altyn-ledger/internal/server/httpx"
)

var (
	userSecret  = []byte("user-secret")
	adminSecret = []byte("admin-secret")
)

func ok(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func withBearer(r *http.Request, token string) *http.Request {
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Close()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(time.Minute + time.Second)
	assert.True(t, rl.Allow("a"))
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Close()
	h := rl.Middleware(http.HandlerFunc(ok))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, http.StatusNoContent, serve(h, r).Code)

	w := serve(h, r)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	// Пользователи считаются по id, а не по IP
	u := r.WithContext(httpx.WithUser(r.Context(), &auth.User{ID: 1, Email: "a@example.com"}))
	assert.Equal(t, http.StatusNoContent, serve(h, u).Code)
}

func TestUserAuth(t *testing.T) {
	var seen *auth.User
	h := UserAuth(userSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = httpx.UserFrom(r.Context())
		ok(w, r)
	}))

	assert.Equal(t, http.StatusUnauthorized, serve(h, httptest.NewRequest(http.MethodGet, "/", nil)).Code)

	token, err := auth.IssueUserToken(userSecret, 7, "u@example.com", time.Hour)
	require.NoError(t, err)
	w := serve(h, withBearer(httptest.NewRequest(http.MethodGet, "/", nil), token))
	assert.Equal(t, http.StatusNoContent, w.Code)
	require.NotNil(t, seen)
	assert.Equal(t, int64(7), seen.ID)

	adminToken, _, err := auth.IssueAdminToken(adminSecret, "admin", time.Hour)
	require.NoError(t, err)
	w = serve(h, withBearer(httptest.NewRequest(http.MethodGet, "/", nil), adminToken))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminAuth(t *testing.T) {
	h := AdminAuth(adminSecret, userSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, _ := httpx.AdminFrom(r.Context())
		assert.Equal(t, "admin", name)
		ok(w, r)
	}))

	adminToken, _, err := auth.IssueAdminToken(adminSecret, "admin", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, serve(h, withBearer(httptest.NewRequest(http.MethodGet, "/", nil), adminToken)).Code)

	// Валидный пользовательский токен — 403, мусор — 401
	userToken, err := auth.IssueUserToken(userSecret, 7, "u@example.com", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, serve(h, withBearer(httptest.NewRequest(http.MethodGet, "/", nil), userToken)).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, withBearer(httptest.NewRequest(http.MethodGet, "/", nil), "garbage")).Code)
}

func TestRequestIDAndRecovery(t *testing.T) {
	h := RequestID(Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(RequestIDHeader, "abc")
	w := serve(h, r)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "abc", w.Header().Get(RequestIDHeader))
	assert.Contains(t, w.Body.String(), `"request_id":"abc"`)

	w = serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)
}
