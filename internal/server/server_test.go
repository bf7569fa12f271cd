package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/altyn-ledger/internal/auth"
	"serotonyl.ru/altyn-ledger/internal/db/memory"
	"serotonyl.ru/altyn-ledger/internal/features/admin"
	"serotonyl.ru/altyn-ledger/internal/features/altyn"
	"serotonyl.ru/altyn-ledger/internal/features/nodes"
	"serotonyl.ru/altyn-ledger/internal/features/wallet"
	"serotonyl.ru/altyn-ledger/internal/ledger"
	"serotonyl.ru/altyn-ledger/internal/notify"
	"serotonyl.ru/altyn-ledger/internal/server"
	"serotonyl.ru/altyn-ledger/internal/server/middleware"
)

var (
	userSecret  = []byte("user-secret")
	adminSecret = []byte("admin-secret")
)

type fixedVerifier struct{ balance decimal.Decimal }

func (v fixedVerifier) Balance(context.Context, string) (decimal.Decimal, error) {
	return v.balance, nil
}

type env struct {
	t       *testing.T
	handler http.Handler
	ledger  *ledger.Ledger
}

func newEnv(t *testing.T) *env {
	t.Helper()
	l := ledger.New(memory.New(), ledger.DefaultParams())
	require.NoError(t, l.Bootstrap(context.Background()))

	hash, err := admin.HashPassword("s3cret")
	require.NoError(t, err)
	adminService := admin.NewService(admin.NewMemoryAttempts(), "admin", hash, adminSecret, time.Hour)
	altynService := altyn.NewService(l, fixedVerifier{balance: decimal.NewFromInt(300)}, notify.Nop{})

	limiter := middleware.NewRateLimiter(1000, time.Minute)
	t.Cleanup(limiter.Close)

	h := server.NewRouter(server.Handlers{
		Wallet: wallet.NewHandler(l),
		Nodes:  nodes.NewHandler(l),
		Altyn:  altyn.NewHandler(altynService),
		Admin:  admin.NewHandler(adminService, l),
	}, server.Options{
		CORSOrigins: []string{"https://app.example"},
		UserSecret:  userSecret,
		AdminSecret: adminSecret,
		Limiter:     limiter,
	})
	return &env{t: t, handler: h, ledger: l}
}

func (e *env) userToken(id int64, email string) string {
	e.t.Helper()
	token, err := auth.IssueUserToken(userSecret, id, email, time.Hour)
	require.NoError(e.t, err)
	return token
}

func (e *env) adminToken() string {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/admin/login", "", map[string]string{"username": "admin", "password": "s3cret"})
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(e.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Token
}

func (e *env) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, r)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthAndNotFound(t *testing.T) {
	e := newEnv(t)

	rec := e.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	rec = e.do(http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeBody(t, rec)["code"])
}

func TestAuthBoundaries(t *testing.T) {
	e := newEnv(t)
	user := e.userToken(1, "u1@example.com")

	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/api/finance/wallet", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/api/admin/finance/audit", user, nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPost, "/api/finance/admin/distribute-dividends?reason=x", user, nil).Code)

	rec := e.do(http.MethodPost, "/api/admin/login", "", map[string]string{"username": "admin", "password": "bad"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "WRONG_PASSWORD", decodeBody(t, rec)["code"])

	// Админский токен не подходит к пользовательским маршрутам
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/api/finance/wallet", e.adminToken(), nil).Code)
}

func TestWalletEmailTaken(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/finance/wallet", e.userToken(1, "u1@example.com"), nil).Code)

	rec := e.do(http.MethodGet, "/api/finance/wallet", e.userToken(2, "u1@example.com"), nil)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Equal(t, "ACCOUNT_EXISTS", decodeBody(t, rec)["code"])
}

func TestWalletTransferAndDividends(t *testing.T) {
	e := newEnv(t)
	u1 := e.userToken(1, "u1@example.com")
	u2 := e.userToken(2, "u2@example.com")
	adm := e.adminToken()

	require.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/finance/wallet", u1, nil).Code)
	require.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/finance/wallet", u2, nil).Code)

	rec := e.do(http.MethodPost, "/api/finance/admin/emission", adm, map[string]string{
		"to_user_email": "u1@example.com", "amount": "1000", "asset_type": "coin", "reason": "бонус",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = e.do(http.MethodPost, "/api/finance/admin/emission", adm, map[string]string{
		"to_user_email": "u2@example.com", "amount": "100", "asset_type": "TOKEN", "reason": "бонус",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(http.MethodPost, "/api/finance/transfer", u1, map[string]string{
		"to_user_email": "U2@example.com", "amount": "500", "asset_type": "COIN",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "0.5", decodeBody(t, rec)["fee_amount"])

	rec = e.do(http.MethodPost, "/api/finance/transfer", u1, map[string]string{
		"to_user_email": "u2@example.com", "amount": "5000", "asset_type": "COIN",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INSUFFICIENT_FUNDS", decodeBody(t, rec)["code"])

	rec = e.do(http.MethodPost, "/api/finance/admin/distribute-dividends?reason=test", adm, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "0.5", decodeBody(t, rec)["distributed"])

	rec = e.do(http.MethodPost, "/api/finance/admin/distribute-dividends?reason=test", adm, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "NOTHING_TO_DISTRIBUTE", decodeBody(t, rec)["code"])

	rec = e.do(http.MethodGet, "/api/admin/finance/audit", adm, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["ok"])
}

func TestNodesAndStakes(t *testing.T) {
	e := newEnv(t)
	u1 := e.userToken(1, "u1@example.com")
	adm := e.adminToken()
	require.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/finance/wallet", u1, nil).Code)
	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/api/finance/admin/emission", adm, map[string]string{
		"to_user_email": "u1@example.com", "amount": "3000", "asset_type": "TOKEN", "reason": "setup",
	}).Code)

	rec := e.do(http.MethodPost, "/api/finance/nodes", u1, map[string]any{"name": "Мой узел", "initial_stake": "1000"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	node := decodeBody(t, rec)["node"].(map[string]any)
	assert.Equal(t, "STANDARD", node["node_type"])
	assert.Equal(t, "4000", node["available_capacity"])

	rec = e.do(http.MethodPost, "/api/finance/nodes/1/stake", u1, map[string]string{"amount": "500"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	stake := decodeBody(t, rec)
	assert.Equal(t, true, stake["is_locked"])
	assert.Equal(t, float64(30), stake["days_left"])

	rec = e.do(http.MethodPost, "/api/finance/nodes/stakes/1/unstake", u1, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "STAKE_LOCKED", decodeBody(t, rec)["code"])

	rec = e.do(http.MethodGet, "/api/finance/nodes/stats", u1, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(http.MethodDelete, "/api/admin/finance/nodes/1?reason=закрытие", adm, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	balance, err := e.ledger.GetBalance(context.Background(), 1, ledger.AssetToken)
	require.NoError(t, err)
	assert.Equal(t, "3000", balance.String())
}

func TestAltynImportFlow(t *testing.T) {
	e := newEnv(t)
	u1 := e.userToken(1, "u1@example.com")
	adm := e.adminToken()
	body := map[string]string{"wallet_address": "0x52908400098527886E0F7030069857D2E4169EE7"}

	rec := e.do(http.MethodPost, "/api/finance/altyn-transfer/verify-wallet", u1, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decodeBody(t, rec)["can_import"])

	rec = e.do(http.MethodPost, "/api/finance/altyn-transfer/submit", u1, body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "PENDING", decodeBody(t, rec)["status"])

	rec = e.do(http.MethodPost, "/api/finance/altyn-transfer/submit", u1, body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "WALLET_ALREADY_USED", decodeBody(t, rec)["code"])

	rec = e.do(http.MethodGet, "/api/admin/finance/altyn-transfers?status=pending", adm, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["transfers"], 1)

	rec = e.do(http.MethodPost, "/api/admin/finance/altyn-transfers/1/approve", adm, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "COMPLETED", decodeBody(t, rec)["status"])

	balance, err := e.ledger.GetBalance(context.Background(), 1, ledger.AssetToken)
	require.NoError(t, err)
	assert.Equal(t, "300", balance.String())
}

func TestCORSPreflight(t *testing.T) {
	e := newEnv(t)
	preflight := func(headers string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodOptions, "/api/finance/wallet", nil)
		r.Header.Set("Origin", "https://app.example")
		r.Header.Set("Access-Control-Request-Method", http.MethodGet)
		r.Header.Set("Access-Control-Request-Headers", headers)
		rec := httptest.NewRecorder()
		e.handler.ServeHTTP(rec, r)
		return rec
	}

	// Браузеры присылают имена заголовков в нижнем регистре
	rec := preflight("authorization")
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = preflight("Authorization")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAutoCreateBetweenStandardAndSuper(t *testing.T) {
	e := newEnv(t)
	u1 := e.userToken(1, "u1@example.com")
	adm := e.adminToken()
	require.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/finance/wallet", u1, nil).Code)
	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/api/finance/admin/emission", adm, map[string]string{
		"to_user_email": "u1@example.com", "amount": "20000", "asset_type": "TOKEN", "reason": "setup",
	}).Code)

	rec := e.do(http.MethodPost, "/api/finance/nodes/auto-create", u1, map[string]any{"amount": "7000"})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "NODE_FULL", body["code"])
	assert.Contains(t, body["message"], "порога SUPER")

	rec = e.do(http.MethodPost, "/api/finance/nodes/auto-create", u1, map[string]any{"amount": "12000"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "SUPER", decodeBody(t, rec)["node"].(map[string]any)["node_type"])
}
