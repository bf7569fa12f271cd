package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/altyn-ledger/internal/common"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{common.ErrInvalidPrecision, http.StatusBadRequest, "INVALID_PRECISION"},
		{fmt.Errorf("%w: x", common.ErrValidation), http.StatusBadRequest, "VALIDATION_ERROR"},
		{common.ErrInsufficientFunds, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS"},
		{fmt.Errorf("stake: %w", common.ErrNodeFull), http.StatusConflict, "NODE_FULL"},
		{common.ErrTargetNodeFull, http.StatusConflict, "TARGET_NODE_FULL"},
		{common.ErrWalletAlreadyUsed, http.StatusConflict, "WALLET_ALREADY_USED"},
		{common.ErrExternalVerificationTimeout, http.StatusGatewayTimeout, "EXTERNAL_VERIFICATION_TIMEOUT"},
		{common.ErrNotAdmin, http.StatusForbidden, "FORBIDDEN"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		status, code := StatusOf(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

func TestErrorHidesInternalDetails(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r = r.WithContext(WithRequestID(r.Context(), "req-1"))
	w := httptest.NewRecorder()

	Error(w, r, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "INTERNAL_ERROR", resp.Code)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.NotContains(t, resp.Message, "password")
}

func TestDecode(t *testing.T) {
	var v struct {
		Name string `json:"name"`
	}
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a"}`))
	require.NoError(t, Decode(r, &v))
	assert.Equal(t, "a", v.Name)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a","extra":1}`))
	assert.ErrorIs(t, Decode(r, &v), common.ErrValidation)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	assert.ErrorIs(t, Decode(r, &v), common.ErrValidation)
}

func TestPathInt64(t *testing.T) {
	r := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"id": "17"})
	id, err := PathInt64(r, "id")
	require.NoError(t, err)
	assert.Equal(t, int64(17), id)

	r = mux.SetURLVars(r, map[string]string{"id": "0"})
	_, err = PathInt64(r, "id")
	assert.ErrorIs(t, err, common.ErrValidation)
}
