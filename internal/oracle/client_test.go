package oracle

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/altyn-ledger/internal/common"
)

const wallet = "0x52908400098527886e0f7030069857d2e4169ee7"

func newClient(url string, timeout time.Duration, retries int) *Client {
	return New(url, timeout, retries).WithBaseDelay(time.Millisecond)
}

func TestBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/balance", r.URL.Path)
		assert.Equal(t, wallet, r.URL.Query().Get("address"))
		fmt.Fprintf(w, `{"address":%q,"balance":"1234.5678901"}`, wallet)
	}))
	defer srv.Close()

	balance, err := newClient(srv.URL+"/", time.Second, 0).Balance(context.Background(), wallet)
	require.NoError(t, err)
	assert.Equal(t, "1234.5678901", balance.String())
}

func TestBalanceRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"balance":"5"}`)
	}))
	defer srv.Close()

	balance, err := newClient(srv.URL, time.Second, 2).Balance(context.Background(), wallet)
	require.NoError(t, err)
	assert.Equal(t, "5", balance.String())
	assert.Equal(t, int32(3), calls.Load())
}

func TestBalanceGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL, time.Second, 2).Balance(context.Background(), wallet)
	assert.ErrorIs(t, err, common.ErrExternalVerificationTimeout)
	assert.Equal(t, int32(3), calls.Load())
}

func TestBalanceClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown address", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL, time.Second, 3).Balance(context.Background(), wallet)
	assert.ErrorIs(t, err, common.ErrInvalidWallet)
	assert.Equal(t, int32(1), calls.Load())
}

func TestBalanceRejectsForeignAddress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"address":"0x0000000000000000000000000000000000000000","balance":"5"}`)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL, time.Second, 1).Balance(context.Background(), wallet)
	assert.ErrorIs(t, err, common.ErrInvalidWallet)
}

func TestBalanceTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := newClient(srv.URL, 50*time.Millisecond, 1).Balance(context.Background(), wallet)
	assert.ErrorIs(t, err, common.ErrExternalVerificationTimeout)
}

func TestBalanceNotConfigured(t *testing.T) {
	_, err := New("", time.Second, 0).Balance(context.Background(), wallet)
	assert.ErrorIs(t, err, common.ErrExternalVerificationTimeout)
}

func TestBackoff(t *testing.T) {
	c := New("http://x", time.Second, 0)
	assert.Equal(t, defaultBaseDelay, c.backoff(0))
	assert.Equal(t, 4*defaultBaseDelay, c.backoff(2))
	assert.Equal(t, maxDelay, c.backoff(10))
	assert.Equal(t, maxDelay, c.backoff(100))
}
