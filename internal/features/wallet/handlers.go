// Package wallet — handlers.go обрабатывает экран кошелька:
// баланс и стейки, история транзакций, переводы COIN/TOKEN по email.
package wallet

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"serotonyl.ru/altyn-ledger/internal/common"
	"serotonyl.ru/altyn-ledger/internal/ledger"
	"serotonyl.ru/altyn-ledger/internal/server/httpx"
)

// Handler обрабатывает запросы кошелька.
type Handler struct {
	ledger *ledger.Ledger
}

// NewHandler создаёт обработчик кошелька.
func NewHandler(l *ledger.Ledger) *Handler {
	return &Handler{ledger: l}
}

// Register подключает маршруты к роутеру с пользовательской авторизацией.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/wallet", h.HandleWallet).Methods(http.MethodGet)
	r.HandleFunc("/transactions", h.HandleTransactions).Methods(http.MethodGet)
	r.HandleFunc("/transfer", h.HandleTransfer).Methods(http.MethodPost)
}

// HandleWallet возвращает кошелёк. Счёт открывается при первом обращении.
func (h *Handler) HandleWallet(w http.ResponseWriter, r *http.Request) {
	user, ok := httpx.UserFrom(r.Context())
	if !ok {
		httpx.Error(w, r, common.ErrUnauthorized)
		return
	}
	if _, err := h.ledger.EnsureAccount(r.Context(), user.ID, user.Email); err != nil {
		httpx.Error(w, r, err)
		return
	}
	wallet, err := h.ledger.Wallet(r.Context(), user.ID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, wallet)
}

// HandleTransactions возвращает историю: ?asset_type=COIN|TOKEN&limit=50.
func (h *Handler) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	user, ok := httpx.UserFrom(r.Context())
	if !ok {
		httpx.Error(w, r, common.ErrUnauthorized)
		return
	}

	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			httpx.Error(w, r, common.ErrValidation)
			return
		}
		limit = v
	}
	asset := ledger.AssetType(strings.ToUpper(q.Get("asset_type")))

	txs, err := h.ledger.Transactions(r.Context(), user.ID, asset, limit)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

type transferRequest struct {
	ToUserEmail     string          `json:"to_user_email"`
	Amount          decimal.Decimal `json:"amount"`
	AssetType       string          `json:"asset_type"`
	Description     string          `json:"description"`
	TransactionType string          `json:"transaction_type"`
}

// HandleTransfer переводит средства пользователю по email.
func (h *Handler) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	user, ok := httpx.UserFrom(r.Context())
	if !ok {
		httpx.Error(w, r, common.ErrUnauthorized)
		return
	}
	var req transferRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}

	record, err := h.ledger.Transfer(r.Context(), ledger.TransferRequest{
		FromUserID:  user.ID,
		ToEmail:     req.ToUserEmail,
		Amount:      req.Amount,
		Asset:       ledger.AssetType(strings.ToUpper(req.AssetType)),
		Description: req.Description,
		Type:        ledger.TxType(strings.ToUpper(req.TransactionType)),
	})
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}
