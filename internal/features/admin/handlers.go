// Package admin — handlers.go обрабатывает вход в админку и финансовые
// админ-операции: блокировки, эмиссию, дивиденды и аудит.
package admin

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"serotonyl.ru/altyn-ledger/internal/ledger"
	"serotonyl.ru/altyn-ledger/internal/server/httpx"
)

// Handler обрабатывает админские запросы.
type Handler struct {
	service *Service
	ledger  *ledger.Ledger
}

// NewHandler создаёт обработчик.
func NewHandler(service *Service, l *ledger.Ledger) *Handler {
	return &Handler{service: service, ledger: l}
}

// RegisterLogin подключает вход. Токен для него не нужен.
func (h *Handler) RegisterLogin(r *mux.Router) {
	r.HandleFunc("/login", h.HandleLogin).Methods(http.MethodPost)
}

// RegisterFinance подключает маршруты /api/admin/finance.
func (h *Handler) RegisterFinance(r *mux.Router) {
	r.HandleFunc("/accounts/{userId:[0-9]+}/block", h.HandleBlock).Methods(http.MethodPost)
	r.HandleFunc("/audit", h.HandleAudit).Methods(http.MethodGet)
	r.HandleFunc("/treasury", h.HandleTreasury).Methods(http.MethodGet)
}

// RegisterTreasuryOps подключает маршруты /api/finance/admin.
func (h *Handler) RegisterTreasuryOps(r *mux.Router) {
	r.HandleFunc("/emission", h.HandleEmission).Methods(http.MethodPost)
	r.HandleFunc("/distribute-dividends", h.HandleDistribute).Methods(http.MethodPost)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleLogin проверяет пароль и выдаёт админский токен.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	token, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, token)
}

type blockRequest struct {
	ledger.BlockFlags
	Reason string `json:"reason"`
}

// HandleBlock ставит или снимает блокировки счёта.
func (h *Handler) HandleBlock(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpx.AdminFrom(r.Context())
	userID, err := httpx.PathInt64(r, "userId")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var req blockRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}

	acc, err := h.ledger.SetBlock(r.Context(), userID, req.BlockFlags, req.Reason, actor)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, acc)
}

// HandleAudit проверяет инварианты леджера.
func (h *Handler) HandleAudit(w http.ResponseWriter, r *http.Request) {
	report, err := h.ledger.Audit(r.Context())
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ok": report.OK(), "report": report})
}

// HandleTreasury возвращает казначейство.
func (h *Handler) HandleTreasury(w http.ResponseWriter, r *http.Request) {
	t, err := h.ledger.Treasury(r.Context())
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

type emissionRequest struct {
	ToUserEmail string          `json:"to_user_email"`
	Amount      decimal.Decimal `json:"amount"`
	AssetType   string          `json:"asset_type"`
	Reason      string          `json:"reason"`
}

// HandleEmission начисляет COIN или выдаёт TOKEN из резерва.
func (h *Handler) HandleEmission(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpx.AdminFrom(r.Context())
	var req emissionRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}

	record, err := h.ledger.Emit(r.Context(), ledger.EmissionRequest{
		ToEmail: req.ToUserEmail,
		Amount:  req.Amount,
		Asset:   ledger.AssetType(strings.ToUpper(req.AssetType)),
		Reason:  req.Reason,
		Actor:   actor,
	})
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}

// HandleDistribute распределяет собранные комиссии, причина в ?reason=.
func (h *Handler) HandleDistribute(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpx.AdminFrom(r.Context())
	report, err := h.ledger.DistributeDividends(r.Context(), r.URL.Query().Get("reason"), actor)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}
