package altyn

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"serotonyl.ru/altyn-ledger/internal/common"
	"serotonyl.ru/altyn-ledger/internal/ledger"
	"serotonyl.ru/altyn-ledger/internal/server/httpx"
)

// Handler обрабатывает запросы импорта ALTYN.
type Handler struct {
	service *Service
}

// NewHandler создаёт обработчик.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register подключает пользовательские маршруты (/api/finance).
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/altyn-transfer/verify-wallet", h.HandleVerify).Methods(http.MethodPost)
	r.HandleFunc("/altyn-transfer/submit", h.HandleSubmit).Methods(http.MethodPost)
}

// RegisterAdmin подключает админские маршруты (/api/admin/finance).
func (h *Handler) RegisterAdmin(r *mux.Router) {
	r.HandleFunc("/altyn-transfers", h.HandleList).Methods(http.MethodGet)
	r.HandleFunc("/altyn-transfers/{id:[0-9]+}/approve", h.HandleApprove).Methods(http.MethodPost)
	r.HandleFunc("/altyn-transfers/{id:[0-9]+}/reject", h.HandleReject).Methods(http.MethodPost)
}

type walletRequest struct {
	WalletAddress string `json:"wallet_address"`
}

// HandleVerify проверяет кошелёк перед импортом.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req walletRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	v, err := h.service.VerifyWallet(r.Context(), req.WalletAddress)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

// HandleSubmit подаёт заявку на импорт.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	user, ok := httpx.UserFrom(r.Context())
	if !ok {
		httpx.Error(w, r, common.ErrUnauthorized)
		return
	}
	var req walletRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}

	if _, err := h.service.ledger.EnsureAccount(r.Context(), user.ID, user.Email); err != nil {
		httpx.Error(w, r, err)
		return
	}
	et, err := h.service.Submit(r.Context(), user.ID, req.WalletAddress)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	status := http.StatusAccepted
	if et.Status == ledger.ExternalCompleted {
		status = http.StatusOK
	}
	httpx.JSON(w, status, et)
}

// HandleList возвращает заявки, ?status= фильтрует.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	status := ledger.ExternalStatus(strings.ToUpper(r.URL.Query().Get("status")))
	list, err := h.service.List(r.Context(), status)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transfers": list})
}

// HandleApprove одобряет заявку.
func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpx.AdminFrom(r.Context())
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	et, err := h.service.Approve(r.Context(), id, actor)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, et)
}

// HandleReject отклоняет заявку, причина в ?reason=.
func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpx.AdminFrom(r.Context())
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	et, err := h.service.Reject(r.Context(), id, r.URL.Query().Get("reason"), actor)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, et)
}
