package nodes

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"serotonyl.ru/altyn-ledger/internal/common"
	"serotonyl.ru/altyn-ledger/internal/ledger"
	"serotonyl.ru/altyn-ledger/internal/server/httpx"
)

// Handler обрабатывает запросы узлов и стейков.
type Handler struct {
	ledger *ledger.Ledger
}

// NewHandler создаёт обработчик узлов.
func NewHandler(l *ledger.Ledger) *Handler {
	return &Handler{ledger: l}
}

// Register подключает пользовательские маршруты (/api/finance).
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/nodes", h.HandleList).Methods(http.MethodGet)
	r.HandleFunc("/nodes", h.HandleCreate).Methods(http.MethodPost)
	r.HandleFunc("/nodes/my", h.HandleMyNodes).Methods(http.MethodGet)
	r.HandleFunc("/nodes/stats", h.HandleStats).Methods(http.MethodGet)
	r.HandleFunc("/nodes/auto-create", h.HandleAutoCreate).Methods(http.MethodPost)
	r.HandleFunc("/nodes/stakes/my", h.HandleMyStakes).Methods(http.MethodGet)
	r.HandleFunc("/nodes/stakes/{id:[0-9]+}/unstake", h.HandleUnstake).Methods(http.MethodPost)
	r.HandleFunc("/nodes/{id:[0-9]+}/stake", h.HandleStake).Methods(http.MethodPost)
}

// RegisterAdmin подключает админские маршруты (/api/admin/finance).
func (h *Handler) RegisterAdmin(r *mux.Router) {
	r.HandleFunc("/nodes", h.HandleList).Methods(http.MethodGet)
	r.HandleFunc("/nodes/reorganize", h.HandleReorganize).Methods(http.MethodPost)
	r.HandleFunc("/nodes/{id:[0-9]+}", h.HandleAdminGet).Methods(http.MethodGet)
	r.HandleFunc("/nodes/{id:[0-9]+}", h.HandleUpdate).Methods(http.MethodPut)
	r.HandleFunc("/nodes/{id:[0-9]+}", h.HandleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/nodes/{id:[0-9]+}/force-unstake/{stakeId:[0-9]+}", h.HandleForceUnstake).Methods(http.MethodPost)
}

// --- Пользовательские ---

// HandleList возвращает узлы, ?status= фильтрует по статусу.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	filter := ledger.NodeFilter{Status: ledger.NodeStatus(strings.ToUpper(r.URL.Query().Get("status")))}
	list, err := h.ledger.ListNodes(r.Context(), filter)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"nodes": nodeViews(list)})
}

type createRequest struct {
	Name         string          `json:"name"`
	InitialStake decimal.Decimal `json:"initial_stake"`
}

// HandleCreate создаёт узел пользователя с начальным стейком.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	user, ok := httpx.UserFrom(r.Context())
	if !ok {
		httpx.Error(w, r, common.ErrUnauthorized)
		return
	}
	var req createRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}

	node, st, err := h.ledger.CreateNode(r.Context(), user.ID, req.Name, req.InitialStake)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"node":  nodeView(node),
		"stake": stakeView(st, h.ledger.Now()),
	})
}

// HandleMyNodes возвращает узлы, которыми владеет пользователь.
func (h *Handler) HandleMyNodes(w http.ResponseWriter, r *http.Request) {
	user, ok := httpx.UserFrom(r.Context())
	if !ok {
		httpx.Error(w, r, common.ErrUnauthorized)
		return
	}
	owner := user.ID
	list, err := h.ledger.ListNodes(r.Context(), ledger.NodeFilter{OwnerID: &owner})
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"nodes": nodeViews(list)})
}

// HandleStats возвращает агрегаты по сети узлов.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ledger.Stats(r.Context())
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

type stakeRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// HandleStake стейкает токены в выбранный узел.
func (h *Handler) HandleStake(w http.ResponseWriter, r *http.Request) {
	user, ok := httpx.UserFrom(r.Context())
	if !ok {
		httpx.Error(w, r, common.ErrUnauthorized)
		return
	}
	nodeID, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var req stakeRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}

	st, err := h.ledger.Stake(r.Context(), user.ID, nodeID, req.Amount)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, stakeView(st, h.ledger.Now()))
}

type autoCreateRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	PreferNewNode bool            `json:"prefer_new_node"`
}

// HandleAutoCreate размещает стейк автоматически.
func (h *Handler) HandleAutoCreate(w http.ResponseWriter, r *http.Request) {
	user, ok := httpx.UserFrom(r.Context())
	if !ok {
		httpx.Error(w, r, common.ErrUnauthorized)
		return
	}
	var req autoCreateRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}

	alloc, err := h.ledger.AutoCreate(r.Context(), user.ID, req.Amount, req.PreferNewNode)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"decision": alloc.Decision,
		"node":     nodeView(alloc.Node),
		"stake":    stakeView(alloc.Stake, h.ledger.Now()),
	})
}

// HandleMyStakes возвращает стейки пользователя со сроками разблокировки.
func (h *Handler) HandleMyStakes(w http.ResponseWriter, r *http.Request) {
	user, ok := httpx.UserFrom(r.Context())
	if !ok {
		httpx.Error(w, r, common.ErrUnauthorized)
		return
	}
	list, err := h.ledger.UserStakes(r.Context(), user.ID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"stakes": stakeViews(list, h.ledger.Now())})
}

// HandleUnstake снимает разблокированный стейк.
func (h *Handler) HandleUnstake(w http.ResponseWriter, r *http.Request) {
	user, ok := httpx.UserFrom(r.Context())
	if !ok {
		httpx.Error(w, r, common.ErrUnauthorized)
		return
	}
	stakeID, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}

	st, err := h.ledger.Unstake(r.Context(), user.ID, stakeID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"returned": st})
}

// --- Админские ---

// HandleAdminGet возвращает узел со всеми стейками.
func (h *Handler) HandleAdminGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	node, err := h.ledger.GetNode(r.Context(), id)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	stakes, err := h.ledger.NodeStakes(r.Context(), id)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"node":   nodeView(node),
		"stakes": stakeViews(stakes, h.ledger.Now()),
	})
}

type updateRequest struct {
	Name   *string `json:"name"`
	Status *string `json:"status"`
	Reason string  `json:"reason"`
}

// HandleUpdate меняет имя или статус узла.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpx.AdminFrom(r.Context())
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var req updateRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}

	upd := ledger.NodeUpdate{Name: req.Name}
	if req.Status != nil {
		status := ledger.NodeStatus(strings.ToUpper(*req.Status))
		upd.Status = &status
	}
	node, err := h.ledger.UpdateNode(r.Context(), id, upd, req.Reason, actor)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, nodeView(node))
}

// HandleDelete возвращает все стейки узла владельцам и удаляет узел.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpx.AdminFrom(r.Context())
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}

	report, err := h.ledger.DeleteNode(r.Context(), id, r.URL.Query().Get("reason"), actor)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

// HandleForceUnstake снимает стейк узла без проверки блокировки.
func (h *Handler) HandleForceUnstake(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpx.AdminFrom(r.Context())
	nodeID, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	stakeID, err := httpx.PathInt64(r, "stakeId")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	reason := r.URL.Query().Get("reason")
	if strings.TrimSpace(reason) == "" {
		httpx.Error(w, r, common.ErrReasonRequired)
		return
	}

	st, err := h.ledger.ForceUnstake(r.Context(), nodeID, stakeID, reason, actor)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"returned": st})
}

type reorganizeRequest struct {
	StakeID      int64 `json:"stake_id"`
	TargetNodeID int64 `json:"target_node_id"`
}

// HandleReorganize переносит стейк в другой узел.
func (h *Handler) HandleReorganize(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpx.AdminFrom(r.Context())
	var req reorganizeRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	if req.StakeID <= 0 || req.TargetNodeID <= 0 {
		httpx.Error(w, r, common.ErrValidation)
		return
	}

	st, err := h.ledger.Reorganize(r.Context(), req.StakeID, req.TargetNodeID, r.URL.Query().Get("reason"), actor)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stakeView(st, h.ledger.Now()))
}
