// Package server собирает HTTP-роутер леджера: маршруты пользователей и
// админов, цепочку middleware и CORS.
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"serotonyl.ru/altyn-ledger/internal/features/admin"
	"serotonyl.ru/altyn-ledger/internal/features/altyn"
	"serotonyl.ru/altyn-ledger/internal/features/nodes"
	"serotonyl.ru/altyn-ledger/internal/features/wallet"
	"serotonyl.ru/altyn-ledger/internal/server/httpx"
	"serotonyl.ru/altyn-ledger/internal/server/middleware"
)

// Handlers — обработчики фич.
type Handlers struct {
	Wallet *wallet.Handler
	Nodes  *nodes.Handler
	Altyn  *altyn.Handler
	Admin  *admin.Handler
}

// Options — параметры HTTP-сервера.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
	UserSecret   []byte
	AdminSecret  []byte
	Limiter      *middleware.RateLimiter
	HealthCheck  func(r *http.Request) error
}

// NewRouter собирает маршруты.
//
//	/healthz               без авторизации
//	/api/admin/login       без токена, с rate limit
//	/api/finance/admin/*   админский токен
//	/api/admin/finance/*   админский токен
//	/api/finance/*         пользовательский токен, rate limit
func NewRouter(h Handlers, opts Options) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.RequestID, middleware.Logger, middleware.Recovery)
	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if opts.HealthCheck != nil {
			if err := opts.HealthCheck(req); err != nil {
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	login := r.PathPrefix("/api/admin").Subrouter()
	if opts.Limiter != nil {
		login.Use(opts.Limiter.Middleware)
	}
	h.Admin.RegisterLogin(login)

	adminAuth := middleware.AdminAuth(opts.AdminSecret, opts.UserSecret)

	// Более длинный префикс регистрируется раньше /api/finance
	treasuryOps := r.PathPrefix("/api/finance/admin").Subrouter()
	treasuryOps.Use(adminAuth)
	h.Admin.RegisterTreasuryOps(treasuryOps)

	adminFinance := r.PathPrefix("/api/admin/finance").Subrouter()
	adminFinance.Use(adminAuth)
	h.Nodes.RegisterAdmin(adminFinance)
	h.Altyn.RegisterAdmin(adminFinance)
	h.Admin.RegisterFinance(adminFinance)

	finance := r.PathPrefix("/api/finance").Subrouter()
	finance.Use(middleware.UserAuth(opts.UserSecret))
	if opts.Limiter != nil {
		finance.Use(opts.Limiter.Middleware)
	}
	h.Wallet.Register(finance)
	h.Nodes.Register(finance)
	h.Altyn.Register(finance)

	c := cors.New(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
	})
	return c.Handler(r)
}

// New создаёт http.Server с таймаутами.
func New(h Handlers, opts Options) *http.Server {
	return &http.Server{
		Addr:              opts.Addr,
		Handler:           NewRouter(h, opts),
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
	}
}

func notFound(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusNotFound, httpx.ErrorResponse{
		Code:      "NOT_FOUND",
		Message:   fmt.Sprintf("маршрут %s не найден", r.URL.Path),
		RequestID: httpx.RequestID(r.Context()),
	})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusMethodNotAllowed, httpx.ErrorResponse{
		Code:      "METHOD_NOT_ALLOWED",
		Message:   fmt.Sprintf("метод %s не поддерживается", r.Method),
		RequestID: httpx.RequestID(r.Context()),
	})
}
