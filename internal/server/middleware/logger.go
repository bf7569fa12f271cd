// Package middleware содержит промежуточные обработчики HTTP: id запроса,
// логирование, восстановление после паники, rate-limiting и авторизацию.
package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/altyn-ledger/internal/server/httpx"
)

// RequestIDHeader — заголовок с id запроса.
const RequestIDHeader = "X-Request-ID"

// RequestID берёт id из заголовка или генерирует новый UUID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(httpx.WithRequestID(r.Context(), id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Logger логирует каждый запрос: id, метод, путь, статус, длительность.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		entry := log.WithFields(log.Fields{
			"request_id": httpx.RequestID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"duration":   time.Since(start).String(),
		})
		switch {
		case rec.status >= 500:
			entry.Error("HTTP-запрос")
		case rec.status >= 400:
			entry.Info("HTTP-запрос")
		default:
			entry.Debug("HTTP-запрос")
		}
	})
}
