package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/altyn-ledger/internal/server/httpx"
)

// Recovery превращает панику обработчика в ответ 500.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.WithFields(log.Fields{
					"component":  "panic_recovery",
					"panic":      fmt.Sprintf("%v", rec),
					"stack":      string(debug.Stack()),
					"request_id": httpx.RequestID(r.Context()),
				}).Error("ПАНИКА в обработчике — восстановлено")
				httpx.Error(w, r, fmt.Errorf("panic: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
