package middleware

import (
	"net/http"

	"serotonyl.ru/altyn-ledger/internal/auth"
	"serotonyl.ru/altyn-ledger/internal/common"
	"serotonyl.ru/altyn-ledger/internal/server/httpx"
)

// UserAuth пропускает запрос только с валидным пользовательским токеном.
func UserAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := auth.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				httpx.Error(w, r, common.ErrUnauthorized)
				return
			}
			user, err := auth.ParseUserToken(secret, token)
			if err != nil {
				httpx.Error(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(httpx.WithUser(r.Context(), user)))
		})
	}
}

// AdminAuth пропускает запрос только с админским токеном (role=admin).
// Валидный пользовательский токен получает 403, а не 401.
func AdminAuth(adminSecret, userSecret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := auth.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				httpx.Error(w, r, common.ErrUnauthorized)
				return
			}
			name, err := auth.ParseAdminToken(adminSecret, token)
			if err != nil {
				if _, userErr := auth.ParseUserToken(userSecret, token); userErr == nil {
					err = common.ErrNotAdmin
				}
				httpx.Error(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(httpx.WithAdmin(r.Context(), name)))
		})
	}
}
