package httpx

import (
	"context"

	"serotonyl.ru/altyn-ledger/internal/auth"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	userKey
	adminKey
)

// WithRequestID кладёт id запроса в контекст.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID возвращает id запроса или пустую строку.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithUser кладёт пользователя из токена в контекст.
func WithUser(ctx context.Context, u *auth.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// UserFrom возвращает пользователя запроса.
func UserFrom(ctx context.Context) (*auth.User, bool) {
	u, ok := ctx.Value(userKey).(*auth.User)
	return u, ok && u != nil
}

// WithAdmin кладёт имя админа в контекст.
func WithAdmin(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, adminKey, username)
}

// AdminFrom возвращает имя админа запроса.
func AdminFrom(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(adminKey).(string)
	return name, ok && name != ""
}
