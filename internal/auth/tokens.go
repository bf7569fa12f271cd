// Package auth выпускает и проверяет bearer-токены (JWT, HS256).
//
// Пользовательские токены выпускает внешний сервис авторизации: sub —
// user_id, email — почта пользователя. Админские токены выпускает
// сам леджер после входа по паролю, они подписаны отдельным секретом и
// несут role=admin, поэтому пользовательский токен никогда не пройдёт
// как админский.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"serotonyl.ru/altyn-ledger/internal/common"
)

// RoleAdmin — значение claim role в админском токене.
const RoleAdmin = "admin"

const issuer = "altyn-ledger"

// UserClaims — claims пользовательского токена.
type UserClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// AdminClaims — claims админского токена.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// User — пользователь, извлечённый из токена.
type User struct {
	ID    int64
	Email string
}

// IssueUserToken выпускает пользовательский токен. Нужен для тестов и
// локальной разработки, в бою токены приходят от сервиса авторизации.
func IssueUserToken(secret []byte, userID int64, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &UserClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseUserToken проверяет подпись и срок токена и возвращает пользователя.
func ParseUserToken(secret []byte, token string) (*User, error) {
	claims := &UserClaims{}
	if err := parse(secret, token, claims); err != nil {
		return nil, err
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%w: некорректный sub", common.ErrUnauthorized)
	}
	if strings.TrimSpace(claims.Email) == "" {
		return nil, fmt.Errorf("%w: в токене нет email", common.ErrUnauthorized)
	}
	return &User{ID: id, Email: claims.Email}, nil
}

// IssueAdminToken выпускает админский токен для username.
func IssueAdminToken(secret []byte, username string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(ttl)
	claims := &AdminClaims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// ParseAdminToken проверяет админский токен и возвращает имя админа.
func ParseAdminToken(secret []byte, token string) (string, error) {
	claims := &AdminClaims{}
	if err := parse(secret, token, claims); err != nil {
		return "", err
	}
	if claims.Role != RoleAdmin || claims.Subject == "" {
		return "", common.ErrNotAdmin
	}
	return claims.Subject, nil
}

// BearerToken достаёт токен из заголовка Authorization.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

func parse(secret []byte, token string, claims jwt.Claims) error {
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fmt.Errorf("%w: токен истёк", common.ErrUnauthorized)
		}
		return fmt.Errorf("%w: %v", common.ErrUnauthorized, err)
	}
	if !parsed.Valid {
		return common.ErrUnauthorized
	}
	return nil
}
