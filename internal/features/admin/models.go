// Package admin реализует вход администратора по паролю.
// models.go описывает попытки входа и выданный токен.
package admin

import "time"

// LoginAttempt — попытка входа (для защиты от brute-force).
type LoginAttempt struct {
	ID          int64     `db:"id"`
	Username    string    `db:"username"`
	AttemptTime time.Time `db:"attempt_time"`
	Success     bool      `db:"success"`
}

// Token — выданный админский токен.
type Token struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Защита от перебора: столько неудач за окно блокируют вход
const (
	maxFailedAttempts = 3
	attemptsWindow    = 1 * time.Hour
)
