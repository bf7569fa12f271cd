// Package admin — repository.go хранит попытки входа в таблице admin_login_attempts.
package admin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AttemptStore хранит попытки входа.
type AttemptStore interface {
	LogAttempt(ctx context.Context, username string, success bool, at time.Time) error
	RecentFailures(ctx context.Context, username string, since time.Time) (int, error)
}

// Repository работает с admin_login_attempts в PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// LogAttempt записывает попытку входа.
func (r *Repository) LogAttempt(ctx context.Context, username string, success bool, at time.Time) error {
	query := `INSERT INTO admin_login_attempts (username, success, attempt_time) VALUES ($1, $2, $3)`
	if _, err := r.db.Exec(ctx, query, username, success, at); err != nil {
		return fmt.Errorf("ошибка записи попытки входа: %w", err)
	}
	return nil
}

// RecentFailures возвращает количество неудачных попыток начиная с since.
func (r *Repository) RecentFailures(ctx context.Context, username string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM admin_login_attempts
		WHERE username = $1 AND success = FALSE AND attempt_time >= $2
	`
	var count int
	if err := r.db.QueryRow(ctx, query, username, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта попыток входа: %w", err)
	}
	return count, nil
}

// MemoryAttempts — AttemptStore в памяти для STORAGE_DRIVER=memory и тестов.
type MemoryAttempts struct {
	mu       sync.Mutex
	attempts []LoginAttempt
}

// NewMemoryAttempts создаёт пустое хранилище попыток.
func NewMemoryAttempts() *MemoryAttempts {
	return &MemoryAttempts{}
}

// LogAttempt записывает попытку входа.
func (m *MemoryAttempts) LogAttempt(_ context.Context, username string, success bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, LoginAttempt{
		ID:          int64(len(m.attempts) + 1),
		Username:    username,
		AttemptTime: at,
		Success:     success,
	})
	return nil
}

// RecentFailures возвращает количество неудачных попыток начиная с since.
func (m *MemoryAttempts) RecentFailures(_ context.Context, username string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, a := range m.attempts {
		if a.Username == username && !a.Success && !a.AttemptTime.Before(since) {
			count++
		}
	}
	return count, nil
}
