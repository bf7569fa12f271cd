// Package admin — service.go проверяет пароль администратора и выпускает
// админский токен.
package admin

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"

	"serotonyl.ru/altyn-ledger/internal/auth"
	"serotonyl.ru/altyn-ledger/internal/common"
)

// Service управляет входом в админку.
type Service struct {
	attempts     AttemptStore
	username     string
	passwordHash string
	secret       []byte
	ttl          time.Duration
	now          func() time.Time
}

// NewService создаёт сервис входа.
func NewService(attempts AttemptStore, username, passwordHash string, secret []byte, ttl time.Duration) *Service {
	return &Service{
		attempts:     attempts,
		username:     username,
		passwordHash: passwordHash,
		secret:       secret,
		ttl:          ttl,
		now:          time.Now,
	}
}

// Login проверяет логин и пароль (Argon2id) и выпускает токен.
// Включает защиту от brute-force: 3 неудачные попытки = блокировка на 1 час.
func (s *Service) Login(ctx context.Context, username, password string) (*Token, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: нужны логин и пароль", common.ErrValidation)
	}

	now := s.now()
	failures, err := s.attempts.RecentFailures(ctx, username, now.Add(-attemptsWindow))
	if err != nil {
		return nil, err
	}
	if failures >= maxFailedAttempts {
		return nil, common.ErrTooManyAttempts
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	match := verifyArgon2id(password, s.passwordHash) && userOK

	if err := s.attempts.LogAttempt(ctx, username, match, now); err != nil {
		log.WithError(err).Error("Не удалось записать попытку входа")
	}
	if !match {
		log.WithField("username", username).Warn("Неудачная попытка входа в админку")
		return nil, common.ErrWrongPassword
	}

	token, expires, err := auth.IssueAdminToken(s.secret, s.username, s.ttl)
	if err != nil {
		return nil, fmt.Errorf("ошибка выпуска токена: %w", err)
	}
	log.WithField("username", username).Info("Вход в админку")
	return &Token{Token: token, ExpiresAt: expires}, nil
}

// --- Криптографические утилиты ---

// Параметры Argon2id для новых хешей
const (
	argonMemory      uint32 = 65536 // 64 MB
	argonIterations  uint32 = 3
	argonParallelism uint8  = 2
	argonKeyLength   uint32 = 32
)

// HashPassword считает хеш Argon2id в формате
// $argon2id$v=19$m=65536,t=3,p=2$<salt_base64>$<hash_base64>
func HashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("ошибка генерации соли: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argonIterations, argonMemory, argonParallelism, argonKeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonIterations, argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// verifyArgon2id проверяет пароль по хешу Argon2id.
func verifyArgon2id(password, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		log.Error("Некорректный формат хеша Argon2id")
		return false
	}

	var memory uint32
	var iterations uint32
	var parallelism uint8
	_, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism)
	if err != nil {
		log.WithError(err).Error("Ошибка парсинга параметров Argon2id")
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования соли")
		return false
	}
	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования хеша")
		return false
	}

	computedHash := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(expectedHash)))

	// Сравниваем в постоянном времени (защита от timing attack)
	return subtle.ConstantTimeCompare(computedHash, expectedHash) == 1
}
