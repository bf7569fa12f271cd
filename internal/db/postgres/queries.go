package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Коды ошибок PostgreSQL, которые леджер обрабатывает особо
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
)

// ExecMigrationSQL выполняет один SQL-запрос миграции в транзакции.
// Если запрос упадёт, транзакция откатится автоматически.
// Возвращает true, если миграция применена сейчас.
func ExecMigrationSQL(ctx context.Context, pool *pgxpool.Pool, version int, sql string) (bool, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	// Проверяем, не была ли эта миграция уже применена
	var exists bool
	err = tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", version,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки миграции: %w", err)
	}
	if exists {
		return false, nil
	}

	if _, err := tx.Exec(ctx, sql); err != nil {
		return false, fmt.Errorf("ошибка выполнения миграции %d: %w", version, err)
	}

	if _, err := tx.Exec(ctx,
		"INSERT INTO schema_migrations (version) VALUES ($1)", version,
	); err != nil {
		return false, fmt.Errorf("ошибка записи версии миграции: %w", err)
	}

	return true, tx.Commit(ctx)
}

// pgCode возвращает SQLSTATE ошибки PostgreSQL или пустую строку.
func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// pgConstraint возвращает имя нарушенного ограничения.
func pgConstraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

// isNoRows сообщает, что запрос не вернул строк.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// Суммы передаются в PostgreSQL строкой и читаются как ::text, чтобы
// NUMERIC не проходил через float.

func num(d decimal.Decimal) string {
	return d.String()
}

// decimalText сканирует NUMERIC::text в decimal.Decimal.
type decimalText struct {
	dst *decimal.Decimal
}

func (d decimalText) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case nil:
		*d.dst = decimal.Zero
		return nil
	default:
		return fmt.Errorf("неожиданный тип суммы %T", src)
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("ошибка разбора суммы %q: %w", s, err)
	}
	*d.dst = v
	return nil
}

func dec(dst *decimal.Decimal) decimalText {
	return decimalText{dst: dst}
}
