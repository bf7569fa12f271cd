// Package postgres хранит леджер в PostgreSQL через pgx: пул соединений,
// встроенные миграции и Store с блокировками SELECT ... FOR UPDATE.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/altyn-ledger/internal/config"
)

// Ожидание PostgreSQL при старте контейнера
const (
	connectAttempts = 10
	connectDelay    = 2 * time.Second
)

// NewPool создаёт пул соединений леджера и ждёт, пока база ответит на ping.
func NewPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}

	poolConfig.MaxConns = cfg.DBMaxConns
	poolConfig.MinConns = cfg.DBMinConns
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "altyn-ledger"
	poolConfig.ConnConfig.RuntimeParams["timezone"] = "UTC"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула: %w", err)
	}

	for attempt := 1; ; attempt++ {
		err = pool.Ping(ctx)
		if err == nil {
			break
		}
		if attempt == connectAttempts {
			pool.Close()
			return nil, fmt.Errorf("база данных недоступна после %d попыток: %w", attempt, err)
		}
		log.WithError(err).WithField("attempt", attempt).Warn("PostgreSQL пока недоступен, ждём")
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(connectDelay):
		}
	}

	log.WithFields(log.Fields{
		"host":      cfg.DBHost,
		"db":        cfg.DBName,
		"max_conns": cfg.DBMaxConns,
	}).Info("Подключение к PostgreSQL установлено")
	return pool, nil
}

// Migration — одна версия схемы.
type Migration struct {
	Version int
	SQL     string
}

// RunMigrations создаёт таблицу schema_migrations и применяет миграции
// по порядку. Уже применённые версии пропускаются.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ошибка создания таблицы миграций: %w", err)
	}

	for _, m := range migrations {
		applied, err := ExecMigrationSQL(ctx, pool, m.Version, m.SQL)
		if err != nil {
			return fmt.Errorf("миграция %d: %w", m.Version, err)
		}
		if applied {
			log.Infof("Миграция %d применена", m.Version)
		}
	}
	return nil
}
