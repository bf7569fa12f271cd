// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: выбирает хранилище, создаёт леджер, сервисы,
// обработчики и HTTP-сервер, планировщик и уведомления админам.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/altyn-ledger/internal/common"
	"serotonyl.ru/altyn-ledger/internal/config"
	"serotonyl.ru/altyn-ledger/internal/db/memory"
	"serotonyl.ru/altyn-ledger/internal/db/postgres"
	"serotonyl.ru/altyn-ledger/internal/features/admin"
	"serotonyl.ru/altyn-ledger/internal/features/altyn"
	"serotonyl.ru/altyn-ledger/internal/features/nodes"
	"serotonyl.ru/altyn-ledger/internal/features/wallet"
	"serotonyl.ru/altyn-ledger/internal/jobs"
	"serotonyl.ru/altyn-ledger/internal/ledger"
	"serotonyl.ru/altyn-ledger/internal/notify"
	"serotonyl.ru/altyn-ledger/internal/oracle"
	"serotonyl.ru/altyn-ledger/internal/server"
	"serotonyl.ru/altyn-ledger/internal/server/middleware"
)

// App содержит все компоненты приложения.
type App struct {
	Server    *http.Server
	Scheduler *jobs.Scheduler
	Limiter   *middleware.RateLimiter
	Ledger    *ledger.Ledger
	DB        *pgxpool.Pool // nil при STORAGE_DRIVER=memory
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен — компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{}

	// === 1. Хранилище ===
	var (
		store    ledger.Store
		attempts admin.AttemptStore
	)
	switch cfg.StorageDriver {
	case "memory":
		log.Warn("Используется хранилище в памяти: данные пропадут при перезапуске")
		store = memory.New()
		attempts = admin.NewMemoryAttempts()
	default:
		pool, err := postgres.NewPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
		}
		if err := postgres.RunMigrations(ctx, pool, migrations); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ошибка миграций: %w", err)
		}
		a.DB = pool
		store = postgres.NewStore(pool, cfg.LedgerTxRetries)
		attempts = admin.NewRepository(pool)
	}

	// === 2. Леджер ===
	a.Ledger = ledger.New(store, cfg.Ledger)
	if err := a.Ledger.Bootstrap(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("ошибка инициализации леджера: %w", err)
	}

	// === 3. Внешние зависимости ===
	notifier, err := notify.New(cfg.TelegramBotToken, cfg.AdminChatIDs)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("ошибка создания Telegram-уведомлений: %w", err)
	}
	verifier := oracle.New(cfg.AltynVerifierURL, cfg.AltynVerifierTimeout, cfg.AltynVerifierRetries)

	// === 4. Сервисы ===
	adminService := admin.NewService(attempts, cfg.AdminUsername, cfg.AdminPasswordHash,
		[]byte(cfg.AdminJWTSecret), cfg.AdminTokenTTL)
	altynService := altyn.NewService(a.Ledger, verifier, notifier)

	// === 5. Обработчики и сервер ===
	a.Limiter = middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	a.Server = server.New(server.Handlers{
		Wallet: wallet.NewHandler(a.Ledger),
		Nodes:  nodes.NewHandler(a.Ledger),
		Altyn:  altyn.NewHandler(altynService),
		Admin:  admin.NewHandler(adminService, a.Ledger),
	}, server.Options{
		Addr:         cfg.HTTPAddr,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		CORSOrigins:  cfg.CORSOrigins,
		UserSecret:   []byte(cfg.JWTSecret),
		AdminSecret:  []byte(cfg.AdminJWTSecret),
		Limiter:      a.Limiter,
		HealthCheck:  a.healthCheck,
	})

	// === 6. Планировщик задач ===
	a.Scheduler = jobs.NewScheduler(a.Ledger, notifier, common.LoadLocation(cfg.AppTimezone),
		cfg.DividendSchedule, cfg.AuditSchedule)

	return a, nil
}

// Close освобождает ресурсы приложения.
func (a *App) Close() {
	if a.Limiter != nil {
		a.Limiter.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

func (a *App) healthCheck(r *http.Request) error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Ping(r.Context())
}

// SQL-миграции встроены в код для упрощения деплоя.
var migrations = []postgres.Migration{
	{Version: 1, SQL: migration001Accounts},
	{Version: 2, SQL: migration002Nodes},
	{Version: 3, SQL: migration003Transactions},
	{Version: 4, SQL: migration004Treasury},
	{Version: 5, SQL: migration005ExternalTransfers},
	{Version: 6, SQL: migration006Admin},
}

var migration001Accounts = `
CREATE TABLE IF NOT EXISTS accounts (
    user_id BIGINT PRIMARY KEY,
    email VARCHAR(255) UNIQUE NOT NULL,
    coin_balance NUMERIC(20,2) NOT NULL DEFAULT 0 CHECK (coin_balance >= 0),
    token_balance NUMERIC(24,6) NOT NULL DEFAULT 0 CHECK (token_balance >= 0),
    account_blocked BOOLEAN NOT NULL DEFAULT FALSE,
    coin_blocked BOOLEAN NOT NULL DEFAULT FALSE,
    token_blocked BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

var migration002Nodes = `
CREATE TABLE IF NOT EXISTS nodes (
    id BIGSERIAL PRIMARY KEY,
    owner_id BIGINT NOT NULL REFERENCES accounts(user_id),
    name VARCHAR(255) NOT NULL,
    node_type VARCHAR(16) NOT NULL,
    total_capacity NUMERIC(24,6) NOT NULL CHECK (total_capacity > 0),
    staked_amount NUMERIC(24,6) NOT NULL DEFAULT 0,
    status VARCHAR(16) NOT NULL DEFAULT 'ACTIVE',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT nodes_staked_range CHECK (staked_amount >= 0 AND staked_amount <= total_capacity)
);
CREATE INDEX IF NOT EXISTS idx_nodes_owner_id ON nodes(owner_id);
CREATE INDEX IF NOT EXISTS idx_nodes_status ON nodes(status);

CREATE TABLE IF NOT EXISTS stakes (
    id BIGSERIAL PRIMARY KEY,
    node_id BIGINT NOT NULL REFERENCES nodes(id),
    user_id BIGINT NOT NULL REFERENCES accounts(user_id),
    staked_amount NUMERIC(24,6) NOT NULL CHECK (staked_amount > 0),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    lock_days INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stakes_node_id ON stakes(node_id);
CREATE INDEX IF NOT EXISTS idx_stakes_user_id ON stakes(user_id);
`

var migration003Transactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id BIGSERIAL PRIMARY KEY,
    from_user_id BIGINT REFERENCES accounts(user_id),
    to_user_id BIGINT REFERENCES accounts(user_id),
    asset_type VARCHAR(8) NOT NULL,
    amount NUMERIC(24,6) NOT NULL CHECK (amount > 0),
    fee_amount NUMERIC(20,2) NOT NULL DEFAULT 0,
    transaction_type VARCHAR(32) NOT NULL,
    description TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_transactions_from_user ON transactions(from_user_id);
CREATE INDEX IF NOT EXISTS idx_transactions_to_user ON transactions(to_user_id);
CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions(created_at DESC);
`

var migration004Treasury = `
CREATE TABLE IF NOT EXISTS treasury (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    collected_fees NUMERIC(20,2) NOT NULL DEFAULT 0 CHECK (collected_fees >= 0),
    total_coins_in_circulation NUMERIC(24,2) NOT NULL DEFAULT 0,
    total_token_supply NUMERIC(24,6) NOT NULL,
    last_distribution_at TIMESTAMPTZ,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

var migration005ExternalTransfers = `
CREATE TABLE IF NOT EXISTS external_transfers (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES accounts(user_id),
    wallet_address VARCHAR(42) UNIQUE NOT NULL,
    amount NUMERIC(24,6) NOT NULL CHECK (amount > 0),
    status VARCHAR(16) NOT NULL,
    mode VARCHAR(16) NOT NULL,
    reason TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    processed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_external_transfers_status ON external_transfers(status);
`

var migration006Admin = `
CREATE TABLE IF NOT EXISTS admin_actions (
    id BIGSERIAL PRIMARY KEY,
    action VARCHAR(64) NOT NULL,
    target VARCHAR(255) NOT NULL,
    reason TEXT NOT NULL CHECK (reason <> ''),
    actor VARCHAR(255) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_admin_actions_created_at ON admin_actions(created_at DESC);

CREATE TABLE IF NOT EXISTS admin_login_attempts (
    id BIGSERIAL PRIMARY KEY,
    username VARCHAR(255) NOT NULL,
    attempt_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    success BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_admin_login_attempts_username ON admin_login_attempts(username, attempt_time DESC);
`
