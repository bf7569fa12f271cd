package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/altyn-ledger/internal/common"
	"serotonyl.ru/altyn-ledger/internal/ledger"
)

// Store — ledger.Store поверх PostgreSQL.
//
// Единица работы — транзакция READ COMMITTED с SELECT ... FOR UPDATE.
// Ошибки сериализации и дедлоки повторяются до retries раз, после чего
// вызывающий получает common.ErrConcurrencyConflict.
type Store struct {
	db      *pgxpool.Pool
	retries int
}

// NewStore создаёт хранилище леджера.
func NewStore(db *pgxpool.Pool, retries int) *Store {
	if retries < 0 {
		retries = 0
	}
	return &Store{db: db, retries: retries}
}

// InTx выполняет fn в транзакции с повтором при конфликтах.
func (s *Store) InTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return err
			}
		}

		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return err
		}
		lastErr = err
		log.WithFields(log.Fields{
			"attempt": attempt + 1,
			"error":   err,
		}).Warn("Конфликт блокировок, повторяем транзакцию")
	}
	if errors.Is(lastErr, common.ErrConcurrencyConflict) {
		return lastErr
	}
	return fmt.Errorf("%w: %v", common.ErrConcurrencyConflict, lastErr)
}

func (s *Store) runOnce(ctx context.Context, fn func(tx ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	// Откатываем транзакцию, если что-то пошло не так
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// isConflict сообщает, стоит ли повторить единицу работы.
func isConflict(err error) bool {
	if errors.Is(err, common.ErrConcurrencyConflict) {
		return true
	}
	switch pgCode(err) {
	case codeSerializationFailure, codeDeadlockDetected:
		return true
	}
	return false
}

// sleepBackoff ждёт 20мс × 2^(attempt-1) с джиттером или до отмены ctx.
func sleepBackoff(ctx context.Context, attempt int) error {
	base := 20 * time.Millisecond << (attempt - 1)
	wait := base/2 + time.Duration(rand.Int64N(int64(base)))
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type pgTx struct {
	tx pgx.Tx
}

// --- Счета ---

const accountColumns = `user_id, email, coin_balance::text, token_balance::text,
	account_blocked, coin_blocked, token_blocked, created_at, updated_at`

func scanAccount(row pgx.Row) (*ledger.Account, error) {
	var a ledger.Account
	err := row.Scan(
		&a.UserID, &a.Email, dec(&a.CoinBalance), dec(&a.TokenBalance),
		&a.Blocks.AccountBlocked, &a.Blocks.CoinBlocked, &a.Blocks.TokenBlocked,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *pgTx) queryAccounts(ctx context.Context, query string, args ...any) ([]*ledger.Account, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения счетов: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения счёта: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *pgTx) CreateAccount(ctx context.Context, a *ledger.Account) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO accounts (user_id, email, coin_balance, token_balance,
			account_blocked, coin_blocked, token_blocked, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.UserID, a.Email, num(a.CoinBalance), num(a.TokenBalance),
		a.Blocks.AccountBlocked, a.Blocks.CoinBlocked, a.Blocks.TokenBlocked, a.CreatedAt, a.UpdatedAt)
	if pgCode(err) == codeUniqueViolation {
		return fmt.Errorf("%w: %s", common.ErrAccountExists, pgConstraint(err))
	}
	if err != nil {
		return fmt.Errorf("ошибка создания счёта: %w", err)
	}
	return nil
}

func (t *pgTx) GetAccount(ctx context.Context, userID int64) (*ledger.Account, error) {
	a, err := scanAccount(t.tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1`, userID))
	if isNoRows(err) {
		return nil, common.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения счёта: %w", err)
	}
	return a, nil
}

func (t *pgTx) GetAccountByEmail(ctx context.Context, email string) (*ledger.Account, error) {
	a, err := scanAccount(t.tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email))
	if isNoRows(err) {
		return nil, common.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения счёта: %w", err)
	}
	return a, nil
}

func (t *pgTx) LockAccounts(ctx context.Context, userIDs ...int64) (map[int64]*ledger.Account, error) {
	ids := sortedUnique(userIDs)
	list, err := t.queryAccounts(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = ANY($1) ORDER BY user_id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]*ledger.Account, len(list))
	for _, a := range list {
		out[a.UserID] = a
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("%w: %d", common.ErrAccountNotFound, id)
		}
	}
	return out, nil
}

func (t *pgTx) LockAllAccounts(ctx context.Context) ([]*ledger.Account, error) {
	return t.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY user_id FOR UPDATE`)
}

func (t *pgTx) ListAccounts(ctx context.Context) ([]*ledger.Account, error) {
	return t.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY user_id`)
}

func (t *pgTx) UpdateAccount(ctx context.Context, a *ledger.Account) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE accounts
		SET email = $2, coin_balance = $3, token_balance = $4,
			account_blocked = $5, coin_blocked = $6, token_blocked = $7, updated_at = $8
		WHERE user_id = $1
	`, a.UserID, a.Email, num(a.CoinBalance), num(a.TokenBalance),
		a.Blocks.AccountBlocked, a.Blocks.CoinBlocked, a.Blocks.TokenBlocked, a.UpdatedAt)
	if pgCode(err) == codeCheckViolation {
		return fmt.Errorf("%w: счёт %d ушёл в минус", common.ErrInsufficientFunds, a.UserID)
	}
	if err != nil {
		return fmt.Errorf("ошибка обновления счёта: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrAccountNotFound
	}
	return nil
}

// --- Узлы ---

const nodeColumns = `id, owner_id, name, node_type, total_capacity::text, staked_amount::text,
	status, created_at, updated_at`

func scanNode(row pgx.Row) (*ledger.Node, error) {
	var n ledger.Node
	err := row.Scan(
		&n.ID, &n.OwnerID, &n.Name, &n.Type, dec(&n.TotalCapacity), dec(&n.StakedAmount),
		&n.Status, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (t *pgTx) queryNodes(ctx context.Context, query string, args ...any) ([]*ledger.Node, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения узлов: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения узла: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (t *pgTx) CreateNode(ctx context.Context, n *ledger.Node) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO nodes (owner_id, name, node_type, total_capacity, staked_amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, n.OwnerID, n.Name, n.Type, num(n.TotalCapacity), num(n.StakedAmount), n.Status, n.CreatedAt, n.UpdatedAt,
	).Scan(&n.ID)
	if err != nil {
		return fmt.Errorf("ошибка создания узла: %w", err)
	}
	return nil
}

func (t *pgTx) GetNode(ctx context.Context, id int64) (*ledger.Node, error) {
	n, err := scanNode(t.tx.QueryRow(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, common.ErrNodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения узла: %w", err)
	}
	return n, nil
}

func (t *pgTx) LockNodes(ctx context.Context, ids ...int64) (map[int64]*ledger.Node, error) {
	sorted := sortedUnique(ids)
	list, err := t.queryNodes(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE id = ANY($1) ORDER BY id FOR UPDATE`, sorted)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]*ledger.Node, len(list))
	for _, n := range list {
		out[n.ID] = n
	}
	for _, id := range sorted {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("%w: %d", common.ErrNodeNotFound, id)
		}
	}
	return out, nil
}

func (t *pgTx) UpdateNode(ctx context.Context, n *ledger.Node) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE nodes SET name = $2, staked_amount = $3, status = $4, updated_at = $5
		WHERE id = $1
	`, n.ID, n.Name, num(n.StakedAmount), n.Status, n.UpdatedAt)
	if pgCode(err) == codeCheckViolation {
		return fmt.Errorf("%w: узел %d", common.ErrNodeFull, n.ID)
	}
	if err != nil {
		return fmt.Errorf("ошибка обновления узла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNodeNotFound
	}
	return nil
}

func (t *pgTx) DeleteNode(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM nodes WHERE id = $1`, id)
	if err != nil {
		// Внешний ключ stakes.node_id не даст удалить узел со стейками
		return fmt.Errorf("%w: %v", common.ErrNodeNotEmpty, err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNodeNotFound
	}
	return nil
}

func (t *pgTx) ListNodes(ctx context.Context, filter ledger.NodeFilter) ([]*ledger.Node, error) {
	return t.queryNodes(ctx, `
		SELECT `+nodeColumns+` FROM nodes
		WHERE ($1 = '' OR status = $1) AND ($2::bigint IS NULL OR owner_id = $2)
		ORDER BY id
	`, string(filter.Status), filter.OwnerID)
}

func (t *pgTx) CountNodes(ctx context.Context, ownerID int64) (int, error) {
	var count int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM nodes WHERE owner_id = $1`, ownerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта узлов: %w", err)
	}
	return count, nil
}

// --- Стейки ---

const stakeColumns = `id, node_id, user_id, staked_amount::text, created_at, lock_days`

func scanStake(row pgx.Row) (*ledger.Stake, error) {
	var s ledger.Stake
	if err := row.Scan(&s.ID, &s.NodeID, &s.UserID, dec(&s.StakedAmount), &s.CreatedAt, &s.LockDays); err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *pgTx) CreateStake(ctx context.Context, s *ledger.Stake) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO stakes (node_id, user_id, staked_amount, created_at, lock_days)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, s.NodeID, s.UserID, num(s.StakedAmount), s.CreatedAt, s.LockDays).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("ошибка создания стейка: %w", err)
	}
	return nil
}

func (t *pgTx) GetStake(ctx context.Context, id int64) (*ledger.Stake, error) {
	return t.stakeRow(ctx, `SELECT `+stakeColumns+` FROM stakes WHERE id = $1`, id)
}

func (t *pgTx) LockStake(ctx context.Context, id int64) (*ledger.Stake, error) {
	return t.stakeRow(ctx, `SELECT `+stakeColumns+` FROM stakes WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) stakeRow(ctx context.Context, query string, id int64) (*ledger.Stake, error) {
	s, err := scanStake(t.tx.QueryRow(ctx, query, id))
	if isNoRows(err) {
		return nil, common.ErrStakeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения стейка: %w", err)
	}
	return s, nil
}

func (t *pgTx) UpdateStake(ctx context.Context, s *ledger.Stake) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE stakes SET node_id = $2, staked_amount = $3 WHERE id = $1
	`, s.ID, s.NodeID, num(s.StakedAmount))
	if err != nil {
		return fmt.Errorf("ошибка обновления стейка: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrStakeNotFound
	}
	return nil
}

func (t *pgTx) DeleteStake(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM stakes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления стейка: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrStakeNotFound
	}
	return nil
}

func (t *pgTx) ListStakes(ctx context.Context, filter ledger.StakeFilter) ([]*ledger.Stake, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+stakeColumns+` FROM stakes
		WHERE ($1::bigint IS NULL OR node_id = $1) AND ($2::bigint IS NULL OR user_id = $2)
		ORDER BY id
	`, filter.NodeID, filter.UserID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения стейков: %w", err)
	}
	defer rows.Close()

	out := make([]*ledger.Stake, 0)
	for rows.Next() {
		s, err := scanStake(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения стейка: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *pgTx) StakedByUser(ctx context.Context) (map[int64]decimal.Decimal, error) {
	rows, err := t.tx.Query(ctx, `SELECT user_id, SUM(staked_amount)::text FROM stakes GROUP BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта стейков: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var userID int64
		var sum decimal.Decimal
		if err := rows.Scan(&userID, dec(&sum)); err != nil {
			return nil, fmt.Errorf("ошибка чтения суммы стейков: %w", err)
		}
		out[userID] = sum
	}
	return out, rows.Err()
}

// --- Журнал ---

func (t *pgTx) AppendTransaction(ctx context.Context, rec *ledger.Transaction) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO transactions (from_user_id, to_user_id, asset_type, amount, fee_amount,
			transaction_type, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, rec.FromUserID, rec.ToUserID, rec.AssetType, num(rec.Amount), num(rec.FeeAmount),
		rec.Type, rec.Description, rec.CreatedAt).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("ошибка записи транзакции: %w", err)
	}
	return nil
}

func (t *pgTx) ListTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]*ledger.Transaction, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := t.tx.Query(ctx, `
		SELECT id, from_user_id, to_user_id, asset_type, amount::text, fee_amount::text,
			transaction_type, COALESCE(description, ''), created_at
		FROM transactions
		WHERE (from_user_id = $1 OR to_user_id = $1) AND ($2 = '' OR asset_type = $2)
		ORDER BY id DESC
		LIMIT $3
	`, filter.UserID, string(filter.AssetType), limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения транзакций: %w", err)
	}
	defer rows.Close()

	out := make([]*ledger.Transaction, 0)
	for rows.Next() {
		var rec ledger.Transaction
		err := rows.Scan(&rec.ID, &rec.FromUserID, &rec.ToUserID, &rec.AssetType,
			dec(&rec.Amount), dec(&rec.FeeAmount), &rec.Type, &rec.Description, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения транзакции: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// --- Казначейство ---

const treasuryColumns = `collected_fees::text, total_coins_in_circulation::text, total_token_supply::text,
	last_distribution_at, updated_at`

func (t *pgTx) CreateTreasury(ctx context.Context, tr *ledger.Treasury) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO treasury (id, collected_fees, total_coins_in_circulation, total_token_supply, updated_at)
		VALUES (1, $1, $2, $3, $4)
	`, num(tr.CollectedFees), num(tr.CoinsInCirculation), num(tr.TokenSupply), tr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка создания казначейства: %w", err)
	}
	return nil
}

func (t *pgTx) GetTreasury(ctx context.Context) (*ledger.Treasury, error) {
	return t.treasuryRow(ctx, `SELECT `+treasuryColumns+` FROM treasury WHERE id = 1`)
}

func (t *pgTx) LockTreasury(ctx context.Context) (*ledger.Treasury, error) {
	return t.treasuryRow(ctx, `SELECT `+treasuryColumns+` FROM treasury WHERE id = 1 FOR UPDATE`)
}

func (t *pgTx) treasuryRow(ctx context.Context, query string) (*ledger.Treasury, error) {
	var tr ledger.Treasury
	err := t.tx.QueryRow(ctx, query).Scan(
		dec(&tr.CollectedFees), dec(&tr.CoinsInCirculation), dec(&tr.TokenSupply),
		&tr.LastDistributionAt, &tr.UpdatedAt,
	)
	if isNoRows(err) {
		return nil, common.ErrLedgerNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения казначейства: %w", err)
	}
	return &tr, nil
}

func (t *pgTx) UpdateTreasury(ctx context.Context, tr *ledger.Treasury) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE treasury
		SET collected_fees = $1, total_coins_in_circulation = $2, total_token_supply = $3,
			last_distribution_at = $4, updated_at = $5
		WHERE id = 1
	`, num(tr.CollectedFees), num(tr.CoinsInCirculation), num(tr.TokenSupply), tr.LastDistributionAt, tr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка обновления казначейства: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrLedgerNotInitialized
	}
	return nil
}

// --- Внешние заявки ---

const externalColumns = `id, user_id, wallet_address, amount::text, status, mode,
	COALESCE(reason, ''), created_at, processed_at`

func scanExternal(row pgx.Row) (*ledger.ExternalTransfer, error) {
	var et ledger.ExternalTransfer
	err := row.Scan(&et.ID, &et.UserID, &et.WalletAddress, dec(&et.Amount), &et.Status, &et.Mode,
		&et.Reason, &et.CreatedAt, &et.ProcessedAt)
	if err != nil {
		return nil, err
	}
	return &et, nil
}

func (t *pgTx) CreateExternalTransfer(ctx context.Context, et *ledger.ExternalTransfer) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO external_transfers (user_id, wallet_address, amount, status, mode, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
		RETURNING id
	`, et.UserID, et.WalletAddress, num(et.Amount), et.Status, et.Mode, et.Reason, et.CreatedAt).Scan(&et.ID)
	if pgCode(err) == codeUniqueViolation {
		return common.ErrWalletAlreadyUsed
	}
	if err != nil {
		return fmt.Errorf("ошибка создания заявки: %w", err)
	}
	return nil
}

func (t *pgTx) GetExternalTransferByWallet(ctx context.Context, address string) (*ledger.ExternalTransfer, error) {
	et, err := scanExternal(t.tx.QueryRow(ctx,
		`SELECT `+externalColumns+` FROM external_transfers WHERE wallet_address = $1`, address))
	if isNoRows(err) {
		return nil, common.ErrTransferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения заявки: %w", err)
	}
	return et, nil
}

func (t *pgTx) LockExternalTransfer(ctx context.Context, id int64) (*ledger.ExternalTransfer, error) {
	et, err := scanExternal(t.tx.QueryRow(ctx,
		`SELECT `+externalColumns+` FROM external_transfers WHERE id = $1 FOR UPDATE`, id))
	if isNoRows(err) {
		return nil, common.ErrTransferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения заявки: %w", err)
	}
	return et, nil
}

func (t *pgTx) UpdateExternalTransfer(ctx context.Context, et *ledger.ExternalTransfer) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE external_transfers SET status = $2, reason = NULLIF($3, ''), processed_at = $4
		WHERE id = $1
	`, et.ID, et.Status, et.Reason, et.ProcessedAt)
	if err != nil {
		return fmt.Errorf("ошибка обновления заявки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrTransferNotFound
	}
	return nil
}

func (t *pgTx) ListExternalTransfers(ctx context.Context, status ledger.ExternalStatus) ([]*ledger.ExternalTransfer, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+externalColumns+` FROM external_transfers
		WHERE ($1 = '' OR status = $1)
		ORDER BY id
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения заявок: %w", err)
	}
	defer rows.Close()

	out := make([]*ledger.ExternalTransfer, 0)
	for rows.Next() {
		et, err := scanExternal(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения заявки: %w", err)
		}
		out = append(out, et)
	}
	return out, rows.Err()
}

// --- Аудит ---

func (t *pgTx) RecordAdminAction(ctx context.Context, a *ledger.AdminAction) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO admin_actions (action, target, reason, actor, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, a.Action, a.Target, a.Reason, a.Actor, a.CreatedAt).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("ошибка записи аудита: %w", err)
	}
	return nil
}

func sortedUnique(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 0
	for i, id := range out {
		if i == 0 || id != out[n-1] {
			out[n] = id
			n++
		}
	}
	return out[:n]
}
