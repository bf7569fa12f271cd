// Package memory — хранилище леджера в памяти процесса.
//
// Единицы работы выполняются строго по одной под общим мьютексом. fn
// работает с копией состояния, которая подменяет текущее только при
// успешном завершении, поэтому ошибка в fn откатывает всё целиком.
// Используется в режиме разработки (STORAGE_DRIVER=memory) и в тестах.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"serotonyl.ru/altyn-ledger/internal/common"
	"serotonyl.ru/altyn-ledger/internal/ledger"
)

type state struct {
	accounts  map[int64]*ledger.Account
	emails    map[string]int64
	nodes     map[int64]*ledger.Node
	stakes    map[int64]*ledger.Stake
	txs       []*ledger.Transaction
	treasury  *ledger.Treasury
	external  map[int64]*ledger.ExternalTransfer
	wallets   map[string]int64
	actions   []*ledger.AdminAction
	nextNode  int64
	nextStake int64
	nextTx    int64
	nextExt   int64
	nextAct   int64
}

func newState() *state {
	return &state{
		accounts: make(map[int64]*ledger.Account),
		emails:   make(map[string]int64),
		nodes:    make(map[int64]*ledger.Node),
		stakes:   make(map[int64]*ledger.Stake),
		external: make(map[int64]*ledger.ExternalTransfer),
		wallets:  make(map[string]int64),
	}
}

// clone копирует состояние. Журнал и аудит только дописываются, поэтому
// достаточно скопировать срезы, сами записи не меняются.
func (s *state) clone() *state {
	c := &state{
		accounts:  make(map[int64]*ledger.Account, len(s.accounts)),
		emails:    make(map[string]int64, len(s.emails)),
		nodes:     make(map[int64]*ledger.Node, len(s.nodes)),
		stakes:    make(map[int64]*ledger.Stake, len(s.stakes)),
		txs:       append([]*ledger.Transaction(nil), s.txs...),
		external:  make(map[int64]*ledger.ExternalTransfer, len(s.external)),
		wallets:   make(map[string]int64, len(s.wallets)),
		actions:   append([]*ledger.AdminAction(nil), s.actions...),
		nextNode:  s.nextNode,
		nextStake: s.nextStake,
		nextTx:    s.nextTx,
		nextExt:   s.nextExt,
		nextAct:   s.nextAct,
	}
	for k, v := range s.accounts {
		c.accounts[k] = copyAccount(v)
	}
	for k, v := range s.emails {
		c.emails[k] = v
	}
	for k, v := range s.nodes {
		c.nodes[k] = copyNode(v)
	}
	for k, v := range s.stakes {
		c.stakes[k] = copyStake(v)
	}
	for k, v := range s.external {
		c.external[k] = copyExternal(v)
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	if s.treasury != nil {
		c.treasury = copyTreasury(s.treasury)
	}
	return c
}

// Store — ledger.Store в памяти.
type Store struct {
	mu    sync.Mutex
	state *state
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{state: newState()}
}

// InTx выполняет fn над копией состояния и публикует её при успехе.
// Отменённый контекст откатывает единицу работы.
func (s *Store) InTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := &tx{st: s.state.clone()}
	if err := fn(work); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work.st
	return nil
}

// AdminActions возвращает журнал админ-действий (для тестов и отладки).
func (s *Store) AdminActions() []ledger.AdminAction {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ledger.AdminAction, len(s.state.actions))
	for i, a := range s.state.actions {
		out[i] = *a
	}
	return out
}

type tx struct {
	st *state
}

// Счета

func (t *tx) CreateAccount(_ context.Context, acc *ledger.Account) error {
	if _, ok := t.st.accounts[acc.UserID]; ok {
		return common.ErrAccountExists
	}
	if _, ok := t.st.emails[acc.Email]; ok {
		return fmt.Errorf("%w: email %s занят", common.ErrAccountExists, acc.Email)
	}
	t.st.accounts[acc.UserID] = copyAccount(acc)
	t.st.emails[acc.Email] = acc.UserID
	return nil
}

func (t *tx) GetAccount(_ context.Context, userID int64) (*ledger.Account, error) {
	acc, ok := t.st.accounts[userID]
	if !ok {
		return nil, common.ErrAccountNotFound
	}
	return copyAccount(acc), nil
}

func (t *tx) GetAccountByEmail(ctx context.Context, email string) (*ledger.Account, error) {
	id, ok := t.st.emails[email]
	if !ok {
		return nil, common.ErrAccountNotFound
	}
	return t.GetAccount(ctx, id)
}

func (t *tx) LockAccounts(_ context.Context, userIDs ...int64) (map[int64]*ledger.Account, error) {
	out := make(map[int64]*ledger.Account, len(userIDs))
	for _, id := range userIDs {
		acc, ok := t.st.accounts[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", common.ErrAccountNotFound, id)
		}
		out[id] = copyAccount(acc)
	}
	return out, nil
}

func (t *tx) LockAllAccounts(ctx context.Context) ([]*ledger.Account, error) {
	return t.ListAccounts(ctx)
}

func (t *tx) ListAccounts(_ context.Context) ([]*ledger.Account, error) {
	out := make([]*ledger.Account, 0, len(t.st.accounts))
	for _, acc := range t.st.accounts {
		out = append(out, copyAccount(acc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (t *tx) UpdateAccount(_ context.Context, acc *ledger.Account) error {
	cur, ok := t.st.accounts[acc.UserID]
	if !ok {
		return common.ErrAccountNotFound
	}
	if acc.CoinBalance.IsNegative() || acc.TokenBalance.IsNegative() {
		return fmt.Errorf("%w: счёт %d ушёл в минус", common.ErrInsufficientFunds, acc.UserID)
	}
	if cur.Email != acc.Email {
		delete(t.st.emails, cur.Email)
		t.st.emails[acc.Email] = acc.UserID
	}
	t.st.accounts[acc.UserID] = copyAccount(acc)
	return nil
}

// Узлы

func (t *tx) CreateNode(_ context.Context, n *ledger.Node) error {
	t.st.nextNode++
	n.ID = t.st.nextNode
	t.st.nodes[n.ID] = copyNode(n)
	return nil
}

func (t *tx) GetNode(_ context.Context, id int64) (*ledger.Node, error) {
	n, ok := t.st.nodes[id]
	if !ok {
		return nil, common.ErrNodeNotFound
	}
	return copyNode(n), nil
}

func (t *tx) LockNodes(_ context.Context, ids ...int64) (map[int64]*ledger.Node, error) {
	out := make(map[int64]*ledger.Node, len(ids))
	for _, id := range ids {
		n, ok := t.st.nodes[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", common.ErrNodeNotFound, id)
		}
		out[id] = copyNode(n)
	}
	return out, nil
}

func (t *tx) UpdateNode(_ context.Context, n *ledger.Node) error {
	if _, ok := t.st.nodes[n.ID]; !ok {
		return common.ErrNodeNotFound
	}
	if n.StakedAmount.IsNegative() || n.StakedAmount.GreaterThan(n.TotalCapacity) {
		return fmt.Errorf("%w: узел %d", common.ErrNodeFull, n.ID)
	}
	t.st.nodes[n.ID] = copyNode(n)
	return nil
}

func (t *tx) DeleteNode(_ context.Context, id int64) error {
	if _, ok := t.st.nodes[id]; !ok {
		return common.ErrNodeNotFound
	}
	for _, s := range t.st.stakes {
		if s.NodeID == id {
			return common.ErrNodeNotEmpty
		}
	}
	delete(t.st.nodes, id)
	return nil
}

func (t *tx) ListNodes(_ context.Context, filter ledger.NodeFilter) ([]*ledger.Node, error) {
	out := make([]*ledger.Node, 0, len(t.st.nodes))
	for _, n := range t.st.nodes {
		if filter.Status != "" && n.Status != filter.Status {
			continue
		}
		if filter.OwnerID != nil && n.OwnerID != *filter.OwnerID {
			continue
		}
		out = append(out, copyNode(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) CountNodes(_ context.Context, ownerID int64) (int, error) {
	count := 0
	for _, n := range t.st.nodes {
		if n.OwnerID == ownerID {
			count++
		}
	}
	return count, nil
}

// Стейки

func (t *tx) CreateStake(_ context.Context, s *ledger.Stake) error {
	if _, ok := t.st.nodes[s.NodeID]; !ok {
		return common.ErrNodeNotFound
	}
	t.st.nextStake++
	s.ID = t.st.nextStake
	t.st.stakes[s.ID] = copyStake(s)
	return nil
}

func (t *tx) GetStake(_ context.Context, id int64) (*ledger.Stake, error) {
	s, ok := t.st.stakes[id]
	if !ok {
		return nil, common.ErrStakeNotFound
	}
	return copyStake(s), nil
}

func (t *tx) LockStake(ctx context.Context, id int64) (*ledger.Stake, error) {
	return t.GetStake(ctx, id)
}

func (t *tx) UpdateStake(_ context.Context, s *ledger.Stake) error {
	if _, ok := t.st.stakes[s.ID]; !ok {
		return common.ErrStakeNotFound
	}
	if _, ok := t.st.nodes[s.NodeID]; !ok {
		return common.ErrNodeNotFound
	}
	t.st.stakes[s.ID] = copyStake(s)
	return nil
}

func (t *tx) DeleteStake(_ context.Context, id int64) error {
	if _, ok := t.st.stakes[id]; !ok {
		return common.ErrStakeNotFound
	}
	delete(t.st.stakes, id)
	return nil
}

func (t *tx) ListStakes(_ context.Context, filter ledger.StakeFilter) ([]*ledger.Stake, error) {
	out := make([]*ledger.Stake, 0)
	for _, s := range t.st.stakes {
		if filter.NodeID != nil && s.NodeID != *filter.NodeID {
			continue
		}
		if filter.UserID != nil && s.UserID != *filter.UserID {
			continue
		}
		out = append(out, copyStake(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) StakedByUser(_ context.Context) (map[int64]decimal.Decimal, error) {
	out := make(map[int64]decimal.Decimal)
	for _, s := range t.st.stakes {
		out[s.UserID] = out[s.UserID].Add(s.StakedAmount)
	}
	return out, nil
}

// Журнал

func (t *tx) AppendTransaction(_ context.Context, rec *ledger.Transaction) error {
	t.st.nextTx++
	rec.ID = t.st.nextTx
	c := *rec
	t.st.txs = append(t.st.txs, &c)
	return nil
}

func (t *tx) ListTransactions(_ context.Context, filter ledger.TransactionFilter) ([]*ledger.Transaction, error) {
	out := make([]*ledger.Transaction, 0)
	for i := len(t.st.txs) - 1; i >= 0; i-- {
		rec := t.st.txs[i]
		if !involves(rec, filter.UserID) {
			continue
		}
		if filter.AssetType != "" && rec.AssetType != filter.AssetType {
			continue
		}
		c := *rec
		out = append(out, &c)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func involves(rec *ledger.Transaction, userID int64) bool {
	return (rec.FromUserID != nil && *rec.FromUserID == userID) ||
		(rec.ToUserID != nil && *rec.ToUserID == userID)
}

// Казначейство

func (t *tx) CreateTreasury(_ context.Context, tr *ledger.Treasury) error {
	if t.st.treasury != nil {
		return fmt.Errorf("казначейство уже создано")
	}
	t.st.treasury = copyTreasury(tr)
	return nil
}

func (t *tx) GetTreasury(_ context.Context) (*ledger.Treasury, error) {
	if t.st.treasury == nil {
		return nil, common.ErrLedgerNotInitialized
	}
	return copyTreasury(t.st.treasury), nil
}

func (t *tx) LockTreasury(ctx context.Context) (*ledger.Treasury, error) {
	return t.GetTreasury(ctx)
}

func (t *tx) UpdateTreasury(_ context.Context, tr *ledger.Treasury) error {
	if t.st.treasury == nil {
		return common.ErrLedgerNotInitialized
	}
	t.st.treasury = copyTreasury(tr)
	return nil
}

// Внешние заявки

func (t *tx) CreateExternalTransfer(_ context.Context, et *ledger.ExternalTransfer) error {
	if _, ok := t.st.wallets[et.WalletAddress]; ok {
		return common.ErrWalletAlreadyUsed
	}
	t.st.nextExt++
	et.ID = t.st.nextExt
	t.st.external[et.ID] = copyExternal(et)
	t.st.wallets[et.WalletAddress] = et.ID
	return nil
}

func (t *tx) GetExternalTransferByWallet(_ context.Context, address string) (*ledger.ExternalTransfer, error) {
	id, ok := t.st.wallets[address]
	if !ok {
		return nil, common.ErrTransferNotFound
	}
	return copyExternal(t.st.external[id]), nil
}

func (t *tx) LockExternalTransfer(_ context.Context, id int64) (*ledger.ExternalTransfer, error) {
	et, ok := t.st.external[id]
	if !ok {
		return nil, common.ErrTransferNotFound
	}
	return copyExternal(et), nil
}

func (t *tx) UpdateExternalTransfer(_ context.Context, et *ledger.ExternalTransfer) error {
	if _, ok := t.st.external[et.ID]; !ok {
		return common.ErrTransferNotFound
	}
	t.st.external[et.ID] = copyExternal(et)
	return nil
}

func (t *tx) ListExternalTransfers(_ context.Context, status ledger.ExternalStatus) ([]*ledger.ExternalTransfer, error) {
	out := make([]*ledger.ExternalTransfer, 0)
	for _, et := range t.st.external {
		if status != "" && et.Status != status {
			continue
		}
		out = append(out, copyExternal(et))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Аудит

func (t *tx) RecordAdminAction(_ context.Context, a *ledger.AdminAction) error {
	t.st.nextAct++
	a.ID = t.st.nextAct
	c := *a
	t.st.actions = append(t.st.actions, &c)
	return nil
}

func copyAccount(a *ledger.Account) *ledger.Account {
	c := *a
	return &c
}

func copyNode(n *ledger.Node) *ledger.Node {
	c := *n
	return &c
}

func copyStake(s *ledger.Stake) *ledger.Stake {
	c := *s
	return &c
}

func copyTreasury(t *ledger.Treasury) *ledger.Treasury {
	c := *t
	if t.LastDistributionAt != nil {
		at := *t.LastDistributionAt
		c.LastDistributionAt = &at
	}
	return &c
}

func copyExternal(et *ledger.ExternalTransfer) *ledger.ExternalTransfer {
	c := *et
	if et.ProcessedAt != nil {
		at := *et.ProcessedAt
		c.ProcessedAt = &at
	}
	return &c
}
