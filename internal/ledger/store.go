package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store открывает единицу работы над леджером.
//
// InTx выполняет fn атомарно: либо все изменения fn видны после возврата nil,
// либо ни одного. Реализация сама повторяет fn при конфликтах блокировок
// ограниченное число раз и затем возвращает common.ErrConcurrencyConflict.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx — операции над строками внутри одной единицы работы.
//
// Методы Lock* берут блокировку на запись и держат её до конца единицы работы.
// Порядок блокировок фиксирован во всём леджере: узлы (по возрастанию id) →
// стейки → внешние заявки → счета (по возрастанию user_id) → казначейство.
// LockNodes и LockAccounts сами сортируют ключи.
//
// Все возвращаемые структуры — копии: изменения попадают в хранилище
// только через Update*.
type Tx interface {
	// Счета
	CreateAccount(ctx context.Context, acc *Account) error
	GetAccount(ctx context.Context, userID int64) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	LockAccounts(ctx context.Context, userIDs ...int64) (map[int64]*Account, error)
	LockAllAccounts(ctx context.Context) ([]*Account, error)
	ListAccounts(ctx context.Context) ([]*Account, error)
	UpdateAccount(ctx context.Context, acc *Account) error

	// Узлы
	CreateNode(ctx context.Context, n *Node) error
	GetNode(ctx context.Context, id int64) (*Node, error)
	LockNodes(ctx context.Context, ids ...int64) (map[int64]*Node, error)
	UpdateNode(ctx context.Context, n *Node) error
	DeleteNode(ctx context.Context, id int64) error
	ListNodes(ctx context.Context, filter NodeFilter) ([]*Node, error)
	CountNodes(ctx context.Context, ownerID int64) (int, error)

	// Стейки
	CreateStake(ctx context.Context, s *Stake) error
	GetStake(ctx context.Context, id int64) (*Stake, error)
	LockStake(ctx context.Context, id int64) (*Stake, error)
	UpdateStake(ctx context.Context, s *Stake) error
	DeleteStake(ctx context.Context, id int64) error
	ListStakes(ctx context.Context, filter StakeFilter) ([]*Stake, error)
	StakedByUser(ctx context.Context) (map[int64]decimal.Decimal, error)

	// Журнал
	AppendTransaction(ctx context.Context, t *Transaction) error
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]*Transaction, error)

	// Казначейство
	CreateTreasury(ctx context.Context, t *Treasury) error
	GetTreasury(ctx context.Context) (*Treasury, error)
	LockTreasury(ctx context.Context) (*Treasury, error)
	UpdateTreasury(ctx context.Context, t *Treasury) error

	// Внешние заявки
	CreateExternalTransfer(ctx context.Context, et *ExternalTransfer) error
	GetExternalTransferByWallet(ctx context.Context, address string) (*ExternalTransfer, error)
	LockExternalTransfer(ctx context.Context, id int64) (*ExternalTransfer, error)
	UpdateExternalTransfer(ctx context.Context, et *ExternalTransfer) error
	ListExternalTransfers(ctx context.Context, status ExternalStatus) ([]*ExternalTransfer, error)

	// Аудит админ-действий
	RecordAdminAction(ctx context.Context, a *AdminAction) error
}

// NodeFilter — фильтр для ListNodes. Нулевые поля не фильтруют.
type NodeFilter struct {
	Status  NodeStatus
	OwnerID *int64
}

// StakeFilter — фильтр для ListStakes. Нулевые поля не фильтруют.
type StakeFilter struct {
	NodeID *int64
	UserID *int64
}

// TransactionFilter — фильтр для ListTransactions.
// Результат отсортирован от новых к старым.
type TransactionFilter struct {
	UserID    int64
	AssetType AssetType
	Limit     int
}
