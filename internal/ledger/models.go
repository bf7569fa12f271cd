// Package ledger — models.go описывает структуры счетов, узлов, стейков,
// транзакций, казначейства и внешних переводов ALTYN.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetType — тип актива на счёте.
type AssetType string

const (
	AssetCoin  AssetType = "COIN"  // ALTYN COIN, 2 знака, облагается комиссией
	AssetToken AssetType = "TOKEN" // ALTYN TOKEN, 6 знаков, фиксированная эмиссия
)

// Valid сообщает, известен ли тип актива.
func (a AssetType) Valid() bool {
	return a == AssetCoin || a == AssetToken
}

// TxType — тип записи в журнале транзакций.
type TxType string

const (
	TxTransfer       TxType = "TRANSFER"        // Перевод между пользователями
	TxPayment        TxType = "PAYMENT"         // Оплата (маркетплейс, чат)
	TxDividend       TxType = "DIVIDEND"        // Выплата дивидендов
	TxEmission       TxType = "EMISSION"        // Эмиссия (админ)
	TxWelcomeBonus   TxType = "WELCOME_BONUS"   // Бонус при открытии счёта
	TxStake          TxType = "STAKE"           // Токены ушли в стейк
	TxUnstake        TxType = "UNSTAKE"         // Токены вернулись из стейка
	TxExternalImport TxType = "EXTERNAL_IMPORT" // Импорт с внешней сети
)

// NodeType — тип узла, определяет ёмкость.
type NodeType string

const (
	NodeStandard NodeType = "STANDARD"
	NodeSuper    NodeType = "SUPER"
)

// NodeStatus — статус узла.
type NodeStatus string

const (
	NodeActive   NodeStatus = "ACTIVE"
	NodeFull     NodeStatus = "FULL"
	NodeInactive NodeStatus = "INACTIVE"
)

// Valid сообщает, известен ли статус.
func (s NodeStatus) Valid() bool {
	return s == NodeActive || s == NodeFull || s == NodeInactive
}

// ReserveUserID — системный счёт, на котором лежат невыпущенные токены.
const ReserveUserID int64 = 0

// ReserveEmail — email системного счёта резерва.
const ReserveEmail = "reserve@altyn.system"

// BlockFlags — флаги блокировки счёта.
type BlockFlags struct {
	AccountBlocked bool `json:"account_blocked"`
	CoinBlocked    bool `json:"coin_blocked"`
	TokenBlocked   bool `json:"token_blocked"`
}

// Account — счёт пользователя. Никогда не удаляется, только обнуляется.
type Account struct {
	UserID       int64           `json:"user_id"`
	Email        string          `json:"email"`
	CoinBalance  decimal.Decimal `json:"coin_balance"`
	TokenBalance decimal.Decimal `json:"token_balance"`
	Blocks       BlockFlags      `json:"blocks"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Node — пул ёмкостью total_capacity, в который стейкают токены.
type Node struct {
	ID            int64           `json:"id"`
	OwnerID       int64           `json:"owner_id"`
	Name          string          `json:"name"`
	Type          NodeType        `json:"node_type"`
	TotalCapacity decimal.Decimal `json:"total_capacity"`
	StakedAmount  decimal.Decimal `json:"staked_amount"`
	Status        NodeStatus      `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Available возвращает свободную ёмкость узла.
func (n *Node) Available() decimal.Decimal {
	return n.TotalCapacity.Sub(n.StakedAmount)
}

// FillPercent возвращает заполненность узла в процентах (2 знака).
func (n *Node) FillPercent() decimal.Decimal {
	if n.TotalCapacity.IsZero() {
		return decimal.Zero
	}
	return n.StakedAmount.Mul(decimal.NewFromInt(100)).Div(n.TotalCapacity).Round(2)
}

// refreshStatus пересчитывает ACTIVE/FULL. INACTIVE меняет только админ.
func (n *Node) refreshStatus() {
	if n.Status == NodeInactive {
		return
	}
	if n.StakedAmount.GreaterThanOrEqual(n.TotalCapacity) {
		n.Status = NodeFull
	} else {
		n.Status = NodeActive
	}
}

// Stake — заблокированный депозит токенов пользователя в узле.
type Stake struct {
	ID           int64           `json:"id"`
	NodeID       int64           `json:"node_id"`
	UserID       int64           `json:"user_id"`
	StakedAmount decimal.Decimal `json:"staked_amount"`
	CreatedAt    time.Time       `json:"created_at"`
	LockDays     int             `json:"lock_days"`
}

// UnlockAt возвращает момент окончания блокировки.
func (s *Stake) UnlockAt() time.Time {
	return s.CreatedAt.Add(time.Duration(s.LockDays) * 24 * time.Hour)
}

// IsLocked сообщает, заблокирован ли стейк в момент now.
func (s *Stake) IsLocked(now time.Time) bool {
	return now.Before(s.UnlockAt())
}

// DaysLeft возвращает число дней (с округлением вверх) до разблокировки.
func (s *Stake) DaysLeft(now time.Time) int {
	left := s.UnlockAt().Sub(now)
	if left <= 0 {
		return 0
	}
	day := 24 * time.Hour
	return int((left + day - 1) / day)
}

// Transaction — неизменяемая запись журнала.
type Transaction struct {
	ID          int64           `json:"id"`
	FromUserID  *int64          `json:"from_user,omitempty"` // nil для системных начислений
	ToUserID    *int64          `json:"to_user,omitempty"`   // nil для системных списаний
	AssetType   AssetType       `json:"asset_type"`
	Amount      decimal.Decimal `json:"amount"`
	FeeAmount   decimal.Decimal `json:"fee_amount"`
	Type        TxType          `json:"transaction_type"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Treasury — казначейство: собранные комиссии и параметры эмиссии.
type Treasury struct {
	CollectedFees      decimal.Decimal `json:"collected_fees"`
	CoinsInCirculation decimal.Decimal `json:"total_coins_in_circulation"`
	TokenSupply        decimal.Decimal `json:"total_token_supply"`
	LastDistributionAt *time.Time      `json:"last_distribution_at,omitempty"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// TransferMode — режим обработки импорта с внешней сети.
type TransferMode string

const (
	ModeAutomatic  TransferMode = "AUTOMATIC"
	ModeModeration TransferMode = "MODERATION"
)

// ExternalStatus — статус заявки на импорт.
type ExternalStatus string

const (
	ExternalPending   ExternalStatus = "PENDING"
	ExternalCompleted ExternalStatus = "COMPLETED"
	ExternalRejected  ExternalStatus = "REJECTED"
)

// ExternalTransfer — заявка на одноразовый импорт токенов с внешнего кошелька.
type ExternalTransfer struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"user_id"`
	WalletAddress string          `json:"wallet_address"`
	Amount        decimal.Decimal `json:"amount"`
	Status        ExternalStatus  `json:"status"`
	Mode          TransferMode    `json:"mode"`
	Reason        string          `json:"reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
}

// AdminAction — запись аудита админ-действия.
type AdminAction struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`
	Target    string    `json:"target"`
	Reason    string    `json:"reason"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}

// Названия админ-действий для аудита
const (
	ActionForceUnstake  = "force_unstake"
	ActionReorganize    = "reorganize"
	ActionDeleteNode    = "delete_node"
	ActionUpdateNode    = "update_node"
	ActionSetBlock      = "set_block"
	ActionEmission      = "emission"
	ActionDistribute    = "distribute_dividends"
	ActionApproveImport = "approve_import"
	ActionRejectImport  = "reject_import"
)
