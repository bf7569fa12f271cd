package ledger

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/altyn-ledger/internal/common"
)

// Decision — решение движка размещения.
type Decision string

const (
	UseExistingNode Decision = "USE_EXISTING_NODE"
	CreateNewNode   Decision = "CREATE_NEW_NODE"
)

// Allocation — результат AutoCreate: решение, узел и созданный стейк.
type Allocation struct {
	Decision Decision `json:"decision"`
	Node     *Node    `json:"node"`
	Stake    *Stake   `json:"stake"`
}

// Choose выбирает узел для стейка amount.
//
// Кандидаты — ACTIVE-узлы, отсортированные по свободной ёмкости (убывание),
// затем по возрасту (старший первым), затем по id. Побеждает первый узел,
// в который amount помещается целиком. Если такого нет или preferNew —
// CreateNewNode. Результат детерминирован для одинакового входа.
func Choose(nodes []*Node, amount decimal.Decimal, preferNew bool) (Decision, *Node) {
	if preferNew {
		return CreateNewNode, nil
	}

	candidates := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Status == NodeActive {
			candidates = append(candidates, n)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if c := a.Available().Cmp(b.Available()); c != 0 {
			return c > 0
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	for _, n := range candidates {
		if n.Available().GreaterThanOrEqual(amount) {
			return UseExistingNode, n
		}
	}
	return CreateNewNode, nil
}

// AutoCreate размещает стейк amount: в существующий ACTIVE-узел или в новый
// узел пользователя (SUPER при amount ≥ SuperThreshold).
//
// Баланс проверяется до любых изменений узлов, поэтому при нехватке средств
// возвращается ErrInsufficientFunds и реестр узлов не трогается.
func (l *Ledger) AutoCreate(ctx context.Context, userID int64, amount decimal.Decimal, preferNew bool) (*Allocation, error) {
	if err := ValidateAmount(AssetToken, amount); err != nil {
		return nil, err
	}

	alloc := &Allocation{}
	err := l.store.InTx(ctx, func(tx Tx) error {
		// Пробная проверка баланса без блокировки
		acc, err := tx.GetAccount(ctx, userID)
		if err != nil {
			return err
		}
		if err := acc.CanDebit(AssetToken, amount); err != nil {
			return err
		}

		nodes, err := tx.ListNodes(ctx, NodeFilter{Status: NodeActive})
		if err != nil {
			return err
		}
		decision, chosen := Choose(nodes, amount, preferNew)
		alloc.Decision = decision

		if decision == CreateNewNode {
			node, st, err := l.createNode(ctx, tx, userID, "", amount)
			if err != nil {
				return err
			}
			alloc.Node, alloc.Stake = node, st
			return nil
		}

		locked, err := tx.LockNodes(ctx, chosen.ID)
		if err != nil {
			return err
		}
		node := locked[chosen.ID]
		if node.Status != NodeActive || node.Available().LessThan(amount) {
			// Узел заполнился между выбором и блокировкой
			return common.ErrConcurrencyConflict
		}
		accounts, err := tx.LockAccounts(ctx, userID)
		if err != nil {
			return err
		}
		st, err := l.stakeInto(ctx, tx, node, accounts[userID], amount)
		if err != nil {
			return err
		}
		alloc.Node, alloc.Stake = node, st
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"user_id":  userID,
		"decision": alloc.Decision,
		"node_id":  alloc.Node.ID,
		"amount":   amount.String(),
	}).Info("Стейк размещён автоматически")
	return alloc, nil
}
