package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/altyn-ledger/internal/common"
)

// NodeTypeFor выбирает тип узла по начальному стейку.
func (p Params) NodeTypeFor(initialStake decimal.Decimal) NodeType {
	if initialStake.GreaterThanOrEqual(p.SuperThreshold) {
		return NodeSuper
	}
	return NodeStandard
}

// CapacityOf возвращает ёмкость узла по типу.
func (p Params) CapacityOf(t NodeType) decimal.Decimal {
	if t == NodeSuper {
		return p.SuperCapacity
	}
	return p.StandardCapacity
}

// NodeUpdate — изменения узла от админа. nil-поля не меняются.
type NodeUpdate struct {
	Name   *string
	Status *NodeStatus
}

// DeleteReport — результат удаления узла.
type DeleteReport struct {
	Node     *Node    `json:"node"`
	Returned []*Stake `json:"returned_stakes"`
}

// NodeStats — агрегаты по узлам для экрана статистики.
type NodeStats struct {
	TotalNodes        int             `json:"total_nodes"`
	ActiveNodes       int             `json:"active_nodes"`
	FullNodes         int             `json:"full_nodes"`
	InactiveNodes     int             `json:"inactive_nodes"`
	StandardNodes     int             `json:"standard_nodes"`
	SuperNodes        int             `json:"super_nodes"`
	TotalCapacity     decimal.Decimal `json:"total_capacity"`
	TotalStaked       decimal.Decimal `json:"total_staked"`
	AvailableCapacity decimal.Decimal `json:"available_capacity"`
	FillPercent       decimal.Decimal `json:"fill_percent"`
	Stakers           int             `json:"stakers"`
}

// CreateNode создаёт узел пользователя. Если initialStake > 0, он сразу
// становится первым стейком узла в той же единице работы.
func (l *Ledger) CreateNode(ctx context.Context, ownerID int64, name string, initialStake decimal.Decimal) (*Node, *Stake, error) {
	if initialStake.IsNegative() {
		return nil, nil, common.ErrInvalidAmount
	}
	if initialStake.IsPositive() {
		if err := ValidateAmount(AssetToken, initialStake); err != nil {
			return nil, nil, err
		}
	}

	var node *Node
	var st *Stake
	err := l.store.InTx(ctx, func(tx Tx) error {
		var err error
		node, st, err = l.createNode(ctx, tx, ownerID, name, initialStake)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	log.WithFields(log.Fields{
		"node_id":       node.ID,
		"owner_id":      ownerID,
		"node_type":     node.Type,
		"initial_stake": initialStake.String(),
	}).Info("Узел создан")
	return node, st, nil
}

// createNode создаёт узел и первый стейк внутри единицы работы.
func (l *Ledger) createNode(ctx context.Context, tx Tx, ownerID int64, name string, initialStake decimal.Decimal) (*Node, *Stake, error) {
	nodeType := l.params.NodeTypeFor(initialStake)
	capacity := l.params.CapacityOf(nodeType)
	if initialStake.GreaterThan(capacity) {
		if nodeType == NodeStandard {
			// Узел SUPER открывается только с порога, STANDARD такую сумму не вместит
			return nil, nil, fmt.Errorf("%w: сумма %s больше ёмкости STANDARD %s и меньше порога SUPER %s",
				common.ErrNodeFull, initialStake, capacity, l.params.SuperThreshold)
		}
		return nil, nil, fmt.Errorf("%w: ёмкость %s %s, запрошено %s", common.ErrNodeFull, nodeType, capacity, initialStake)
	}

	// Счёт блокируется после узла, но проверить его нужно до вставки узла
	owner, err := tx.GetAccount(ctx, ownerID)
	if err != nil {
		return nil, nil, err
	}
	if initialStake.IsPositive() {
		if err := owner.CanDebit(AssetToken, initialStake); err != nil {
			return nil, nil, err
		}
	}

	name = strings.TrimSpace(name)
	if name == "" {
		count, err := tx.CountNodes(ctx, ownerID)
		if err != nil {
			return nil, nil, err
		}
		name = fmt.Sprintf("Node #%d", count+1)
	}

	now := l.now()
	node := &Node{
		OwnerID:       ownerID,
		Name:          name,
		Type:          nodeType,
		TotalCapacity: capacity,
		StakedAmount:  decimal.Zero,
		Status:        NodeActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.CreateNode(ctx, node); err != nil {
		return nil, nil, err
	}

	if !initialStake.IsPositive() {
		return node, nil, nil
	}

	accounts, err := tx.LockAccounts(ctx, ownerID)
	if err != nil {
		return nil, nil, err
	}
	st, err := l.stakeInto(ctx, tx, node, accounts[ownerID], initialStake)
	if err != nil {
		return nil, nil, err
	}
	return node, st, nil
}

// GetNode возвращает узел по id.
func (l *Ledger) GetNode(ctx context.Context, id int64) (*Node, error) {
	var node *Node
	err := l.store.InTx(ctx, func(tx Tx) error {
		var err error
		node, err = tx.GetNode(ctx, id)
		return err
	})
	return node, err
}

// ListNodes возвращает узлы по фильтру.
func (l *Ledger) ListNodes(ctx context.Context, filter NodeFilter) ([]*Node, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, common.ErrInvalidStatus
	}
	var nodes []*Node
	err := l.store.InTx(ctx, func(tx Tx) error {
		var err error
		nodes, err = tx.ListNodes(ctx, filter)
		return err
	})
	return nodes, err
}

// UpdateNode меняет имя и/или статус узла (админ).
// Статус можно выставить только ACTIVE или INACTIVE: FULL вычисляется сам.
func (l *Ledger) UpdateNode(ctx context.Context, id int64, upd NodeUpdate, reason, actor string) (*Node, error) {
	reason, err := requireReason(reason)
	if err != nil {
		return nil, err
	}
	if upd.Status != nil && *upd.Status != NodeActive && *upd.Status != NodeInactive {
		return nil, common.ErrInvalidStatus
	}

	var node *Node
	err = l.store.InTx(ctx, func(tx Tx) error {
		nodes, err := tx.LockNodes(ctx, id)
		if err != nil {
			return err
		}
		node = nodes[id]

		if upd.Name != nil {
			name := strings.TrimSpace(*upd.Name)
			if name == "" {
				return fmt.Errorf("%w: имя узла пустое", common.ErrValidation)
			}
			node.Name = name
		}
		if upd.Status != nil {
			node.Status = *upd.Status
			node.refreshStatus()
		}
		node.UpdatedAt = l.now()
		if err := tx.UpdateNode(ctx, node); err != nil {
			return err
		}
		return l.recordAction(ctx, tx, ActionUpdateNode, "node:"+strconv.FormatInt(id, 10), reason, actor)
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"node_id": id, "status": node.Status, "actor": actor}).Info("Узел изменён")
	return node, nil
}

// DeleteNode возвращает все стейки узла владельцам и удаляет узел (админ).
// Если хотя бы один стейк вернуть не удалось, ничего не меняется и
// возвращается ErrNodeNotEmpty. Повторное удаление — ErrNodeNotFound.
func (l *Ledger) DeleteNode(ctx context.Context, id int64, reason, actor string) (*DeleteReport, error) {
	reason, err := requireReason(reason)
	if err != nil {
		return nil, err
	}

	report := &DeleteReport{}
	err = l.store.InTx(ctx, func(tx Tx) error {
		nodes, err := tx.LockNodes(ctx, id)
		if err != nil {
			return err
		}
		node := nodes[id]

		stakes, err := tx.ListStakes(ctx, StakeFilter{NodeID: int64Ptr(id)})
		if err != nil {
			return err
		}
		for _, s := range stakes {
			if _, err := tx.LockStake(ctx, s.ID); err != nil {
				return fmt.Errorf("%w: стейк #%d: %v", common.ErrNodeNotEmpty, s.ID, err)
			}
		}

		owners := make([]int64, 0, len(stakes))
		for _, s := range stakes {
			owners = append(owners, s.UserID)
		}
		accounts, err := tx.LockAccounts(ctx, owners...)
		if err != nil {
			return fmt.Errorf("%w: %v", common.ErrNodeNotEmpty, err)
		}

		for _, s := range stakes {
			if err := l.returnStake(ctx, tx, s, node, accounts[s.UserID], "Удаление узла: "+reason); err != nil {
				return fmt.Errorf("%w: стейк #%d: %v", common.ErrNodeNotEmpty, s.ID, err)
			}
		}
		if !node.StakedAmount.IsZero() {
			return fmt.Errorf("%w: после возврата осталось %s", common.ErrNodeNotEmpty, node.StakedAmount)
		}

		if err := tx.DeleteNode(ctx, id); err != nil {
			return err
		}
		report.Node = node
		report.Returned = stakes
		return l.recordAction(ctx, tx, ActionDeleteNode, "node:"+strconv.FormatInt(id, 10), reason, actor)
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"node_id":  id,
		"returned": len(report.Returned),
		"actor":    actor,
		"reason":   reason,
	}).Warn("Узел удалён")
	return report, nil
}

// Stats считает агрегаты по всем узлам.
func (l *Ledger) Stats(ctx context.Context) (*NodeStats, error) {
	var nodes []*Node
	var stakes []*Stake
	err := l.store.InTx(ctx, func(tx Tx) error {
		var err error
		if nodes, err = tx.ListNodes(ctx, NodeFilter{}); err != nil {
			return err
		}
		stakes, err = tx.ListStakes(ctx, StakeFilter{})
		return err
	})
	if err != nil {
		return nil, err
	}
	return computeStats(nodes, stakes), nil
}

func computeStats(nodes []*Node, stakes []*Stake) *NodeStats {
	s := &NodeStats{
		TotalCapacity: decimal.Zero,
		TotalStaked:   decimal.Zero,
	}
	for _, n := range nodes {
		s.TotalNodes++
		switch n.Status {
		case NodeActive:
			s.ActiveNodes++
		case NodeFull:
			s.FullNodes++
		case NodeInactive:
			s.InactiveNodes++
		}
		if n.Type == NodeSuper {
			s.SuperNodes++
		} else {
			s.StandardNodes++
		}
		s.TotalCapacity = s.TotalCapacity.Add(n.TotalCapacity)
		s.TotalStaked = s.TotalStaked.Add(n.StakedAmount)
	}
	s.AvailableCapacity = s.TotalCapacity.Sub(s.TotalStaked)
	s.FillPercent = decimal.Zero
	if s.TotalCapacity.IsPositive() {
		s.FillPercent = s.TotalStaked.Mul(decimal.NewFromInt(100)).Div(s.TotalCapacity).Round(2)
	}

	stakers := make(map[int64]struct{})
	for _, st := range stakes {
		stakers[st.UserID] = struct{}{}
	}
	s.Stakers = len(stakers)
	return s
}
