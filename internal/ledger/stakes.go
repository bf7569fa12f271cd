package ledger

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/altyn-ledger/internal/common"
)

// Stake стейкает amount токенов пользователя в узел.
//
// Ошибки: ErrInvalidAmount, ErrAccountBlocked, ErrAssetBlocked,
// ErrInsufficientFunds, ErrNodeNotFound, ErrNodeInactive, ErrNodeFull.
func (l *Ledger) Stake(ctx context.Context, userID, nodeID int64, amount decimal.Decimal) (*Stake, error) {
	if err := ValidateAmount(AssetToken, amount); err != nil {
		return nil, err
	}

	var st *Stake
	err := l.store.InTx(ctx, func(tx Tx) error {
		nodes, err := tx.LockNodes(ctx, nodeID)
		if err != nil {
			return err
		}
		accounts, err := tx.LockAccounts(ctx, userID)
		if err != nil {
			return err
		}
		st, err = l.stakeInto(ctx, tx, nodes[nodeID], accounts[userID], amount)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"user_id":  userID,
		"node_id":  nodeID,
		"stake_id": st.ID,
		"amount":   amount.String(),
	}).Info("Стейк создан")
	return st, nil
}

// stakeInto переносит токены со счёта в узел. Узел и счёт уже заблокированы.
func (l *Ledger) stakeInto(ctx context.Context, tx Tx, node *Node, acc *Account, amount decimal.Decimal) (*Stake, error) {
	if node.Status == NodeInactive {
		return nil, common.ErrNodeInactive
	}
	if err := acc.CanDebit(AssetToken, amount); err != nil {
		return nil, err
	}
	if amount.GreaterThan(node.Available()) {
		return nil, fmt.Errorf("%w: свободно %s, запрошено %s", common.ErrNodeFull, node.Available(), amount)
	}

	now := l.now()
	if err := acc.Debit(AssetToken, amount); err != nil {
		return nil, err
	}
	acc.UpdatedAt = now
	if err := tx.UpdateAccount(ctx, acc); err != nil {
		return nil, err
	}

	node.StakedAmount = node.StakedAmount.Add(amount)
	node.refreshStatus()
	node.UpdatedAt = now
	if err := tx.UpdateNode(ctx, node); err != nil {
		return nil, err
	}

	st := &Stake{
		NodeID:       node.ID,
		UserID:       acc.UserID,
		StakedAmount: amount,
		CreatedAt:    now,
		LockDays:     l.params.LockDays,
	}
	if err := tx.CreateStake(ctx, st); err != nil {
		return nil, err
	}

	err := tx.AppendTransaction(ctx, &Transaction{
		FromUserID:  int64Ptr(acc.UserID),
		AssetType:   AssetToken,
		Amount:      amount,
		FeeAmount:   decimal.Zero,
		Type:        TxStake,
		Description: fmt.Sprintf("Стейк в узел #%d", node.ID),
		CreatedAt:   now,
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Unstake снимает стейк пользователя после окончания блокировки.
// Чужой стейк для пользователя не существует (ErrStakeNotFound).
func (l *Ledger) Unstake(ctx context.Context, userID, stakeID int64) (*Stake, error) {
	var st *Stake
	err := l.store.InTx(ctx, func(tx Tx) error {
		var err error
		st, err = l.releaseStake(ctx, tx, stakeID, func(s *Stake) error {
			if s.UserID != userID {
				return common.ErrStakeNotFound
			}
			now := l.now()
			if s.IsLocked(now) {
				days := s.DaysLeft(now)
				return fmt.Errorf("%w: до разблокировки %d %s", common.ErrStakeLocked, days, common.PluralizeDays(days))
			}
			return nil
		}, "Снятие стейка")
		return err
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"user_id":  userID,
		"stake_id": stakeID,
		"amount":   st.StakedAmount.String(),
	}).Info("Стейк снят")
	return st, nil
}

// ForceUnstake снимает стейк узла nodeID без проверки блокировки (админ).
// Повторный вызов по тому же id, как и стейк на другом узле, возвращает
// ErrStakeNotFound.
func (l *Ledger) ForceUnstake(ctx context.Context, nodeID, stakeID int64, reason, actor string) (*Stake, error) {
	reason, err := requireReason(reason)
	if err != nil {
		return nil, err
	}

	var st *Stake
	err = l.store.InTx(ctx, func(tx Tx) error {
		var err error
		st, err = l.releaseStake(ctx, tx, stakeID, func(s *Stake) error {
			if s.NodeID != nodeID {
				return common.ErrStakeNotFound
			}
			return nil
		}, "Принудительное снятие: "+reason)
		if err != nil {
			return err
		}
		target := "stake:" + strconv.FormatInt(stakeID, 10)
		return l.recordAction(ctx, tx, ActionForceUnstake, target, reason, actor)
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"node_id":  nodeID,
		"stake_id": stakeID,
		"user_id":  st.UserID,
		"amount":   st.StakedAmount.String(),
		"actor":    actor,
		"reason":   reason,
	}).Warn("Стейк снят принудительно")
	return st, nil
}

// releaseStake возвращает токены стейка владельцу и удаляет стейк.
// check вызывается на заблокированном стейке до любых изменений.
func (l *Ledger) releaseStake(ctx context.Context, tx Tx, stakeID int64, check func(*Stake) error, description string) (*Stake, error) {
	// Узел блокируется раньше стейка, поэтому сначала читаем стейк без блокировки
	peek, err := tx.GetStake(ctx, stakeID)
	if err != nil {
		return nil, err
	}
	nodes, err := tx.LockNodes(ctx, peek.NodeID)
	if err != nil {
		return nil, err
	}
	st, err := tx.LockStake(ctx, stakeID)
	if err != nil {
		return nil, err
	}
	if st.NodeID != peek.NodeID {
		// Стейк перенесли между чтением и блокировкой
		return nil, common.ErrConcurrencyConflict
	}
	if check != nil {
		if err := check(st); err != nil {
			return nil, err
		}
	}
	accounts, err := tx.LockAccounts(ctx, st.UserID)
	if err != nil {
		return nil, err
	}
	if err := l.returnStake(ctx, tx, st, nodes[st.NodeID], accounts[st.UserID], description); err != nil {
		return nil, err
	}
	return st, nil
}

// returnStake зачисляет токены владельцу, уменьшает узел и удаляет стейк.
func (l *Ledger) returnStake(ctx context.Context, tx Tx, st *Stake, node *Node, acc *Account, description string) error {
	now := l.now()
	if err := acc.Credit(AssetToken, st.StakedAmount); err != nil {
		return err
	}
	acc.UpdatedAt = now
	if err := tx.UpdateAccount(ctx, acc); err != nil {
		return err
	}

	node.StakedAmount = node.StakedAmount.Sub(st.StakedAmount)
	if node.StakedAmount.IsNegative() {
		return fmt.Errorf("узел #%d: застейкано меньше суммы стейка #%d", node.ID, st.ID)
	}
	node.refreshStatus()
	node.UpdatedAt = now
	if err := tx.UpdateNode(ctx, node); err != nil {
		return err
	}

	if err := tx.DeleteStake(ctx, st.ID); err != nil {
		return err
	}

	return tx.AppendTransaction(ctx, &Transaction{
		ToUserID:    int64Ptr(st.UserID),
		AssetType:   AssetToken,
		Amount:      st.StakedAmount,
		FeeAmount:   decimal.Zero,
		Type:        TxUnstake,
		Description: fmt.Sprintf("%s (узел #%d)", description, node.ID),
		CreatedAt:   now,
	})
}

// Reorganize переносит стейк в другой узел (админ). Сумма, владелец и
// исходный created_at сохраняются, так что срок блокировки не сбрасывается.
func (l *Ledger) Reorganize(ctx context.Context, stakeID, targetNodeID int64, reason, actor string) (*Stake, error) {
	reason, err := requireReason(reason)
	if err != nil {
		return nil, err
	}

	var st *Stake
	var sourceID int64
	err = l.store.InTx(ctx, func(tx Tx) error {
		peek, err := tx.GetStake(ctx, stakeID)
		if err != nil {
			return err
		}
		if peek.NodeID == targetNodeID {
			return common.ErrSameNode
		}
		sourceID = peek.NodeID

		nodes, err := tx.LockNodes(ctx, sourceID, targetNodeID)
		if err != nil {
			return err
		}
		st, err = tx.LockStake(ctx, stakeID)
		if err != nil {
			return err
		}
		if st.NodeID != sourceID {
			return common.ErrConcurrencyConflict
		}

		source, target := nodes[sourceID], nodes[targetNodeID]
		if target.Status == NodeInactive {
			return common.ErrNodeInactive
		}
		if st.StakedAmount.GreaterThan(target.Available()) {
			return fmt.Errorf("%w: свободно %s, нужно %s", common.ErrTargetNodeFull, target.Available(), st.StakedAmount)
		}

		now := l.now()
		source.StakedAmount = source.StakedAmount.Sub(st.StakedAmount)
		source.refreshStatus()
		source.UpdatedAt = now
		target.StakedAmount = target.StakedAmount.Add(st.StakedAmount)
		target.refreshStatus()
		target.UpdatedAt = now
		if err := tx.UpdateNode(ctx, source); err != nil {
			return err
		}
		if err := tx.UpdateNode(ctx, target); err != nil {
			return err
		}

		st.NodeID = targetNodeID
		if err := tx.UpdateStake(ctx, st); err != nil {
			return err
		}

		action := fmt.Sprintf("stake:%d node:%d->%d", stakeID, sourceID, targetNodeID)
		return l.recordAction(ctx, tx, ActionReorganize, action, reason, actor)
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"stake_id": stakeID,
		"from":     sourceID,
		"to":       targetNodeID,
		"actor":    actor,
		"reason":   reason,
	}).Info("Стейк перенесён")
	return st, nil
}

// UserStakes возвращает стейки пользователя.
func (l *Ledger) UserStakes(ctx context.Context, userID int64) ([]*Stake, error) {
	return l.listStakes(ctx, StakeFilter{UserID: int64Ptr(userID)})
}

// NodeStakes возвращает стейки узла.
func (l *Ledger) NodeStakes(ctx context.Context, nodeID int64) ([]*Stake, error) {
	return l.listStakes(ctx, StakeFilter{NodeID: int64Ptr(nodeID)})
}

func (l *Ledger) listStakes(ctx context.Context, filter StakeFilter) ([]*Stake, error) {
	var stakes []*Stake
	err := l.store.InTx(ctx, func(tx Tx) error {
		var err error
		stakes, err = tx.ListStakes(ctx, filter)
		return err
	})
	return stakes, err
}
