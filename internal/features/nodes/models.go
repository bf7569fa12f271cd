// Package nodes — HTTP-обработчики узлов и стейков.
// models.go описывает представления узлов и стейков для ответа API.
package nodes

import (
	"time"

	"github.com/shopspring/decimal"

	"serotonyl.ru/altyn-ledger/internal/ledger"
)

// NodeView — узел со свободной ёмкостью и заполненностью.
type NodeView struct {
	*ledger.Node
	Available   decimal.Decimal `json:"available_capacity"`
	FillPercent decimal.Decimal `json:"fill_percent"`
}

// StakeView — стейк со сроком разблокировки.
type StakeView struct {
	*ledger.Stake
	UnlockAt time.Time `json:"unlock_at"`
	IsLocked bool      `json:"is_locked"`
	DaysLeft int       `json:"days_left"`
}

func nodeView(n *ledger.Node) *NodeView {
	if n == nil {
		return nil
	}
	return &NodeView{Node: n, Available: n.Available(), FillPercent: n.FillPercent()}
}

func nodeViews(list []*ledger.Node) []*NodeView {
	out := make([]*NodeView, 0, len(list))
	for _, n := range list {
		out = append(out, nodeView(n))
	}
	return out
}

func stakeView(s *ledger.Stake, now time.Time) *StakeView {
	if s == nil {
		return nil
	}
	return &StakeView{Stake: s, UnlockAt: s.UnlockAt(), IsLocked: s.IsLocked(now), DaysLeft: s.DaysLeft(now)}
}

func stakeViews(list []*ledger.Stake, now time.Time) []*StakeView {
	out := make([]*StakeView, 0, len(list))
	for _, s := range list {
		out = append(out, stakeView(s, now))
	}
	return out
}
