package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// AuditReport — результат проверки инвариантов леджера.
type AuditReport struct {
	CheckedAt     time.Time       `json:"checked_at"`
	TokenSupply   decimal.Decimal `json:"token_supply"`
	TokensOnHand  decimal.Decimal `json:"tokens_on_hand"`
	TokensStaked  decimal.Decimal `json:"tokens_staked"`
	SupplyOK      bool            `json:"supply_ok"`
	Accounts      int             `json:"accounts"`
	Nodes         int             `json:"nodes"`
	Stakes        int             `json:"stakes"`
	Problems      []string        `json:"problems"`
	CollectedFees decimal.Decimal `json:"collected_fees"`
}

// OK сообщает, что нарушений не найдено.
func (r *AuditReport) OK() bool {
	return len(r.Problems) == 0
}

// Audit проверяет сохранение эмиссии токенов, согласованность узлов со
// стейками и неотрицательность балансов. Ничего не меняет.
func (l *Ledger) Audit(ctx context.Context) (*AuditReport, error) {
	var (
		accounts []*Account
		nodes    []*Node
		stakes   []*Stake
		treasury *Treasury
	)
	err := l.store.InTx(ctx, func(tx Tx) error {
		var err error
		if nodes, err = tx.ListNodes(ctx, NodeFilter{}); err != nil {
			return err
		}
		if stakes, err = tx.ListStakes(ctx, StakeFilter{}); err != nil {
			return err
		}
		if accounts, err = tx.ListAccounts(ctx); err != nil {
			return err
		}
		treasury, err = tx.GetTreasury(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	report := checkInvariants(accounts, nodes, stakes, treasury)
	report.CheckedAt = l.now()

	entry := log.WithFields(log.Fields{
		"accounts": report.Accounts,
		"nodes":    report.Nodes,
		"stakes":   report.Stakes,
	})
	if report.OK() {
		entry.Debug("Аудит леджера пройден")
	} else {
		entry.WithField("problems", report.Problems).Error("Аудит леджера нашёл нарушения")
	}
	return report, nil
}

func checkInvariants(accounts []*Account, nodes []*Node, stakes []*Stake, treasury *Treasury) *AuditReport {
	r := &AuditReport{
		TokenSupply:   treasury.TokenSupply,
		TokensOnHand:  decimal.Zero,
		TokensStaked:  decimal.Zero,
		CollectedFees: treasury.CollectedFees,
		Accounts:      len(accounts),
		Nodes:         len(nodes),
		Stakes:        len(stakes),
		Problems:      []string{},
	}

	for _, a := range accounts {
		r.TokensOnHand = r.TokensOnHand.Add(a.TokenBalance)
		if a.CoinBalance.IsNegative() || a.TokenBalance.IsNegative() {
			r.Problems = append(r.Problems, fmt.Sprintf("счёт %d: отрицательный баланс (COIN %s, TOKEN %s)",
				a.UserID, a.CoinBalance, a.TokenBalance))
		}
	}

	perNode := make(map[int64]decimal.Decimal, len(nodes))
	known := make(map[int64]bool, len(nodes))
	for _, n := range nodes {
		known[n.ID] = true
	}
	for _, s := range stakes {
		r.TokensStaked = r.TokensStaked.Add(s.StakedAmount)
		if !known[s.NodeID] {
			r.Problems = append(r.Problems, fmt.Sprintf("стейк %d: узел %d не существует", s.ID, s.NodeID))
			continue
		}
		perNode[s.NodeID] = perNode[s.NodeID].Add(s.StakedAmount)
	}

	for _, n := range nodes {
		if !n.StakedAmount.Equal(perNode[n.ID]) {
			r.Problems = append(r.Problems, fmt.Sprintf("узел %d: staked_amount %s, сумма стейков %s",
				n.ID, n.StakedAmount, perNode[n.ID]))
		}
		if n.StakedAmount.GreaterThan(n.TotalCapacity) {
			r.Problems = append(r.Problems, fmt.Sprintf("узел %d: переполнен (%s из %s)",
				n.ID, n.StakedAmount, n.TotalCapacity))
		}
	}

	total := r.TokensOnHand.Add(r.TokensStaked)
	r.SupplyOK = total.Equal(treasury.TokenSupply)
	if !r.SupplyOK {
		r.Problems = append(r.Problems, fmt.Sprintf("эмиссия: на счетах и в стейках %s, ожидается %s",
			total, treasury.TokenSupply))
	}
	if treasury.CollectedFees.IsNegative() {
		r.Problems = append(r.Problems, "казначейство: отрицательные собранные комиссии")
	}
	return r
}
