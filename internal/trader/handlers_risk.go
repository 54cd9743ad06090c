package trader

import (
	"fmt"

	"aitrader/internal/config"
	"aitrader/internal/decision"
	"aitrader/internal/gateway/exchange"
	"aitrader/internal/pkg/symbol"
)

// RiskCheck 在下单前复核开仓计划。平仓计划总是放行。
// 零值上限视为不限制。
type RiskCheck struct {
	Limits config.RiskConfig
}

// usedMargin 估算现有持仓占用的保证金：名义价值 / 杠杆。
func usedMargin(positions []exchange.Position) float64 {
	var used float64
	for _, p := range positions {
		px := p.MarkPrice
		if px <= 0 {
			px = p.EntryPrice
		}
		lev := p.Leverage
		if lev <= 0 {
			lev = 1
		}
		used += p.Size * px / float64(lev)
	}
	return used
}

// Review 校验开仓后的保证金占用率与单仓名义价值。
// pending 为本轮已批准但尚未成交的开仓保证金，按同一账户快照累计。
func (r RiskCheck) Review(plan exchange.OrderPlan, acct decision.Account, pending float64) (margin float64, ok bool, reason string) {
	if !plan.Kind.IsOpen() {
		return 0, true, ""
	}
	equity := acct.Balance.Total
	if equity <= 0 {
		return 0, false, "risk: account equity unavailable"
	}
	notional := plan.Size * plan.RefPrice
	lev := plan.Leverage
	if lev <= 0 {
		lev = 1
	}
	margin = notional / float64(lev)

	multiple := r.Limits.AltPositionMultiple
	if symbol.Parse(plan.Symbol).IsMajor() {
		multiple = r.Limits.MajorPositionMultiple
	}
	if multiple > 0 && notional > equity*multiple {
		return 0, false, fmt.Sprintf("risk: position value %.2f exceeds %.1fx equity (%.2f)", notional, multiple, equity*multiple)
	}
	if limit := r.Limits.MaxMarginUsage; limit > 0 {
		usage := (usedMargin(acct.Positions) + pending + margin) / equity
		if usage > limit {
			return 0, false, fmt.Sprintf("risk: margin usage %.1f%% exceeds %.0f%%", usage*100, limit*100)
		}
	}
	return margin, true, ""
}
