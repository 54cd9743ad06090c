package trader

import (
	"fmt"

	"aitrader/internal/config"
	"aitrader/internal/decision"
	"aitrader/internal/gateway/exchange"
	"aitrader/internal/pkg/symbol"

	"github.com/google/uuid"
)

// Planner 把一条可执行的 Decision 翻译成场所无关的 OrderPlan。
type Planner struct {
	Trader    config.TraderConfig
	Execution config.ExecutionConfig
	newID     func() string
}

func NewPlanner(t config.TraderConfig, e config.ExecutionConfig) Planner {
	return Planner{Trader: t, Execution: e, newID: uuid.NewString}
}

// Leverage 主流币（BTC/ETH）与山寨币使用不同杠杆。
func (p Planner) Leverage(sym string) int {
	if symbol.Parse(sym).IsMajor() {
		return p.Trader.MajorLeverage
	}
	return p.Trader.AltLeverage
}

// Plan 按当前持仓推导计划：反向信号先平仓，同向已有持仓不加仓。
// ok=false 时 reason 说明为什么无需下单。
func (p Planner) Plan(d decision.Decision, price float64, bal exchange.Balance, positions []exchange.Position) (plan exchange.OrderPlan, ok bool, reason string) {
	pos, hasPos := exchange.FindPosition(positions, d.Symbol)
	var kind exchange.PlanKind
	switch d.Action {
	case decision.ActionBuy:
		switch {
		case !hasPos:
			kind = exchange.PlanOpenLong
		case pos.Side == exchange.SideShort:
			kind = exchange.PlanCloseShort
		default:
			return plan, false, "已有多仓，不加仓"
		}
	case decision.ActionSell:
		switch {
		case !hasPos:
			kind = exchange.PlanOpenShort
		case pos.Side == exchange.SideLong:
			kind = exchange.PlanCloseLong
		default:
			return plan, false, "已有空仓，不加仓"
		}
	case decision.ActionClose:
		if !hasPos {
			return plan, false, "无持仓可平"
		}
		kind = exchange.PlanCloseLong
		if pos.Side == exchange.SideShort {
			kind = exchange.PlanCloseShort
		}
	default:
		return plan, false, fmt.Sprintf("action %s 不下单", d.Action)
	}

	newID := p.newID
	if newID == nil {
		newID = uuid.NewString
	}
	plan = exchange.OrderPlan{
		ID:       newID(),
		Kind:     kind,
		Symbol:   d.Symbol,
		Slippage: p.Execution.Slippage,
		RefPrice: price,
	}
	if kind.IsClose() {
		plan.Size = pos.Size
		plan.Leverage = pos.Leverage
		return plan, true, ""
	}
	plan.Leverage = p.Leverage(d.Symbol)
	plan.MarginMode = exchange.MarginMode(p.Trader.MarginMode)
	plan.Size = exchange.SizeFromMargin(bal.Available, p.Trader.PositionPct, plan.Leverage, price)
	if plan.Size <= 0 {
		return plan, false, "可用保证金不足"
	}
	return plan, true, ""
}
