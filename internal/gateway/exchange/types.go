// Package exchange 定义与具体交易场所无关的下单/持仓抽象。
// CEX（binance）与 DEX（hyperliquid）都实现同一套 Venue 能力集。
package exchange

import (
	"time"
)

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Sign 多头为 +1，空头为 -1。
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

type MarginMode string

const (
	MarginCross    MarginMode = "cross"
	MarginIsolated MarginMode = "isolated"
)

// Position 是交易所报告的持仓，每轮重新读取，不做跨周期缓存。
type Position struct {
	Symbol        string     `json:"symbol"`
	Side          Side       `json:"side"`
	Size          float64    `json:"size"`
	EntryPrice    float64    `json:"entry_price"`
	MarkPrice     float64    `json:"mark_price"`
	Leverage      int        `json:"leverage"`
	MarginMode    MarginMode `json:"margin_mode"`
	UnrealizedPnL float64    `json:"unrealized_pnl"`
}

type Balance struct {
	Asset     string    `json:"asset"`
	Total     float64   `json:"total"`
	Available float64   `json:"available"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Rules 是交易所对某个 symbol 的数量精度约束。
type Rules struct {
	StepSize    float64
	MinQty      float64
	MinNotional float64
}

// OrderRequest 是发往 Venue 的市价单请求；ClientID 在重试间保持不变。
type OrderRequest struct {
	ClientID string
	Symbol   string
	Size     float64
	Leverage int
	// RefPrice/Slippage 供需要限价保护的场所（IOC 限价模拟市价）使用。
	RefPrice float64
	Slippage float64
}

type OrderResult struct {
	OrderID    string
	FillPrice  float64
	FilledSize float64
}

type PlanKind string

const (
	PlanOpenLong   PlanKind = "open_long"
	PlanOpenShort  PlanKind = "open_short"
	PlanCloseLong  PlanKind = "close_long"
	PlanCloseShort PlanKind = "close_short"
	PlanCancelAll  PlanKind = "cancel_all"
)

func (k PlanKind) IsOpen() bool {
	return k == PlanOpenLong || k == PlanOpenShort
}

func (k PlanKind) IsClose() bool {
	return k == PlanCloseLong || k == PlanCloseShort
}

// Side 返回计划涉及的持仓方向。
func (k PlanKind) Side() Side {
	switch k {
	case PlanOpenShort, PlanCloseShort:
		return SideShort
	default:
		return SideLong
	}
}

// OrderPlan 是由 Decision 推导出的场所无关订单计划，创建后立即消费，不做保留。
type OrderPlan struct {
	ID         string     `json:"id"`
	Kind       PlanKind   `json:"kind"`
	Symbol     string     `json:"symbol"`
	Size       float64    `json:"size"`
	Leverage   int        `json:"leverage"`
	MarginMode MarginMode `json:"margin_mode"`
	Slippage   float64    `json:"slippage"`
	RefPrice   float64    `json:"ref_price"`
}

type ExecutionResult struct {
	Accepted   bool
	OrderID    string
	FillPrice  float64
	FilledSize float64
	Err        error
}
