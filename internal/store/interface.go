// Package store 定义交易记录与决策日志的持久化接口。
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound 查询无结果。
var ErrNotFound = errors.New("store: record not found")

type TradeStatus string

const (
	TradePending   TradeStatus = "pending"
	TradeFilled    TradeStatus = "filled"
	TradeCancelled TradeStatus = "cancelled"
	TradeFailed    TradeStatus = "failed"
)

// TradeRecord 是一次订单计划的执行结果。平仓成交时 Closed=true 并带 ReturnRatio。
type TradeRecord struct {
	ID            string      `json:"id"`
	TraderID      string      `json:"trader_id"`
	CycleID       string      `json:"cycle_id"`
	Venue         string      `json:"venue"`
	Symbol        string      `json:"symbol"`
	Kind          string      `json:"kind"`
	Side          string      `json:"side"`
	ClientOrderID string      `json:"client_order_id"`
	OrderID       string      `json:"order_id,omitempty"`
	Size          float64     `json:"size"`
	FilledSize    float64     `json:"filled_size"`
	FillPrice     float64     `json:"fill_price"`
	EntryPrice    float64     `json:"entry_price,omitempty"`
	Leverage      int         `json:"leverage"`
	Status        TradeStatus `json:"status"`
	Closed        bool        `json:"closed"`
	ReturnRatio   float64     `json:"return_ratio"`
	Error         string      `json:"error,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// CycleResult 描述一轮对某个 symbol（或整轮 "*"）的处理结果。
type CycleResult string

const (
	ResultExecuted CycleResult = "executed"
	ResultHeld     CycleResult = "held"
	ResultGated    CycleResult = "gated"
	ResultFailed   CycleResult = "failed"
	ResultSkipped  CycleResult = "skipped"
	ResultHalted   CycleResult = "halted"
)

// CycleSymbol 是整轮级别日志使用的 symbol 占位。
const CycleSymbol = "*"

// DecisionLog 每轮每个被评估的 symbol 一条；Confidence 为 0..1。
type DecisionLog struct {
	ID         string          `json:"id"`
	TraderID   string          `json:"trader_id"`
	CycleID    string          `json:"cycle_id"`
	Symbol     string          `json:"symbol"`
	Action     string          `json:"action"`
	Confidence float64         `json:"confidence"`
	Reasoning  string          `json:"reasoning,omitempty"`
	RiskLevel  string          `json:"risk_level,omitempty"`
	Note       string          `json:"note,omitempty"`
	Result     CycleResult     `json:"result"`
	Epoch      uint64          `json:"epoch"`
	Snapshot   json.RawMessage `json:"snapshot,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Sink 是 trader 与运维接口共用的存储能力。
type Sink interface {
	AppendTrade(ctx context.Context, rec *TradeRecord) error
	AppendDecision(ctx context.Context, rec *DecisionLog) error
	// RecentClosedTrades 返回最近 n 笔已成交的平仓记录，按时间倒序。
	RecentClosedTrades(ctx context.Context, traderID string, n int) ([]TradeRecord, error)
	// RecentDecisions 返回最近 n 条决策日志，按时间倒序。
	RecentDecisions(ctx context.Context, traderID string, n int) ([]DecisionLog, error)
	// LastDecision 没有记录时返回 ErrNotFound。
	LastDecision(ctx context.Context, traderID string) (DecisionLog, error)
}
