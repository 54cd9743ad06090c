// Package trader 驱动单个交易代理的周期：选币 → 采集 → 指标 → 决策 → 风控 → 执行。
package trader

import (
	"context"
	"time"

	"aitrader/internal/coins"
	"aitrader/internal/config"
	"aitrader/internal/decision"
	"aitrader/internal/feedback"
	"aitrader/internal/gateway/exchange"
	"aitrader/internal/market"
	"aitrader/internal/store"
)

// State 是 worker 的生命周期状态；halted 为终态。
type State string

const (
	StateIdle       State = "idle"
	StateCollecting State = "collecting"
	StateAnalyzing  State = "analyzing"
	StateDeciding   State = "deciding"
	StateExecuting  State = "executing"
	StateHalted     State = "halted"
)

// Status 是 worker 的只读快照，供运维接口展示。
type Status struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Venue       string        `json:"venue"`
	Backend     string        `json:"backend"`
	State       State         `json:"state"`
	Symbols     []string      `json:"symbols"`
	Cycles      int64         `json:"cycles"`
	Skipped     int64         `json:"skipped"`
	LastCycleAt time.Time     `json:"last_cycle_at"`
	LastError   string        `json:"last_error,omitempty"`
	Gate        feedback.Mode `json:"gate"`
	HaltReason  string        `json:"halt_reason,omitempty"`
}

// MarketFeed 是 worker 对共享行情采集器的只读视图：只能订阅与读取快照。
type MarketFeed interface {
	Subscribe(ctx context.Context, symbols []string) (<-chan market.Update, func(), error)
	GetSnapshot(symbol string) (market.Snapshot, bool)
	Epoch() uint64
}

type CandidateSource interface {
	Select(ctx context.Context) coins.CandidateSet
}

// Deps 是构造 Worker 所需的全部协作者，由 app 层按配置装配。
type Deps struct {
	Config     config.TraderConfig
	Policy     feedback.Policy
	Execution  config.ExecutionConfig
	Risk       config.RiskConfig
	Feed       MarketFeed
	Candidates CandidateSource
	Decider    decision.Decider
	Executor   *exchange.Executor
	Sink       store.Sink
	// Lookback 为计算表现指标读取的最近平仓笔数。
	Lookback int
	// Concurrency 限制单轮内并发决策的 symbol 数。
	Concurrency int
}
