package livehttp

import (
	"context"

	"aitrader/internal/market"
	"aitrader/internal/store"
	"aitrader/internal/trader"
)

// TraderLister 由 trader.Registry 实现。
type TraderLister interface {
	List() []trader.Status
}

// DecisionReader 是 store.Sink 的只读子集。
type DecisionReader interface {
	RecentDecisions(ctx context.Context, traderID string, n int) ([]store.DecisionLog, error)
	LastDecision(ctx context.Context, traderID string) (store.DecisionLog, error)
}

// CollectorStatsFunc 返回按行情源名称索引的采集器状态。
type CollectorStatsFunc func() map[string]market.CollectorStats
