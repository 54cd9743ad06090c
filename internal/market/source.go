package market

import "context"

type CandleEvent struct {
	Symbol   string
	Interval string
	Candle   Candle
	Final    bool
}

// Derivatives 是合约维度的补充数据，由 REST 周期刷新。
type Derivatives struct {
	Bid          float64
	Ask          float64
	Last         float64
	OpenInterest float64
	FundingRate  float64
}

type StreamHandlers struct {
	// OnConnect 在整组 symbol 订阅成功后调用一次。
	OnConnect func()
	OnCandle  func(CandleEvent)
}

// Source 是单个交易场所的行情接入。symbol 统一使用内部写法 BASE/QUOTE，
// 由实现自行转换为交易所格式。
type Source interface {
	Name() string

	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	FetchDerivatives(ctx context.Context, symbol string) (Derivatives, error)

	// Stream 以一条连接订阅 symbols × intervals，阻塞直到连接断开或 ctx 结束。
	// 返回 nil 仅表示 ctx 已取消。
	Stream(ctx context.Context, symbols, intervals []string, h StreamHandlers) error
}
