package market

import "time"

// Snapshot 是某个 symbol 在读取时刻的行情副本，交给下游后只读。
type Snapshot struct {
	Symbol        string
	ShortInterval string
	LongInterval  string
	Short         []Candle
	Long          []Candle
	Bid           float64
	Ask           float64
	Last          float64
	Volume        float64
	OpenInterest  float64
	FundingRate   float64
	UpdatedAt     time.Time
	Stale         bool
	// Epoch 为读取时的连接代数，断线重连后递增。
	Epoch uint64
}

// Price 优先使用最新成交价，其次使用短周期最后收盘价。
func (s Snapshot) Price() float64 {
	if s.Last > 0 {
		return s.Last
	}
	if n := len(s.Short); n > 0 {
		return s.Short[n-1].Close
	}
	return 0
}

// Usable 表示快照足以进入分析：未过期且有价格。
func (s Snapshot) Usable() bool {
	return !s.Stale && s.Price() > 0 && len(s.Short) > 0
}
