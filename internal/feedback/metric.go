// Package feedback 根据 trader 最近的平仓收益计算风险调整后的表现，并据此收紧或放松开仓门槛。
package feedback

import (
	"math"
	"time"
)

// Metric 是最近若干笔平仓收益的 mean/stdev 比值。
type Metric struct {
	Ratio       float64   `json:"ratio"`
	Valid       bool      `json:"valid"`
	Samples     int       `json:"samples"`
	LastTradeAt time.Time `json:"last_trade_at"`
}

// Compute 使用样本标准差（n-1）；少于 2 笔或标准差为 0 时无效。
func Compute(returns []float64) Metric {
	m := Metric{Samples: len(returns)}
	if len(returns) < 2 {
		return m
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))
	var ss float64
	for _, r := range returns {
		d := r - mean
		ss += d * d
	}
	std := math.Sqrt(ss / float64(len(returns)-1))
	if std == 0 || math.IsNaN(std) {
		return m
	}
	m.Ratio = mean / std
	m.Valid = true
	return m
}

// ReturnRatio 计算平仓成交相对开仓价的杠杆收益率，空头取反。
func ReturnRatio(sign, entry, fill float64, leverage int) float64 {
	if entry <= 0 || fill <= 0 {
		return 0
	}
	if leverage <= 0 {
		leverage = 1
	}
	return sign * (fill - entry) / entry * float64(leverage)
}
