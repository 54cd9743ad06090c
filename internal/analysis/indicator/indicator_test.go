package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aitrader/internal/market"
)

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func wave(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + 5*math.Sin(float64(i)/3) + float64(i)*0.1
	}
	return out
}

func candlesFrom(closes []float64, spread float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i] = market.Candle{OpenTime: int64(i) * 180_000, Open: c, High: c + spread, Low: c - spread, Close: c, Volume: 1}
	}
	return out
}

func TestUndefinedWhenSeriesTooShort(t *testing.T) {
	cases := []struct {
		name string
		got  Value
	}{
		{"ema", EMA(ramp(19, 1, 1), 20)},
		{"rsi", RSI(ramp(14, 1, 1), 14)},
		{"atr", ATR(candlesFrom(ramp(14, 1, 1), 1), 14)},
		{"macd", MACD(ramp(33, 1, 1), 12, 26, 9).Line},
		{"pct", PctChange(ramp(20, 1, 1), 20)},
		{"empty", EMA(nil, 20)},
	}
	for _, tc := range cases {
		assert.False(t, tc.got.Valid, tc.name)
	}
	assert.True(t, EMA(ramp(20, 1, 1), 20).Valid)
	assert.True(t, RSI(ramp(15, 1, 1), 14).Valid)
	assert.True(t, ATR(candlesFrom(ramp(15, 1, 1), 1), 14).Valid)
	assert.True(t, MACD(ramp(34, 1, 1), 12, 26, 9).Line.Valid)
	assert.True(t, PctChange(ramp(21, 1, 1), 20).Valid)
}

func TestKnownValues(t *testing.T) {
	flat := make([]float64, 60)
	for i := range flat {
		flat[i] = 42
	}
	assert.InDelta(t, 42, EMA(flat, 20).V, 1e-9)
	assert.InDelta(t, 100, RSI(ramp(30, 1, 1), 14).V, 1e-9)
	assert.InDelta(t, 0, RSI(ramp(30, 100, -1), 14).V, 1e-9)
	assert.InDelta(t, 4, ATR(candlesFrom(flat, 2), 14).V, 1e-9)
	assert.InDelta(t, 10, PctChange([]float64{100, 105, 110}, 2).V, 1e-9)
	assert.InDelta(t, 0, MACD(flat, 12, 26, 9).Line.V, 1e-9)

	up := MACD(ramp(60, 100, 1), 12, 26, 9)
	require.True(t, up.Line.Valid)
	assert.Greater(t, up.Line.V, 0.0)
}

func TestDeterministic(t *testing.T) {
	closes := wave(120)
	snap := market.Snapshot{
		Symbol:        "BTC/USDT",
		ShortInterval: "3m",
		LongInterval:  "4h",
		Short:         candlesFrom(closes, 0.5),
		Long:          candlesFrom(wave(60), 3),
	}
	first := Compute(snap)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Compute(snap))
	}
	// 输入未被修改
	assert.Equal(t, wave(120), market.Closes(snap.Short))
	assert.Equal(t, 0, first.Undefined())
	assert.True(t, first.Change1h.Valid)
	assert.True(t, first.Change4h.Valid)
	assert.Len(t, first.Tails.Closes, tailLen)
}

func TestComputeShortSnapshot(t *testing.T) {
	snap := market.Snapshot{Symbol: "DOGE/USDT", ShortInterval: "3m", LongInterval: "4h", Short: candlesFrom(ramp(10, 1, 0.1), 0.01)}
	set := Compute(snap)
	assert.Equal(t, CoreCount, set.Undefined())
	assert.Equal(t, "unknown", set.Trend)
	assert.False(t, set.Change4h.Valid)
	assert.Empty(t, set.Tails.EMA20)
}

func TestTrend(t *testing.T) {
	snap := market.Snapshot{
		Symbol: "BTC/USDT", ShortInterval: "3m", LongInterval: "4h",
		Short: candlesFrom(ramp(100, 100, 1), 1),
	}
	assert.Equal(t, "bullish", Compute(snap).Trend)
	snap.Short = candlesFrom(ramp(100, 300, -1), 1)
	assert.Equal(t, "bearish", Compute(snap).Trend)
}
