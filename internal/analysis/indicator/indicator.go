package indicator

import (
	"math"
	"time"

	"github.com/markcheno/go-talib"

	"aitrader/internal/market"
	"aitrader/internal/scheduler"
)

// Value 是单个指标的最新值；序列长度不足窗口要求时 Valid=false，V 无意义。
type Value struct {
	V     float64 `json:"v"`
	Valid bool    `json:"valid"`
}

func defined(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Value{}
	}
	return Value{V: v, Valid: true}
}

// EMA 返回 period 周期 EMA 的最新值，要求 len(series) >= period。
func EMA(series []float64, period int) Value {
	out := EMASeries(series, period)
	if len(out) == 0 {
		return Value{}
	}
	return defined(out[len(out)-1])
}

// EMASeries 返回从第一个有效点开始的 EMA 序列；长度不足返回 nil。
func EMASeries(series []float64, period int) []float64 {
	if period <= 0 || len(series) < period {
		return nil
	}
	return sanitize(talib.Ema(series, period)[period-1:])
}

// RSI 使用 Wilder 平滑，要求 len(series) >= period+1。
func RSI(series []float64, period int) Value {
	out := RSISeries(series, period)
	if len(out) == 0 {
		return Value{}
	}
	return defined(out[len(out)-1])
}

func RSISeries(series []float64, period int) []float64 {
	if period <= 1 || len(series) < period+1 {
		return nil
	}
	return sanitize(talib.Rsi(series, period)[period:])
}

// MACDValue 为 MACD 线、信号线与柱体。
type MACDValue struct {
	Line   Value `json:"line"`
	Signal Value `json:"signal"`
	Hist   Value `json:"hist"`
}

// MACD 要求 len(series) >= slow+signal-1。
func MACD(series []float64, fast, slow, signal int) MACDValue {
	line, sig, hist := MACDSeries(series, fast, slow, signal)
	if len(line) == 0 {
		return MACDValue{}
	}
	n := len(line) - 1
	return MACDValue{Line: defined(line[n]), Signal: defined(sig[n]), Hist: defined(hist[n])}
}

func MACDSeries(series []float64, fast, slow, signal int) (line, sig, hist []float64) {
	if fast <= 0 || slow <= fast || signal <= 0 || len(series) < slow+signal-1 {
		return nil, nil, nil
	}
	m, s, h := talib.Macd(series, fast, slow, signal)
	start := slow + signal - 2
	return sanitize(m[start:]), sanitize(s[start:]), sanitize(h[start:])
}

// ATR 使用 Wilder 平滑的真实波幅，要求 len(candles) >= period+1。
func ATR(candles []market.Candle, period int) Value {
	if period <= 0 || len(candles) < period+1 {
		return Value{}
	}
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}
	out := talib.Atr(highs, lows, closes, period)
	return defined(out[len(out)-1])
}

// PctChange 计算最近 bars 根的涨跌幅（百分比），要求 len(series) >= bars+1。
func PctChange(series []float64, bars int) Value {
	if bars <= 0 || len(series) < bars+1 {
		return Value{}
	}
	base := series[len(series)-1-bars]
	if base == 0 {
		return Value{}
	}
	return defined((series[len(series)-1] - base) / base * 100)
}

// Set 是单个 symbol 一轮的指标快照，完全由 Snapshot 推导。
type Set struct {
	Symbol   string    `json:"symbol"`
	Price    float64   `json:"price"`
	EMA20    Value     `json:"ema20"`
	EMA50    Value     `json:"ema50"`
	MACD     MACDValue `json:"macd"`
	RSI7     Value     `json:"rsi7"`
	RSI14    Value     `json:"rsi14"`
	ATR14    Value     `json:"atr14"`
	Change1h Value     `json:"change_1h"`
	Change4h Value     `json:"change_4h"`

	LongEMA20 Value `json:"long_ema20"`
	LongEMA50 Value `json:"long_ema50"`
	LongATR3  Value `json:"long_atr3"`
	LongATR14 Value `json:"long_atr14"`
	LongRSI14 Value `json:"long_rsi14"`

	Trend string `json:"trend"`
	Tails Tails  `json:"tails"`
}

// Tails 是给推理后端看的原始序列尾部。
type Tails struct {
	Closes []float64 `json:"closes"`
	EMA20  []float64 `json:"ema20"`
	MACD   []float64 `json:"macd"`
	RSI7   []float64 `json:"rsi7"`
	RSI14  []float64 `json:"rsi14"`
}

const tailLen = 10

// Compute 计算全部指标。相同的 Snapshot 序列必然得到相同结果。
func Compute(snap market.Snapshot) Set {
	closes := market.Closes(snap.Short)
	longCloses := market.Closes(snap.Long)
	set := Set{
		Symbol:    snap.Symbol,
		Price:     snap.Price(),
		EMA20:     EMA(closes, 20),
		EMA50:     EMA(closes, 50),
		MACD:      MACD(closes, 12, 26, 9),
		RSI7:      RSI(closes, 7),
		RSI14:     RSI(closes, 14),
		ATR14:     ATR(snap.Short, 14),
		Change1h:  PctChange(closes, barsFor(time.Hour, snap.ShortInterval)),
		Change4h:  PctChange(longCloses, barsFor(4*time.Hour, snap.LongInterval)),
		LongEMA20: EMA(longCloses, 20),
		LongEMA50: EMA(longCloses, 50),
		LongATR3:  ATR(snap.Long, 3),
		LongATR14: ATR(snap.Long, 14),
		LongRSI14: RSI(longCloses, 14),
	}
	set.Trend = trend(set)
	macdLine, _, _ := MACDSeries(closes, 12, 26, 9)
	set.Tails = Tails{
		Closes: tail(closes),
		EMA20:  tail(EMASeries(closes, 20)),
		MACD:   tail(macdLine),
		RSI7:   tail(RSISeries(closes, 7)),
		RSI14:  tail(RSISeries(closes, 14)),
	}
	return set
}

// Undefined 返回核心指标中未定义的数量（EMA20/EMA50/MACD/RSI14/ATR14）。
func (s Set) Undefined() int {
	n := 0
	for _, v := range []Value{s.EMA20, s.EMA50, s.MACD.Line, s.RSI14, s.ATR14} {
		if !v.Valid {
			n++
		}
	}
	return n
}

// CoreCount 是 Undefined 统计的核心指标数量。
const CoreCount = 5

func trend(s Set) string {
	fast, slow := s.EMA20, s.EMA50
	if s.LongEMA20.Valid && s.LongEMA50.Valid {
		fast, slow = s.LongEMA20, s.LongEMA50
	}
	if !fast.Valid || !slow.Valid {
		return "unknown"
	}
	switch {
	case fast.V > slow.V && s.Price >= fast.V:
		return "bullish"
	case fast.V < slow.V && s.Price <= fast.V:
		return "bearish"
	default:
		return "neutral"
	}
}

func barsFor(window time.Duration, interval string) int {
	d, ok := scheduler.ParseIntervalDuration(interval)
	if !ok || d <= 0 || d > window {
		return 0
	}
	return int(window / d)
}

func sanitize(src []float64) []float64 {
	out := make([]float64, 0, len(src))
	for _, v := range src {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func tail(series []float64) []float64 {
	if len(series) <= tailLen {
		return append([]float64(nil), series...)
	}
	return append([]float64(nil), series[len(series)-tailLen:]...)
}
