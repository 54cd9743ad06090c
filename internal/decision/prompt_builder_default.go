package decision

import (
	"fmt"
	"strings"
	"time"

	"aitrader/internal/analysis/indicator"
	"aitrader/internal/feedback"
	"aitrader/internal/gateway/exchange"
	"aitrader/internal/market"
)

// Account 是本轮重新读取的账户状态。
type Account struct {
	Balance   exchange.Balance
	Positions []exchange.Position
}

// Request 是单个 symbol 一次决策所需的全部输入。
type Request struct {
	TraderID    string
	Template    string
	Symbol      string
	Snapshot    market.Snapshot
	Indicators  indicator.Set
	Account     Account
	Metric      feedback.Metric
	Mode        feedback.Mode
	Annotations []string
}

const notAvailable = "n/a"

// BuildUserPrompt 渲染结构化的用户消息：账户、持仓、行情、指标、序列尾部、表现反馈与信号标注。
func BuildUserPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# 交易决策请求 %s\n\n", req.Symbol)

	b.WriteString("## 账户\n")
	bal := req.Account.Balance
	fmt.Fprintf(&b, "- 总权益: %.2f %s\n", bal.Total, orDefault(bal.Asset, "USDT"))
	fmt.Fprintf(&b, "- 可用余额: %.2f\n", bal.Available)
	fmt.Fprintf(&b, "- 持仓数量: %d\n\n", len(req.Account.Positions))

	b.WriteString("## 持仓\n")
	renderPositions(&b, req.Account.Positions, req.Symbol)
	b.WriteString("\n")

	snap := req.Snapshot
	b.WriteString("## 行情\n")
	fmt.Fprintf(&b, "- 最新价: %s\n", fmtPrice(snap.Price()))
	fmt.Fprintf(&b, "- 买一/卖一: %s / %s\n", fmtPrice(snap.Bid), fmtPrice(snap.Ask))
	fmt.Fprintf(&b, "- 资金费率: %s\n", fmtRate(snap.FundingRate))
	fmt.Fprintf(&b, "- 持仓量: %s\n", fmtPrice(snap.OpenInterest))
	if !snap.UpdatedAt.IsZero() {
		fmt.Fprintf(&b, "- 更新时间: %s\n", snap.UpdatedAt.UTC().Format(time.RFC3339))
	}
	b.WriteString("\n")

	ind := req.Indicators
	fmt.Fprintf(&b, "## 短周期指标 (%s)\n", orDefault(snap.ShortInterval, "short"))
	fmt.Fprintf(&b, "- EMA20: %s\n", fmtValue(ind.EMA20))
	fmt.Fprintf(&b, "- EMA50: %s\n", fmtValue(ind.EMA50))
	fmt.Fprintf(&b, "- MACD: %s signal=%s hist=%s\n", fmtValue(ind.MACD.Line), fmtValue(ind.MACD.Signal), fmtValue(ind.MACD.Hist))
	fmt.Fprintf(&b, "- RSI7: %s\n", fmtValue(ind.RSI7))
	fmt.Fprintf(&b, "- RSI14: %s\n", fmtValue(ind.RSI14))
	fmt.Fprintf(&b, "- ATR14: %s\n", fmtValue(ind.ATR14))
	fmt.Fprintf(&b, "- 1h 涨跌: %s\n", fmtPct(ind.Change1h))
	fmt.Fprintf(&b, "- 4h 涨跌: %s\n\n", fmtPct(ind.Change4h))

	fmt.Fprintf(&b, "## 长周期指标 (%s)\n", orDefault(snap.LongInterval, "long"))
	fmt.Fprintf(&b, "- EMA20: %s\n", fmtValue(ind.LongEMA20))
	fmt.Fprintf(&b, "- EMA50: %s\n", fmtValue(ind.LongEMA50))
	fmt.Fprintf(&b, "- ATR3: %s\n", fmtValue(ind.LongATR3))
	fmt.Fprintf(&b, "- ATR14: %s\n", fmtValue(ind.LongATR14))
	fmt.Fprintf(&b, "- RSI14: %s\n", fmtValue(ind.LongRSI14))
	fmt.Fprintf(&b, "- 趋势: %s\n\n", orDefault(ind.Trend, "unknown"))

	b.WriteString("## 序列尾部 (旧 → 新)\n")
	fmt.Fprintf(&b, "- close: %s\n", fmtSeries(ind.Tails.Closes))
	fmt.Fprintf(&b, "- ema20: %s\n", fmtSeries(ind.Tails.EMA20))
	fmt.Fprintf(&b, "- macd: %s\n", fmtSeries(ind.Tails.MACD))
	fmt.Fprintf(&b, "- rsi7: %s\n", fmtSeries(ind.Tails.RSI7))
	fmt.Fprintf(&b, "- rsi14: %s\n\n", fmtSeries(ind.Tails.RSI14))

	b.WriteString("## 表现反馈\n")
	if req.Metric.Valid {
		fmt.Fprintf(&b, "- 近 %d 笔平仓收益比 (mean/stdev): %.3f\n", req.Metric.Samples, req.Metric.Ratio)
	} else {
		fmt.Fprintf(&b, "- 近 %d 笔平仓样本不足，比值 %s\n", req.Metric.Samples, notAvailable)
	}
	fmt.Fprintf(&b, "- 当前模式: %s\n\n", orDefault(string(req.Mode), string(feedback.ModeNormal)))

	if len(req.Annotations) > 0 {
		b.WriteString("## 信号标注\n")
		for _, a := range req.Annotations {
			fmt.Fprintf(&b, "- %s\n", a)
		}
		b.WriteString("\n")
	}

	b.WriteString("## 输出要求\n")
	fmt.Fprintf(&b, "只针对 %s 返回一个 JSON 对象，字段: symbol, action(buy/sell/close/hold/wait), confidence(0-100), reasoning, risk_level(low/medium/high)。\n", req.Symbol)
	return b.String()
}

func renderPositions(b *strings.Builder, positions []exchange.Position, current string) {
	if len(positions) == 0 {
		b.WriteString("- 无持仓\n")
		return
	}
	for _, p := range positions {
		mark := ""
		if p.Symbol == current {
			mark = " (当前币种)"
		}
		pnlPct := 0.0
		if notional := p.EntryPrice * p.Size; notional > 0 {
			pnlPct = p.UnrealizedPnL / notional * 100
		}
		fmt.Fprintf(b, "- %s%s: %s size=%.6g entry=%s mark=%s lev=%dx margin=%s upnl=%+.2f (%+.2f%%)\n",
			p.Symbol, mark, p.Side, p.Size, fmtPrice(p.EntryPrice), fmtPrice(p.MarkPrice),
			p.Leverage, orDefault(string(p.MarginMode), "cross"), p.UnrealizedPnL, pnlPct)
	}
}

func fmtValue(v indicator.Value) string {
	if !v.Valid {
		return notAvailable
	}
	return fmt.Sprintf("%.4f", v.V)
}

func fmtPct(v indicator.Value) string {
	if !v.Valid {
		return notAvailable
	}
	return fmt.Sprintf("%+.2f%%", v.V)
}

func fmtPrice(v float64) string {
	if v <= 0 {
		return notAvailable
	}
	return fmt.Sprintf("%.6g", v)
}

func fmtRate(v float64) string {
	if v == 0 {
		return notAvailable
	}
	return fmt.Sprintf("%.4f%%", v*100)
}

func fmtSeries(series []float64) string {
	if len(series) == 0 {
		return notAvailable
	}
	parts := make([]string, len(series))
	for i, v := range series {
		parts[i] = fmt.Sprintf("%.4g", v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
