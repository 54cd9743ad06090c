package trader

import (
	"context"
	"encoding/json"
	"time"

	"aitrader/internal/analysis/indicator"
	"aitrader/internal/feedback"
	"aitrader/internal/gateway/exchange"
	"aitrader/internal/store"
)

// cycleAction 是整轮级别日志的 action 占位。
const cycleAction = "none"

// decisionSnapshot 是写入 DecisionLog.Snapshot 的决策输入摘要。
type decisionSnapshot struct {
	Price      float64        `json:"price"`
	Stale      bool           `json:"stale"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Indicators indicator.Set  `json:"indicators"`
	Gate       feedback.Mode  `json:"gate"`
	Threshold  int            `json:"threshold"`
	Ratio      float64        `json:"ratio"`
	RatioValid bool           `json:"ratio_valid"`
	Sources    []string       `json:"sources,omitempty"`
	Balance    float64        `json:"available_balance"`
	Position   *positionBrief `json:"position,omitempty"`
}

type positionBrief struct {
	Side  exchange.Side `json:"side"`
	Size  float64       `json:"size"`
	Entry float64       `json:"entry"`
}

func (w *Worker) symbolLog(cc *cycleContext, sym string, result store.CycleResult, note string) store.DecisionLog {
	d := cc.decisions[sym]
	snap := cc.snapshots[sym]
	rec := store.DecisionLog{
		TraderID:   w.cfg.ID,
		CycleID:    cc.id,
		Symbol:     sym,
		Action:     string(d.Action),
		Confidence: float64(d.Confidence) / 100,
		Reasoning:  d.Reasoning,
		RiskLevel:  string(d.RiskLevel),
		Note:       joinNotes(d.Note, note),
		Result:     result,
		Epoch:      cc.epoch,
		CreatedAt:  w.now(),
	}
	body := decisionSnapshot{
		Price:      snap.Price(),
		Stale:      snap.Stale,
		UpdatedAt:  snap.UpdatedAt,
		Indicators: cc.indicators[sym],
		Gate:       cc.verdict.Mode,
		Threshold:  cc.verdict.Threshold,
		Ratio:      cc.metric.Ratio,
		RatioValid: cc.metric.Valid,
		Sources:    cc.candidates.Sources[sym],
		Balance:    cc.account.Balance.Available,
	}
	if pos, ok := exchange.FindPosition(cc.account.Positions, sym); ok {
		body.Position = &positionBrief{Side: pos.Side, Size: pos.Size, Entry: pos.EntryPrice}
	}
	if raw, err := json.Marshal(body); err == nil {
		rec.Snapshot = raw
	} else {
		cc.scope.Warnf("序列化决策快照失败 %s: %v", sym, err)
	}
	return rec
}

// flush 写出本轮的决策日志：逐 symbol 各一条，没有评估任何 symbol 时写一条整轮日志。
func (w *Worker) flush(ctx context.Context, cc *cycleContext) {
	logs := cc.logs
	if len(logs) == 0 {
		if cc.cycleLog == nil {
			cc.conclude(store.ResultFailed, "cycle ended without evaluating any symbol")
		}
		rec := *cc.cycleLog
		rec.TraderID = w.cfg.ID
		rec.CycleID = cc.id
		rec.CreatedAt = w.now()
		logs = []store.DecisionLog{rec}
	}
	for i := range logs {
		if err := w.deps.Sink.AppendDecision(ctx, &logs[i]); err != nil {
			cc.scope.Errorf("写入决策日志失败 %s: %v", logs[i].Symbol, err)
		}
	}
}

// recordSkip 为被丢弃的 tick 写一条整轮 skipped 日志。
func (w *Worker) recordSkip(ctx context.Context, at time.Time) {
	rec := store.DecisionLog{
		TraderID:  w.cfg.ID,
		CycleID:   w.newID(),
		Symbol:    store.CycleSymbol,
		Action:    cycleAction,
		Result:    store.ResultSkipped,
		Note:      "previous cycle still running",
		Epoch:     w.deps.Feed.Epoch(),
		CreatedAt: at,
	}
	if err := w.deps.Sink.AppendDecision(ctx, &rec); err != nil {
		w.scope.Errorf("写入 skipped 日志失败: %v", err)
	}
}

// tradeRecord 平仓成交时按持仓方向与杠杆计算 ReturnRatio，供表现反馈使用。
func (w *Worker) tradeRecord(cc *cycleContext, plan exchange.OrderPlan, pos exchange.Position, res exchange.ExecutionResult) store.TradeRecord {
	rec := store.TradeRecord{
		TraderID:      w.cfg.ID,
		CycleID:       cc.id,
		Venue:         w.cfg.Venue,
		Symbol:        plan.Symbol,
		Kind:          string(plan.Kind),
		Side:          string(plan.Kind.Side()),
		ClientOrderID: plan.ID,
		OrderID:       res.OrderID,
		Size:          plan.Size,
		FilledSize:    res.FilledSize,
		FillPrice:     res.FillPrice,
		Leverage:      plan.Leverage,
		Status:        store.TradeFilled,
		CreatedAt:     w.now(),
	}
	if res.Err != nil {
		rec.Status = store.TradeFailed
		rec.Error = res.Err.Error()
		return rec
	}
	if plan.Kind.IsOpen() {
		rec.EntryPrice = res.FillPrice
		return rec
	}
	rec.EntryPrice = pos.EntryPrice
	rec.Closed = true
	rec.ReturnRatio = feedback.ReturnRatio(pos.Side.Sign(), pos.EntryPrice, res.FillPrice, pos.Leverage)
	return rec
}

func joinNotes(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "; " + b
	}
}
