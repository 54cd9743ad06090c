package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"aitrader/internal/analysis/indicator"
	"aitrader/internal/coins"
	"aitrader/internal/decision"
	"aitrader/internal/feedback"
	"aitrader/internal/gateway/exchange"
	"aitrader/internal/logger"
	"aitrader/internal/market"
	"aitrader/internal/store"

	"golang.org/x/sync/errgroup"
)

// ErrPlanInFlight 同一 symbol 已有执行中的计划。
var ErrPlanInFlight = errors.New("order plan already in flight")

// cycleContext 承载一轮内各阶段之间传递的数据，只在本轮内有效。
type cycleContext struct {
	id        string
	startedAt time.Time
	scope     logger.Scope

	candidates coins.CandidateSet
	epoch      uint64
	account    decision.Account
	metric     feedback.Metric
	verdict    feedback.Verdict

	snapshots  map[string]market.Snapshot
	indicators map[string]indicator.Set
	decisions  map[string]decision.Decision
	outcomes   map[string]planOutcome

	logs     []store.DecisionLog
	cycleLog *store.DecisionLog
	err      string
}

// fail 记录整轮级别的失败；已有逐 symbol 日志时只保留错误信息。
func (cc *cycleContext) fail(note string) {
	cc.conclude(store.ResultFailed, note)
}

func (cc *cycleContext) conclude(result store.CycleResult, note string) {
	cc.err = note
	if len(cc.logs) > 0 {
		return
	}
	cc.cycleLog = &store.DecisionLog{
		Symbol: store.CycleSymbol,
		Action: cycleAction,
		Result: result,
		Note:   note,
		Epoch:  cc.epoch,
	}
}

// planOutcome 是复核阶段对单个 symbol 的结论；result 非空时不下单。
type planOutcome struct {
	plan   exchange.OrderPlan
	result store.CycleResult
	note   string
}

type stage struct {
	name  string
	state State
	run   func(context.Context, *cycleContext) bool
}

// stages 是固定的阶段序列；任一阶段返回 false 即结束本轮。
func (w *Worker) stages() []stage {
	return []stage{
		{name: "select", state: StateCollecting, run: w.selectCandidates},
		{name: "collect", state: StateCollecting, run: w.collect},
		{name: "analyze", state: StateAnalyzing, run: w.analyze},
		{name: "decide", state: StateDeciding, run: w.decide},
		{name: "review", state: StateDeciding, run: w.review},
		{name: "execute", state: StateExecuting, run: w.execute},
	}
}

func (w *Worker) selectCandidates(ctx context.Context, cc *cycleContext) bool {
	cc.candidates = w.deps.Candidates.Select(ctx)
	if len(cc.candidates.Symbols) == 0 {
		cc.conclude(store.ResultHeld, "no candidates")
		return false
	}
	w.mu.Lock()
	w.symbols = append([]string(nil), cc.candidates.Symbols...)
	w.mu.Unlock()
	return true
}

func (w *Worker) collect(ctx context.Context, cc *cycleContext) bool {
	w.ensureSubscribed(ctx, cc, cc.candidates.Symbols)
	cc.epoch = w.deps.Feed.Epoch()

	if err := w.fetchAccount(ctx, cc); err != nil {
		w.onAccountError(cc, err)
		return false
	}
	w.mu.Lock()
	w.connFails = 0
	w.mu.Unlock()

	cc.metric = w.loadMetric(ctx, cc)
	cc.snapshots = make(map[string]market.Snapshot, len(cc.candidates.Symbols))
	for _, sym := range cc.candidates.Symbols {
		snap, ok := w.deps.Feed.GetSnapshot(sym)
		if !ok {
			snap = market.Snapshot{Symbol: sym, Stale: true}
		}
		cc.snapshots[sym] = snap
	}
	return true
}

func (w *Worker) fetchAccount(ctx context.Context, cc *cycleContext) error {
	exec := w.deps.Executor
	venue := exec.Venue()
	var bal exchange.Balance
	if err := exec.Call(ctx, "balance", func(c context.Context) (err error) {
		bal, err = venue.GetBalance(c)
		return err
	}); err != nil {
		return fmt.Errorf("get balance: %w", err)
	}
	var positions []exchange.Position
	if err := exec.Call(ctx, "positions", func(c context.Context) (err error) {
		positions, err = venue.GetPositions(c)
		return err
	}); err != nil {
		return fmt.Errorf("get positions: %w", err)
	}
	cc.account = decision.Account{Balance: bal, Positions: positions}
	return nil
}

// onAccountError 致命错误立即 halted；其它错误累计到连续失败预算后 halted。
func (w *Worker) onAccountError(cc *cycleContext, err error) {
	if exchange.IsFatal(err) {
		reason := fmt.Sprintf("fatal venue error: %v", err)
		w.halt(cc, reason)
		cc.conclude(store.ResultHalted, reason)
		return
	}
	budget := w.deps.Execution.ConnectivityBudget
	w.mu.Lock()
	w.connFails++
	fails := w.connFails
	w.mu.Unlock()
	if fails >= budget {
		reason := fmt.Sprintf("connectivity budget exhausted (%d/%d): %v", fails, budget, err)
		w.halt(cc, reason)
		cc.conclude(store.ResultHalted, reason)
		return
	}
	cc.scope.Warnf("账户读取失败 (%d/%d): %v", fails, budget, err)
	cc.fail(fmt.Sprintf("account fetch failed (%d/%d): %v", fails, budget, err))
}

func (w *Worker) loadMetric(ctx context.Context, cc *cycleContext) feedback.Metric {
	trades, err := w.deps.Sink.RecentClosedTrades(ctx, w.cfg.ID, w.deps.Lookback)
	if err != nil {
		cc.scope.Warnf("读取平仓记录失败，按无历史处理: %v", err)
		return feedback.Metric{}
	}
	returns := make([]float64, 0, len(trades))
	for _, t := range trades {
		returns = append(returns, t.ReturnRatio)
	}
	m := feedback.Compute(returns)
	if len(trades) > 0 {
		m.LastTradeAt = trades[0].CreatedAt
	}
	return m
}

func (w *Worker) analyze(_ context.Context, cc *cycleContext) bool {
	cc.indicators = make(map[string]indicator.Set, len(cc.snapshots))
	for _, sym := range cc.candidates.Symbols {
		cc.indicators[sym] = indicator.Compute(cc.snapshots[sym])
	}
	cc.verdict = w.gate.Observe(cc.metric)
	return true
}

func (w *Worker) decide(ctx context.Context, cc *cycleContext) bool {
	var mu sync.Mutex
	cc.decisions = make(map[string]decision.Decision, len(cc.candidates.Symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.deps.Concurrency)
	for _, sym := range cc.candidates.Symbols {
		g.Go(func() error {
			d := w.deps.Decider.Decide(gctx, decision.Request{
				TraderID:    w.cfg.ID,
				Template:    w.cfg.PromptTemplate,
				Symbol:      sym,
				Snapshot:    cc.snapshots[sym],
				Indicators:  cc.indicators[sym],
				Account:     cc.account,
				Metric:      cc.metric,
				Mode:        cc.verdict.Mode,
				Annotations: cc.candidates.Annotations(sym),
			})
			if d.Symbol == "" {
				d.Symbol = sym
			}
			if cc.verdict.ForceWait && d.Action != decision.ActionWait {
				d = d.Wait(fmt.Sprintf("cooldown, %d cycles remaining", cc.verdict.Remaining))
			}
			mu.Lock()
			cc.decisions[sym] = d
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return true
}

// review 把可执行的决策翻译成计划并做开仓风控，结论交给 execute。
func (w *Worker) review(_ context.Context, cc *cycleContext) bool {
	cc.outcomes = make(map[string]planOutcome, len(cc.candidates.Symbols))
	var pending float64
	for _, sym := range cc.candidates.Symbols {
		d := cc.decisions[sym]
		if !decision.Eligible(d, cc.verdict.Threshold) {
			out := planOutcome{result: store.ResultHeld}
			if d.Action.IsTrade() {
				out.result = store.ResultGated
				out.note = fmt.Sprintf("confidence %d below threshold %d (%s)", d.Confidence, cc.verdict.Threshold, cc.verdict.Mode)
			}
			cc.outcomes[sym] = out
			continue
		}
		plan, ok, reason := w.planner.Plan(d, cc.snapshots[sym].Price(), cc.account.Balance, cc.account.Positions)
		if !ok {
			cc.outcomes[sym] = planOutcome{result: store.ResultHeld, note: reason}
			continue
		}
		margin, ok, reason := w.risk.Review(plan, cc.account, pending)
		if !ok {
			cc.scope.Warnf("%s %s 风控拒绝: %s", plan.Kind, sym, reason)
			cc.outcomes[sym] = planOutcome{result: store.ResultGated, note: reason}
			continue
		}
		pending += margin
		cc.outcomes[sym] = planOutcome{plan: plan}
	}
	return true
}

// execute 按候选顺序逐个处理复核结论；整轮在采集之后发生过断线重连时全部标记 skipped。
func (w *Worker) execute(ctx context.Context, cc *cycleContext) bool {
	if cur := w.deps.Feed.Epoch(); cur != cc.epoch {
		note := fmt.Sprintf("market reconnected during cycle (epoch %d -> %d)", cc.epoch, cur)
		cc.scope.Warnf("本轮跳过: %s", note)
		for _, sym := range cc.candidates.Symbols {
			cc.logs = append(cc.logs, w.symbolLog(cc, sym, store.ResultSkipped, note))
		}
		return false
	}

	allowOpen := cc.verdict.AllowOpen
	for i, sym := range cc.candidates.Symbols {
		if w.Halted() {
			for _, rest := range cc.candidates.Symbols[i:] {
				cc.logs = append(cc.logs, w.symbolLog(cc, rest, store.ResultHalted, w.HaltReason()))
			}
			return false
		}
		out := cc.outcomes[sym]
		if out.result != "" {
			cc.logs = append(cc.logs, w.symbolLog(cc, sym, out.result, out.note))
			continue
		}
		plan := out.plan
		if plan.Kind.IsOpen() && !allowOpen {
			cc.logs = append(cc.logs, w.symbolLog(cc, sym, store.ResultGated, "cautious mode: open frequency limited"))
			continue
		}

		res := w.submit(ctx, cc, plan)
		if res.Err != nil {
			cc.logs = append(cc.logs, w.symbolLog(cc, sym, store.ResultFailed, res.Err.Error()))
			if exchange.IsFatal(res.Err) {
				w.halt(cc, fmt.Sprintf("fatal venue error: %v", res.Err))
			}
			continue
		}
		if plan.Kind.IsOpen() {
			w.gate.RecordOpen()
			if cc.verdict.Mode == feedback.ModeCautious {
				allowOpen = false
			}
		}
		cc.logs = append(cc.logs, w.symbolLog(cc, sym, store.ResultExecuted, fmt.Sprintf("%s size=%g fill=%g", plan.Kind, res.FilledSize, res.FillPrice)))
	}
	return true
}

// submit 占用 in-flight 槽位后执行计划，释放之后再落盘 TradeRecord。
func (w *Worker) submit(ctx context.Context, cc *cycleContext, plan exchange.OrderPlan) exchange.ExecutionResult {
	if !w.inflight.Acquire(plan.Symbol, plan.ID) {
		return exchange.ExecutionResult{Err: fmt.Errorf("%s: %w", plan.Symbol, ErrPlanInFlight)}
	}
	pos, _ := exchange.FindPosition(cc.account.Positions, plan.Symbol)
	cc.scope.Infof("执行 %s %s size=%g lev=%d ref=%g", plan.Kind, plan.Symbol, plan.Size, plan.Leverage, plan.RefPrice)
	res := w.deps.Executor.Execute(ctx, plan)
	w.inflight.Release(plan.Symbol, plan.ID)

	rec := w.tradeRecord(cc, plan, pos, res)
	if err := w.deps.Sink.AppendTrade(ctx, &rec); err != nil {
		cc.scope.Errorf("写入交易记录失败 %s: %v", plan.ID, err)
	}
	if res.Err != nil {
		cc.scope.Warnf("%s %s 执行失败: %v", plan.Kind, plan.Symbol, res.Err)
	}
	return res
}
