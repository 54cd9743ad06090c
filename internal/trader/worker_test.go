package trader

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"aitrader/internal/decision"
	"aitrader/internal/feedback"
	"aitrader/internal/gateway/exchange"
	"aitrader/internal/gateway/provider"
	"aitrader/internal/market"
	"aitrader/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastDecision(t *testing.T, s *memSink) store.DecisionLog {
	t.Helper()
	list := s.Decisions()
	require.NotEmpty(t, list)
	return list[len(list)-1]
}

func (f *fakeFeed) setPrice(sym string, px float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.snaps[sym]
	s.Last = px
	s.Short = append(append([]market.Candle(nil), s.Short...), market.Candle{OpenTime: 360_000, Close: px})
	f.snaps[sym] = s
}

func TestBuyAt85OpensLongSizedByLeverage(t *testing.T) {
	h := newHarness(always(decision.ActionBuy, 85))
	defer h.worker.Close()

	require.True(t, h.worker.RunCycle(context.Background()))

	opens := h.venue.Opens()
	require.Len(t, opens, 1)
	// 10000 × 0.1 × 10 / 60000 = 0.1666…，按 0.0001 步长向下取整
	assert.InDelta(t, 0.1666, opens[0].Size, 1e-12)
	assert.Equal(t, 10, opens[0].Leverage)
	assert.Equal(t, "BTC/USDT", opens[0].Symbol)
	assert.NotEmpty(t, opens[0].ClientID)
	assert.Equal(t, []string{"SetMarginMode", "SetLeverage", "CancelAllOrders", "OpenLong"}, h.venue.Calls())

	logs := h.sink.Decisions()
	require.Len(t, logs, 1)
	assert.Equal(t, "BTC/USDT", logs[0].Symbol)
	assert.Equal(t, "buy", logs[0].Action)
	assert.InDelta(t, 0.85, logs[0].Confidence, 1e-9)
	assert.Equal(t, store.ResultExecuted, logs[0].Result)

	var snap map[string]any
	require.NoError(t, json.Unmarshal(logs[0].Snapshot, &snap))
	assert.EqualValues(t, 75, snap["threshold"])
	assert.EqualValues(t, 60000, snap["price"])

	trades := h.sink.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, "open_long", trades[0].Kind)
	assert.Equal(t, store.TradeFilled, trades[0].Status)
	assert.Equal(t, opens[0].ClientID, trades[0].ClientOrderID)
	assert.False(t, trades[0].Closed)

	positions, err := h.venue.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, exchange.SideLong, positions[0].Side)
	assert.Equal(t, StateIdle, h.worker.Status().State)
}

type scriptedProvider struct{ reply string }

func (p scriptedProvider) ID() string   { return "scripted" }
func (p scriptedProvider) Kind() string { return "openai" }
func (p scriptedProvider) Call(context.Context, provider.ChatPayload) (string, error) {
	return p.reply, nil
}

// richSnapshot 生成足够长的K线，使核心指标全部有定义。
func richSnapshot(sym string, last float64) market.Snapshot {
	short := make([]market.Candle, 120)
	long := make([]market.Candle, 60)
	for i := range short {
		px := last - float64(len(short)-i)*5 + float64(i%4)*8
		short[i] = market.Candle{OpenTime: int64(i) * 180_000, Open: px - 2, High: px + 10, Low: px - 10, Close: px, Volume: 5}
	}
	for i := range long {
		px := last - float64(len(long)-i)*40 + float64(i%3)*25
		long[i] = market.Candle{OpenTime: int64(i) * 14_400_000, Open: px - 5, High: px + 60, Low: px - 60, Close: px, Volume: 50}
	}
	return market.Snapshot{Symbol: sym, ShortInterval: "3m", LongInterval: "4h", Short: short, Long: long, Last: last, UpdatedAt: time.Now()}
}

func TestModelReplyFlowsThroughParserToExecution(t *testing.T) {
	reply := `Trend looks [up] on 4h. {"action":"buy","confidence":85,"reasoning":"breakout","risk_level":"medium"}`
	orch := decision.NewOrchestrator(scriptedProvider{reply: reply}, nil, time.Second, nil)
	h := newHarness(orch)
	defer h.worker.Close()
	h.feed.mu.Lock()
	h.feed.snaps["BTC/USDT"] = richSnapshot("BTC/USDT", 60000)
	h.feed.mu.Unlock()

	require.True(t, h.worker.RunCycle(context.Background()))

	opens := h.venue.Opens()
	require.Len(t, opens, 1)
	assert.Equal(t, "BTC/USDT", opens[0].Symbol)
	got := lastDecision(t, h.sink)
	assert.Equal(t, "buy", got.Action)
	assert.InDelta(t, 0.85, got.Confidence, 1e-9)
	assert.Equal(t, "breakout", got.Reasoning)
	assert.Equal(t, store.ResultExecuted, got.Result)
}

func TestConfidenceGateAt74And75(t *testing.T) {
	cases := []struct {
		confidence int
		result     store.CycleResult
		opens      int
	}{
		{74, store.ResultGated, 0},
		{75, store.ResultExecuted, 1},
	}
	for _, tc := range cases {
		h := newHarness(always(decision.ActionBuy, tc.confidence))
		h.worker.RunCycle(context.Background())
		assert.Equal(t, tc.result, lastDecision(t, h.sink).Result, "confidence=%d", tc.confidence)
		assert.Len(t, h.venue.Opens(), tc.opens, "confidence=%d", tc.confidence)
		h.worker.Close()
	}
}

func TestCooldownForcesWaitDespiteBuyAt90(t *testing.T) {
	h := newHarness(always(decision.ActionBuy, 90))
	defer h.worker.Close()
	ctx := context.Background()
	// mean=-0.06, 样本标准差=0.1 → ratio=-0.6
	for i, r := range []float64{-0.16, -0.06, 0.04} {
		require.NoError(t, h.sink.AppendTrade(ctx, &store.TradeRecord{
			TraderID: "t1", Symbol: "ETH/USDT", Kind: "close_long", Status: store.TradeFilled,
			Closed: true, ReturnRatio: r, CreatedAt: time.UnixMilli(int64(1000 + i)),
		}))
	}

	for cycle := 1; cycle <= 3; cycle++ {
		require.True(t, h.worker.RunCycle(ctx))
		got := lastDecision(t, h.sink)
		assert.Equal(t, "wait", got.Action, "cycle %d", cycle)
		assert.Equal(t, store.ResultHeld, got.Result, "cycle %d", cycle)
		assert.InDelta(t, 0.9, got.Confidence, 1e-9)
		assert.Contains(t, got.Note, "cooldown")
		assert.Equal(t, feedback.ModeCooldown, h.worker.Status().Gate)
	}
	assert.Empty(t, h.venue.Opens())

	// 冷却结束后进入谨慎模式，门槛 85，buy@90 可以开仓
	require.True(t, h.worker.RunCycle(ctx))
	got := lastDecision(t, h.sink)
	assert.Equal(t, "buy", got.Action)
	assert.Equal(t, store.ResultExecuted, got.Result)
	assert.Equal(t, feedback.ModeCautious, h.worker.Status().Gate)
	assert.Len(t, h.venue.Opens(), 1)
}

func TestReconnectDuringCycleMarksSkipped(t *testing.T) {
	var bumped atomic.Bool
	h := newHarness(always(decision.ActionHold, 0), "BTC/USDT", "ETH/USDT")
	defer h.worker.Close()
	h.worker.deps.Decider = &fakeDecider{fn: func(req decision.Request) decision.Decision {
		if bumped.CompareAndSwap(false, true) {
			h.feed.epoch.Add(1)
		}
		return decision.Decision{Symbol: req.Symbol, Action: decision.ActionBuy, Confidence: 90}
	}}

	require.True(t, h.worker.RunCycle(context.Background()))
	logs := h.sink.Decisions()
	require.Len(t, logs, 2)
	for _, l := range logs {
		assert.Equal(t, store.ResultSkipped, l.Result)
		assert.Contains(t, l.Note, "reconnected")
		assert.Equal(t, uint64(0), l.Epoch)
	}
	assert.Empty(t, h.venue.Opens())
	assert.Empty(t, h.sink.Trades())

	// 下一轮在新连接上正常执行
	require.True(t, h.worker.RunCycle(context.Background()))
	logs = h.sink.Decisions()
	require.Len(t, logs, 4)
	assert.Equal(t, store.ResultExecuted, logs[2].Result)
	assert.Equal(t, uint64(1), logs[2].Epoch)
}

func TestFatalAccountErrorHalts(t *testing.T) {
	h := newHarness(always(decision.ActionBuy, 90))
	defer h.worker.Close()
	h.venue.balanceErr = exchange.NewError(exchange.ErrFatal, "paper", -2015, "Invalid API-key", nil)

	assert.False(t, h.worker.RunCycle(context.Background()))
	st := h.worker.Status()
	assert.Equal(t, StateHalted, st.State)
	assert.Contains(t, st.HaltReason, "fatal")

	logs := h.sink.Decisions()
	require.Len(t, logs, 1)
	assert.Equal(t, store.CycleSymbol, logs[0].Symbol)
	assert.Equal(t, store.ResultHalted, logs[0].Result)

	// halted 之后不再执行任何阶段
	h.venue.balanceErr = nil
	assert.False(t, h.worker.RunCycle(context.Background()))
	assert.Len(t, h.sink.Decisions(), 1)
	assert.Empty(t, h.venue.Opens())
}

func TestConnectivityBudgetHalts(t *testing.T) {
	h := newHarness(always(decision.ActionBuy, 90))
	defer h.worker.Close()
	h.venue.balanceErr = exchange.NewError(exchange.ErrTransient, "paper", 503, "unavailable", nil)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		require.True(t, h.worker.RunCycle(ctx))
		got := lastDecision(t, h.sink)
		assert.Equal(t, store.ResultFailed, got.Result)
		assert.Equal(t, store.CycleSymbol, got.Symbol)
	}
	assert.False(t, h.worker.RunCycle(ctx))
	assert.Equal(t, store.ResultHalted, lastDecision(t, h.sink).Result)
	assert.True(t, h.worker.Halted())
	assert.Len(t, h.sink.Decisions(), 3)
}

func TestConnectivityFailuresResetOnSuccess(t *testing.T) {
	h := newHarness(always(decision.ActionHold, 0))
	defer h.worker.Close()
	ctx := context.Background()
	transient := exchange.NewError(exchange.ErrTransient, "paper", 503, "unavailable", nil)

	for i := 0; i < 4; i++ {
		h.venue.mu.Lock()
		if i%2 == 0 {
			h.venue.balanceErr = transient
		} else {
			h.venue.balanceErr = nil
		}
		h.venue.mu.Unlock()
		require.True(t, h.worker.RunCycle(ctx), "cycle %d", i)
	}
	assert.False(t, h.worker.Halted())
}

func TestInFlightRejectsSecondPlanForSymbol(t *testing.T) {
	g := NewInFlight()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Acquire("BTC/USDT", "p") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	g.Release("BTC/USDT", "other")
	assert.False(t, g.Acquire("BTC/USDT", "p2"), "foreign release must not free the slot")
	g.Release("BTC/USDT", "p")
	assert.True(t, g.Acquire("BTC/USDT", "p2"))
	assert.True(t, g.Acquire("ETH/USDT", "p3"))
	assert.Equal(t, 2, g.Len())
}

func TestWorkerRefusesPlanWhileSymbolInFlight(t *testing.T) {
	h := newHarness(always(decision.ActionBuy, 90))
	defer h.worker.Close()
	require.True(t, h.worker.inflight.Acquire("BTC/USDT", "external"))

	h.worker.RunCycle(context.Background())
	got := lastDecision(t, h.sink)
	assert.Equal(t, store.ResultFailed, got.Result)
	assert.Contains(t, got.Note, "in flight")
	assert.Empty(t, h.venue.Opens())
	assert.Empty(t, h.sink.Trades())
}

func TestCloseFillRecordsReturnRatio(t *testing.T) {
	action := atomic.Value{}
	action.Store(decision.ActionBuy)
	h := newHarness(&fakeDecider{fn: func(req decision.Request) decision.Decision {
		return decision.Decision{Symbol: req.Symbol, Action: action.Load().(decision.Action), Confidence: 90}
	}})
	defer h.worker.Close()
	ctx := context.Background()

	require.True(t, h.worker.RunCycle(ctx))
	h.feed.setPrice("BTC/USDT", 61200)
	action.Store(decision.ActionSell)
	require.True(t, h.worker.RunCycle(ctx))

	trades := h.sink.Trades()
	require.Len(t, trades, 2)
	closeRec := trades[1]
	assert.Equal(t, "close_long", closeRec.Kind)
	assert.True(t, closeRec.Closed)
	assert.Equal(t, 60000.0, closeRec.EntryPrice)
	// (61200-60000)/60000 × 10
	assert.InDelta(t, 0.2, closeRec.ReturnRatio, 1e-9)

	closed, err := h.sink.RecentClosedTrades(ctx, "t1", 20)
	require.NoError(t, err)
	assert.Len(t, closed, 1)
}

func TestOneDecisionLogPerEvaluatedSymbol(t *testing.T) {
	h := newHarness(&fakeDecider{fn: func(req decision.Request) decision.Decision {
		if req.Symbol == "ETH/USDT" {
			return decision.Hold(req.Symbol, "no edge")
		}
		return decision.Decision{Symbol: req.Symbol, Action: decision.ActionSell, Confidence: 80}
	}}, "BTC/USDT", "ETH/USDT", "SOL/USDT")
	defer h.worker.Close()

	h.worker.RunCycle(context.Background())
	logs := h.sink.Decisions()
	require.Len(t, logs, 3)
	byResult := map[string]store.CycleResult{}
	cycles := map[string]bool{}
	for _, l := range logs {
		byResult[l.Symbol] = l.Result
		cycles[l.CycleID] = true
	}
	assert.Equal(t, store.ResultExecuted, byResult["BTC/USDT"])
	assert.Equal(t, store.ResultHeld, byResult["ETH/USDT"])
	assert.Equal(t, store.ResultExecuted, byResult["SOL/USDT"])
	assert.Len(t, cycles, 1)

	opens := h.venue.Opens()
	require.Len(t, opens, 2)
	assert.Equal(t, 5, opens[1].Leverage, "alt coins use alt leverage")
	assert.Equal(t, [][]string{{"BTC/USDT", "ETH/USDT", "SOL/USDT"}}, h.feed.subscribed)
}

func TestRecordSkipWritesCycleLog(t *testing.T) {
	h := newHarness(always(decision.ActionHold, 0))
	at := time.UnixMilli(1_700_000_000_000)
	h.worker.recordSkip(context.Background(), at)

	got := lastDecision(t, h.sink)
	assert.Equal(t, store.CycleSymbol, got.Symbol)
	assert.Equal(t, store.ResultSkipped, got.Result)
	assert.True(t, got.CreatedAt.Equal(at))
}

func TestPlanner(t *testing.T) {
	cfg := testTraderConfig()
	p := NewPlanner(cfg, testExecution())
	p.newID = func() string { return "plan" }
	bal := exchange.Balance{Available: 1000}
	long := exchange.Position{Symbol: "BTC/USDT", Side: exchange.SideLong, Size: 0.5, EntryPrice: 50000, Leverage: 7}
	short := exchange.Position{Symbol: "BTC/USDT", Side: exchange.SideShort, Size: 0.3, EntryPrice: 50000, Leverage: 3}

	cases := []struct {
		name      string
		action    decision.Action
		symbol    string
		positions []exchange.Position
		kind      exchange.PlanKind
		ok        bool
		size      float64
		leverage  int
	}{
		{"buy flat opens long", decision.ActionBuy, "BTC/USDT", nil, exchange.PlanOpenLong, true, 0.02, 10},
		{"buy short closes short", decision.ActionBuy, "BTC/USDT", []exchange.Position{short}, exchange.PlanCloseShort, true, 0.3, 3},
		{"buy long no pyramiding", decision.ActionBuy, "BTC/USDT", []exchange.Position{long}, "", false, 0, 0},
		{"sell long closes long", decision.ActionSell, "BTC/USDT", []exchange.Position{long}, exchange.PlanCloseLong, true, 0.5, 7},
		{"sell alt opens short", decision.ActionSell, "SOL/USDT", nil, exchange.PlanOpenShort, true, 1000 * 0.1 * 5 / 50000, 5},
		{"close flat", decision.ActionClose, "BTC/USDT", nil, "", false, 0, 0},
		{"close short", decision.ActionClose, "BTC/USDT", []exchange.Position{short}, exchange.PlanCloseShort, true, 0.3, 3},
		{"hold", decision.ActionHold, "BTC/USDT", nil, "", false, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan, ok, reason := p.Plan(decision.Decision{Symbol: tc.symbol, Action: tc.action, Confidence: 90}, 50000, bal, tc.positions)
			require.Equal(t, tc.ok, ok, reason)
			if !ok {
				assert.NotEmpty(t, reason)
				return
			}
			assert.Equal(t, tc.kind, plan.Kind)
			assert.InDelta(t, tc.size, plan.Size, 1e-12)
			assert.Equal(t, tc.leverage, plan.Leverage)
			assert.Equal(t, "plan", plan.ID)
			assert.Equal(t, 50000.0, plan.RefPrice)
		})
	}
}
