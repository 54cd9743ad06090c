package trader

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"aitrader/internal/coins"
	"aitrader/internal/config"
	"aitrader/internal/decision"
	"aitrader/internal/feedback"
	"aitrader/internal/gateway/exchange"
	"aitrader/internal/gateway/paper"
	"aitrader/internal/market"
	"aitrader/internal/store"

	"github.com/cenkalti/backoff/v4"
)

type fakeFeed struct {
	mu         sync.Mutex
	snaps      map[string]market.Snapshot
	subscribed [][]string
	epoch      atomic.Uint64
}

func newFakeFeed(prices map[string]float64) *fakeFeed {
	f := &fakeFeed{snaps: make(map[string]market.Snapshot)}
	for sym, px := range prices {
		f.snaps[sym] = market.Snapshot{
			Symbol:        sym,
			ShortInterval: "3m",
			LongInterval:  "4h",
			Short:         []market.Candle{{OpenTime: 0, Close: px * 0.99}, {OpenTime: 180_000, Close: px}},
			Last:          px,
			UpdatedAt:     time.Now(),
		}
	}
	return f
}

func (f *fakeFeed) Subscribe(_ context.Context, symbols []string) (<-chan market.Update, func(), error) {
	f.mu.Lock()
	f.subscribed = append(f.subscribed, append([]string(nil), symbols...))
	f.mu.Unlock()
	ch := make(chan market.Update, 4)
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }, nil
}

func (f *fakeFeed) GetSnapshot(sym string) (market.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.snaps[sym]
	if ok {
		s.Epoch = f.epoch.Load()
	}
	return s, ok
}

func (f *fakeFeed) Epoch() uint64 { return f.epoch.Load() }

func (f *fakeFeed) price(ctx context.Context, sym string) (float64, error) {
	s, ok := f.GetSnapshot(sym)
	if !ok {
		return 0, errors.New("no price")
	}
	return s.Last, nil
}

type staticCandidates []string

func (s staticCandidates) Select(context.Context) coins.CandidateSet {
	return coins.CandidateSet{Symbols: []string(s), Sources: map[string][]string{}}
}

type fakeDecider struct {
	mu    sync.Mutex
	calls int
	fn    func(req decision.Request) decision.Decision
}

func (f *fakeDecider) Decide(_ context.Context, req decision.Request) decision.Decision {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(req)
}

func always(action decision.Action, confidence int) *fakeDecider {
	return &fakeDecider{fn: func(req decision.Request) decision.Decision {
		return decision.Decision{Symbol: req.Symbol, Action: action, Confidence: confidence, Reasoning: "test", RiskLevel: decision.RiskMedium}
	}}
}

// spyVenue 在 paper 账户之上记录下单与撤单调用，并可注入账户读取错误。
type spyVenue struct {
	*paper.Venue

	mu         sync.Mutex
	calls      []string
	opens      []exchange.OrderRequest
	balanceErr error
	openDelay  time.Duration
}

func (s *spyVenue) record(name string) {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	s.mu.Unlock()
}

func (s *spyVenue) OpenLong(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	s.record("OpenLong")
	s.mu.Lock()
	s.opens = append(s.opens, req)
	delay := s.openDelay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return s.Venue.OpenLong(ctx, req)
}

func (s *spyVenue) OpenShort(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	s.record("OpenShort")
	s.mu.Lock()
	s.opens = append(s.opens, req)
	s.mu.Unlock()
	return s.Venue.OpenShort(ctx, req)
}

func (s *spyVenue) CloseLong(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	s.record("CloseLong")
	return s.Venue.CloseLong(ctx, req)
}

func (s *spyVenue) CancelAllOrders(ctx context.Context, symbol string) error {
	s.record("CancelAllOrders")
	return s.Venue.CancelAllOrders(ctx, symbol)
}

func (s *spyVenue) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	s.record("SetLeverage")
	return s.Venue.SetLeverage(ctx, symbol, leverage)
}

func (s *spyVenue) SetMarginMode(ctx context.Context, symbol string, mode exchange.MarginMode) error {
	s.record("SetMarginMode")
	return s.Venue.SetMarginMode(ctx, symbol, mode)
}

func (s *spyVenue) GetBalance(ctx context.Context) (exchange.Balance, error) {
	s.mu.Lock()
	err := s.balanceErr
	s.mu.Unlock()
	if err != nil {
		return exchange.Balance{}, err
	}
	return s.Venue.GetBalance(ctx)
}

func (s *spyVenue) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *spyVenue) Opens() []exchange.OrderRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]exchange.OrderRequest(nil), s.opens...)
}

type memSink struct {
	mu        sync.Mutex
	trades    []store.TradeRecord
	decisions []store.DecisionLog
	seq       int64
}

func (m *memSink) AppendTrade(_ context.Context, rec *store.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.UnixMilli(m.seq)
	}
	m.trades = append(m.trades, *rec)
	return nil
}

func (m *memSink) AppendDecision(_ context.Context, rec *store.DecisionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.Symbol == "" {
		rec.Symbol = store.CycleSymbol
	}
	m.decisions = append(m.decisions, *rec)
	return nil
}

func (m *memSink) RecentClosedTrades(_ context.Context, traderID string, n int) ([]store.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.TradeRecord
	for _, t := range m.trades {
		if t.TraderID == traderID && t.Closed && t.Status == store.TradeFilled {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *memSink) RecentDecisions(_ context.Context, traderID string, n int) ([]store.DecisionLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.DecisionLog
	for i := len(m.decisions) - 1; i >= 0 && len(out) < n; i-- {
		if m.decisions[i].TraderID == traderID {
			out = append(out, m.decisions[i])
		}
	}
	return out, nil
}

func (m *memSink) LastDecision(ctx context.Context, traderID string) (store.DecisionLog, error) {
	list, _ := m.RecentDecisions(ctx, traderID, 1)
	if len(list) == 0 {
		return store.DecisionLog{}, store.ErrNotFound
	}
	return list[0], nil
}

func (m *memSink) Decisions() []store.DecisionLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.DecisionLog(nil), m.decisions...)
}

func (m *memSink) Trades() []store.TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.TradeRecord(nil), m.trades...)
}

type harness struct {
	feed   *fakeFeed
	venue  *spyVenue
	sink   *memSink
	worker *Worker
}

func testTraderConfig() config.TraderConfig {
	return config.TraderConfig{
		ID:            "t1",
		Name:          "test",
		Enabled:       true,
		Venue:         "paper",
		Backend:       "fake",
		Symbols:       []string{"BTC/USDT"},
		ScanInterval:  "3m",
		MajorLeverage: 10,
		AltLeverage:   5,
		MarginMode:    "cross",
		PositionPct:   0.1,
	}
}

func testPolicy() feedback.Policy {
	return feedback.Policy{
		Threshold:         75,
		CautiousThreshold: 85,
		LowRatio:          -0.5,
		HighRatio:         0.5,
		CooldownCycles:    3,
		CautiousOpenEvery: 2,
	}
}

func testExecution() config.ExecutionConfig {
	return config.ExecutionConfig{Slippage: 0.001, ConnectivityBudget: 3}
}

func newHarness(decider decision.Decider, symbols ...string) *harness {
	return newHarnessWith(decider, nil, symbols...)
}

// newHarnessWith 允许在构造 Worker 前调整 Deps。
func newHarnessWith(decider decision.Decider, tweak func(*Deps), symbols ...string) *harness {
	if len(symbols) == 0 {
		symbols = []string{"BTC/USDT"}
	}
	prices := map[string]float64{"BTC/USDT": 60000, "ETH/USDT": 3000, "SOL/USDT": 150}
	feed := newFakeFeed(prices)
	pv := paper.NewVenue("paper", paper.Config{InitialBalance: 10000, TakerFee: -1}, feed.price)
	venue := &spyVenue{Venue: pv}
	sink := &memSink{}
	exec := exchange.NewExecutor(venue, time.Second, 1, exchange.WithBackOff(func() backoff.BackOff {
		return backoff.NewConstantBackOff(time.Millisecond)
	}))
	cfg := testTraderConfig()
	cfg.Symbols = symbols
	deps := Deps{
		Config:     cfg,
		Policy:     testPolicy(),
		Execution:  testExecution(),
		Feed:       feed,
		Candidates: staticCandidates(symbols),
		Decider:    decider,
		Executor:   exec,
		Sink:       sink,
	}
	if tweak != nil {
		tweak(&deps)
	}
	w, err := NewWorker(deps)
	if err != nil {
		panic(err)
	}
	return &harness{feed: feed, venue: venue, sink: sink, worker: w}
}
