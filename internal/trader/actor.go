package trader

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"aitrader/internal/coins"
	"aitrader/internal/config"
	"aitrader/internal/feedback"
	"aitrader/internal/logger"
	"aitrader/internal/market"
	"aitrader/internal/scheduler"

	"github.com/google/uuid"
)

const (
	defaultLookback           = 20
	defaultConcurrency        = 4
	defaultConnectivityBudget = 5
)

// Worker 是单个 trader 的周期执行体。
//
// 每轮按固定阶段顺序执行，阶段之间串行；同一 Worker 的两轮不会重叠，
// 重叠的 tick 由 scheduler.Ticker 丢弃并记为 skipped。
// Worker 一旦 halted 就不再调度，只有 Registry.Reconfigure 才会用新实例替换它。
type Worker struct {
	deps     Deps
	cfg      config.TraderConfig
	gate     *feedback.Gate
	inflight *InFlight
	planner  Planner
	risk     RiskCheck
	scope    logger.Scope
	ticker   *scheduler.Ticker
	now      func() time.Time
	newID    func() string

	subMu      sync.Mutex
	subscribed map[string]struct{}
	unsubs     []func()

	mu          sync.RWMutex
	state       State
	symbols     []string
	cycles      int64
	lastCycleAt time.Time
	lastErr     string
	haltReason  string
	connFails   int
}

func NewWorker(d Deps) (*Worker, error) {
	id := strings.TrimSpace(d.Config.ID)
	if id == "" {
		return nil, errors.New("trader: id 不能为空")
	}
	switch {
	case d.Feed == nil:
		return nil, fmt.Errorf("trader %s: 缺少行情源", id)
	case d.Decider == nil:
		return nil, fmt.Errorf("trader %s: 缺少决策器", id)
	case d.Executor == nil:
		return nil, fmt.Errorf("trader %s: 缺少执行器", id)
	case d.Sink == nil:
		return nil, fmt.Errorf("trader %s: 缺少存储", id)
	}
	if d.Candidates == nil {
		d.Candidates = coins.NewSelector(config.SignalsConfig{}, d.Config)
	}
	if d.Lookback <= 0 {
		d.Lookback = defaultLookback
	}
	if d.Concurrency <= 0 {
		d.Concurrency = defaultConcurrency
	}
	if d.Execution.ConnectivityBudget <= 0 {
		d.Execution.ConnectivityBudget = defaultConnectivityBudget
	}
	scope := logger.With("trader", id)
	w := &Worker{
		deps:       d,
		cfg:        d.Config,
		gate:       feedback.NewGate(d.Policy, scope),
		inflight:   NewInFlight(),
		planner:    NewPlanner(d.Config, d.Execution),
		risk:       RiskCheck{Limits: d.Risk},
		scope:      scope,
		ticker:     scheduler.NewTicker("trader:"+id, d.Config.ScanEvery()),
		now:        time.Now,
		newID:      uuid.NewString,
		subscribed: make(map[string]struct{}),
		state:      StateIdle,
	}
	w.ticker.RunImmediately = true
	return w, nil
}

func (w *Worker) ID() string { return w.cfg.ID }

// Run 阻塞直到 ctx 结束或 worker halted。错误只记录在 Status 中，不向外传播。
func (w *Worker) Run(ctx context.Context) {
	defer w.Close()
	w.ticker.OnSkip = func(at time.Time) { w.recordSkip(ctx, at) }
	w.scope.Infof("trader 启动 venue=%s backend=%s scan=%s", w.cfg.Venue, w.cfg.Backend, w.cfg.ScanInterval)
	w.ticker.Run(ctx, w.RunCycle)
	if w.Halted() {
		w.scope.Warnf("trader 已停止调度: %s", w.HaltReason())
		return
	}
	w.scope.Infof("trader 退出")
}

// Close 释放所有行情订阅。
func (w *Worker) Close() {
	w.subMu.Lock()
	unsubs := w.unsubs
	w.unsubs = nil
	w.subscribed = make(map[string]struct{})
	w.subMu.Unlock()
	for _, fn := range unsubs {
		fn()
	}
}

// RunCycle 执行完整一轮；返回 false 表示 worker 已 halted，调度应停止。
func (w *Worker) RunCycle(ctx context.Context) (keep bool) {
	if w.Halted() {
		return false
	}
	cc := w.newCycle()
	defer func() {
		if r := recover(); r != nil {
			cc.scope.Errorf("cycle panic: %v\n%s", r, debug.Stack())
			cc.fail(fmt.Sprintf("panic: %v", r))
		}
		w.flush(ctx, cc)
		w.finishCycle(cc)
		keep = !w.Halted()
	}()

	for _, st := range w.stages() {
		if st.state != "" && !w.setState(st.state) {
			break
		}
		if !st.run(ctx, cc) {
			break
		}
	}
	return true
}

func (w *Worker) newCycle() *cycleContext {
	id := w.newID()
	w.mu.Lock()
	w.cycles++
	w.lastCycleAt = w.now()
	w.mu.Unlock()
	return &cycleContext{
		id:        id,
		startedAt: w.now(),
		scope:     w.scope.With("cycle", id),
	}
}

func (w *Worker) finishCycle(cc *cycleContext) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if cc.err != "" {
		w.lastErr = cc.err
	}
	if w.state != StateHalted {
		w.state = StateIdle
	}
	cc.scope.Debugf("cycle done elapsed=%s symbols=%d", w.now().Sub(cc.startedAt).Truncate(time.Millisecond), len(cc.logs))
}

// setState 在 halted 之后不再改变状态。
func (w *Worker) setState(s State) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateHalted {
		return false
	}
	w.state = s
	return true
}

func (w *Worker) halt(cc *cycleContext, reason string) {
	w.mu.Lock()
	w.state = StateHalted
	w.haltReason = reason
	w.lastErr = reason
	w.mu.Unlock()
	cc.scope.Errorf("trader halted: %s", reason)
}

func (w *Worker) Halted() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state == StateHalted
}

func (w *Worker) HaltReason() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.haltReason
}

func (w *Worker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return Status{
		ID:          w.cfg.ID,
		Name:        w.cfg.Name,
		Venue:       w.cfg.Venue,
		Backend:     w.cfg.Backend,
		State:       w.state,
		Symbols:     append([]string(nil), w.symbols...),
		Cycles:      w.cycles,
		Skipped:     w.ticker.Skipped(),
		LastCycleAt: w.lastCycleAt,
		LastError:   w.lastErr,
		Gate:        w.gate.Mode(),
		HaltReason:  w.haltReason,
	}
}

// ensureSubscribed 只为首次出现的 symbol 订阅；采集器负责整组重订阅。
func (w *Worker) ensureSubscribed(ctx context.Context, cc *cycleContext, symbols []string) {
	w.subMu.Lock()
	var fresh []string
	for _, s := range symbols {
		if _, ok := w.subscribed[s]; ok {
			continue
		}
		w.subscribed[s] = struct{}{}
		fresh = append(fresh, s)
	}
	w.subMu.Unlock()
	if len(fresh) == 0 {
		return
	}
	ch, cancel, err := w.deps.Feed.Subscribe(ctx, fresh)
	if err != nil {
		cc.scope.Warnf("订阅 %v 预热不完整: %v", fresh, err)
	}
	if ch == nil {
		return
	}
	w.subMu.Lock()
	w.unsubs = append(w.unsubs, cancel)
	w.subMu.Unlock()
	go w.drain(ch)
}

func (w *Worker) drain(ch <-chan market.Update) {
	for u := range ch {
		switch u.Kind {
		case market.UpdateDisconnected:
			w.scope.Warnf("行情连接断开 epoch=%d，进行中的周期将被跳过", w.deps.Feed.Epoch())
		case market.UpdateReconnected:
			w.scope.Infof("行情连接恢复 epoch=%d", w.deps.Feed.Epoch())
		case market.UpdateStale:
			w.scope.Debugf("%s 行情过期", u.Symbol)
		}
	}
}
