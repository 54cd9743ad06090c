package market

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"aitrader/internal/logger"
	"aitrader/internal/pkg/symbol"

	"github.com/cenkalti/backoff/v4"
)

const (
	reconnectInitial = time.Second
	reconnectMax     = 30 * time.Second
	derivTimeout     = 5 * time.Second
)

type UpdateKind int

const (
	UpdateCandle UpdateKind = iota
	UpdateStale
	UpdateDisconnected
	UpdateReconnected
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateCandle:
		return "candle"
	case UpdateStale:
		return "stale"
	case UpdateDisconnected:
		return "disconnected"
	case UpdateReconnected:
		return "reconnected"
	default:
		return "unknown"
	}
}

// Update 是推送给订阅方的事件；连接级事件的 Symbol 为空。
type Update struct {
	Kind   UpdateKind
	Symbol string
	At     time.Time
}

type CollectorConfig struct {
	ShortInterval string
	LongInterval  string
	ShortWindow   int
	LongWindow    int
	StaleAfter    time.Duration
	DerivRefresh  time.Duration
}

type CollectorStats struct {
	Reconnects int
	Subscribed []string
	LastError  string
	Connected  bool
	Epoch      uint64
}

type symbolState struct {
	short         *Series
	long          *Series
	deriv         Derivatives
	updatedAt     time.Time
	staleNotified bool
	// warmed 表示 REST 历史已完整拉取；失败的 symbol 会在后续 Ensure 或巡检时重试
	warmed bool
}

// absorb 用新预热的窗口替换当前窗口，流上已到达的更新K线保留在末尾。
func (st *symbolState) absorb(w *symbolState) {
	for _, cd := range st.short.Copy() {
		w.short.Upsert(cd)
	}
	for _, cd := range st.long.Copy() {
		w.long.Upsert(cd)
	}
	st.short, st.long = w.short, w.long
	if w.updatedAt.After(st.updatedAt) {
		st.updatedAt = w.updatedAt
	}
	st.warmed = true
}

// Collector 按交易场所共享：一条流连接 + 每个 symbol 的有界缓存。
// 使用方只能通过 Ensure/Subscribe 触发订阅，不能直接改缓存。
type Collector struct {
	src Source
	cfg CollectorConfig

	mu         sync.RWMutex
	symbols    map[string]*symbolState
	active     []string
	subscribed []string
	reconnects int
	lastErr    string

	subMu   sync.Mutex
	subs    map[int]chan Update
	nextSub int

	epoch     atomic.Uint64
	connected atomic.Bool
	resub     chan struct{}

	startOnce sync.Once
	wg        sync.WaitGroup

	now        func() time.Time
	newBackoff func() backoff.BackOff
}

func NewCollector(src Source, cfg CollectorConfig) *Collector {
	if cfg.ShortWindow <= 0 {
		cfg.ShortWindow = 100
	}
	if cfg.LongWindow <= 0 {
		cfg.LongWindow = 60
	}
	return &Collector{
		src:     src,
		cfg:     cfg,
		symbols: make(map[string]*symbolState),
		subs:    make(map[int]chan Update),
		resub:   make(chan struct{}, 1),
		now:     time.Now,
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = reconnectInitial
			b.MaxInterval = reconnectMax
			b.Multiplier = 2
			b.RandomizationFactor = 0.1
			b.MaxElapsedTime = 0
			return b
		},
	}
}

func (c *Collector) Name() string { return c.src.Name() }

// Start 启动流连接、stale 巡检与衍生数据刷新；重复调用无副作用。
func (c *Collector) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.wg.Add(2)
		go func() {
			defer c.wg.Done()
			c.runStream(ctx)
		}()
		go func() {
			defer c.wg.Done()
			c.runWatchdog(ctx)
		}()
		if c.cfg.DerivRefresh > 0 {
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				c.runDerivRefresh(ctx)
			}()
		}
	})
}

// Wait 等待后台 goroutine 在 ctx 取消后退出。
func (c *Collector) Wait() { c.wg.Wait() }

// Ensure 把 symbols 加入活跃集合；新 symbol 先用 REST 预热窗口，再触发整组重订阅。
// 之前预热失败的 symbol 会在这里重新预热。
func (c *Collector) Ensure(ctx context.Context, symbols []string) error {
	var targets []string
	c.mu.RLock()
	for _, s := range symbol.NormalizeList(symbols) {
		if st, ok := c.symbols[s]; !ok || !st.warmed {
			targets = append(targets, s)
		}
	}
	c.mu.RUnlock()
	if len(targets) == 0 {
		return nil
	}

	// 预热在锁外完成，网络调用不占用缓存锁
	warmed := make(map[string]*symbolState, len(targets))
	var firstErr error
	for _, s := range targets {
		st, err := c.warm(ctx, s)
		if err != nil {
			logger.Warnf("[%s] warm %s failed: %v", c.src.Name(), s, err)
			if firstErr == nil {
				firstErr = err
			}
		}
		warmed[s] = st
	}

	added := 0
	c.mu.Lock()
	for _, s := range targets {
		next := warmed[s]
		cur, ok := c.symbols[s]
		switch {
		case !ok:
			c.symbols[s] = next
			c.active = append(c.active, s)
			added++
		case !cur.warmed && next.warmed:
			cur.absorb(next)
		}
	}
	sort.Strings(c.active)
	c.mu.Unlock()

	if added > 0 {
		select {
		case c.resub <- struct{}{}:
		default:
		}
	}
	if firstErr != nil {
		return fmt.Errorf("warm history: %w", firstErr)
	}
	return nil
}

// rewarmPending 为预热未完成的 symbol 重新拉取历史。
func (c *Collector) rewarmPending(ctx context.Context) {
	var pending []string
	c.mu.RLock()
	for sym, st := range c.symbols {
		if !st.warmed {
			pending = append(pending, sym)
		}
	}
	c.mu.RUnlock()
	if len(pending) == 0 {
		return
	}
	sort.Strings(pending)
	if err := c.Ensure(ctx, pending); err != nil {
		logger.Debugf("[%s] rewarm %v: %v", c.src.Name(), pending, err)
	}
}

// Subscribe 确保 symbols 活跃并返回事件流；cancel 释放订阅。慢消费者会丢事件。
func (c *Collector) Subscribe(ctx context.Context, symbols []string) (<-chan Update, func(), error) {
	err := c.Ensure(ctx, symbols)
	ch := make(chan Update, 64)
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subMu.Unlock()
	cancel := func() {
		c.subMu.Lock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
		c.subMu.Unlock()
	}
	return ch, cancel, err
}

// GetSnapshot 返回缓存副本，不做任何网络调用。
func (c *Collector) GetSnapshot(sym string) (Snapshot, bool) {
	sym = symbol.Normalize(sym)
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.symbols[sym]
	if !ok {
		return Snapshot{}, false
	}
	snap := Snapshot{
		Symbol:        sym,
		ShortInterval: c.cfg.ShortInterval,
		LongInterval:  c.cfg.LongInterval,
		Short:         st.short.Copy(),
		Long:          st.long.Copy(),
		Bid:           st.deriv.Bid,
		Ask:           st.deriv.Ask,
		Last:          st.deriv.Last,
		OpenInterest:  st.deriv.OpenInterest,
		FundingRate:   st.deriv.FundingRate,
		UpdatedAt:     st.updatedAt,
		Epoch:         c.epoch.Load(),
	}
	if last, ok := st.short.Last(); ok {
		snap.Volume = last.Volume
	}
	snap.Stale = c.isStale(st)
	return snap, true
}

func (c *Collector) Epoch() uint64 { return c.epoch.Load() }

func (c *Collector) Connected() bool { return c.connected.Load() }

func (c *Collector) Stats() CollectorStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CollectorStats{
		Reconnects: c.reconnects,
		Subscribed: append([]string(nil), c.subscribed...),
		LastError:  c.lastErr,
		Connected:  c.connected.Load(),
		Epoch:      c.epoch.Load(),
	}
}

func (c *Collector) warm(ctx context.Context, sym string) (*symbolState, error) {
	st := &symbolState{
		short: NewSeries(c.cfg.ShortWindow),
		long:  NewSeries(c.cfg.LongWindow),
	}
	short, err := c.src.FetchHistory(ctx, sym, c.cfg.ShortInterval, c.cfg.ShortWindow)
	if err != nil {
		return st, err
	}
	st.short.Load(short)
	long, err := c.src.FetchHistory(ctx, sym, c.cfg.LongInterval, c.cfg.LongWindow)
	if err != nil {
		return st, err
	}
	st.long.Load(long)
	if deriv, err := c.fetchDeriv(ctx, sym); err == nil {
		st.deriv = deriv
	}
	if len(short) > 0 {
		st.updatedAt = c.now()
	}
	st.warmed = true
	return st, nil
}

func (c *Collector) activeSymbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.active...)
}

func (c *Collector) runStream(ctx context.Context) {
	bo := c.newBackoff()
	intervals := []string{c.cfg.ShortInterval, c.cfg.LongInterval}
	for ctx.Err() == nil {
		symbols := c.activeSymbols()
		if len(symbols) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-c.resub:
			}
			continue
		}
		streamCtx, cancel := context.WithCancel(ctx)
		errCh := make(chan error, 1)
		go func() {
			errCh <- c.src.Stream(streamCtx, symbols, intervals, StreamHandlers{
				OnConnect: func() {
					bo.Reset()
					c.onConnected(symbols)
				},
				OnCandle: c.applyCandle,
			})
		}()

		planned := false
		var err error
		select {
		case err = <-errCh:
		case <-c.resub:
			planned = true
			cancel()
			err = <-errCh
		case <-ctx.Done():
			cancel()
			<-errCh
			return
		}
		cancel()
		if planned {
			// 活跃集合变化：立即以完整集合重连，不视为断线
			c.connected.Store(false)
			logger.Infof("[%s] resubscribing %d symbols", c.src.Name(), len(c.activeSymbols()))
			continue
		}
		c.onDisconnected(err)
		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			delay = reconnectMax
		}
		logger.Warnf("[%s] stream disconnected: %v, reconnect in %s", c.src.Name(), err, delay)
		if !sleepWithContext(ctx, delay) {
			return
		}
	}
}

// onConnected 原子地记录本次连接订阅的完整集合。
func (c *Collector) onConnected(symbols []string) {
	c.mu.Lock()
	c.subscribed = append([]string(nil), symbols...)
	c.mu.Unlock()
	wasDown := !c.connected.Swap(true)
	if wasDown {
		c.broadcast(Update{Kind: UpdateReconnected, At: c.now()})
	}
	logger.Infof("[%s] stream connected symbols=%v", c.src.Name(), symbols)
}

func (c *Collector) onDisconnected(err error) {
	c.connected.Store(false)
	c.epoch.Add(1)
	c.mu.Lock()
	c.reconnects++
	c.subscribed = nil
	if err != nil {
		c.lastErr = err.Error()
	}
	c.mu.Unlock()
	c.broadcast(Update{Kind: UpdateDisconnected, At: c.now()})
}

func (c *Collector) applyCandle(evt CandleEvent) {
	sym := symbol.Normalize(evt.Symbol)
	c.mu.Lock()
	st, ok := c.symbols[sym]
	if !ok {
		c.mu.Unlock()
		return
	}
	switch evt.Interval {
	case c.cfg.ShortInterval:
		st.short.Upsert(evt.Candle)
		st.deriv.Last = evt.Candle.Close
	case c.cfg.LongInterval:
		st.long.Upsert(evt.Candle)
	default:
		c.mu.Unlock()
		return
	}
	st.updatedAt = c.now()
	st.staleNotified = false
	c.mu.Unlock()
	c.broadcast(Update{Kind: UpdateCandle, Symbol: sym, At: c.now()})
}

func (c *Collector) isStale(st *symbolState) bool {
	if st.updatedAt.IsZero() {
		return true
	}
	if c.cfg.StaleAfter <= 0 {
		return false
	}
	return c.now().Sub(st.updatedAt) > c.cfg.StaleAfter
}

func (c *Collector) runWatchdog(ctx context.Context) {
	every := c.cfg.StaleAfter / 2
	if every < time.Second {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkStale()
			c.rewarmPending(ctx)
		}
	}
}

func (c *Collector) checkStale() {
	var stale []string
	c.mu.Lock()
	for sym, st := range c.symbols {
		if !st.staleNotified && c.isStale(st) {
			st.staleNotified = true
			stale = append(stale, sym)
		}
	}
	c.mu.Unlock()
	sort.Strings(stale)
	for _, sym := range stale {
		logger.Warnf("[%s] %s stale: no update within %s", c.src.Name(), sym, c.cfg.StaleAfter)
		c.broadcast(Update{Kind: UpdateStale, Symbol: sym, At: c.now()})
	}
}

func (c *Collector) runDerivRefresh(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.DerivRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sym := range c.activeSymbols() {
				deriv, err := c.fetchDeriv(ctx, sym)
				if err != nil {
					logger.Debugf("[%s] derivatives %s: %v", c.src.Name(), sym, err)
					continue
				}
				c.mu.Lock()
				if st, ok := c.symbols[sym]; ok {
					last := st.deriv.Last
					st.deriv = deriv
					if deriv.Last == 0 {
						st.deriv.Last = last
					}
				}
				c.mu.Unlock()
			}
		}
	}
}

func (c *Collector) fetchDeriv(ctx context.Context, sym string) (Derivatives, error) {
	ctx, cancel := context.WithTimeout(ctx, derivTimeout)
	defer cancel()
	return c.src.FetchDerivatives(ctx, sym)
}

func (c *Collector) broadcast(u Update) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
