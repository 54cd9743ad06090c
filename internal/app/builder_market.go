package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	brcfg "aitrader/internal/config"
	"aitrader/internal/gateway"
	"aitrader/internal/logger"
	"aitrader/internal/market"
)

// marketStack 持有按行情源共享的采集器；同一行情源的所有 trader 复用一条连接。
type marketStack struct {
	cfg       market.CollectorConfig
	newSource func(kind string, v brcfg.VenueConfig) (market.Source, error)

	mu         sync.Mutex
	collectors map[string]*market.Collector
	runCtx     context.Context
}

func newMarketStack(cfg brcfg.MarketConfig, newSource func(string, brcfg.VenueConfig) (market.Source, error)) *marketStack {
	if newSource == nil {
		newSource = gateway.NewSource
	}
	return &marketStack{
		cfg: market.CollectorConfig{
			ShortInterval: cfg.ShortInterval,
			LongInterval:  cfg.LongInterval,
			ShortWindow:   cfg.ShortWindow,
			LongWindow:    cfg.LongWindow,
			StaleAfter:    cfg.StaleAfter(),
			DerivRefresh:  cfg.DerivRefresh(),
		},
		newSource:  newSource,
		collectors: make(map[string]*market.Collector),
	}
}

func collectorKey(v brcfg.VenueConfig) string {
	key := gateway.SourceKind(v)
	if v.Testnet {
		key += ":testnet"
	}
	return key
}

// collectorFor 返回场所对应的共享采集器；运行期新增的行情源会立即启动。
func (m *marketStack) collectorFor(v brcfg.VenueConfig) (*market.Collector, error) {
	key := collectorKey(v)
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collectors[key]; ok {
		return c, nil
	}
	src, err := m.newSource(gateway.SourceKind(v), v)
	if err != nil {
		return nil, fmt.Errorf("初始化行情源 %s 失败: %w", key, err)
	}
	c := market.NewCollector(src, m.cfg)
	m.collectors[key] = c
	if m.runCtx != nil && m.runCtx.Err() == nil {
		c.Start(m.runCtx)
	}
	logger.Infof("✓ 行情采集器 %s 已创建", key)
	return c, nil
}

// Start 启动全部采集器并记住 ctx，供后续新增的采集器使用。
func (m *marketStack) Start(ctx context.Context) {
	m.mu.Lock()
	m.runCtx = ctx
	list := make([]*market.Collector, 0, len(m.collectors))
	for _, c := range m.collectors {
		list = append(list, c)
	}
	m.mu.Unlock()
	for _, c := range list {
		c.Start(ctx)
	}
}

func (m *marketStack) Wait() {
	m.mu.Lock()
	list := make([]*market.Collector, 0, len(m.collectors))
	for _, c := range m.collectors {
		list = append(list, c)
	}
	m.mu.Unlock()
	for _, c := range list {
		c.Wait()
	}
}

func (m *marketStack) Stats() map[string]market.CollectorStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]market.CollectorStats, len(m.collectors))
	for key, c := range m.collectors {
		out[key] = c.Stats()
	}
	return out
}

func (m *marketStack) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.collectors))
	for k := range m.collectors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// snapshotPrice 从采集器缓存取参考价，供 paper 场所撮合。
func snapshotPrice(c *market.Collector) func(context.Context, string) (float64, error) {
	return func(_ context.Context, sym string) (float64, error) {
		snap, ok := c.GetSnapshot(sym)
		if !ok {
			return 0, fmt.Errorf("no market data for %s", strings.ToUpper(sym))
		}
		if snap.Stale {
			return 0, fmt.Errorf("market data for %s is stale", snap.Symbol)
		}
		price := snap.Price()
		if price <= 0 {
			return 0, fmt.Errorf("no price for %s", snap.Symbol)
		}
		return price, nil
	}
}
