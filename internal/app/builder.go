package app

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	brcfg "aitrader/internal/config"
	"aitrader/internal/coins"
	"aitrader/internal/feedback"
	"aitrader/internal/gateway"
	"aitrader/internal/gateway/exchange"
	"aitrader/internal/gateway/paper"
	"aitrader/internal/gateway/provider"
	"aitrader/internal/logger"
	"aitrader/internal/market"
	"aitrader/internal/store"
	"aitrader/internal/store/gormstore"
	"aitrader/internal/trader"
	livehttp "aitrader/internal/transport/http/live"
)

type AppBuilder struct {
	cfg *brcfg.Config

	sinkFn     func(brcfg.StoreConfig) (storeHandle, error)
	sourceFn   func(string, brcfg.VenueConfig) (market.Source, error)
	venueFn    func(brcfg.VenueConfig, paper.PriceFunc) (exchange.Venue, error)
	providerFn func(brcfg.BackendConfig) (provider.ModelProvider, error)
}

// storeHandle 是带关闭能力的存储。
type storeHandle interface {
	store.Sink
	Close() error
}

type AppBuilderOption func(*AppBuilder)

// WithSink 替换存储构造，测试中使用内存实现。
func WithSink(fn func(brcfg.StoreConfig) (storeHandle, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.sinkFn = fn }
}

func WithMarketSource(fn func(string, brcfg.VenueConfig) (market.Source, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.sourceFn = fn }
}

func WithVenue(fn func(brcfg.VenueConfig, paper.PriceFunc) (exchange.Venue, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.venueFn = fn }
}

func WithProvider(fn func(brcfg.BackendConfig) (provider.ModelProvider, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.providerFn = fn }
}

func NewAppBuilder(cfg *brcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		sinkFn:     openGormStore,
		sourceFn:   gateway.NewSource,
		venueFn:    gateway.NewVenue,
		providerFn: provider.New,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func openGormStore(cfg brcfg.StoreConfig) (storeHandle, error) {
	s, err := gormstore.NewGormStore(cfg.Driver, cfg.Path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	sink, err := b.sinkFn(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("初始化存储失败: %w", err)
	}
	success := false
	defer func() {
		if !success {
			_ = sink.Close()
		}
	}()
	logger.Infof("✓ 存储已就绪 driver=%s path=%s", cfg.Store.Driver, cfg.Store.Path)

	lib, err := loadLibrary(cfg.Prompt.LibraryPath)
	if err != nil {
		return nil, err
	}

	assembly := &traderAssembly{
		markets:  newMarketStack(cfg.Market, b.sourceFn),
		deciders: newDeciderPool(lib, b.providerFn),
		venues:   newVenuePool(b.venueFn),
		sink:     sink,
	}
	registry := trader.NewRegistry(assembly.build)
	if err := registry.Load(cfg); err != nil {
		return nil, err
	}

	server, err := livehttp.NewServer(livehttp.ServerConfig{
		Addr:       cfg.App.HTTPAddr,
		Traders:    registry,
		Logs:       sink,
		Collectors: assembly.markets.Stats,
	})
	if err != nil {
		return nil, err
	}

	success = true
	return &App{
		cfg:      cfg,
		registry: registry,
		markets:  assembly.markets,
		deciders: assembly.deciders,
		http:     server,
		sink:     sink,
		Summary:  newStartupSummary(cfg, registry, assembly.markets.Keys()),
	}, nil
}

// traderAssembly 按配置为单个 trader 装配依赖，同时作为 Registry 的 Factory。
type traderAssembly struct {
	markets  *marketStack
	deciders *deciderPool
	venues   *venuePool
	sink     store.Sink
}

func (a *traderAssembly) build(cfg *brcfg.Config, t brcfg.TraderConfig) (*trader.Worker, error) {
	vcfg, ok := cfg.Venue(t.Venue)
	if !ok {
		return nil, fmt.Errorf("venue %s 未配置", t.Venue)
	}
	bcfg, ok := cfg.Backend(t.Backend)
	if !ok {
		return nil, fmt.Errorf("backend %s 未配置", t.Backend)
	}
	feed, err := a.markets.collectorFor(vcfg)
	if err != nil {
		return nil, err
	}
	venue, err := a.venues.get(vcfg, snapshotPrice(feed))
	if err != nil {
		return nil, fmt.Errorf("初始化场所 %s 失败: %w", vcfg.Name, err)
	}
	decider, err := a.deciders.get(bcfg)
	if err != nil {
		return nil, err
	}
	policy := feedback.PolicyFrom(cfg.Policy).WithThreshold(t.ConfidenceThreshold)
	return trader.NewWorker(trader.Deps{
		Config:     t,
		Policy:     policy,
		Execution:  cfg.Execution,
		Risk:       cfg.Risk,
		Feed:       feed,
		Candidates: coins.NewSelector(cfg.Signals, t),
		Decider:    decider,
		Executor:   exchange.NewExecutor(venue, cfg.Execution.OrderTimeout(), cfg.Execution.MaxRetries),
		Sink:       a.sink,
		Lookback:   cfg.Policy.LookbackTrades,
	})
}

type venueEntry struct {
	cfg   brcfg.VenueConfig
	venue exchange.Venue
}

// venuePool 按名称复用场所实例，paper 账户因此在同名 trader 间共享余额。
type venuePool struct {
	newVenue func(brcfg.VenueConfig, paper.PriceFunc) (exchange.Venue, error)

	mu      sync.Mutex
	entries map[string]venueEntry
}

func newVenuePool(fn func(brcfg.VenueConfig, paper.PriceFunc) (exchange.Venue, error)) *venuePool {
	if fn == nil {
		fn = gateway.NewVenue
	}
	return &venuePool{newVenue: fn, entries: make(map[string]venueEntry)}
}

func (p *venuePool) get(v brcfg.VenueConfig, prices paper.PriceFunc) (exchange.Venue, error) {
	key := strings.ToLower(strings.TrimSpace(v.Name))
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[key]; ok && reflect.DeepEqual(e.cfg, v) {
		return e.venue, nil
	}
	venue, err := p.newVenue(v, prices)
	if err != nil {
		return nil, err
	}
	p.entries[key] = venueEntry{cfg: v, venue: venue}
	return venue, nil
}
