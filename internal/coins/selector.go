package coins

import (
	"context"
	"strings"

	"aitrader/internal/config"
	"aitrader/internal/logger"
)

const (
	SourceStatic   = "static"
	SourceCoinPool = "coin_pool"
	SourceOITop    = "oi_top"

	// FallbackSymbol 在所有来源都为空时使用。
	FallbackSymbol = "BTC/USDT"
)

// CandidateSet 有序去重的候选币种，Sources 记录每个币种来自哪些信号源。
type CandidateSet struct {
	Symbols []string
	Sources map[string][]string
}

// Annotations 返回某个币种给推理后端看的来源标注。
func (c CandidateSet) Annotations(sym string) []string {
	srcs := c.Sources[sym]
	if len(srcs) == 0 {
		return nil
	}
	return []string{"候选来源: " + strings.Join(srcs, ", ")}
}

// Selector 按 static → coin pool → OI top 的顺序合并候选。
type Selector struct {
	static   SymbolProvider
	pool     SymbolProvider
	oiTop    SymbolProvider
	maxExtra int
	scope    logger.Scope
}

func NewSelector(signals config.SignalsConfig, trader config.TraderConfig) *Selector {
	s := &Selector{
		static:   NewStaticProvider(trader.Symbols),
		maxExtra: signals.MaxCandidates,
		scope:    logger.With("trader", trader.ID),
	}
	timeout := signals.Timeout()
	if trader.UseCoinPool && strings.TrimSpace(signals.CoinPoolURL) != "" {
		s.pool = NewHTTPSymbolProvider(SourceCoinPool, signals.CoinPoolURL, timeout)
	}
	if trader.UseOITop && strings.TrimSpace(signals.OITopURL) != "" {
		s.oiTop = NewHTTPSymbolProvider(SourceOITop, signals.OITopURL, timeout)
	}
	return s
}

// Select 永不失败：外部源异常只记录告警，全部为空时回退到 BTC/USDT。
func (s *Selector) Select(ctx context.Context) CandidateSet {
	set := CandidateSet{Sources: make(map[string][]string)}
	add := func(source string, symbols []string, limit int) {
		added := 0
		for _, sym := range symbols {
			if _, ok := set.Sources[sym]; !ok {
				if limit > 0 && added >= limit {
					continue
				}
				set.Symbols = append(set.Symbols, sym)
				added++
			}
			set.Sources[sym] = append(set.Sources[sym], source)
		}
	}

	if static, err := s.static.List(ctx); err == nil {
		add(SourceStatic, static, 0)
	}
	for _, p := range []SymbolProvider{s.pool, s.oiTop} {
		if p == nil {
			continue
		}
		symbols, err := p.List(ctx)
		if err != nil {
			s.scope.Warnf("信号源 %s 不可用，忽略: %v", p.Name(), err)
			continue
		}
		add(p.Name(), symbols, s.maxExtra)
	}

	if len(set.Symbols) == 0 {
		s.scope.Warnf("候选币种为空，回退到 %s", FallbackSymbol)
		set.Symbols = []string{FallbackSymbol}
		set.Sources[FallbackSymbol] = []string{"fallback"}
	}
	return set
}
