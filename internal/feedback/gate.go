package feedback

import (
	"sync"
	"time"

	"aitrader/internal/config"
	"aitrader/internal/logger"
)

type Mode string

const (
	ModeNormal   Mode = "normal"
	ModeCautious Mode = "cautious"
	ModeCooldown Mode = "cooldown"
)

type Policy struct {
	Threshold         int
	CautiousThreshold int
	LowRatio          float64
	HighRatio         float64
	CooldownCycles    int
	CautiousOpenEvery int
}

func PolicyFrom(cfg config.PolicyConfig) Policy {
	return Policy{
		Threshold:         cfg.ConfidenceThreshold,
		CautiousThreshold: cfg.CautiousThreshold,
		LowRatio:          cfg.LowRatio,
		HighRatio:         cfg.HighRatio,
		CooldownCycles:    cfg.CooldownCycles,
		CautiousOpenEvery: cfg.CautiousOpenEvery,
	}
}

// WithThreshold 用 trader 级覆盖替换基础门槛，谨慎门槛不低于新的基础门槛。
func (p Policy) WithThreshold(threshold int) Policy {
	if threshold <= 0 {
		return p
	}
	p.Threshold = threshold
	if p.CautiousThreshold < threshold {
		p.CautiousThreshold = threshold
	}
	return p
}

// Verdict 是 Gate 对本轮的裁定。
type Verdict struct {
	Mode      Mode
	Threshold int
	// ForceWait 为 true 时本轮所有决策都改写为 wait。
	ForceWait bool
	// AllowOpen 为 false 时本轮禁止新开仓，平仓不受限制。
	AllowOpen bool
	// Remaining 是冷却剩余轮数（不含本轮）。
	Remaining int
}

// Gate 是 normal / cautious / cooldown 状态机，转换按轮次计数。
type Gate struct {
	mu     sync.Mutex
	policy Policy
	mode   Mode

	remaining int
	sinceOpen int

	// released 记录上一次冷却结束时已见到的最后平仓时间，
	// 只有之后出现新的平仓才允许再次进入冷却。
	released      bool
	releasedTrade time.Time

	scope logger.Scope
}

func NewGate(p Policy, scope logger.Scope) *Gate {
	if p.CooldownCycles <= 0 {
		p.CooldownCycles = 1
	}
	if p.CautiousOpenEvery <= 0 {
		p.CautiousOpenEvery = 1
	}
	return &Gate{
		policy:    p,
		mode:      ModeNormal,
		sinceOpen: p.CautiousOpenEvery,
		scope:     scope,
	}
}

func (g *Gate) Mode() Mode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mode
}

// Observe 每轮调用一次，返回本轮适用的门槛。
func (g *Gate) Observe(m Metric) Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sinceOpen++

	if g.mode == ModeCooldown {
		if g.remaining > 0 {
			g.remaining--
			return g.cooldownVerdict()
		}
		g.released = true
		g.releasedTrade = m.LastTradeAt
		g.setMode(ModeCautious, m)
	}

	switch {
	case !m.Valid || m.Ratio >= g.policy.HighRatio:
		g.setMode(ModeNormal, m)
	case m.Ratio < g.policy.LowRatio:
		if g.released && !m.LastTradeAt.After(g.releasedTrade) {
			g.setMode(ModeCautious, m)
			break
		}
		g.released = false
		g.remaining = g.policy.CooldownCycles - 1
		g.setMode(ModeCooldown, m)
		return g.cooldownVerdict()
	default:
		g.setMode(ModeCautious, m)
	}

	if g.mode == ModeCautious {
		return Verdict{
			Mode:      ModeCautious,
			Threshold: g.policy.CautiousThreshold,
			AllowOpen: g.sinceOpen >= g.policy.CautiousOpenEvery,
		}
	}
	return Verdict{Mode: ModeNormal, Threshold: g.policy.Threshold, AllowOpen: true}
}

// RecordOpen 在本轮成功开仓后调用，用于谨慎模式下的开仓频率限制。
func (g *Gate) RecordOpen() {
	g.mu.Lock()
	g.sinceOpen = 0
	g.mu.Unlock()
}

func (g *Gate) cooldownVerdict() Verdict {
	return Verdict{
		Mode:      ModeCooldown,
		Threshold: 101,
		ForceWait: true,
		Remaining: g.remaining,
	}
}

func (g *Gate) setMode(to Mode, m Metric) {
	if g.mode == to {
		return
	}
	g.scope.Infof("gate %s -> %s ratio=%.3f valid=%v samples=%d", g.mode, to, m.Ratio, m.Valid, m.Samples)
	g.mode = to
}
