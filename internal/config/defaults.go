package config

import (
	"os"
	"strings"
	"time"
)

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":9991"
	defaultAppLogPath        = "data/logs/aitrader.log"
	defaultAppLLMLogPath     = "data/logs/aitrader-llm.log"
	defaultStoreDriver       = "sqlite"
	defaultStorePath         = "data/aitrader.db"
	defaultShortInterval     = "3m"
	defaultLongInterval      = "4h"
	defaultShortWindow       = 100
	defaultLongWindow        = 60
	defaultDerivRefresh      = 30
	defaultSignalTimeout     = 10
	defaultMaxCandidates     = 10
	defaultConfidence        = 75
	defaultCautiousThreshold = 85
	defaultLowRatio          = -0.5
	defaultHighRatio         = 0.5
	defaultCooldownCycles    = 3
	defaultCautiousEvery     = 2
	defaultLookbackTrades    = 20
	defaultOrderTimeout      = 10
	defaultMaxRetries        = 3
	defaultSlippage          = 0.005
	defaultConnBudget        = 5
	defaultMaxMarginUsage    = 0.8
	defaultMajorPosMultiple  = 10
	defaultAltPosMultiple    = 1.5
	defaultBackendTimeout    = 60
	defaultBackendMaxTokens  = 2000
	defaultBackendRate       = 30
	defaultScanInterval      = "3m"
	defaultMajorLeverage     = 5
	defaultAltLeverage       = 5
	defaultMarginMode        = "cross"
	defaultPositionPct       = 0.1
	defaultPromptTemplate    = "default"
	defaultPaperBalance      = 10000
)

var defaultBackendURLs = map[string]string{
	"openai":    "https://api.openai.com/v1",
	"anthropic": "https://api.anthropic.com/v1",
	"ollama":    "http://localhost:11434",
}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Signals.applyDefaults(keys)
	c.Policy.applyDefaults(keys)
	c.Execution.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	for i := range c.Backends {
		c.Backends[i].applyDefaults()
	}
	for i := range c.Venues {
		c.Venues[i].applyDefaults()
	}
	for i := range c.Traders {
		c.Traders[i].applyDefaults()
	}
	// stale 阈值默认取最短扫描间隔的两倍
	if c.Market.StaleAfterSeconds <= 0 {
		c.Market.StaleAfterSeconds = int(2 * c.shortestScan().Seconds())
	}
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.llm_log_path", &a.LLMLog, defaultAppLLMLogPath),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("store.driver", &s.Driver, defaultStoreDriver),
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("market.short_interval", &m.ShortInterval, defaultShortInterval),
		stringFieldDefault("market.long_interval", &m.LongInterval, defaultLongInterval),
		intFieldDefault("market.short_window", &m.ShortWindow, defaultShortWindow),
		intFieldDefault("market.long_window", &m.LongWindow, defaultLongWindow),
		intFieldDefault("market.deriv_refresh_seconds", &m.DerivRefreshSeconds, defaultDerivRefresh),
	)
}

func (s *SignalsConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("signals.timeout_seconds", &s.TimeoutSeconds, defaultSignalTimeout),
		intFieldDefault("signals.max_candidates", &s.MaxCandidates, defaultMaxCandidates),
	)
}

func (p *PolicyConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("policy.confidence_threshold", &p.ConfidenceThreshold, defaultConfidence),
		intFieldDefault("policy.cautious_threshold", &p.CautiousThreshold, defaultCautiousThreshold),
		intFieldDefault("policy.cooldown_cycles", &p.CooldownCycles, defaultCooldownCycles),
		intFieldDefault("policy.cautious_open_every", &p.CautiousOpenEvery, defaultCautiousEvery),
		intFieldDefault("policy.lookback_trades", &p.LookbackTrades, defaultLookbackTrades),
		fieldDefault{
			key:   "policy.low_ratio",
			need:  func() bool { return p.LowRatio == 0 },
			apply: func() { p.LowRatio = defaultLowRatio },
		},
		fieldDefault{
			key:   "policy.high_ratio",
			need:  func() bool { return p.HighRatio == 0 },
			apply: func() { p.HighRatio = defaultHighRatio },
		},
	)
}

func (e *ExecutionConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("execution.order_timeout_seconds", &e.OrderTimeoutSeconds, defaultOrderTimeout),
		intFieldDefault("execution.max_retries", &e.MaxRetries, defaultMaxRetries),
		intFieldDefault("execution.connectivity_budget", &e.ConnectivityBudget, defaultConnBudget),
		fieldDefault{
			key:   "execution.slippage",
			need:  func() bool { return e.Slippage <= 0 },
			apply: func() { e.Slippage = defaultSlippage },
		},
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		floatFieldDefault("risk.max_margin_usage", &r.MaxMarginUsage, defaultMaxMarginUsage),
		floatFieldDefault("risk.major_position_multiple", &r.MajorPositionMultiple, defaultMajorPosMultiple),
		floatFieldDefault("risk.alt_position_multiple", &r.AltPositionMultiple, defaultAltPosMultiple),
	)
}

func (b *BackendConfig) applyDefaults() {
	b.Provider = strings.ToLower(strings.TrimSpace(b.Provider))
	if strings.TrimSpace(b.APIURL) == "" {
		b.APIURL = defaultBackendURLs[b.Provider]
	}
	if b.TimeoutSeconds <= 0 {
		b.TimeoutSeconds = defaultBackendTimeout
	}
	if b.MaxTokens <= 0 {
		b.MaxTokens = defaultBackendMaxTokens
	}
	if b.RatePerMinute <= 0 {
		b.RatePerMinute = defaultBackendRate
	}
}

func (v *VenueConfig) applyDefaults() {
	v.Kind = strings.ToLower(strings.TrimSpace(v.Kind))
	if v.Kind == "paper" {
		if v.InitialBalance <= 0 {
			v.InitialBalance = defaultPaperBalance
		}
		if strings.TrimSpace(v.MarketSource) == "" {
			v.MarketSource = "binance"
		}
	}
}

func (t *TraderConfig) applyDefaults() {
	if strings.TrimSpace(t.ScanInterval) == "" {
		t.ScanInterval = defaultScanInterval
	}
	if t.MajorLeverage <= 0 {
		t.MajorLeverage = defaultMajorLeverage
	}
	if t.AltLeverage <= 0 {
		t.AltLeverage = defaultAltLeverage
	}
	t.MarginMode = strings.ToLower(strings.TrimSpace(t.MarginMode))
	if t.MarginMode == "" {
		t.MarginMode = defaultMarginMode
	}
	if t.PositionPct <= 0 {
		t.PositionPct = defaultPositionPct
	}
	if strings.TrimSpace(t.PromptTemplate) == "" {
		t.PromptTemplate = defaultPromptTemplate
	}
	if strings.TrimSpace(t.Name) == "" {
		t.Name = t.ID
	}
}

// expandSecrets 允许凭证写成 ${ENV_NAME}，由 .env / 环境变量提供。
func (c *Config) expandSecrets() {
	for i := range c.Backends {
		c.Backends[i].APIKey = os.ExpandEnv(c.Backends[i].APIKey)
	}
	for i := range c.Venues {
		v := &c.Venues[i]
		v.APIKey = os.ExpandEnv(v.APIKey)
		v.SecretKey = os.ExpandEnv(v.SecretKey)
		v.WalletAddress = os.ExpandEnv(v.WalletAddress)
		v.PrivateKey = os.ExpandEnv(v.PrivateKey)
	}
}

func (c *Config) shortestScan() (min time.Duration) {
	for _, t := range c.Traders {
		d := t.ScanEvery()
		if d > 0 && (min == 0 || d < min) {
			min = d
		}
	}
	if min == 0 {
		d, _ := ParseInterval(defaultScanInterval)
		min = d
	}
	return min
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}
