package config

import (
	"strings"
	"time"
)

// Config 是 aitrader 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Store     StoreConfig     `toml:"store"`
	Market    MarketConfig    `toml:"market"`
	Signals   SignalsConfig   `toml:"signals"`
	Policy    PolicyConfig    `toml:"policy"`
	Execution ExecutionConfig `toml:"execution"`
	Risk      RiskConfig      `toml:"risk"`
	Prompt    PromptConfig    `toml:"prompt"`
	Backends  []BackendConfig `toml:"backends"`
	Venues    []VenueConfig   `toml:"venues"`
	Traders   []TraderConfig  `toml:"traders"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
	LLMLog   string `toml:"llm_log_path"`
	LLMDump  bool   `toml:"llm_dump_payload"`
}

// StoreConfig 描述 TradeRecord / DecisionLog 的落盘位置。
// driver: "sqlite"（modernc，纯 Go）或 "sqlite3"（mattn，cgo）。
type StoreConfig struct {
	Driver string `toml:"driver"`
	Path   string `toml:"path"`
}

type MarketConfig struct {
	ShortInterval       string `toml:"short_interval"`
	LongInterval        string `toml:"long_interval"`
	ShortWindow         int    `toml:"short_window"`
	LongWindow          int    `toml:"long_window"`
	StaleAfterSeconds   int    `toml:"stale_after_seconds"`
	DerivRefreshSeconds int    `toml:"deriv_refresh_seconds"`
}

func (m MarketConfig) StaleAfter() time.Duration {
	return time.Duration(m.StaleAfterSeconds) * time.Second
}

func (m MarketConfig) DerivRefresh() time.Duration {
	return time.Duration(m.DerivRefreshSeconds) * time.Second
}

// SignalsConfig 外部候选币源（coin pool / OI 排行），均为不可信输入。
type SignalsConfig struct {
	CoinPoolURL    string `toml:"coin_pool_url"`
	OITopURL       string `toml:"oi_top_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxCandidates  int    `toml:"max_candidates"`
}

func (s SignalsConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// PolicyConfig 是置信度门槛与冷却策略的结构化参数。
type PolicyConfig struct {
	ConfidenceThreshold int     `toml:"confidence_threshold"`
	CautiousThreshold   int     `toml:"cautious_threshold"`
	LowRatio            float64 `toml:"low_ratio"`
	HighRatio           float64 `toml:"high_ratio"`
	CooldownCycles      int     `toml:"cooldown_cycles"`
	CautiousOpenEvery   int     `toml:"cautious_open_every"`
	LookbackTrades      int     `toml:"lookback_trades"`
}

type ExecutionConfig struct {
	OrderTimeoutSeconds int     `toml:"order_timeout_seconds"`
	MaxRetries          int     `toml:"max_retries"`
	Slippage            float64 `toml:"slippage"`
	ConnectivityBudget  int     `toml:"connectivity_budget"`
}

func (e ExecutionConfig) OrderTimeout() time.Duration {
	return time.Duration(e.OrderTimeoutSeconds) * time.Second
}

// RiskConfig 开仓前的账户级风控上限。
// max_margin_usage 为已用保证金占账户净值的比例上限；
// *_position_multiple 为单个持仓名义价值相对净值的倍数上限。
type RiskConfig struct {
	MaxMarginUsage        float64 `toml:"max_margin_usage"`
	MajorPositionMultiple float64 `toml:"major_position_multiple"`
	AltPositionMultiple   float64 `toml:"alt_position_multiple"`
}

type PromptConfig struct {
	LibraryPath string `toml:"library_path"`
}

// BackendConfig 推理后端；provider 取值 openai | anthropic | ollama。
type BackendConfig struct {
	ID             string  `toml:"id"`
	Provider       string  `toml:"provider"`
	APIURL         string  `toml:"api_url"`
	APIKey         string  `toml:"api_key"`
	Model          string  `toml:"model"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	MaxTokens      int     `toml:"max_tokens"`
	Temperature    float64 `toml:"temperature"`
	RatePerMinute  int     `toml:"rate_per_minute"`
}

func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// VenueConfig 交易场所；kind 取值 binance | hyperliquid | paper。
type VenueConfig struct {
	Name           string  `toml:"name"`
	Kind           string  `toml:"kind"`
	APIKey         string  `toml:"api_key"`
	SecretKey      string  `toml:"secret_key"`
	WalletAddress  string  `toml:"wallet_address"`
	PrivateKey     string  `toml:"private_key"`
	Testnet        bool    `toml:"testnet"`
	RESTBaseURL    string  `toml:"rest_base_url"`
	WSBaseURL      string  `toml:"ws_base_url"`
	MarketSource   string  `toml:"market_source"`
	InitialBalance float64 `toml:"initial_balance"`
}

type TraderConfig struct {
	ID                  string   `toml:"id"`
	Name                string   `toml:"name"`
	Enabled             bool     `toml:"enabled"`
	Venue               string   `toml:"venue"`
	Backend             string   `toml:"backend"`
	Symbols             []string `toml:"symbols"`
	ScanInterval        string   `toml:"scan_interval"`
	MajorLeverage       int      `toml:"major_leverage"`
	AltLeverage         int      `toml:"alt_leverage"`
	MarginMode          string   `toml:"margin_mode"`
	PositionPct         float64  `toml:"position_pct"`
	UseCoinPool         bool     `toml:"use_coin_pool"`
	UseOITop            bool     `toml:"use_oi_top"`
	PromptTemplate      string   `toml:"prompt_template"`
	ConfidenceThreshold int      `toml:"confidence_threshold"`
}

// ScanEvery 解析扫描间隔，非法值在 validate 阶段已被拦截。
func (t TraderConfig) ScanEvery() time.Duration {
	d, _ := ParseInterval(t.ScanInterval)
	return d
}

func (c *Config) Backend(id string) (BackendConfig, bool) {
	for _, b := range c.Backends {
		if strings.EqualFold(b.ID, id) {
			return b, true
		}
	}
	return BackendConfig{}, false
}

func (c *Config) Venue(name string) (VenueConfig, bool) {
	for _, v := range c.Venues {
		if strings.EqualFold(v.Name, name) {
			return v, true
		}
	}
	return VenueConfig{}, false
}

// EnabledTraders 返回启用的 trader 配置（保持声明顺序）。
func (c *Config) EnabledTraders() []TraderConfig {
	out := make([]TraderConfig, 0, len(c.Traders))
	for _, t := range c.Traders {
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
