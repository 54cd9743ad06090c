package config

import (
	"fmt"
	"strings"
)

var (
	knownProviders = map[string]struct{}{"openai": {}, "anthropic": {}, "ollama": {}}
	knownVenues    = map[string]struct{}{"binance": {}, "hyperliquid": {}, "paper": {}}
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Policy.validate(); err != nil {
		return err
	}
	if err := c.Execution.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	backendIDs := make(map[string]struct{}, len(c.Backends))
	for _, b := range c.Backends {
		if err := b.validate(); err != nil {
			return err
		}
		backendIDs[strings.ToLower(b.ID)] = struct{}{}
	}
	venueNames := make(map[string]struct{}, len(c.Venues))
	for _, v := range c.Venues {
		if err := v.validate(); err != nil {
			return err
		}
		key := strings.ToLower(v.Name)
		if _, dup := venueNames[key]; dup {
			return fmt.Errorf("venues contains duplicate name %s", v.Name)
		}
		venueNames[key] = struct{}{}
	}
	traderIDs := make(map[string]struct{}, len(c.Traders))
	for _, t := range c.Traders {
		if err := t.validate(); err != nil {
			return err
		}
		if _, dup := traderIDs[t.ID]; dup {
			return fmt.Errorf("traders contains duplicate id %s", t.ID)
		}
		traderIDs[t.ID] = struct{}{}
		if _, ok := backendIDs[strings.ToLower(t.Backend)]; !ok {
			return fmt.Errorf("traders.%s references unknown backend %q", t.ID, t.Backend)
		}
		if _, ok := venueNames[strings.ToLower(t.Venue)]; !ok {
			return fmt.Errorf("traders.%s references unknown venue %q", t.ID, t.Venue)
		}
	}
	return nil
}

func (s StoreConfig) validate() error {
	switch s.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("store.driver must be sqlite or sqlite3, got %q", s.Driver)
	}
	if strings.TrimSpace(s.Path) == "" {
		return fmt.Errorf("store.path cannot be empty")
	}
	return nil
}

func (m MarketConfig) validate() error {
	if _, err := ParseInterval(m.ShortInterval); err != nil {
		return fmt.Errorf("market.short_interval: %w", err)
	}
	if _, err := ParseInterval(m.LongInterval); err != nil {
		return fmt.Errorf("market.long_interval: %w", err)
	}
	if m.ShortWindow < 2 || m.LongWindow < 2 {
		return fmt.Errorf("market windows must be >= 2")
	}
	return nil
}

func (p PolicyConfig) validate() error {
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 100 {
		return fmt.Errorf("policy.confidence_threshold must be within [0,100]")
	}
	if p.CautiousThreshold < p.ConfidenceThreshold || p.CautiousThreshold > 100 {
		return fmt.Errorf("policy.cautious_threshold must be within [confidence_threshold,100]")
	}
	if p.LowRatio >= p.HighRatio {
		return fmt.Errorf("policy.low_ratio must be < policy.high_ratio")
	}
	if p.CooldownCycles <= 0 {
		return fmt.Errorf("policy.cooldown_cycles must be > 0")
	}
	if p.LookbackTrades < 2 {
		return fmt.Errorf("policy.lookback_trades must be >= 2")
	}
	return nil
}

func (e ExecutionConfig) validate() error {
	if e.MaxRetries < 0 || e.MaxRetries > 10 {
		return fmt.Errorf("execution.max_retries must be within [0,10]")
	}
	if e.Slippage >= 0.1 {
		return fmt.Errorf("execution.slippage must be < 0.1")
	}
	return nil
}

func (r RiskConfig) validate() error {
	if r.MaxMarginUsage <= 0 || r.MaxMarginUsage > 1 {
		return fmt.Errorf("risk.max_margin_usage must be within (0,1]")
	}
	if r.MajorPositionMultiple <= 0 || r.AltPositionMultiple <= 0 {
		return fmt.Errorf("risk position multiples must be > 0")
	}
	return nil
}

func (b BackendConfig) validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return fmt.Errorf("backends contains entry without id")
	}
	if _, ok := knownProviders[b.Provider]; !ok {
		return fmt.Errorf("backends.%s has unsupported provider %q", b.ID, b.Provider)
	}
	if strings.TrimSpace(b.Model) == "" {
		return fmt.Errorf("backends.%s missing model", b.ID)
	}
	if b.Provider != "ollama" && strings.TrimSpace(b.APIKey) == "" {
		return fmt.Errorf("backends.%s missing api_key", b.ID)
	}
	return nil
}

func (v VenueConfig) validate() error {
	if strings.TrimSpace(v.Name) == "" {
		return fmt.Errorf("venues contains entry without name")
	}
	if _, ok := knownVenues[v.Kind]; !ok {
		return fmt.Errorf("venues.%s has unsupported kind %q", v.Name, v.Kind)
	}
	switch v.Kind {
	case "binance":
		if v.APIKey == "" || v.SecretKey == "" {
			return fmt.Errorf("venues.%s requires api_key and secret_key", v.Name)
		}
	case "hyperliquid":
		if v.WalletAddress == "" || v.PrivateKey == "" {
			return fmt.Errorf("venues.%s requires wallet_address and private_key", v.Name)
		}
	case "paper":
		if v.MarketSource != "binance" && v.MarketSource != "hyperliquid" {
			return fmt.Errorf("venues.%s market_source must be binance or hyperliquid", v.Name)
		}
	}
	return nil
}

func (t TraderConfig) validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("traders contains entry without id")
	}
	// 停用的 trader 只校验 id 与引用，其余字段留到启用时再检查
	if !t.Enabled {
		return nil
	}
	if _, err := ParseInterval(t.ScanInterval); err != nil {
		return fmt.Errorf("traders.%s.scan_interval: %w", t.ID, err)
	}
	if t.MarginMode != "cross" && t.MarginMode != "isolated" {
		return fmt.Errorf("traders.%s.margin_mode must be cross or isolated", t.ID)
	}
	if t.MajorLeverage > 125 || t.AltLeverage > 125 {
		return fmt.Errorf("traders.%s leverage must be <= 125", t.ID)
	}
	if t.PositionPct > 1 {
		return fmt.Errorf("traders.%s.position_pct must be within (0,1]", t.ID)
	}
	if t.ConfidenceThreshold < 0 || t.ConfidenceThreshold > 100 {
		return fmt.Errorf("traders.%s.confidence_threshold must be within [0,100]", t.ID)
	}
	if len(t.Symbols) == 0 && !t.UseCoinPool && !t.UseOITop {
		return fmt.Errorf("traders.%s needs symbols or a signal source", t.ID)
	}
	return nil
}
