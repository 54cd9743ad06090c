package gateway

import (
	"fmt"
	"strings"

	"aitrader/internal/config"
	"aitrader/internal/gateway/binance"
	"aitrader/internal/gateway/exchange"
	"aitrader/internal/gateway/hyperliquid"
	"aitrader/internal/gateway/paper"
	"aitrader/internal/market"
)

// 场所类型是封闭集合，新增场所需要在这里显式登记。
const (
	KindBinance     = "binance"
	KindHyperliquid = "hyperliquid"
	KindPaper       = "paper"
)

// SourceKind 返回场所对应的行情源；paper 复用 market_source 指定的真实行情。
func SourceKind(v config.VenueConfig) string {
	kind := strings.ToLower(strings.TrimSpace(v.Kind))
	if kind == KindPaper {
		src := strings.ToLower(strings.TrimSpace(v.MarketSource))
		if src == "" {
			return KindBinance
		}
		return src
	}
	return kind
}

// NewSource 按行情源类型构造 market.Source；公开行情不需要凭证。
func NewSource(kind string, v config.VenueConfig) (market.Source, error) {
	switch strings.ToLower(kind) {
	case KindBinance:
		cfg := binance.Config{Testnet: v.Testnet}
		if strings.EqualFold(v.Kind, KindBinance) {
			cfg.RESTBaseURL = v.RESTBaseURL
		}
		return binance.New(cfg)
	case KindHyperliquid:
		cfg := hyperliquid.Config{Testnet: v.Testnet}
		if strings.EqualFold(v.Kind, KindHyperliquid) {
			cfg.APIURL = v.RESTBaseURL
			cfg.WSURL = v.WSBaseURL
		}
		return hyperliquid.NewSource(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported market source: %s", kind)
	}
}

// NewVenue 构造交易账户；prices 仅供 paper 使用。
func NewVenue(v config.VenueConfig, prices paper.PriceFunc) (exchange.Venue, error) {
	switch strings.ToLower(strings.TrimSpace(v.Kind)) {
	case KindBinance:
		return binance.NewVenue(v.Name, binance.Config{
			APIKey:      v.APIKey,
			SecretKey:   v.SecretKey,
			Testnet:     v.Testnet,
			RESTBaseURL: v.RESTBaseURL,
		})
	case KindHyperliquid:
		return hyperliquid.NewVenue(v.Name, hyperliquid.Config{
			WalletAddress: v.WalletAddress,
			PrivateKey:    v.PrivateKey,
			Testnet:       v.Testnet,
			APIURL:        v.RESTBaseURL,
			WSURL:         v.WSBaseURL,
		})
	case KindPaper:
		if prices == nil {
			return nil, fmt.Errorf("paper venue %s requires a price feed", v.Name)
		}
		return paper.NewVenue(v.Name, paper.Config{InitialBalance: v.InitialBalance}, prices), nil
	default:
		return nil, fmt.Errorf("unsupported venue kind: %s", v.Kind)
	}
}
