// Package hyperliquid 对接 Hyperliquid 永续合约：/info 读接口、/exchange 签名写接口与 WS K 线。
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"aitrader/internal/gateway/exchange"
	"aitrader/internal/market"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	venueKind = "hyperliquid"

	MainnetAPIURL = "https://api.hyperliquid.xyz"
	TestnetAPIURL = "https://api.hyperliquid-testnet.xyz"
	MainnetWSURL  = "wss://api.hyperliquid.xyz/ws"
	TestnetWSURL  = "wss://api.hyperliquid-testnet.xyz/ws"

	maxBodyBytes = 8 << 20
)

type Config struct {
	WalletAddress string
	PrivateKey    string
	Testnet       bool
	APIURL        string
	WSURL         string
	HTTPTimeout   time.Duration
	// RequestsPerSecond 限制 REST 调用频率，交易所按 IP 计权重。
	RequestsPerSecond float64
}

func (c *Config) withDefaults() Config {
	out := *c
	out.WalletAddress = strings.TrimSpace(out.WalletAddress)
	out.PrivateKey = strings.TrimSpace(out.PrivateKey)
	out.APIURL = strings.TrimRight(strings.TrimSpace(out.APIURL), "/")
	if out.APIURL == "" {
		out.APIURL = MainnetAPIURL
		if out.Testnet {
			out.APIURL = TestnetAPIURL
		}
	}
	out.WSURL = strings.TrimSpace(out.WSURL)
	if out.WSURL == "" {
		out.WSURL = MainnetWSURL
		if out.Testnet {
			out.WSURL = TestnetWSURL
		}
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	if out.RequestsPerSecond <= 0 {
		out.RequestsPerSecond = 10
	}
	return out
}

type AssetMeta struct {
	Index      int
	Name       string
	SzDecimals int
}

// Client 封装 /info 与 /exchange 的 HTTP 调用。
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter

	metaMu sync.Mutex
	meta   map[string]AssetMeta
}

func NewClient(cfg Config) *Client {
	final := cfg.withDefaults()
	return &Client{
		baseURL: final.APIURL,
		http:    &http.Client{Timeout: final.HTTPTimeout},
		limiter: rate.NewLimiter(rate.Limit(final.RequestsPerSecond), int(final.RequestsPerSecond)+1),
	}
}

func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, exchange.Classify(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, exchange.Classify(err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, exchange.NewError(exchange.ErrTransient, venueKind, int64(resp.StatusCode), path+": "+string(data), nil)
	case resp.StatusCode >= 400:
		return nil, classifyMessage(path, string(data))
	}
	return data, nil
}

func (c *Client) info(ctx context.Context, body any) (gjson.Result, error) {
	data, err := c.post(ctx, "/info", body)
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("%w: invalid info response", exchange.ErrTransient)
	}
	return gjson.ParseBytes(data), nil
}

// Asset 返回 coin 在 universe 中的下标与数量精度，meta 只在首次或未命中时拉取。
func (c *Client) Asset(ctx context.Context, coin string) (AssetMeta, error) {
	coin = strings.ToUpper(strings.TrimSpace(coin))
	c.metaMu.Lock()
	m, ok := c.meta[coin]
	c.metaMu.Unlock()
	if ok {
		return m, nil
	}
	res, err := c.info(ctx, map[string]string{"type": "meta"})
	if err != nil {
		return AssetMeta{}, err
	}
	loaded := make(map[string]AssetMeta)
	for i, u := range res.Get("universe").Array() {
		name := strings.ToUpper(u.Get("name").String())
		loaded[name] = AssetMeta{Index: i, Name: name, SzDecimals: int(u.Get("szDecimals").Int())}
	}
	c.metaMu.Lock()
	c.meta = loaded
	m, ok = loaded[coin]
	c.metaMu.Unlock()
	if !ok {
		return AssetMeta{}, fmt.Errorf("%w: unknown coin %s", exchange.ErrRejected, coin)
	}
	return m, nil
}

func (c *Client) AllMids(ctx context.Context) (map[string]float64, error) {
	res, err := c.info(ctx, map[string]string{"type": "allMids"})
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	res.ForEach(func(k, v gjson.Result) bool {
		out[strings.ToUpper(k.String())] = v.Float()
		return true
	})
	return out, nil
}

func (c *Client) ClearinghouseState(ctx context.Context, user string) (gjson.Result, error) {
	return c.info(ctx, map[string]string{"type": "clearinghouseState", "user": user})
}

type OpenOrder struct {
	Coin string
	Oid  int64
}

func (c *Client) OpenOrders(ctx context.Context, user string) ([]OpenOrder, error) {
	res, err := c.info(ctx, map[string]string{"type": "openOrders", "user": user})
	if err != nil {
		return nil, err
	}
	var out []OpenOrder
	for _, o := range res.Array() {
		out = append(out, OpenOrder{Coin: strings.ToUpper(o.Get("coin").String()), Oid: o.Get("oid").Int()})
	}
	return out, nil
}

func (c *Client) Candles(ctx context.Context, coin, interval string, start, end time.Time) ([]market.Candle, error) {
	res, err := c.info(ctx, map[string]any{
		"type": "candleSnapshot",
		"req": map[string]any{
			"coin":      coin,
			"interval":  interval,
			"startTime": start.UnixMilli(),
			"endTime":   end.UnixMilli(),
		},
	})
	if err != nil {
		return nil, err
	}
	arr := res.Array()
	out := make([]market.Candle, 0, len(arr))
	for _, k := range arr {
		out = append(out, parseCandle(k))
	}
	return out, nil
}

func parseCandle(k gjson.Result) market.Candle {
	return market.Candle{
		OpenTime:  k.Get("t").Int(),
		CloseTime: k.Get("T").Int(),
		Open:      k.Get("o").Float(),
		High:      k.Get("h").Float(),
		Low:       k.Get("l").Float(),
		Close:     k.Get("c").Float(),
		Volume:    k.Get("v").Float(),
	}
}

// TopOfBook 返回 l2Book 的最优买一与卖一。
func (c *Client) TopOfBook(ctx context.Context, coin string) (bid, ask float64, err error) {
	res, err := c.info(ctx, map[string]string{"type": "l2Book", "coin": coin})
	if err != nil {
		return 0, 0, err
	}
	levels := res.Get("levels").Array()
	if len(levels) == 2 {
		bid = levels[0].Get("0.px").Float()
		ask = levels[1].Get("0.px").Float()
	}
	return bid, ask, nil
}

type AssetCtx struct {
	Funding      float64
	OpenInterest float64
	MarkPx       float64
}

func (c *Client) AssetContext(ctx context.Context, coin string) (AssetCtx, error) {
	res, err := c.info(ctx, map[string]string{"type": "metaAndAssetCtxs"})
	if err != nil {
		return AssetCtx{}, err
	}
	coin = strings.ToUpper(coin)
	universe := res.Get("0.universe").Array()
	ctxs := res.Get("1").Array()
	for i, u := range universe {
		if !strings.EqualFold(u.Get("name").String(), coin) || i >= len(ctxs) {
			continue
		}
		return AssetCtx{
			Funding:      ctxs[i].Get("funding").Float(),
			OpenInterest: ctxs[i].Get("openInterest").Float(),
			MarkPx:       ctxs[i].Get("markPx").Float(),
		}, nil
	}
	return AssetCtx{}, fmt.Errorf("%w: unknown coin %s", exchange.ErrRejected, coin)
}

type exchangeRequest struct {
	Action       any       `json:"action"`
	Nonce        uint64    `json:"nonce"`
	Signature    Signature `json:"signature"`
	VaultAddress *string   `json:"vaultAddress"`
}

// Exchange 签名并提交一个 action，返回 response 字段。
func (c *Client) Exchange(ctx context.Context, signer *Signer, action any) (gjson.Result, error) {
	nonce := signer.nextNonce()
	sig, err := signer.SignAction(action, nonce)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: sign action: %v", exchange.ErrFatal, err)
	}
	data, err := c.post(ctx, "/exchange", exchangeRequest{Action: action, Nonce: nonce, Signature: sig})
	if err != nil {
		return gjson.Result{}, err
	}
	res := gjson.ParseBytes(data)
	if res.Get("status").String() != "ok" {
		return gjson.Result{}, classifyMessage("exchange", res.Get("response").String())
	}
	return res.Get("response"), nil
}

// classifyMessage 根据错误文案归类；Hyperliquid 没有数字错误码。
func classifyMessage(op, msg string) error {
	lower := strings.ToLower(msg)
	class := exchange.ErrRejected
	switch {
	case strings.Contains(lower, "does not exist") && strings.Contains(lower, "wallet"):
		class = exchange.ErrFatal
	case strings.Contains(lower, "duplicate"):
		class = exchange.ErrDuplicate
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "too many"):
		class = exchange.ErrTransient
	}
	return exchange.NewError(class, venueKind, 0, op+": "+msg, nil)
}
