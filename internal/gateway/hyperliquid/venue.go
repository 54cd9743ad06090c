package hyperliquid

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"aitrader/internal/gateway/exchange"
	"aitrader/internal/logger"
	symbolpkg "aitrader/internal/pkg/symbol"

	"github.com/tidwall/gjson"
)

const (
	defaultSlippage = 0.05
	// 交易所要求单笔订单价值不低于 10 USDC。
	minOrderValue = 10
)

// Venue 是 Hyperliquid 永续账户的 exchange.Venue 实现；市价单以 IOC 限价单模拟。
type Venue struct {
	name   string
	wallet string
	client *Client
	signer *Signer
	now    func() time.Time

	modeMu sync.Mutex
	modes  map[string]exchange.MarginMode
}

func NewVenue(name string, cfg Config) (*Venue, error) {
	final := cfg.withDefaults()
	if final.WalletAddress == "" || final.PrivateKey == "" {
		return nil, fmt.Errorf("hyperliquid venue %s: wallet_address and private_key are required", name)
	}
	signer, err := NewSigner(final.PrivateKey, !final.Testnet)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = venueKind
	}
	return &Venue{
		name:   name,
		wallet: final.WalletAddress,
		client: NewClient(final),
		signer: signer,
		now:    time.Now,
		modes:  make(map[string]exchange.MarginMode),
	}, nil
}

func (v *Venue) Name() string { return v.name }

func (v *Venue) OpenLong(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	return v.order(ctx, req, true, false)
}

func (v *Venue) OpenShort(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	return v.order(ctx, req, false, false)
}

func (v *Venue) CloseLong(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	return v.closePosition(ctx, req, exchange.SideLong)
}

func (v *Venue) CloseShort(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	return v.closePosition(ctx, req, exchange.SideShort)
}

func (v *Venue) closePosition(ctx context.Context, req exchange.OrderRequest, side exchange.Side) (exchange.OrderResult, error) {
	if req.Size <= 0 {
		positions, err := v.GetPositions(ctx)
		if err != nil {
			return exchange.OrderResult{}, err
		}
		pos, ok := exchange.FindPosition(positions, req.Symbol)
		if !ok || pos.Side != side {
			return exchange.OrderResult{}, fmt.Errorf("%w: %s %s", exchange.ErrNoPosition, req.Symbol, side)
		}
		req.Size = pos.Size
	}
	return v.order(ctx, req, side == exchange.SideShort, true)
}

func (v *Venue) order(ctx context.Context, req exchange.OrderRequest, isBuy, reduceOnly bool) (exchange.OrderResult, error) {
	coin := symbolpkg.Parse(req.Symbol).Coin()
	asset, err := v.client.Asset(ctx, coin)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	ref := req.RefPrice
	if ref <= 0 {
		if ref, err = v.GetMarketPrice(ctx, req.Symbol); err != nil {
			return exchange.OrderResult{}, err
		}
	}
	slip := req.Slippage
	if slip <= 0 {
		slip = defaultSlippage
	}
	px := ref * (1 - slip)
	if isBuy {
		px = ref * (1 + slip)
	}
	size := formatSize(req.Size, asset.SzDecimals)
	if f, _ := strconv.ParseFloat(size, 64); f <= 0 {
		return exchange.OrderResult{}, fmt.Errorf("%w: %s size %s", exchange.ErrInvalidSize, req.Symbol, size)
	}
	action := orderAction{
		Type: "order",
		Orders: []orderWire{{
			Asset:      asset.Index,
			IsBuy:      isBuy,
			LimitPx:    formatPrice(px, asset.SzDecimals),
			Size:       size,
			ReduceOnly: reduceOnly,
			OrderType:  orderTypeWire{Limit: limitWire{Tif: "Ioc"}},
			Cloid:      toCloid(req.ClientID),
		}},
		Grouping: "na",
	}
	resp, err := v.client.Exchange(ctx, v.signer, action)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	status := resp.Get("data.statuses.0")
	switch {
	case status.Get("filled").Exists():
		f := status.Get("filled")
		logger.Infof("[hyperliquid] %s %s buy=%v size=%s avg=%s oid=%d",
			v.name, coin, isBuy, f.Get("totalSz").String(), f.Get("avgPx").String(), f.Get("oid").Int())
		return exchange.OrderResult{
			OrderID:    strconv.FormatInt(f.Get("oid").Int(), 10),
			FillPrice:  f.Get("avgPx").Float(),
			FilledSize: f.Get("totalSz").Float(),
		}, nil
	case status.Get("resting").Exists():
		return exchange.OrderResult{OrderID: strconv.FormatInt(status.Get("resting.oid").Int(), 10)}, nil
	case status.Get("error").Exists():
		return exchange.OrderResult{}, classifyMessage("order", status.Get("error").String())
	}
	return exchange.OrderResult{}, fmt.Errorf("%w: unexpected order status %s", exchange.ErrTransient, status.Raw)
}

// CancelAllOrders 只撤该 coin 的挂单；没有挂单或订单已终结都视为成功。
func (v *Venue) CancelAllOrders(ctx context.Context, symbol string) error {
	coin := symbolpkg.Parse(symbol).Coin()
	orders, err := v.client.OpenOrders(ctx, v.wallet)
	if err != nil {
		return err
	}
	var cancels []cancelWire
	for _, o := range orders {
		if o.Coin != coin {
			continue
		}
		asset, err := v.client.Asset(ctx, coin)
		if err != nil {
			return err
		}
		cancels = append(cancels, cancelWire{Asset: asset.Index, Oid: o.Oid})
	}
	if len(cancels) == 0 {
		return nil
	}
	resp, err := v.client.Exchange(ctx, v.signer, cancelAction{Type: "cancel", Cancels: cancels})
	if err != nil {
		return err
	}
	for _, st := range resp.Get("data.statuses").Array() {
		msg := st.Get("error").String()
		if msg == "" || isAlreadyDone(msg) {
			continue
		}
		return classifyMessage("cancel", msg)
	}
	return nil
}

func isAlreadyDone(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "already canceled") || strings.Contains(lower, "never placed") ||
		strings.Contains(lower, "filled")
}

// SetMarginMode 只在本地记录，随下一次 updateLeverage 一并提交。
func (v *Venue) SetMarginMode(_ context.Context, symbol string, mode exchange.MarginMode) error {
	v.modeMu.Lock()
	v.modes[symbolpkg.Normalize(symbol)] = mode
	v.modeMu.Unlock()
	return nil
}

func (v *Venue) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage <= 0 {
		return fmt.Errorf("%w: invalid leverage %d", exchange.ErrRejected, leverage)
	}
	coin := symbolpkg.Parse(symbol).Coin()
	asset, err := v.client.Asset(ctx, coin)
	if err != nil {
		return err
	}
	v.modeMu.Lock()
	mode, ok := v.modes[symbolpkg.Normalize(symbol)]
	v.modeMu.Unlock()
	isCross := !ok || mode != exchange.MarginIsolated
	_, err = v.client.Exchange(ctx, v.signer, updateLeverageAction{
		Type:     "updateLeverage",
		Asset:    asset.Index,
		IsCross:  isCross,
		Leverage: leverage,
	})
	return err
}

func (v *Venue) GetMarketPrice(ctx context.Context, symbol string) (float64, error) {
	coin := symbolpkg.Parse(symbol).Coin()
	mids, err := v.client.AllMids(ctx)
	if err != nil {
		return 0, err
	}
	px, ok := mids[coin]
	if !ok || px <= 0 {
		return 0, fmt.Errorf("%w: no mid price for %s", exchange.ErrTransient, coin)
	}
	return px, nil
}

func (v *Venue) GetBalance(ctx context.Context) (exchange.Balance, error) {
	state, err := v.client.ClearinghouseState(ctx, v.wallet)
	if err != nil {
		return exchange.Balance{}, err
	}
	total := state.Get("marginSummary.accountValue").Float()
	available := state.Get("withdrawable").Float()
	if !state.Get("withdrawable").Exists() {
		available = total
	}
	return exchange.Balance{Asset: "USDC", Total: total, Available: available, UpdatedAt: v.now()}, nil
}

func (v *Venue) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	state, err := v.client.ClearinghouseState(ctx, v.wallet)
	if err != nil {
		return nil, err
	}
	var out []exchange.Position
	state.Get("assetPositions").ForEach(func(_, item gjson.Result) bool {
		p := item.Get("position")
		szi := p.Get("szi").Float()
		if szi == 0 {
			return true
		}
		side := exchange.SideLong
		if szi < 0 {
			side = exchange.SideShort
		}
		size := math.Abs(szi)
		mode := exchange.MarginCross
		if p.Get("leverage.type").String() == "isolated" {
			mode = exchange.MarginIsolated
		}
		out = append(out, exchange.Position{
			Symbol:        symbolpkg.Normalize(p.Get("coin").String()),
			Side:          side,
			Size:          size,
			EntryPrice:    p.Get("entryPx").Float(),
			MarkPrice:     p.Get("positionValue").Float() / size,
			Leverage:      int(p.Get("leverage.value").Int()),
			MarginMode:    mode,
			UnrealizedPnL: p.Get("unrealizedPnl").Float(),
		})
		return true
	})
	return out, nil
}

func (v *Venue) Rules(ctx context.Context, symbol string) (exchange.Rules, error) {
	asset, err := v.client.Asset(ctx, symbolpkg.Parse(symbol).Coin())
	if err != nil {
		return exchange.Rules{}, err
	}
	step := math.Pow10(-asset.SzDecimals)
	return exchange.Rules{StepSize: step, MinQty: step, MinNotional: minOrderValue}, nil
}
