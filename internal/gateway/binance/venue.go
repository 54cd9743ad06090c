package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"aitrader/internal/gateway/exchange"
	"aitrader/internal/logger"
	symbolpkg "aitrader/internal/pkg/symbol"

	"github.com/adshao/go-binance/v2/futures"
)

// Venue 是 U 本位合约账户的 exchange.Venue 实现，单向持仓模式。
type Venue struct {
	name   string
	client *futures.Client
	now    func() time.Time

	rulesMu sync.Mutex
	rules   map[string]exchange.Rules
}

func NewVenue(name string, cfg Config) (*Venue, error) {
	final := cfg.withDefaults()
	if final.APIKey == "" || final.SecretKey == "" {
		return nil, fmt.Errorf("binance venue %s: api_key and secret_key are required", name)
	}
	client, err := newClient(final)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = venueKind
	}
	return &Venue{name: name, client: client, now: time.Now, rules: make(map[string]exchange.Rules)}, nil
}

func (v *Venue) Name() string { return v.name }

func (v *Venue) OpenLong(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	return v.submit(ctx, req, futures.SideTypeBuy, false)
}

func (v *Venue) OpenShort(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	return v.submit(ctx, req, futures.SideTypeSell, false)
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
	orderSide := futures.SideTypeSell
	if side == exchange.SideShort {
		orderSide = futures.SideTypeBuy
	}
	return v.submit(ctx, req, orderSide, true)
}

func (v *Venue) submit(ctx context.Context, req exchange.OrderRequest, side futures.SideType, reduceOnly bool) (exchange.OrderResult, error) {
	sym := symbolpkg.Parse(req.Symbol).Binance()
	if sym == "" {
		return exchange.OrderResult{}, fmt.Errorf("%w: invalid symbol %q", exchange.ErrRejected, req.Symbol)
	}
	rules, err := v.Rules(ctx, req.Symbol)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	qty := exchange.FormatQuantity(req.Size, rules.StepSize)
	if parseFloat(qty) <= 0 {
		return exchange.OrderResult{}, fmt.Errorf("%w: %s quantity %s", exchange.ErrInvalidSize, req.Symbol, qty)
	}
	svc := v.client.NewCreateOrderService().
		Symbol(sym).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(qty).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if req.ClientID != "" {
		svc.NewClientOrderID(req.ClientID)
	}
	if reduceOnly {
		svc.ReduceOnly(true)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return exchange.OrderResult{}, classify("create order", err)
	}
	logger.Infof("[binance] %s %s %s qty=%s order=%d", v.name, side, sym, qty, res.OrderID)
	return exchange.OrderResult{
		OrderID:    strconv.FormatInt(res.OrderID, 10),
		FillPrice:  parseFloat(res.AvgPrice),
		FilledSize: parseFloat(res.ExecutedQuantity),
	}, nil
}

// CancelAllOrders 对无挂单的 symbol 交易所同样返回 200，天然幂等。
func (v *Venue) CancelAllOrders(ctx context.Context, symbol string) error {
	sym := symbolpkg.Parse(symbol).Binance()
	if sym == "" {
		return fmt.Errorf("%w: invalid symbol %q", exchange.ErrRejected, symbol)
	}
	if err := v.client.NewCancelAllOpenOrdersService().Symbol(sym).Do(ctx); err != nil {
		return classify("cancel all", err)
	}
	return nil
}

func (v *Venue) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	sym := symbolpkg.Parse(symbol).Binance()
	if sym == "" || leverage <= 0 {
		return fmt.Errorf("%w: invalid leverage %d for %q", exchange.ErrRejected, leverage, symbol)
	}
	if _, err := v.client.NewChangeLeverageService().Symbol(sym).Leverage(leverage).Do(ctx); err != nil {
		return classify("change leverage", err)
	}
	return nil
}

func (v *Venue) SetMarginMode(ctx context.Context, symbol string, mode exchange.MarginMode) error {
	sym := symbolpkg.Parse(symbol).Binance()
	if sym == "" {
		return fmt.Errorf("%w: invalid symbol %q", exchange.ErrRejected, symbol)
	}
	marginType := futures.MarginTypeCrossed
	if mode == exchange.MarginIsolated {
		marginType = futures.MarginTypeIsolated
	}
	err := v.client.NewChangeMarginTypeService().Symbol(sym).MarginType(marginType).Do(ctx)
	if err != nil && !isCode(err, codeNoNeedMargin) {
		return classify("change margin type", err)
	}
	return nil
}

func (v *Venue) GetMarketPrice(ctx context.Context, symbol string) (float64, error) {
	sym := symbolpkg.Parse(symbol).Binance()
	prices, err := v.client.NewListPricesService().Symbol(sym).Do(ctx)
	if err != nil {
		return 0, classify("ticker price", err)
	}
	for _, p := range prices {
		if p != nil && strings.EqualFold(p.Symbol, sym) {
			if px := parseFloat(p.Price); px > 0 {
				return px, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: no price for %s", exchange.ErrTransient, symbol)
}

// GetBalance 返回 USDT 钱包余额与可用保证金。
func (v *Venue) GetBalance(ctx context.Context) (exchange.Balance, error) {
	balances, err := v.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return exchange.Balance{}, classify("balance", err)
	}
	for _, b := range balances {
		if b == nil || !strings.EqualFold(b.Asset, "USDT") {
			continue
		}
		return exchange.Balance{
			Asset:     "USDT",
			Total:     parseFloat(b.Balance),
			Available: parseFloat(b.AvailableBalance),
			UpdatedAt: v.now(),
		}, nil
	}
	return exchange.Balance{Asset: "USDT", UpdatedAt: v.now()}, nil
}

func (v *Venue) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	risks, err := v.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, classify("position risk", err)
	}
	out := make([]exchange.Position, 0, len(risks))
	for _, r := range risks {
		if r == nil {
			continue
		}
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		side := exchange.SideLong
		if amt < 0 {
			side = exchange.SideShort
			amt = -amt
		}
		lev, _ := strconv.Atoi(strings.TrimSpace(r.Leverage))
		mode := exchange.MarginCross
		if strings.EqualFold(r.MarginType, "isolated") {
			mode = exchange.MarginIsolated
		}
		out = append(out, exchange.Position{
			Symbol:        symbolpkg.Normalize(r.Symbol),
			Side:          side,
			Size:          amt,
			EntryPrice:    parseFloat(r.EntryPrice),
			MarkPrice:     parseFloat(r.MarkPrice),
			Leverage:      lev,
			MarginMode:    mode,
			UnrealizedPnL: parseFloat(r.UnRealizedProfit),
		})
	}
	return out, nil
}

// Rules 读取 LOT_SIZE 与 MIN_NOTIONAL，首次访问时整体加载 exchangeInfo。
func (v *Venue) Rules(ctx context.Context, symbol string) (exchange.Rules, error) {
	sym := symbolpkg.Parse(symbol).Binance()
	v.rulesMu.Lock()
	r, ok := v.rules[sym]
	v.rulesMu.Unlock()
	if ok {
		return r, nil
	}
	info, err := v.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return exchange.Rules{}, classify("exchange info", err)
	}
	loaded := make(map[string]exchange.Rules, len(info.Symbols))
	for i := range info.Symbols {
		s := &info.Symbols[i]
		var rule exchange.Rules
		if lot := s.LotSizeFilter(); lot != nil {
			rule.StepSize = parseFloat(lot.StepSize)
			rule.MinQty = parseFloat(lot.MinQuantity)
		}
		if mn := s.MinNotionalFilter(); mn != nil {
			rule.MinNotional = parseFloat(mn.Notional)
		}
		loaded[s.Symbol] = rule
	}
	v.rulesMu.Lock()
	v.rules = loaded
	r, ok = loaded[sym]
	v.rulesMu.Unlock()
	if !ok {
		return exchange.Rules{}, fmt.Errorf("%w: unknown symbol %s", exchange.ErrRejected, symbol)
	}
	return r, nil
}
