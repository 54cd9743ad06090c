// Package paper 是内存撮合的模拟账户，按参考价即时全部成交。
package paper

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"aitrader/internal/gateway/exchange"
	"aitrader/internal/logger"
	symbolpkg "aitrader/internal/pkg/symbol"

	"github.com/shopspring/decimal"
)

// PriceFunc 返回 symbol 的最新参考价。
type PriceFunc func(ctx context.Context, symbol string) (float64, error)

type Config struct {
	InitialBalance float64
	// TakerFee 按名义价值收取，0 取默认 0.0004，负数表示免手续费。
	TakerFee float64
	Rules    exchange.Rules
}

type position struct {
	side     exchange.Side
	size     decimal.Decimal
	entry    decimal.Decimal
	margin   decimal.Decimal
	leverage int
	mode     exchange.MarginMode
}

type Venue struct {
	name   string
	prices PriceFunc
	fee    decimal.Decimal
	rules  exchange.Rules
	now    func() time.Time

	mu        sync.Mutex
	cash      decimal.Decimal
	positions map[string]*position
	leverage  map[string]int
	modes     map[string]exchange.MarginMode
	seen      map[string]struct{}
	nextID    int64
}

func NewVenue(name string, cfg Config, prices PriceFunc) *Venue {
	if cfg.InitialBalance <= 0 {
		cfg.InitialBalance = 10000
	}
	if cfg.TakerFee < 0 {
		cfg.TakerFee = 0
	} else if cfg.TakerFee == 0 {
		cfg.TakerFee = 0.0004
	}
	if cfg.Rules == (exchange.Rules{}) {
		cfg.Rules = exchange.Rules{StepSize: 0.0001, MinQty: 0.0001, MinNotional: 5}
	}
	if name == "" {
		name = "paper"
	}
	return &Venue{
		name:      name,
		prices:    prices,
		fee:       decimal.NewFromFloat(cfg.TakerFee),
		rules:     cfg.Rules,
		now:       time.Now,
		cash:      decimal.NewFromFloat(cfg.InitialBalance),
		positions: make(map[string]*position),
		leverage:  make(map[string]int),
		modes:     make(map[string]exchange.MarginMode),
		seen:      make(map[string]struct{}),
	}
}

func (v *Venue) Name() string { return v.name }

func (v *Venue) OpenLong(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	return v.open(ctx, req, exchange.SideLong)
}

func (v *Venue) OpenShort(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	return v.open(ctx, req, exchange.SideShort)
}

func (v *Venue) CloseLong(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	return v.close(ctx, req, exchange.SideLong)
}

func (v *Venue) CloseShort(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	return v.close(ctx, req, exchange.SideShort)
}

func (v *Venue) fillPrice(ctx context.Context, req exchange.OrderRequest) (decimal.Decimal, error) {
	px, err := v.prices(ctx, req.Symbol)
	if err != nil || px <= 0 {
		if req.RefPrice > 0 {
			return decimal.NewFromFloat(req.RefPrice), nil
		}
		if err == nil {
			err = fmt.Errorf("no price for %s", req.Symbol)
		}
		return decimal.Zero, fmt.Errorf("%w: %v", exchange.ErrTransient, err)
	}
	return decimal.NewFromFloat(px), nil
}

// claim 登记 ClientID，重复提交返回 ErrDuplicate；调用方需持有 mu。
func (v *Venue) claim(id string) error {
	if id == "" {
		return nil
	}
	if _, ok := v.seen[id]; ok {
		return exchange.NewError(exchange.ErrDuplicate, v.name, 0, "client id "+id, nil)
	}
	v.seen[id] = struct{}{}
	return nil
}

func (v *Venue) open(ctx context.Context, req exchange.OrderRequest, side exchange.Side) (exchange.OrderResult, error) {
	sym := symbolpkg.Normalize(req.Symbol)
	if sym == "" || req.Size <= 0 {
		return exchange.OrderResult{}, fmt.Errorf("%w: %s size %.8f", exchange.ErrInvalidSize, req.Symbol, req.Size)
	}
	px, err := v.fillPrice(ctx, req)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	lev := req.Leverage
	if lev <= 0 {
		lev = v.leverage[sym]
	}
	if lev <= 0 {
		lev = 1
	}
	pos := v.positions[sym]
	if pos != nil && pos.side != side {
		return exchange.OrderResult{}, fmt.Errorf("%w: %s already has %s position", exchange.ErrRejected, sym, pos.side)
	}
	size := decimal.NewFromFloat(req.Size)
	notional := size.Mul(px)
	margin := notional.Div(decimal.NewFromInt(int64(lev)))
	fee := notional.Mul(v.fee)
	if v.availableLocked().LessThan(margin.Add(fee)) {
		return exchange.OrderResult{}, fmt.Errorf("%w: insufficient margin, need %s", exchange.ErrRejected, margin.Add(fee).StringFixed(2))
	}
	if err := v.claim(req.ClientID); err != nil {
		return exchange.OrderResult{}, err
	}
	v.cash = v.cash.Sub(fee)
	if pos == nil {
		pos = &position{side: side, leverage: lev, mode: v.modeLocked(sym)}
		v.positions[sym] = pos
	}
	total := pos.size.Add(size)
	pos.entry = pos.entry.Mul(pos.size).Add(px.Mul(size)).Div(total)
	pos.size = total
	pos.margin = pos.margin.Add(margin)
	pos.leverage = lev
	return v.fill(sym, side, "open", px, size), nil
}

func (v *Venue) close(ctx context.Context, req exchange.OrderRequest, side exchange.Side) (exchange.OrderResult, error) {
	sym := symbolpkg.Normalize(req.Symbol)
	px, err := v.fillPrice(ctx, req)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	pos := v.positions[sym]
	if pos == nil || pos.side != side {
		return exchange.OrderResult{}, fmt.Errorf("%w: %s %s", exchange.ErrNoPosition, sym, side)
	}
	size := pos.size
	if req.Size > 0 {
		size = decimal.Min(decimal.NewFromFloat(req.Size), pos.size)
	}
	if err := v.claim(req.ClientID); err != nil {
		return exchange.OrderResult{}, err
	}
	ratio := size.Div(pos.size)
	released := pos.margin.Mul(ratio)
	pnl := px.Sub(pos.entry).Mul(size).Mul(decimal.NewFromFloat(side.Sign()))
	fee := size.Mul(px).Mul(v.fee)
	v.cash = v.cash.Add(pnl).Sub(fee)
	pos.size = pos.size.Sub(size)
	pos.margin = pos.margin.Sub(released)
	if pos.size.Sign() <= 0 {
		delete(v.positions, sym)
	}
	return v.fill(sym, side, "close", px, size), nil
}

func (v *Venue) fill(sym string, side exchange.Side, op string, px, size decimal.Decimal) exchange.OrderResult {
	v.nextID++
	price, _ := px.Float64()
	qty, _ := size.Float64()
	logger.Infof("[paper] %s %s %s %s qty=%s px=%s cash=%s", v.name, op, side, sym, size, px, v.cash.StringFixed(2))
	return exchange.OrderResult{OrderID: strconv.FormatInt(v.nextID, 10), FillPrice: price, FilledSize: qty}
}

// CancelAllOrders 模拟账户从不挂单，始终成功。
func (v *Venue) CancelAllOrders(_ context.Context, symbol string) error {
	if symbolpkg.Normalize(symbol) == "" {
		return fmt.Errorf("%w: invalid symbol %q", exchange.ErrRejected, symbol)
	}
	return nil
}

func (v *Venue) SetLeverage(_ context.Context, symbol string, leverage int) error {
	if leverage <= 0 {
		return fmt.Errorf("%w: invalid leverage %d", exchange.ErrRejected, leverage)
	}
	v.mu.Lock()
	v.leverage[symbolpkg.Normalize(symbol)] = leverage
	v.mu.Unlock()
	return nil
}

func (v *Venue) SetMarginMode(_ context.Context, symbol string, mode exchange.MarginMode) error {
	v.mu.Lock()
	v.modes[symbolpkg.Normalize(symbol)] = mode
	v.mu.Unlock()
	return nil
}

func (v *Venue) modeLocked(sym string) exchange.MarginMode {
	if m, ok := v.modes[sym]; ok {
		return m
	}
	return exchange.MarginCross
}

func (v *Venue) GetMarketPrice(ctx context.Context, symbol string) (float64, error) {
	px, err := v.prices(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", exchange.ErrTransient, err)
	}
	return px, nil
}

func (v *Venue) availableLocked() decimal.Decimal {
	used := decimal.Zero
	for _, p := range v.positions {
		used = used.Add(p.margin)
	}
	return v.cash.Sub(used)
}

// GetBalance 的 Total 含未实现盈亏，Available 为现金减去占用保证金。
func (v *Venue) GetBalance(ctx context.Context) (exchange.Balance, error) {
	positions, err := v.GetPositions(ctx)
	if err != nil {
		return exchange.Balance{}, err
	}
	upnl := decimal.Zero
	for _, p := range positions {
		upnl = upnl.Add(decimal.NewFromFloat(p.UnrealizedPnL))
	}
	v.mu.Lock()
	total, _ := v.cash.Add(upnl).Float64()
	avail, _ := v.availableLocked().Float64()
	v.mu.Unlock()
	return exchange.Balance{Asset: "USDT", Total: total, Available: avail, UpdatedAt: v.now()}, nil
}

func (v *Venue) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	v.mu.Lock()
	syms := make([]string, 0, len(v.positions))
	snap := make(map[string]position, len(v.positions))
	for sym, p := range v.positions {
		syms = append(syms, sym)
		snap[sym] = *p
	}
	v.mu.Unlock()
	sort.Strings(syms)

	out := make([]exchange.Position, 0, len(syms))
	for _, sym := range syms {
		p := snap[sym]
		mark := p.entry
		if px, err := v.prices(ctx, sym); err == nil && px > 0 {
			mark = decimal.NewFromFloat(px)
		}
		upnl := mark.Sub(p.entry).Mul(p.size).Mul(decimal.NewFromFloat(p.side.Sign()))
		size, _ := p.size.Float64()
		entry, _ := p.entry.Float64()
		markF, _ := mark.Float64()
		upnlF, _ := upnl.Float64()
		out = append(out, exchange.Position{
			Symbol:        sym,
			Side:          p.side,
			Size:          size,
			EntryPrice:    entry,
			MarkPrice:     markF,
			Leverage:      p.leverage,
			MarginMode:    p.mode,
			UnrealizedPnL: upnlF,
		})
	}
	return out, nil
}

func (v *Venue) Rules(context.Context, string) (exchange.Rules, error) {
	return v.rules, nil
}
