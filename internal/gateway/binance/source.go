package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"aitrader/internal/logger"
	"aitrader/internal/market"
	symbolpkg "aitrader/internal/pkg/symbol"
	"aitrader/internal/scheduler"

	"github.com/adshao/go-binance/v2/futures"
)

const maxHistoryLimit = 1500

var errStreamClosed = errors.New("binance kline stream closed")

// Source 基于 go-binance SDK 实现 market.Source。
type Source struct {
	cfg    Config
	client *futures.Client
	now    func() time.Time

	// serve 默认指向 SDK 的组合 K 线订阅，测试时替换。
	serve func(map[string][]string, futures.WsKlineHandler, futures.ErrHandler) (chan struct{}, chan struct{}, error)
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	client, err := newClient(final)
	if err != nil {
		return nil, err
	}
	return &Source{
		cfg:    final,
		client: client,
		now:    time.Now,
		serve:  futures.WsCombinedKlineServeMultiInterval,
	}, nil
}

func (s *Source) Name() string { return venueKind }

func (s *Source) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	cleanSymbol := symbolpkg.Parse(symbol).Binance()
	if cleanSymbol == "" {
		return nil, fmt.Errorf("invalid symbol: %q", symbol)
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	// 多取一根，丢弃未收盘K线后仍能凑够 limit
	fetch := limit + 1
	if fetch > maxHistoryLimit {
		fetch = maxHistoryLimit
	}
	kls, err := s.client.NewKlinesService().Symbol(cleanSymbol).Interval(interval).Limit(fetch).Do(ctx)
	if err != nil {
		return nil, classify("klines", err)
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
		})
	}
	if dur, ok := scheduler.ParseIntervalDuration(interval); ok {
		out = market.DropUnclosed(out, dur, s.now())
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// FetchDerivatives 汇总盘口、资金费率与持仓量；单项失败只记录日志，
// 全部失败才返回错误。
func (s *Source) FetchDerivatives(ctx context.Context, symbol string) (market.Derivatives, error) {
	sym := symbolpkg.Parse(symbol).Binance()
	if sym == "" {
		return market.Derivatives{}, fmt.Errorf("invalid symbol: %q", symbol)
	}
	var (
		out    market.Derivatives
		errs   []error
		gotAny bool
	)
	if books, err := s.client.NewListBookTickersService().Symbol(sym).Do(ctx); err != nil {
		errs = append(errs, fmt.Errorf("book ticker: %w", err))
	} else {
		for _, b := range books {
			if b != nil && strings.EqualFold(b.Symbol, sym) {
				out.Bid = parseFloat(b.BidPrice)
				out.Ask = parseFloat(b.AskPrice)
				gotAny = true
			}
		}
	}
	if res, err := s.client.NewPremiumIndexService().Symbol(sym).Do(ctx); err != nil {
		errs = append(errs, fmt.Errorf("premium index: %w", err))
	} else {
		for _, entry := range res {
			if entry == nil || !strings.EqualFold(entry.Symbol, sym) {
				continue
			}
			out.FundingRate = parseFloat(entry.LastFundingRate)
			out.Last = parseFloat(entry.MarkPrice)
			gotAny = true
		}
	}
	if oi, err := s.client.NewGetOpenInterestService().Symbol(sym).Do(ctx); err != nil {
		errs = append(errs, fmt.Errorf("open interest: %w", err))
	} else if oi != nil {
		out.OpenInterest = parseFloat(oi.OpenInterest)
		gotAny = true
	}
	if !gotAny {
		if len(errs) == 0 {
			return market.Derivatives{}, fmt.Errorf("derivatives not available for %s", symbol)
		}
		return market.Derivatives{}, classify("derivatives", errors.Join(errs...))
	}
	for _, err := range errs {
		logger.Debugf("[binance] derivatives %s partial: %v", symbol, err)
	}
	return out, nil
}

// Stream 订阅 symbols × intervals 的组合 K 线流，连接断开时返回错误，由调用方负责重连。
func (s *Source) Stream(ctx context.Context, symbols, intervals []string, h market.StreamHandlers) error {
	symbolMap := make(map[string]string, len(symbols))
	cleanSymbols := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		parsed := symbolpkg.Parse(sym)
		clean := parsed.Binance()
		if clean == "" {
			continue
		}
		symbolMap[clean] = parsed.Internal()
		cleanSymbols = append(cleanSymbols, clean)
	}
	mapping := buildSymbolIntervals(cleanSymbols, intervals)
	if len(mapping) == 0 {
		return fmt.Errorf("no valid symbols or intervals for subscription")
	}

	var errMu sync.Mutex
	var lastErr error
	handler := func(event *futures.WsKlineEvent) {
		ce, ok := convertKlineEvent(event)
		if !ok {
			return
		}
		if original, ok := symbolMap[ce.Symbol]; ok {
			ce.Symbol = original
		}
		if ctx.Err() != nil || h.OnCandle == nil {
			return
		}
		h.OnCandle(ce)
	}
	errHandler := func(err error) {
		if err == nil {
			return
		}
		errMu.Lock()
		lastErr = err
		errMu.Unlock()
	}
	doneC, stopC, err := s.serve(mapping, handler, errHandler)
	if err != nil {
		return classify("ws subscribe", err)
	}
	if h.OnConnect != nil {
		h.OnConnect()
	}
	select {
	case <-ctx.Done():
		close(stopC)
		<-doneC
		return nil
	case <-doneC:
	}
	errMu.Lock()
	defer errMu.Unlock()
	if lastErr != nil {
		return fmt.Errorf("%w: %v", errStreamClosed, lastErr)
	}
	return errStreamClosed
}

func buildSymbolIntervals(symbols, intervals []string) map[string][]string {
	out := make(map[string][]string)
	for _, sym := range symbols {
		upper := strings.ToUpper(strings.TrimSpace(sym))
		if upper == "" {
			continue
		}
		for _, iv := range intervals {
			interval := strings.ToLower(strings.TrimSpace(iv))
			if interval == "" {
				continue
			}
			out[upper] = appendUnique(out[upper], interval)
		}
	}
	return out
}

func appendUnique(target []string, val string) []string {
	for _, existing := range target {
		if existing == val {
			return target
		}
	}
	return append(target, val)
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}

func convertKlineEvent(ev *futures.WsKlineEvent) (market.CandleEvent, bool) {
	if ev == nil {
		return market.CandleEvent{}, false
	}
	c := market.Candle{
		OpenTime:  ev.Kline.StartTime,
		CloseTime: ev.Kline.EndTime,
		Open:      parseFloat(ev.Kline.Open),
		High:      parseFloat(ev.Kline.High),
		Low:       parseFloat(ev.Kline.Low),
		Close:     parseFloat(ev.Kline.Close),
		Volume:    parseFloat(ev.Kline.Volume),
	}
	symbol := strings.ToUpper(strings.TrimSpace(ev.Symbol))
	interval := strings.ToLower(strings.TrimSpace(ev.Kline.Interval))
	if symbol == "" || interval == "" {
		return market.CandleEvent{}, false
	}
	return market.CandleEvent{Symbol: symbol, Interval: interval, Candle: c, Final: ev.Kline.IsFinal}, true
}
