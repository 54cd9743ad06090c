package hyperliquid

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"aitrader/internal/logger"
	"aitrader/internal/market"
	symbolpkg "aitrader/internal/pkg/symbol"
	"aitrader/internal/scheduler"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

const (
	wsPingInterval = 30 * time.Second
	// 超过该时长没有任何消息（含 pong）即认为连接已死。
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// Source 以 candleSnapshot 拉历史、以 WS candle 频道接收实时K线。
type Source struct {
	client *Client
	wsURL  string
	dialer *websocket.Dialer
	now    func() time.Time
}

func NewSource(cfg Config) *Source {
	final := cfg.withDefaults()
	return &Source{
		client: NewClient(final),
		wsURL:  final.WSURL,
		dialer: &websocket.Dialer{HandshakeTimeout: final.HTTPTimeout},
		now:    time.Now,
	}
}

func (s *Source) Name() string { return venueKind }

func (s *Source) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	coin := symbolpkg.Parse(symbol).Coin()
	if coin == "" {
		return nil, fmt.Errorf("invalid symbol: %q", symbol)
	}
	dur, ok := scheduler.ParseIntervalDuration(interval)
	if !ok {
		return nil, fmt.Errorf("unsupported interval %q", interval)
	}
	if limit <= 0 {
		limit = 100
	}
	end := s.now()
	start := end.Add(-time.Duration(limit+1) * dur)
	candles, err := s.client.Candles(ctx, coin, interval, start, end)
	if err != nil {
		return nil, err
	}
	candles = market.DropUnclosed(candles, dur, end)
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

func (s *Source) FetchDerivatives(ctx context.Context, symbol string) (market.Derivatives, error) {
	coin := symbolpkg.Parse(symbol).Coin()
	actx, err := s.client.AssetContext(ctx, coin)
	if err != nil {
		return market.Derivatives{}, err
	}
	out := market.Derivatives{
		Last:         actx.MarkPx,
		FundingRate:  actx.Funding,
		OpenInterest: actx.OpenInterest,
	}
	if bid, ask, err := s.client.TopOfBook(ctx, coin); err != nil {
		logger.Debugf("[hyperliquid] l2Book %s: %v", coin, err)
	} else {
		out.Bid, out.Ask = bid, ask
	}
	return out, nil
}

type wsSubscription struct {
	Type     string `json:"type"`
	Coin     string `json:"coin"`
	Interval string `json:"interval"`
}

type wsRequest struct {
	Method       string          `json:"method"`
	Subscription *wsSubscription `json:"subscription,omitempty"`
}

// Stream 在一条连接上订阅全部 coin × interval，读超时充当无数据看门狗。
func (s *Source) Stream(ctx context.Context, symbols, intervals []string, h market.StreamHandlers) error {
	coins := make(map[string]string, len(symbols))
	order := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		parsed := symbolpkg.Parse(sym)
		if parsed.Coin() == "" {
			continue
		}
		if _, dup := coins[parsed.Coin()]; !dup {
			order = append(order, parsed.Coin())
		}
		coins[parsed.Coin()] = parsed.Internal()
	}
	if len(order) == 0 || len(intervals) == 0 {
		return fmt.Errorf("no valid symbols or intervals for subscription")
	}

	conn, _, err := s.dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("hyperliquid ws dial: %w", err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(req wsRequest) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(req)
	}
	for _, coin := range order {
		for _, iv := range intervals {
			sub := &wsSubscription{Type: "candle", Coin: coin, Interval: strings.ToLower(strings.TrimSpace(iv))}
			if err := write(wsRequest{Method: "subscribe", Subscription: sub}); err != nil {
				return fmt.Errorf("hyperliquid ws subscribe %s %s: %w", coin, iv, err)
			}
		}
	}
	if h.OnConnect != nil {
		h.OnConnect()
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-stop:
				return
			case <-ticker.C:
				if err := write(wsRequest{Method: "ping"}); err != nil {
					return
				}
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("hyperliquid ws read: %w", err)
		}
		res := gjson.ParseBytes(msg)
		switch res.Get("channel").String() {
		case "candle":
			data := res.Get("data")
			internal, ok := coins[strings.ToUpper(data.Get("s").String())]
			if !ok || h.OnCandle == nil {
				continue
			}
			h.OnCandle(market.CandleEvent{
				Symbol:   internal,
				Interval: data.Get("i").String(),
				Candle:   parseCandle(data),
			})
		case "error":
			return errors.New("hyperliquid ws error: " + res.Get("data").String())
		}
	}
}
