package hyperliquid

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"aitrader/internal/market"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestStreamSubscribesAllPairsAndDeliversCandles(t *testing.T) {
	subs := make(chan string, 8)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < 4; i++ {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s := gjson.ParseBytes(msg).Get("subscription")
			subs <- s.Get("coin").String() + "@" + s.Get("interval").String()
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(
			`{"channel":"candle","data":{"t":1700000000000,"T":1700000179999,"s":"ETH","i":"3m","o":"3000","c":"3010.5","h":"3012","l":"2999","v":"12.5","n":40}}`))
	}))
	defer srv.Close()

	src := NewSource(Config{WSURL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	var connected bool
	var events []market.CandleEvent
	err := src.Stream(context.Background(), []string{"BTC/USDT", "ETH/USDT"}, []string{"3m", "4h"}, market.StreamHandlers{
		OnConnect: func() { connected = true },
		OnCandle:  func(ev market.CandleEvent) { events = append(events, ev) },
	})
	require.Error(t, err)
	assert.True(t, connected)
	close(subs)
	var got []string
	for s := range subs {
		got = append(got, s)
	}
	assert.ElementsMatch(t, []string{"BTC@3m", "BTC@4h", "ETH@3m", "ETH@4h"}, got)
	require.Len(t, events, 1)
	assert.Equal(t, "ETH/USDT", events[0].Symbol)
	assert.Equal(t, "3m", events[0].Interval)
	assert.Equal(t, 3010.5, events[0].Candle.Close)
}

func TestStreamReturnsNilWhenCancelled(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	src := NewSource(Config{WSURL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- src.Stream(ctx, []string{"BTC/USDT"}, []string{"3m"}, market.StreamHandlers{})
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop")
	}
}

func TestFetchHistoryDropsOpenCandle(t *testing.T) {
	now := time.UnixMilli(1_700_000_200_000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[
		 {"t":1700000000000,"T":1700000179999,"s":"BTC","i":"3m","o":"1","c":"2","h":"3","l":"0.5","v":"10"},
		 {"t":1700000180000,"T":1700000359999,"s":"BTC","i":"3m","o":"2","c":"3","h":"4","l":"1.5","v":"11"}]`))
	}))
	defer srv.Close()
	src := NewSource(Config{APIURL: srv.URL})
	src.now = func() time.Time { return now }
	candles, err := src.FetchHistory(context.Background(), "BTC/USDT", "3m", 10)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 2.0, candles[0].Close)
}
