package coins

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"aitrader/internal/config"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSymbols(t *testing.T) {
	cases := []struct {
		name string
		body string
		want []string
	}{
		{name: "strings", body: `["BTCUSDT","eth","SOL/USDT","BTCUSDT"]`, want: []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"}},
		{name: "objects", body: `[{"symbol":"DOGEUSDT","score":9},{"coin":"XRP"}]`, want: []string{"DOGE/USDT", "XRP/USDT"}},
		{name: "coins_wrapper", body: `{"coins":["ARBUSDT"]}`, want: []string{"ARB/USDT"}},
		{name: "positions_wrapper", body: `{"positions":[{"symbol":"OPUSDT","oi_delta":0.3}]}`, want: []string{"OP/USDT"}},
		{name: "nested_data", body: `{"success":true,"data":{"coins":[{"pair":"SUIUSDT"}]}}`, want: []string{"SUI/USDT"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseSymbols([]byte(tc.body))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	for _, bad := range []string{`not json`, `{"msg":"ok"}`, `[]`, `[1,2,3]`, `"BTC"`} {
		_, err := ParseSymbols([]byte(bad))
		assert.Error(t, err, bad)
	}
}

func noRetry(p *HTTPSymbolProvider) {
	p.newBackoff = func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1) }
}

func TestHTTPProviderRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"data":["LINKUSDT"]}`))
	}))
	defer srv.Close()

	p := NewHTTPSymbolProvider(SourceCoinPool, srv.URL, time.Second)
	noRetry(p)
	got, err := p.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"LINK/USDT"}, got)
	assert.EqualValues(t, 2, hits.Load())
}

func TestHTTPProviderDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	p := NewHTTPSymbolProvider(SourceOITop, srv.URL, time.Second)
	noRetry(p)
	_, err := p.List(context.Background())
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
	assert.EqualValues(t, 1, hits.Load())
}

func TestSelectorMergesInOrder(t *testing.T) {
	pool := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`["ETHUSDT","SOLUSDT","AVAXUSDT","BNBUSDT"]`))
	}))
	defer pool.Close()
	oi := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"positions":[{"symbol":"SOLUSDT"},{"symbol":"PEPEUSDT"}]}`))
	}))
	defer oi.Close()

	sel := NewSelector(
		config.SignalsConfig{CoinPoolURL: pool.URL, OITopURL: oi.URL, TimeoutSeconds: 1, MaxCandidates: 2},
		config.TraderConfig{ID: "t1", Symbols: []string{"BTC/USDT", "ethusdt"}, UseCoinPool: true, UseOITop: true},
	)
	set := sel.Select(context.Background())
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT", "SOL/USDT", "AVAX/USDT", "PEPE/USDT"}, set.Symbols)
	assert.Equal(t, []string{SourceStatic, SourceCoinPool}, set.Sources["ETH/USDT"])
	assert.Equal(t, []string{SourceCoinPool, SourceOITop}, set.Sources["SOL/USDT"])
	assert.Equal(t, []string{"候选来源: coin_pool, oi_top"}, set.Annotations("SOL/USDT"))
}

func TestSelectorMalformedFeedFallsBack(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>oops</html>`))
	}))
	defer bad.Close()

	sel := NewSelector(
		config.SignalsConfig{CoinPoolURL: bad.URL, TimeoutSeconds: 1},
		config.TraderConfig{ID: "t1", UseCoinPool: true},
	)
	set := sel.Select(context.Background())
	assert.Equal(t, []string{FallbackSymbol}, set.Symbols)

	// 静态列表存在时外部源异常不影响结果
	sel = NewSelector(
		config.SignalsConfig{CoinPoolURL: bad.URL, TimeoutSeconds: 1},
		config.TraderConfig{ID: "t1", Symbols: []string{"ETH/USDT"}, UseCoinPool: true},
	)
	assert.Equal(t, []string{"ETH/USDT"}, sel.Select(context.Background()).Symbols)
}
