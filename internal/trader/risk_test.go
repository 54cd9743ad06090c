package trader

import (
	"context"
	"testing"

	"aitrader/internal/config"
	"aitrader/internal/decision"
	"aitrader/internal/gateway/exchange"
	"aitrader/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultRiskLimits() config.RiskConfig {
	return config.RiskConfig{MaxMarginUsage: 0.8, MajorPositionMultiple: 10, AltPositionMultiple: 1.5}
}

func TestRiskCheckReview(t *testing.T) {
	acct := decision.Account{Balance: exchange.Balance{Total: 10000, Available: 10000}}
	btc := exchange.OrderPlan{Kind: exchange.PlanOpenLong, Symbol: "BTC/USDT", Size: 0.1, RefPrice: 60000, Leverage: 10}
	sol := exchange.OrderPlan{Kind: exchange.PlanOpenShort, Symbol: "SOL/USDT", Size: 120, RefPrice: 150, Leverage: 5}
	eth := exchange.Position{Symbol: "ETH/USDT", Side: exchange.SideLong, Size: 25, EntryPrice: 3000, MarkPrice: 3000, Leverage: 10}

	cases := []struct {
		name    string
		limits  config.RiskConfig
		plan    exchange.OrderPlan
		acct    decision.Account
		pending float64
		ok      bool
		margin  float64
		reason  string
	}{
		{"major within caps", defaultRiskLimits(), btc, acct, 0, true, 600, ""},
		{"alt above value cap", defaultRiskLimits(), sol, acct, 0, false, 0, "position value"},
		{"existing margin pushes over cap", defaultRiskLimits(), btc, decision.Account{Balance: acct.Balance, Positions: []exchange.Position{eth}}, 0, false, 0, "margin usage"},
		{"pending margin counts", defaultRiskLimits(), btc, acct, 7500, false, 0, "margin usage"},
		{"no equity", defaultRiskLimits(), btc, decision.Account{}, 0, false, 0, "equity"},
		{"zero limits disable checks", config.RiskConfig{}, sol, acct, 0, true, 3600, ""},
		{"close always passes", defaultRiskLimits(), exchange.OrderPlan{Kind: exchange.PlanCloseLong, Symbol: "BTC/USDT", Size: 5, RefPrice: 60000}, decision.Account{}, 0, true, 0, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			margin, ok, reason := RiskCheck{Limits: tc.limits}.Review(tc.plan, tc.acct, tc.pending)
			require.Equal(t, tc.ok, ok, reason)
			assert.InDelta(t, tc.margin, margin, 1e-9)
			if tc.reason != "" {
				assert.Contains(t, reason, tc.reason)
			}
		})
	}
}

func TestRiskRejectionIsLoggedAsGated(t *testing.T) {
	h := newHarnessWith(always(decision.ActionBuy, 90), func(d *Deps) {
		d.Risk = config.RiskConfig{MaxMarginUsage: 0.05, MajorPositionMultiple: 10, AltPositionMultiple: 1.5}
	})
	defer h.worker.Close()

	require.True(t, h.worker.RunCycle(context.Background()))
	assert.Empty(t, h.venue.Opens())
	got := lastDecision(t, h.sink)
	assert.Equal(t, "buy", got.Action)
	assert.Equal(t, store.ResultGated, got.Result)
	assert.Contains(t, got.Note, "margin usage")
}

func TestRiskAccumulatesMarginWithinCycle(t *testing.T) {
	h := newHarnessWith(always(decision.ActionBuy, 90), func(d *Deps) {
		d.Risk = config.RiskConfig{MaxMarginUsage: 0.15, MajorPositionMultiple: 10, AltPositionMultiple: 1.5}
	}, "BTC/USDT", "ETH/USDT")
	defer h.worker.Close()

	require.True(t, h.worker.RunCycle(context.Background()))
	opens := h.venue.Opens()
	require.Len(t, opens, 1)
	assert.Equal(t, "BTC/USDT", opens[0].Symbol)

	results := map[string]store.CycleResult{}
	for _, l := range h.sink.Decisions() {
		results[l.Symbol] = l.Result
	}
	assert.Equal(t, store.ResultExecuted, results["BTC/USDT"])
	assert.Equal(t, store.ResultGated, results["ETH/USDT"])
}
