package feedback

import (
	"testing"
	"time"

	"aitrader/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() Policy {
	return Policy{
		Threshold:         75,
		CautiousThreshold: 85,
		LowRatio:          -0.5,
		HighRatio:         0.5,
		CooldownCycles:    3,
		CautiousOpenEvery: 2,
	}
}

func TestCompute(t *testing.T) {
	cases := []struct {
		name    string
		returns []float64
		valid   bool
		ratio   float64
	}{
		{name: "empty", returns: nil},
		{name: "single", returns: []float64{0.1}},
		{name: "flat", returns: []float64{0.5, 0.5, 0.5}},
		{name: "mixed", returns: []float64{0.1, -0.1, 0.3}, valid: true, ratio: 0.1 / 0.2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := Compute(tc.returns)
			assert.Equal(t, tc.valid, m.Valid)
			assert.Equal(t, len(tc.returns), m.Samples)
			if tc.valid {
				assert.InDelta(t, tc.ratio, m.Ratio, 1e-9)
			}
		})
	}
}

func TestReturnRatio(t *testing.T) {
	assert.InDelta(t, 0.2, ReturnRatio(1, 50000, 51000, 10), 1e-9)
	assert.InDelta(t, -0.2, ReturnRatio(-1, 50000, 51000, 10), 1e-9)
	assert.Equal(t, 0.0, ReturnRatio(1, 0, 51000, 10))
}

func TestGateCooldownForcesWaitForNCycles(t *testing.T) {
	g := NewGate(testPolicy(), logger.With("trader", "t1"))
	last := time.Unix(1_700_000_000, 0)
	bad := Metric{Ratio: -0.6, Valid: true, Samples: 5, LastTradeAt: last}

	for i := 0; i < 3; i++ {
		v := g.Observe(bad)
		require.Equal(t, ModeCooldown, v.Mode, "cycle %d", i)
		assert.True(t, v.ForceWait)
		assert.Equal(t, 2-i, v.Remaining)
	}

	// 冷却结束后同一批历史不会再次锁死
	v := g.Observe(bad)
	assert.Equal(t, ModeCautious, v.Mode)
	assert.False(t, v.ForceWait)
	assert.Equal(t, 85, v.Threshold)
	v = g.Observe(bad)
	assert.Equal(t, ModeCautious, v.Mode)

	// 出现新的平仓后重新进入冷却
	bad.LastTradeAt = last.Add(time.Minute)
	v = g.Observe(bad)
	assert.Equal(t, ModeCooldown, v.Mode)
	assert.True(t, v.ForceWait)
}

func TestGateModesByRatio(t *testing.T) {
	cases := []struct {
		name      string
		metric    Metric
		mode      Mode
		threshold int
	}{
		{name: "invalid", metric: Metric{}, mode: ModeNormal, threshold: 75},
		{name: "high", metric: Metric{Ratio: 0.5, Valid: true}, mode: ModeNormal, threshold: 75},
		{name: "band_low_edge", metric: Metric{Ratio: -0.5, Valid: true}, mode: ModeCautious, threshold: 85},
		{name: "band", metric: Metric{Ratio: 0.2, Valid: true}, mode: ModeCautious, threshold: 85},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := NewGate(testPolicy(), logger.Scope{}).Observe(tc.metric)
			assert.Equal(t, tc.mode, v.Mode)
			assert.Equal(t, tc.threshold, v.Threshold)
			assert.True(t, v.AllowOpen)
		})
	}
}

func TestGateCautiousLimitsOpenFrequency(t *testing.T) {
	g := NewGate(testPolicy(), logger.Scope{})
	m := Metric{Ratio: 0.1, Valid: true}

	require.True(t, g.Observe(m).AllowOpen)
	g.RecordOpen()
	assert.False(t, g.Observe(m).AllowOpen)
	assert.True(t, g.Observe(m).AllowOpen)
}

func TestPolicyWithThreshold(t *testing.T) {
	p := testPolicy().WithThreshold(90)
	assert.Equal(t, 90, p.Threshold)
	assert.Equal(t, 90, p.CautiousThreshold)
	assert.Equal(t, 75, testPolicy().WithThreshold(0).Threshold)
}
