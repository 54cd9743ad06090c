package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseYAML = `
app:
  log_level: debug
backends:
  - id: main
    provider: OpenAI
    model: gpt-4o-mini
    api_key: ${TEST_LLM_KEY}
venues:
  - name: sim
    kind: paper
traders:
  - id: t1
    enabled: true
    venue: sim
    backend: main
    symbols: [BTC/USDT, ETH/USDT]
    scan_interval: 5m
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "sk-test")
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", baseYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 75, cfg.Policy.ConfidenceThreshold)
	assert.Equal(t, 85, cfg.Policy.CautiousThreshold)
	assert.Equal(t, -0.5, cfg.Policy.LowRatio)
	assert.Equal(t, 3, cfg.Policy.CooldownCycles)
	assert.Equal(t, 600, cfg.Market.StaleAfterSeconds)
	assert.Equal(t, 0.8, cfg.Risk.MaxMarginUsage)
	assert.Equal(t, 10.0, cfg.Risk.MajorPositionMultiple)
	assert.Equal(t, 1.5, cfg.Risk.AltPositionMultiple)

	b, ok := cfg.Backend("main")
	require.True(t, ok)
	assert.Equal(t, "openai", b.Provider)
	assert.Equal(t, "sk-test", b.APIKey)
	assert.Equal(t, "https://api.openai.com/v1", b.APIURL)

	v, ok := cfg.Venue("SIM")
	require.True(t, ok)
	assert.Equal(t, "binance", v.MarketSource)
	assert.Equal(t, 10000.0, v.InitialBalance)

	traders := cfg.EnabledTraders()
	require.Len(t, traders, 1)
	assert.Equal(t, 5*time.Minute, traders[0].ScanEvery())
	assert.Equal(t, "cross", traders[0].MarginMode)
	assert.Equal(t, 5, traders[0].MajorLeverage)
}

func TestLoadIncludeOverrides(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "sk-test")
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", baseYAML)
	path := writeFile(t, dir, "config.yaml", `
include: [base.yaml]
policy:
  confidence_threshold: 80
  cautious_threshold: 90
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 80, cfg.Policy.ConfidenceThreshold)
	assert.Equal(t, 90, cfg.Policy.CautiousThreshold)
	assert.Len(t, cfg.Traders, 1)
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	path := writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestValidateRejectsBadReferences(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "sk-test")
	cases := map[string]string{
		"unknown venue":    "traders:\n  - id: t2\n    venue: nope\n    backend: main\n    symbols: [BTC/USDT]\n",
		"bad margin":       "traders:\n  - id: t2\n    enabled: true\n    venue: sim\n    backend: main\n    margin_mode: hedge\n    symbols: [BTC/USDT]\n",
		"no symbols":       "traders:\n  - id: t2\n    enabled: true\n    venue: sim\n    backend: main\n",
		"inverted ratios":  "policy:\n  low_ratio: 0.5\n  high_ratio: -0.5\n",
		"margin cap":       "risk:\n  max_margin_usage: 1.5\n",
		"unknown provider": "backends:\n  - id: x\n    provider: cohere\n    model: m\n    api_key: k\n",
	}
	for name, override := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "base.yaml", baseYAML)
			path := writeFile(t, dir, "config.yaml", "include: [base.yaml]\n"+override)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestValidateSkipsDisabledTraderShape(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "sk-test")
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", baseYAML)
	override := "traders:\n" +
		"  - id: t1\n    enabled: true\n    venue: sim\n    backend: main\n    symbols: [BTC/USDT]\n" +
		"  - id: parked\n    enabled: false\n    venue: sim\n    backend: main\n    margin_mode: hedge\n"
	path := writeFile(t, dir, "config.yaml", "include: [base.yaml]\n"+override)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Traders, 2)
	assert.Len(t, cfg.EnabledTraders(), 1)

	// 停用的 trader 仍需引用存在的场所
	bad := "traders:\n  - id: parked\n    enabled: false\n    venue: nope\n    backend: main\n"
	path = writeFile(t, dir, "config.yaml", "include: [base.yaml]\n"+bad)
	_, err = Load(path)
	assert.Error(t, err)
}
