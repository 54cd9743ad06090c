package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"btc/usdt", "BTC/USDT"},
		{"BTCUSDT", "BTC/USDT"},
		{"ETH-USDC", "ETH/USDC"},
		{"BTC/USDT:USDT", "BTC/USDT"},
		{"sol", "SOL/USDT"},
		{"", ""},
		{"$$$", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Normalize(tc.in), tc.in)
	}
}

func TestNormalizeListKeepsOrder(t *testing.T) {
	got := NormalizeList([]string{"ethusdt", "BTC/USDT", "ETH/USDT", "??", "SOLUSDT"})
	assert.Equal(t, []string{"ETH/USDT", "BTC/USDT", "SOL/USDT"}, got)
}

func TestIsMajor(t *testing.T) {
	assert.True(t, Parse("BTCUSDT").IsMajor())
	assert.True(t, Parse("eth/usdt").IsMajor())
	assert.False(t, Parse("DOGE/USDT").IsMajor())
	assert.Equal(t, "BTCUSDT", Parse("BTC/USDT").Binance())
	assert.Equal(t, "BTC", Parse("BTC/USDT").Coin())
}
