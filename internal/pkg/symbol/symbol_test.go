package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want Symbol
	}{
		{"EUR_USD", Symbol{"EUR", "USD"}},
		{"usd/jpy", Symbol{"USD", "JPY"}},
		{"GBPUSD", Symbol{"GBP", "USD"}},
		{"BTCUSDT", Symbol{"BTC", "USDT"}},
		{"ETH/USDT:USDT", Symbol{"ETH", "USDT"}},
		{"EUR_", Symbol{}},
		{"", Symbol{}},
		{"NOPE1", Symbol{}},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, Parse(tc.in))
		})
	}
}

func TestNormalizeList(t *testing.T) {
	got := NormalizeList([]string{"eur_usd", "EURUSD", "usd/jpy", "junk!"})
	assert.Equal(t, []string{"EUR_USD", "USD_JPY"}, got)
}

func TestBinanceConverter(t *testing.T) {
	assert.Equal(t, "BTCUSDT", Binance.ToExchange("BTC_USDT"))
	assert.Equal(t, "BTC_USDT", Binance.FromExchange("BTCUSDT"))
	assert.True(t, Parse("USD_JPY").IsJPYQuoted())
	assert.False(t, Parse("EUR_USD").IsJPYQuoted())
}
