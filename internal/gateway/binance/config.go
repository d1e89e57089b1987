package binance

import (
	"strings"
	"time"
)

type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration
	APIKey      string
	SecretKey   string
	// Asset whose wallet balance is reported as the account balance.
	QuoteAsset string

	ProxyEnabled bool
	RESTProxyURL string
}

func (c Config) withDefaults() Config {
	c.RESTBaseURL = strings.TrimSpace(c.RESTBaseURL)
	if c.RESTBaseURL == "" {
		c.RESTBaseURL = "https://fapi.binance.com"
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 15 * time.Second
	}
	if c.QuoteAsset == "" {
		c.QuoteAsset = "USDT"
	}
	c.RESTProxyURL = strings.TrimSpace(c.RESTProxyURL)
	return c
}
