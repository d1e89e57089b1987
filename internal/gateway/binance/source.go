// Package binance adapts the USDⓈ-M futures REST API to market.Source.
package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"riskguard/internal/market"
	"riskguard/internal/pkg/symbol"
	"riskguard/internal/riskmath"
	"riskguard/internal/scheduler"
)

const maxHistoryLimit = 1500

type Source struct {
	cfg    Config
	client *futures.Client
	now    func() time.Time
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	client := futures.NewClient(final.APIKey, final.SecretKey)
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		base, ok := http.DefaultTransport.(*http.Transport)
		if !ok {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := base.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &Source{cfg: final, client: client, now: time.Now}, nil
}

func exchangeSymbol(instrument string) (string, error) {
	s := symbol.Binance.ToExchange(instrument)
	if s == "" {
		return "", fmt.Errorf("invalid instrument %q", instrument)
	}
	return s, nil
}

func (s *Source) bookTicker(ctx context.Context, instrument string) (*futures.BookTicker, error) {
	sym, err := exchangeSymbol(instrument)
	if err != nil {
		return nil, err
	}
	res, err := s.client.NewListBookTickersService().Symbol(sym).Do(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range res {
		if t != nil && strings.EqualFold(t.Symbol, sym) {
			return t, nil
		}
	}
	return nil, fmt.Errorf("no book ticker for %s", sym)
}

func (s *Source) CurrentPrice(ctx context.Context, instrument string) (market.Quote, error) {
	t, err := s.bookTicker(ctx, instrument)
	if err != nil {
		return market.Quote{}, err
	}
	bid, err := decimal.NewFromString(t.BidPrice)
	if err != nil {
		return market.Quote{}, fmt.Errorf("bid %q: %w", t.BidPrice, err)
	}
	ask, err := decimal.NewFromString(t.AskPrice)
	if err != nil {
		return market.Quote{}, fmt.Errorf("ask %q: %w", t.AskPrice, err)
	}
	return market.Quote{Bid: bid, Ask: ask, Time: s.now()}, nil
}

// Spread is the touch spread in pips of the instrument.
func (s *Source) Spread(ctx context.Context, instrument string) (float64, error) {
	q, err := s.CurrentPrice(ctx, instrument)
	if err != nil {
		return 0, err
	}
	return riskmath.Float(riskmath.PipsBetween(instrument, q.Ask, q.Bid)), nil
}

// Candles returns closed candles only; a still-forming last bar is dropped.
func (s *Source) Candles(ctx context.Context, instrument, granularity string, count int) ([]market.Candle, error) {
	sym, err := exchangeSymbol(instrument)
	if err != nil {
		return nil, err
	}
	count = min(max(count, 1), maxHistoryLimit)
	interval := scheduler.ExchangeInterval(granularity)
	kls, err := s.client.NewKlinesService().Symbol(sym).Interval(interval).Limit(count).Do(ctx)
	if err != nil {
		return nil, err
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
			TakerBuy:  parseFloat(kl.TakerBuyBaseAssetVolume),
			Trades:    kl.TradeNum,
		})
	}
	if dur, ok := scheduler.ParseIntervalDuration(interval); ok {
		out = scheduler.DropUnclosed(out, dur, s.now())
	}
	return out, nil
}

// OpenPositions needs API credentials; without them the book is empty.
func (s *Source) OpenPositions(ctx context.Context, instrument string) ([]market.Position, error) {
	if s.cfg.APIKey == "" {
		return nil, nil
	}
	sym, err := exchangeSymbol(instrument)
	if err != nil {
		return nil, err
	}
	risks, err := s.client.NewGetPositionRiskService().Symbol(sym).Do(ctx)
	if err != nil {
		return nil, err
	}
	var out []market.Position
	for _, r := range risks {
		if r == nil {
			continue
		}
		amt, err := decimal.NewFromString(r.PositionAmt)
		if err != nil || amt.IsZero() {
			continue
		}
		side := market.SideLong
		if amt.IsNegative() {
			side = market.SideShort
		}
		entry, _ := decimal.NewFromString(r.EntryPrice)
		mark, _ := decimal.NewFromString(r.MarkPrice)
		out = append(out, market.Position{
			ID:           r.Symbol + ":" + strings.ToLower(r.PositionSide),
			Instrument:   symbol.Normalize(instrument),
			Side:         side,
			Units:        amt.Abs(),
			EntryPrice:   entry,
			CurrentPrice: mark,
		})
	}
	return out, nil
}

// Account reports wallet and margin balance of the configured quote asset.
func (s *Source) Account(ctx context.Context) (market.Account, error) {
	if s.cfg.APIKey == "" {
		return market.Account{}, fmt.Errorf("binance: account requires api credentials")
	}
	acc, err := s.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return market.Account{}, err
	}
	out := market.Account{Currency: s.cfg.QuoteAsset}
	for _, a := range acc.Assets {
		if a == nil || !strings.EqualFold(a.Asset, s.cfg.QuoteAsset) {
			continue
		}
		out.Balance, _ = decimal.NewFromString(a.WalletBalance)
		out.NAV, _ = decimal.NewFromString(a.MarginBalance)
	}
	if !out.Balance.IsPositive() {
		return market.Account{}, fmt.Errorf("binance: no %s balance", s.cfg.QuoteAsset)
	}
	return out, nil
}

func parseFloat(v string) float64 {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return 0
	}
	return riskmath.Float(d)
}
