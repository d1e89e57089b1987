package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"riskguard/internal/logger"
)

const (
	defaultFearGreedURL   = "https://api.alternative.me/fng/?limit=1"
	fearGreedErrorBackoff = 2 * time.Minute
)

// FearGreedReading is one crowd sentiment index value in [0,100].
type FearGreedReading struct {
	Value          int       `json:"value"`
	Classification string    `json:"classification"`
	Timestamp      time.Time `json:"timestamp"`
}

// Sentiment maps the index onto [0,1].
func (r FearGreedReading) Sentiment() float64 { return float64(r.Value) / 100 }

// Mood buckets the index into the trader_mood tag values.
func (r FearGreedReading) Mood() string {
	switch {
	case r.Value >= 55:
		return "confident"
	case r.Value <= 45:
		return "fearful"
	default:
		return "neutral"
	}
}

// FearGreedEnricher adds the crowd sentiment index to every snapshot. The
// reading is cached for Refresh; on upstream failure the last good reading
// keeps being used and the next attempt waits out a short backoff.
type FearGreedEnricher struct {
	URL     string
	Refresh time.Duration
	Client  *http.Client

	now func() time.Time

	mu      sync.Mutex
	reading FearGreedReading
	fetched bool
	next    time.Time
}

func NewFearGreedEnricher(url string, refresh time.Duration) *FearGreedEnricher {
	if url == "" {
		url = defaultFearGreedURL
	}
	if refresh <= 0 {
		refresh = time.Hour
	}
	return &FearGreedEnricher{
		URL:     url,
		Refresh: refresh,
		Client:  &http.Client{Timeout: 5 * time.Second},
		now:     time.Now,
	}
}

func (f *FearGreedEnricher) Enrich(ctx context.Context, snap *Snapshot) {
	r, ok := f.Get(ctx)
	if !ok {
		return
	}
	if _, set := snap.Fields["sentiment"]; !set {
		snap.Fields["sentiment"] = r.Sentiment()
	}
	snap.Fields["fear_greed"] = float64(r.Value)
	if snap.Tags["trader_mood"] == "" {
		snap.Tags["trader_mood"] = r.Mood()
	}
}

// Get returns the cached reading, refreshing it when stale.
func (f *FearGreedEnricher) Get(ctx context.Context) (FearGreedReading, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	if now.Before(f.next) {
		return f.reading, f.fetched
	}
	r, err := f.fetch(ctx)
	if err != nil {
		logger.Warnf("[market] fear & greed refresh failed: %v", err)
		f.next = now.Add(fearGreedErrorBackoff)
		return f.reading, f.fetched
	}
	f.reading, f.fetched = r, true
	f.next = now.Add(f.Refresh)
	return r, true
}

func (f *FearGreedEnricher) fetch(ctx context.Context) (FearGreedReading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return FearGreedReading{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.Client.Do(req)
	if err != nil {
		return FearGreedReading{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return FearGreedReading{}, fmt.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return FearGreedReading{}, err
	}
	return parseFearGreed(body)
}

func parseFearGreed(body []byte) (FearGreedReading, error) {
	if !gjson.ValidBytes(body) {
		return FearGreedReading{}, fmt.Errorf("invalid json")
	}
	doc := gjson.ParseBytes(body)
	if e := doc.Get("metadata.error"); e.Exists() && e.Type != gjson.Null {
		return FearGreedReading{}, fmt.Errorf("api error: %s", e.String())
	}
	first := doc.Get("data.0")
	if !first.Exists() {
		return FearGreedReading{}, fmt.Errorf("api data empty")
	}
	// values arrive as strings
	value := first.Get("value").Int()
	if value < 0 || value > 100 || !first.Get("value").Exists() {
		return FearGreedReading{}, fmt.Errorf("value out of range: %s", first.Get("value").String())
	}
	r := FearGreedReading{
		Value:          int(value),
		Classification: first.Get("value_classification").String(),
	}
	if ts := first.Get("timestamp").Int(); ts > 0 {
		r.Timestamp = time.Unix(ts, 0).UTC()
	}
	return r, nil
}
