package market

import "context"

// Source supplies per-instrument market data. Any method may fail or time
// out; the caller skips the instrument for that cycle.
type Source interface {
	CurrentPrice(ctx context.Context, instrument string) (Quote, error)

	// Spread returns the current bid/ask spread in pips.
	Spread(ctx context.Context, instrument string) (float64, error)

	Candles(ctx context.Context, instrument, granularity string, count int) ([]Candle, error)

	OpenPositions(ctx context.Context, instrument string) ([]Position, error)
}

// AccountSource is implemented by sources that can report the whole book.
type AccountSource interface {
	Account(ctx context.Context) (Account, error)
}

// AggregateSource is implemented by sources that publish market-wide stress
// inputs.
type AggregateSource interface {
	Aggregates(ctx context.Context) (Aggregates, error)
}

// Enricher adds optional fields or tags to a freshly built snapshot. It must
// not fail the build; upstream errors are logged and skipped.
type Enricher interface {
	Enrich(ctx context.Context, snap *Snapshot)
}
