package collector

import (
	"context"

	"LagSentinel/internal/model"
)

// Page is one FetchPage response.
type Page struct {
	Candles []model.Candle
	// Windowed is set by sources that answer a fixed time window per
	// request. An empty windowed page only says the window held no bars.
	Windowed bool
	// WindowEnd is the last timestamp a windowed request covered.
	WindowEnd int64
}

// PageSource is the remote market-data API as seen by the Collector.
type PageSource interface {
	// FetchPage returns up to one page of candles starting at sinceMs, in
	// ascending order. An empty page that is not windowed means no more data.
	FetchPage(ctx context.Context, symbol string, iv model.Interval, sinceMs int64) (Page, error)
	// ListSymbols returns the tradable universe.
	ListSymbols(ctx context.Context) ([]string, error)
	Name() string
}
