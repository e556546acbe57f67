package collector

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"LagSentinel/internal/model"
)

// Options configures a Collector.
type Options struct {
	// RateLimit is the minimum delay between any two remote requests.
	RateLimit time.Duration
	// RequestTimeout bounds each remote request.
	RequestTimeout time.Duration
	// MaxPages caps the pages fetched by one FetchRange call.
	MaxPages int
	Retry    *RetryPolicy
}

// Collector pulls candle ranges from a PageSource. All requests, for every
// symbol, pass through one limiter.
type Collector struct {
	source   PageSource
	limiter  *rate.Limiter
	retry    *RetryPolicy
	timeout  time.Duration
	maxPages int
	log      *zap.Logger
}

// NewCollector creates a new Collector.
func NewCollector(source PageSource, opts Options, log *zap.Logger) *Collector {
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Every(opts.RateLimit)
	}
	if opts.Retry == nil {
		opts.Retry = NewRetryPolicy(1, 0, 0, 0)
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 500
	}
	c := &Collector{
		source:   source,
		limiter:  rate.NewLimiter(limit, 1),
		retry:    opts.Retry,
		timeout:  opts.RequestTimeout,
		maxPages: opts.MaxPages,
		log:      log.Named("collector"),
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = func(attempt int, err error, wait time.Duration) {
			c.log.Warn("remote request failed, retrying",
				zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		}
	}
	return c
}

// Name returns the underlying source name.
func (c *Collector) Name() string { return c.source.Name() }

// FetchRange returns every upstream candle with sinceMs <= timestamp <= untilMs.
// It stops at the first page reaching untilMs, at an empty page that ends
// the upstream data, when the cursor stops advancing, or after MaxPages
// pages. An empty windowed page moves the cursor past its window instead.
// Any page failure that survives the retry policy fails the whole call.
func (c *Collector) FetchRange(ctx context.Context, symbol string, iv model.Interval, sinceMs, untilMs int64) ([]model.Candle, error) {
	if untilMs < sinceMs {
		return []model.Candle{}, nil
	}
	step := iv.Millis()
	if step <= 0 {
		return nil, fmt.Errorf("fetch range: unsupported interval %q", iv)
	}

	out := []model.Candle{}
	cursor := sinceMs
	for page := 1; ; page++ {
		if page > c.maxPages {
			c.log.Warn("page cap reached",
				zap.String("symbol", symbol), zap.Stringer("interval", iv), zap.Int("max_pages", c.maxPages))
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pg, err := c.fetchPage(ctx, symbol, iv, cursor)
		if err != nil {
			return nil, fmt.Errorf("fetch %s %s page %d: %w", symbol, iv, page, err)
		}

		var next int64
		if len(pg.Candles) == 0 {
			if !pg.Windowed || pg.WindowEnd >= untilMs {
				break
			}
			next = pg.WindowEnd + 1
		} else {
			candles := model.NormalizeCandles(pg.Candles)
			out = append(out, model.FilterRange(candles, sinceMs, untilMs)...)

			last := candles[len(candles)-1].Timestamp
			if last >= untilMs {
				break
			}
			next = last + step
		}
		if next <= cursor {
			c.log.Warn("cursor did not advance, stopping",
				zap.String("symbol", symbol), zap.Stringer("interval", iv), zap.Int64("cursor", cursor))
			break
		}
		cursor = next
	}

	out = model.NormalizeCandles(out)
	c.log.Debug("range fetched",
		zap.String("symbol", symbol), zap.Stringer("interval", iv),
		zap.Int64("since", sinceMs), zap.Int64("until", untilMs), zap.Int("candles", len(out)))
	return out, nil
}

// ListSymbols returns the source universe.
func (c *Collector) ListSymbols(ctx context.Context) ([]string, error) {
	var symbols []string
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		rctx, cancel := c.requestContext(ctx)
		defer cancel()
		var err error
		symbols, err = c.source.ListSymbols(rctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	return symbols, nil
}

func (c *Collector) fetchPage(ctx context.Context, symbol string, iv model.Interval, sinceMs int64) (Page, error) {
	var pg Page
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		rctx, cancel := c.requestContext(ctx)
		defer cancel()
		var err error
		pg, err = c.source.FetchPage(rctx, symbol, iv, sinceMs)
		if err != nil && ctx.Err() == nil && rctx.Err() != nil {
			return fmt.Errorf("%w: request timed out after %s: %v", model.ErrTransient, c.timeout, err)
		}
		return err
	})
	return pg, err
}

func (c *Collector) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
