package collector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"LagSentinel/internal/model"
)

// MockSource serves fixed in-memory histories for development and testing.
type MockSource struct {
	PageSize int
	// Delay is applied to every FetchPage call.
	Delay time.Duration
	// Fail, if set, is returned by FetchPage instead of data.
	Fail error

	mu      sync.Mutex
	series  map[string][]model.Candle
	symbols []string
	pages   int
	ranges  []int64
}

// NewMockSource creates an empty source.
func NewMockSource(pageSize int) *MockSource {
	return &MockSource{PageSize: pageSize, series: make(map[string][]model.Candle)}
}

func (m *MockSource) Name() string { return "mock" }

// Set replaces the upstream history for (symbol, interval).
func (m *MockSource) Set(symbol string, iv model.Interval, candles []model.Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := append([]model.Candle(nil), candles...)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Timestamp < cp[j].Timestamp })
	m.series[mockKey(symbol, iv)] = cp
	for _, s := range m.symbols {
		if s == symbol {
			return
		}
	}
	m.symbols = append(m.symbols, symbol)
}

// SetFail makes subsequent FetchPage calls return err. Pass nil to recover.
func (m *MockSource) SetFail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fail = err
}

// Pages returns how many FetchPage calls were served.
func (m *MockSource) Pages() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pages
}

// Cursors returns the sinceMs of every FetchPage call in order.
func (m *MockSource) Cursors() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.ranges...)
}

// FetchPage returns the next PageSize bars at or after sinceMs.
func (m *MockSource) FetchPage(ctx context.Context, symbol string, iv model.Interval, sinceMs int64) (Page, error) {
	m.mu.Lock()
	m.pages++
	m.ranges = append(m.ranges, sinceMs)
	delay := m.Delay
	m.mu.Unlock()
	if delay > 0 {
		select {
		case <-ctx.Done():
			return Page{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return Page{}, m.Fail
	}
	all := m.series[mockKey(symbol, iv)]
	i := sort.Search(len(all), func(i int) bool { return all[i].Timestamp >= sinceMs })
	end := i + m.PageSize
	if end > len(all) {
		end = len(all)
	}
	return Page{Candles: append([]model.Candle(nil), all[i:end]...)}, nil
}

func (m *MockSource) ListSymbols(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.symbols...), nil
}

func mockKey(symbol string, iv model.Interval) string {
	return fmt.Sprintf("%s|%s", symbol, iv)
}

// GenerateCandles builds n contiguous bars starting at startMs whose close
// follows base*(1+r) for each return r produced by ret(i).
func GenerateCandles(startMs int64, iv model.Interval, n int, base float64, ret func(i int) float64) []model.Candle {
	bars := make([]model.Candle, n)
	p := base
	for i := 0; i < n; i++ {
		if i > 0 && ret != nil {
			p *= 1 + ret(i)
		}
		bars[i] = model.Candle{
			Timestamp: startMs + int64(i)*iv.Millis(),
			Open:      p,
			High:      p * 1.001,
			Low:       p * 0.999,
			Close:     p,
			Volume:    1000,
		}
	}
	return bars
}

// Wave is a deterministic return generator for mock series.
func Wave(i int) float64 {
	return 0.01*math.Sin(float64(i)*0.7) + 0.004*math.Cos(float64(i)*1.9)
}
