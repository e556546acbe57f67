package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest(t *testing.T) SeriesRequest {
	t.Helper()
	req, err := NewSeriesRequest("SOL", "5m", "1d", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return req
}

func slots(req SeriesRequest, idx ...int) []Candle {
	out := make([]Candle, 0, len(idx))
	for _, i := range idx {
		out = append(out, Candle{Timestamp: req.StartMs + int64(i)*req.Interval.Millis(), Close: 1})
	}
	return out
}

func rangeSlots(from, to int) []int {
	var out []int
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}

func TestAssessCoverage_Complete(t *testing.T) {
	req := testRequest(t)
	cov := AssessCoverage(slots(req, rangeSlots(0, req.TargetBars)...), req, 0.95, 3)
	assert.True(t, cov.Sufficient)
	assert.Equal(t, req.TargetBars, cov.Count)
	assert.Equal(t, req.RequiredSpanMs(), cov.SpanMs)
}

func TestAssessCoverage_RightTruncated(t *testing.T) {
	req := testRequest(t)
	// 80% of the window, all from the older side.
	n := req.TargetBars * 8 / 10
	cov := AssessCoverage(slots(req, rangeSlots(0, n)...), req, 0.95, 3)
	assert.False(t, cov.Sufficient)
}

func TestAssessCoverage_GapTolerance(t *testing.T) {
	req := testRequest(t)
	idx := append(rangeSlots(0, 100), rangeSlots(102, req.TargetBars)...)
	cov := AssessCoverage(slots(req, idx...), req, 0.95, 3)
	assert.Equal(t, 3*req.Interval.Millis(), cov.MaxGapMs)
	assert.True(t, cov.Sufficient, "a gap of exactly three intervals is tolerated")

	idx = append(rangeSlots(0, 100), rangeSlots(103, req.TargetBars)...)
	cov = AssessCoverage(slots(req, idx...), req, 0.95, 3)
	assert.False(t, cov.Sufficient)
}

func TestMissingRanges(t *testing.T) {
	req := testRequest(t)
	step := req.Interval.Millis()

	gaps := MissingRanges(nil, req)
	require.Len(t, gaps, 1)
	assert.Equal(t, Gap{FromMs: req.StartMs, UntilMs: req.EndMs}, gaps[0])

	idx := append(rangeSlots(10, 50), rangeSlots(60, req.TargetBars-5)...)
	gaps = MissingRanges(slots(req, idx...), req)
	require.Len(t, gaps, 3)
	assert.Equal(t, Gap{FromMs: req.StartMs, UntilMs: req.StartMs + 9*step}, gaps[0])
	assert.Equal(t, Gap{FromMs: req.StartMs + 50*step, UntilMs: req.StartMs + 59*step}, gaps[1])
	assert.Equal(t, Gap{FromMs: req.StartMs + int64(req.TargetBars-6)*step, UntilMs: req.EndMs}, gaps[2], "tail starts at the newest stored bar")

	gaps = MissingRanges(slots(req, rangeSlots(0, req.TargetBars)...), req)
	assert.Empty(t, gaps)
}

func TestSeriesClone_IsDeep(t *testing.T) {
	s := &Series{Symbol: "BTC", Candles: []Candle{{Timestamp: 1, Close: 10}}}
	c := s.Clone()
	c.Candles[0].Close = 99
	c.Candles = append(c.Candles, Candle{Timestamp: 2})
	assert.Equal(t, 10.0, s.Candles[0].Close)
	assert.Len(t, s.Candles, 1)
}

func TestNormalizeCandles(t *testing.T) {
	in := []Candle{{Timestamp: 3, Close: 3}, {Timestamp: 1, Close: 1}, {Timestamp: 3, Close: 30}, {Timestamp: 2}}
	out := NormalizeCandles(in)
	require.Len(t, out, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{out[0].Timestamp, out[1].Timestamp, out[2].Timestamp})
	assert.Equal(t, 30.0, out[2].Close, "last write wins")
}

func TestFilterRange_Inclusive(t *testing.T) {
	in := []Candle{{Timestamp: 1}, {Timestamp: 2}, {Timestamp: 3}, {Timestamp: 4}}
	out := FilterRange(in, 2, 3)
	require.Len(t, out, 2)
	assert.Equal(t, int64(2), out[0].Timestamp)
	assert.Equal(t, int64(3), out[1].Timestamp)
}
