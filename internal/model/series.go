package model

import (
	"fmt"
	"time"
)

// SeriesRequest identifies a series and the inclusive window it must cover.
type SeriesRequest struct {
	Symbol     string
	Interval   Interval
	Period     Period
	TargetBars int
	StartMs    int64
	EndMs      int64
}

// NewSeriesRequest derives the window ending at the bar that contains now.
// The window [StartMs, EndMs] holds exactly TargetBars slots.
func NewSeriesRequest(symbol string, iv Interval, p Period, now time.Time) (SeriesRequest, error) {
	bars, err := TargetBars(p, iv)
	if err != nil {
		return SeriesRequest{}, err
	}
	step := iv.Millis()
	end := now.UnixMilli() / step * step
	return SeriesRequest{
		Symbol:     symbol,
		Interval:   iv,
		Period:     p,
		TargetBars: bars,
		StartMs:    end - int64(bars-1)*step,
		EndMs:      end,
	}, nil
}

// RequiredSpanMs is the time span a complete series covers.
func (r SeriesRequest) RequiredSpanMs() int64 {
	return int64(r.TargetBars) * r.Interval.Millis()
}

func (r SeriesRequest) String() string {
	return fmt.Sprintf("%s %s/%s", r.Symbol, r.Interval, r.Period)
}

// Series is an ordered run of candles for one (symbol, interval).
type Series struct {
	Symbol   string
	Interval Interval
	Period   Period
	Candles  []Candle
}

// Len returns the number of candles.
func (s *Series) Len() int { return len(s.Candles) }

// Oldest returns the first timestamp, ok is false for an empty series.
func (s *Series) Oldest() (int64, bool) {
	if len(s.Candles) == 0 {
		return 0, false
	}
	return s.Candles[0].Timestamp, true
}

// Clone returns a deep copy.
func (s *Series) Clone() *Series {
	if s == nil {
		return nil
	}
	c := *s
	c.Candles = make([]Candle, len(s.Candles))
	copy(c.Candles, s.Candles)
	return &c
}

// Gap is a missing inclusive range of bar timestamps.
type Gap struct {
	FromMs  int64
	UntilMs int64
}

// Coverage summarises how well a set of candles fills a request window.
type Coverage struct {
	Count      int
	SpanMs     int64
	MaxGapMs   int64
	Sufficient bool
}

// AssessCoverage checks candles against req. The series is sufficient when it
// holds at least ratio*TargetBars rows, spans at least ratio of the required
// span and no two consecutive bars are more than gapTolerance intervals apart.
func AssessCoverage(candles []Candle, req SeriesRequest, ratio float64, gapTolerance int) Coverage {
	cov := Coverage{Count: len(candles)}
	if len(candles) == 0 {
		return cov
	}
	step := req.Interval.Millis()
	cov.SpanMs = candles[len(candles)-1].Timestamp - candles[0].Timestamp + step
	for i := 1; i < len(candles); i++ {
		if d := candles[i].Timestamp - candles[i-1].Timestamp; d > cov.MaxGapMs {
			cov.MaxGapMs = d
		}
	}
	cov.Sufficient = float64(cov.Count) >= ratio*float64(req.TargetBars) &&
		float64(cov.SpanMs) >= ratio*float64(req.RequiredSpanMs()) &&
		cov.MaxGapMs <= int64(gapTolerance)*step
	return cov
}

// MissingRanges lists the parts of the request window to fetch: the head
// before the oldest bar, internal holes, and the tail from the newest bar on.
func MissingRanges(candles []Candle, req SeriesRequest) []Gap {
	step := req.Interval.Millis()
	if len(candles) == 0 {
		return []Gap{{FromMs: req.StartMs, UntilMs: req.EndMs}}
	}
	var gaps []Gap
	if first := candles[0].Timestamp; first > req.StartMs {
		gaps = append(gaps, Gap{FromMs: req.StartMs, UntilMs: first - step})
	}
	for i := 1; i < len(candles); i++ {
		prev, next := candles[i-1].Timestamp, candles[i].Timestamp
		if next-prev > step {
			gaps = append(gaps, Gap{FromMs: prev + step, UntilMs: next - step})
		}
	}
	// The newest stored bar may have been written while still open, so the
	// tail refetches it.
	if last := candles[len(candles)-1].Timestamp; last < req.EndMs {
		gaps = append(gaps, Gap{FromMs: last, UntilMs: req.EndMs})
	}
	return gaps
}
