package model

import "sort"

// Candle represents a single OHLCV bar. Timestamp is the bar's open time
// in milliseconds since the Unix epoch (UTC).
type Candle struct {
	Timestamp int64   `db:"timestamp" json:"timestamp"`
	Open      float64 `db:"open" json:"open"`
	High      float64 `db:"high" json:"high"`
	Low       float64 `db:"low" json:"low"`
	Close     float64 `db:"close" json:"close"`
	Volume    float64 `db:"volume" json:"volume"`
}

// NormalizeCandles sorts candles by timestamp and keeps the last occurrence
// of each timestamp. The input slice is reused.
func NormalizeCandles(candles []Candle) []Candle {
	if len(candles) < 2 {
		return candles
	}
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Timestamp < candles[j].Timestamp })
	out := candles[:0]
	for _, c := range candles {
		if n := len(out); n > 0 && out[n-1].Timestamp == c.Timestamp {
			out[n-1] = c
			continue
		}
		out = append(out, c)
	}
	return out
}

// FilterRange returns the candles with sinceMs <= Timestamp <= untilMs.
func FilterRange(candles []Candle, sinceMs, untilMs int64) []Candle {
	out := make([]Candle, 0, len(candles))
	for _, c := range candles {
		if c.Timestamp >= sinceMs && c.Timestamp <= untilMs {
			out = append(out, c)
		}
	}
	return out
}
