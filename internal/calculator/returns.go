package calculator

import (
	"math"

	"LagSentinel/internal/model"
)

// Align inner-joins two ascending candle slices on timestamp and returns the
// shared timestamps with both close series.
func Align(ref, cand []model.Candle) (ts []int64, refCloses, candCloses []float64) {
	i, j := 0, 0
	for i < len(ref) && j < len(cand) {
		switch {
		case ref[i].Timestamp < cand[j].Timestamp:
			i++
		case ref[i].Timestamp > cand[j].Timestamp:
			j++
		default:
			ts = append(ts, ref[i].Timestamp)
			refCloses = append(refCloses, ref[i].Close)
			candCloses = append(candCloses, cand[j].Close)
			i++
			j++
		}
	}
	return ts, refCloses, candCloses
}

// CalculateReturns computes simple returns. The output has the same length as
// prices; element 0, and any element whose previous price is zero or
// missing, is NaN.
func CalculateReturns(prices []float64) []float64 {
	out := make([]float64, len(prices))
	for i := range prices {
		if i == 0 || prices[i-1] == 0 || math.IsNaN(prices[i-1]) || math.IsNaN(prices[i]) {
			out[i] = math.NaN()
			continue
		}
		out[i] = prices[i]/prices[i-1] - 1
	}
	return out
}
