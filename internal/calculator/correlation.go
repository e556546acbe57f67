package calculator

import (
	"math"
)

// Pearson computes the correlation of x and y over pairs where both values are
// finite. ok is false when fewer than minPoints pairs remain or either side
// has zero variance.
func Pearson(x, y []float64, minPoints int) (r float64, n int, ok bool) {
	m := len(x)
	if len(y) < m {
		m = len(y)
	}

	var sx, sy float64
	for i := 0; i < m; i++ {
		if valid(x[i]) && valid(y[i]) {
			sx += x[i]
			sy += y[i]
			n++
		}
	}
	if n < minPoints || n < 2 {
		return 0, n, false
	}
	mx, my := sx/float64(n), sy/float64(n)

	// second pass on centred values
	var cov, vx, vy float64
	for i := 0; i < m; i++ {
		if !valid(x[i]) || !valid(y[i]) {
			continue
		}
		dx, dy := x[i]-mx, y[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0, n, false
	}
	r = cov / math.Sqrt(vx*vy)
	return math.Max(-1, math.Min(1, r)), n, true
}

// LagResult is the outcome of a lag scan.
type LagResult struct {
	// Lag is the best shift, in bars, of the candidate behind the reference.
	Lag         int
	Correlation float64
	Defined     bool
	// Samples is the number of valid pairs behind Correlation.
	Samples int
	// ByLag holds the correlation at every shift, NaN where undefined.
	ByLag []float64
}

// BestLag correlates ref[t] with cand[t+tau] for tau in [0, maxLag] and picks
// the highest correlation, the smallest tau on ties. Shifts leaving fewer
// than minOverlap valid pairs are undefined and never selected.
func BestLag(ref, cand []float64, maxLag, minOverlap int) LagResult {
	res := LagResult{ByLag: make([]float64, maxLag+1)}
	n := len(ref)
	if len(cand) < n {
		n = len(cand)
	}
	for tau := 0; tau <= maxLag; tau++ {
		res.ByLag[tau] = math.NaN()
		if tau >= n {
			continue
		}
		r, samples, ok := Pearson(ref[:n-tau], cand[tau:n], minOverlap)
		if !ok {
			continue
		}
		res.ByLag[tau] = r
		if !res.Defined || r > res.Correlation {
			res.Lag, res.Correlation, res.Samples, res.Defined = tau, r, samples, true
		}
	}
	return res
}

func valid(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
