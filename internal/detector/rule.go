package detector

import "LagSentinel/internal/model"

// Rule flags symbols whose short-period correlation with the reference
// collapses while the long-period correlation stays high.
type Rule struct {
	ShortPeriods   []model.Period
	LongPeriods    []model.Period
	LongThreshold  float64
	ShortThreshold float64
	DiffThreshold  float64
}

// Verdict is the outcome of applying a Rule.
type Verdict struct {
	// Decidable is false when the short or the long set has no defined value.
	Decidable bool
	Anomaly   bool
	MaxLong   float64
	MinShort  float64
	Magnitude float64
	// ShortLag is the largest best lag among the short-period results.
	ShortLag int
}

// Classify evaluates defined correlations only.
func (r Rule) Classify(corrs []model.PeriodCorrelation) Verdict {
	var v Verdict
	haveShort, haveLong := false, false
	for _, c := range corrs {
		if !c.Defined {
			continue
		}
		if contains(r.ShortPeriods, c.Period) {
			if !haveShort || c.Correlation < v.MinShort {
				v.MinShort = c.Correlation
			}
			if c.BestLag > v.ShortLag {
				v.ShortLag = c.BestLag
			}
			haveShort = true
		}
		if contains(r.LongPeriods, c.Period) {
			if !haveLong || c.Correlation > v.MaxLong {
				v.MaxLong = c.Correlation
			}
			haveLong = true
		}
	}
	if !haveShort || !haveLong {
		return Verdict{}
	}
	v.Decidable = true
	v.Magnitude = v.MaxLong - v.MinShort
	v.Anomaly = v.MaxLong > r.LongThreshold &&
		v.MinShort < r.ShortThreshold &&
		(v.Magnitude > r.DiffThreshold || v.ShortLag > 0)
	return v
}

func contains(ps []model.Period, p model.Period) bool {
	for _, q := range ps {
		if q == p {
			return true
		}
	}
	return false
}
