package model

import "time"

// Status is the terminal state of one symbol's evaluation.
type Status string

const (
	StatusClassified Status = "CLASSIFIED"
	StatusSkipped    Status = "SKIPPED"
	StatusFailed     Status = "FAILED"
)

// PeriodCorrelation is the best-lag correlation for one (interval, period).
// Correlation is meaningful only when Defined is true.
type PeriodCorrelation struct {
	Interval    Interval `json:"interval"`
	Period      Period   `json:"period"`
	Correlation float64  `json:"correlation"`
	Defined     bool     `json:"defined"`
	BestLag     int      `json:"best_lag"`
	Samples     int      `json:"samples"`
}

// Classification is the detector output for one symbol in one run.
type Classification struct {
	RunID        string
	Symbol       string
	Status       Status
	Anomaly      bool
	Magnitude    float64
	BestLag      int
	Correlations []PeriodCorrelation
	Reason       string
	ErrKind      string
	Err          error
	EvaluatedAt  time.Time
}

// RunSummary aggregates one detector run.
type RunSummary struct {
	RunID      string
	Started    time.Time
	Elapsed    time.Duration
	Total      int
	Classified int
	Skipped    int
	Failed     int
	Anomalies  int
}
