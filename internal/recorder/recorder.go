package recorder

import (
	"context"
	"errors"
	"time"

	"LagSentinel/internal/model"
)

// ClassificationRecord is one stored detector result.
type ClassificationRecord struct {
	ID           int64   `db:"id"`
	RunID        string  `db:"run_id"`
	Symbol       string  `db:"symbol"`
	Status       string  `db:"status"`
	Anomaly      bool    `db:"anomaly"`
	Magnitude    float64 `db:"magnitude"`
	BestLag      int     `db:"best_lag"`
	Correlations string  `db:"correlations"` // JSON array of PeriodCorrelation
	Reason       string  `db:"reason"`
	ErrKind      string  `db:"err_kind"`
	Error        string  `db:"error"`
	EvaluatedAt  int64   `db:"evaluated_at"`
}

// RunRecord is one stored scan summary.
type RunRecord struct {
	RunID      string `db:"run_id"`
	Started    int64  `db:"started"`
	ElapsedMs  int64  `db:"elapsed_ms"`
	Total      int    `db:"total"`
	Classified int    `db:"classified"`
	Skipped    int    `db:"skipped"`
	Failed     int    `db:"failed"`
	Anomalies  int    `db:"anomalies"`
}

// Recorder persists detector output for later analysis. It satisfies
// detector.Sink.
type Recorder interface {
	Emit(ctx context.Context, c model.Classification) error
	RecordRun(ctx context.Context, s model.RunSummary) error
	Close() error
}

// History reads back what a Recorder stored.
type History interface {
	Anomalies(ctx context.Context, since time.Time, limit int) ([]ClassificationRecord, error)
	RunResults(ctx context.Context, runID string) ([]ClassificationRecord, error)
	Runs(ctx context.Context, limit int) ([]RunRecord, error)
}

// Summary converts the record back into a run summary.
func (r RunRecord) Summary() model.RunSummary {
	return model.RunSummary{
		RunID:      r.RunID,
		Started:    time.UnixMilli(r.Started).UTC(),
		Elapsed:    time.Duration(r.ElapsedMs) * time.Millisecond,
		Total:      r.Total,
		Classified: r.Classified,
		Skipped:    r.Skipped,
		Failed:     r.Failed,
		Anomalies:  r.Anomalies,
	}
}

// Classification converts the record back into a detector result. The
// stored error text comes back as an opaque error.
func (c ClassificationRecord) Classification() (model.Classification, error) {
	corrs, err := c.PeriodCorrelations()
	if err != nil {
		return model.Classification{}, err
	}
	out := model.Classification{
		RunID:        c.RunID,
		Symbol:       c.Symbol,
		Status:       model.Status(c.Status),
		Anomaly:      c.Anomaly,
		Magnitude:    c.Magnitude,
		BestLag:      c.BestLag,
		Correlations: corrs,
		Reason:       c.Reason,
		ErrKind:      c.ErrKind,
		EvaluatedAt:  time.UnixMilli(c.EvaluatedAt).UTC(),
	}
	if c.Error != "" {
		out.Err = errors.New(c.Error)
	}
	return out, nil
}
