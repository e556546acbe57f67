package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"LagSentinel/internal/model"
	"LagSentinel/internal/recorder"
)

// Report renders stored scan history: the latest runs, the symbols the
// newest run could not classify, and the anomalies flagged since since.
func Report(ctx context.Context, h recorder.History, source string, since time.Time, limit int) (string, error) {
	runs, err := h.Runs(ctx, limit)
	if err != nil {
		return "", err
	}
	anomalies, err := h.Anomalies(ctx, since, limit)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s history | %d runs | %d anomalies since %s\n",
		source, len(runs), len(anomalies), since.UTC().Format("2006-01-02 15:04")))

	for _, r := range runs {
		b.WriteString("\n" + FormatRunSummary(r.Summary()) + "\n")
	}

	if len(runs) > 0 {
		results, err := h.RunResults(ctx, runs[0].RunID)
		if err != nil {
			return "", err
		}
		var lines []string
		for _, rec := range results {
			switch model.Status(rec.Status) {
			case model.StatusSkipped:
				lines = append(lines, fmt.Sprintf("%-10s skipped: %s", rec.Symbol, rec.Reason))
			case model.StatusFailed:
				lines = append(lines, fmt.Sprintf("%-10s failed [%s]: %s", rec.Symbol, rec.ErrKind, rec.Error))
			}
		}
		if len(lines) > 0 {
			b.WriteString(fmt.Sprintf("\nunclassified in scan %s:\n", shortID(runs[0].RunID)))
			b.WriteString(strings.Join(lines, "\n") + "\n")
		}
	}

	for _, rec := range anomalies {
		c, err := rec.Classification()
		if err != nil {
			return "", fmt.Errorf("anomaly %s: %w", rec.Symbol, err)
		}
		b.WriteString("\n" + FormatAnomaly(source, c) + "\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
