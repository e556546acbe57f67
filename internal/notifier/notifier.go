package notifier

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"LagSentinel/internal/model"
)

// Notifier delivers a rendered message.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// LogNotifier writes messages to the application log.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("notifier")}
}

func (n *LogNotifier) Send(_ context.Context, text string) error {
	first, rest, _ := strings.Cut(text, "\n")
	n.log.Info(first, zap.String("report", strings.TrimSpace(rest)))
	return nil
}

// AnomalySink forwards anomalies and run summaries to a Notifier. Other
// classifications are dropped.
type AnomalySink struct {
	source   string
	notifier Notifier
}

func NewAnomalySink(source string, n Notifier) *AnomalySink {
	return &AnomalySink{source: source, notifier: n}
}

func (s *AnomalySink) Emit(ctx context.Context, c model.Classification) error {
	if c.Status != model.StatusClassified || !c.Anomaly {
		return nil
	}
	return s.notifier.Send(ctx, FormatAnomaly(s.source, c))
}

func (s *AnomalySink) RecordRun(ctx context.Context, sum model.RunSummary) error {
	return s.notifier.Send(ctx, FormatRunSummary(sum))
}
