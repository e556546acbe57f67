package recorder

import (
	"context"

	"LagSentinel/internal/model"
)

// NoopRecorder is used when history is disabled.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) Emit(_ context.Context, _ model.Classification) error { return nil }
func (n *NoopRecorder) RecordRun(_ context.Context, _ model.RunSummary) error { return nil }
func (n *NoopRecorder) Close() error                                         { return nil }
