package sinks

import (
	"context"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/joblog"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/metrics"
)

// PrometheusSink counts log lines per level through the shared collectors.
// Levels carry the signal here; per-job labels would blow up cardinality.
type PrometheusSink struct{}

// NewPrometheusSink returns the metrics sink.
func NewPrometheusSink() *PrometheusSink {
	return &PrometheusSink{}
}

// Consume increments the per-level line counter for each event.
func (s *PrometheusSink) Consume(_ context.Context, batch []joblog.Event) error {
	for _, evt := range batch {
		metrics.ObserveJobLogLine(string(evt.Level))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
