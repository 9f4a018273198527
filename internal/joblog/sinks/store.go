// Package sinks provides the job log sink implementations wired into the
// hub: persistent store writes, structured process logs, and metrics.
package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/gitmeta"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/joblog"
)

// StoreSink persists rendered log lines into the job store.
type StoreSink struct {
	store  gitmeta.JobStore
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink over the provided store.
func NewStoreSink(store gitmeta.JobStore, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{store: store, logger: logger}
}

// Consume appends each event's rendered line to its job. A failing append
// does not stop the batch; the lines of other jobs still land, and the
// joined error surfaces through the hub.
func (s *StoreSink) Consume(ctx context.Context, batch []joblog.Event) error {
	if s == nil || s.store == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if err := s.store.AppendLog(ctx, evt.JobID, joblog.Line(evt)); err != nil {
			errs = append(errs, fmt.Errorf("append log for job %s: %w", evt.JobID, err))
		}
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
