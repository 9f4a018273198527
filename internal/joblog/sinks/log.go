package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/gitmeta"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/joblog"
)

// LogSink mirrors job log lines into the process logger so operators see
// per-job activity without querying the store.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event at its mapped level with the job ID attached.
func (s *LogSink) Consume(_ context.Context, batch []joblog.Event) error {
	for _, evt := range batch {
		field := zap.String("job_id", evt.JobID)
		switch evt.Level {
		case gitmeta.LogDebug:
			s.logger.Debug(evt.Message, field)
		case gitmeta.LogWarning:
			s.logger.Warn(evt.Message, field)
		case gitmeta.LogError:
			s.logger.Error(evt.Message, field)
		default:
			s.logger.Info(evt.Message, field)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
