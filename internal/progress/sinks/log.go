package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/progress"
)

// LogSink emits structured logs for debugging event streams. It is useful
// during development or audits where no subscriber is attached.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("events")}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("channel", evt.Channel),
			zap.String("event", evt.Name),
			zap.Time("ts", evt.TS),
		}
		if update, ok := evt.JobUpdate(); ok {
			fields = append(fields,
				zap.String("job_id", update.JobID),
				zap.String("domain", update.Domain),
				zap.String("status", string(update.Status)),
				zap.Int("progress", update.Progress),
				zap.String("message", update.Message),
			)
		} else {
			fields = append(fields, zap.Any("payload", evt.Payload))
		}
		s.logger.Info("event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
