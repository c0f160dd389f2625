package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/tg-ingest/internal/progress"
)

// LogSink emits structured logs for debugging progress streams.
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

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("cycle_id", evt.CycleUUID()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Channel != "" {
			fields = append(fields, zap.String("channel", evt.Channel))
		}
		if evt.MessageID != 0 {
			fields = append(fields, zap.Int("message_id", evt.MessageID))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Stats != nil {
			fields = append(fields, zap.Any("stats", *evt.Stats))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
