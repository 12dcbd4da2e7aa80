package diagnostics

import (
	"context"
	"log/slog"

	"github.com/polisai/polis-sandbox/pkg/domain"
)

// LogSink writes each record to a structured logger at debug level.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink writing to logger, or slog.Default when nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Record implements domain.DiagnosticsSink.
func (s *LogSink) Record(ctx context.Context, rec domain.DiagnosticRecord) {
	s.logger.DebugContext(ctx, "Sandbox decision",
		"path", rec.Path,
		"name", rec.Name,
		"sandboxed", rec.Sandboxed,
		"reason", string(rec.Reason))
}

// Multi fans a record out to every non-nil sink in order.
func Multi(sinks ...domain.DiagnosticsSink) domain.DiagnosticsSink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type multiSink []domain.DiagnosticsSink

func (m multiSink) Record(ctx context.Context, rec domain.DiagnosticRecord) {
	for _, s := range m {
		s.Record(ctx, rec)
	}
}
