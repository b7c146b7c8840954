package bridge

import (
	"go.uber.org/zap"
)

// DiagnosticSink receives advisory tracing messages from both sides of the
// bridge. Implementations must be non-blocking and best-effort: a sink failure
// never fails the call being traced.
type DiagnosticSink interface {
	Record(d Diagnostic)
}

type logSink struct {
	logger *zap.Logger
}

// NewLogSink returns a sink that counts diagnostics and logs them at debug level.
func NewLogSink(logger *zap.Logger) DiagnosticSink {
	return &logSink{logger: logger}
}

func (s *logSink) Record(d Diagnostic) {
	diagnosticsMetric.WithLabelValues(string(d.Stage)).Inc()
	s.logger.Debug("bridge call trace",
		zap.String("id", d.ID),
		zap.String("method", d.Method),
		zap.String("stage", string(d.Stage)),
		zap.Int64("timestamp", d.Timestamp),
		zap.String("message", d.Message))
}
