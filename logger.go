package hookrelay

// Logger is the printf-style sink every hookrelay service writes to.
// adapters/zap provides a production implementation; services built
// without one fall back to NoopLogger.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)

	// Info logs a fixed message, e.g. lifecycle lines such as "worker pool started".
	Info(message string)
}

// NoopLogger discards everything. Tests and embedders that bring their own
// observability use it.
type NoopLogger struct{}

func (*NoopLogger) Debugf(string, ...any) {}
func (*NoopLogger) Infof(string, ...any)  {}
func (*NoopLogger) Warnf(string, ...any)  {}
func (*NoopLogger) Errorf(string, ...any) {}
func (*NoopLogger) Info(string)           {}
