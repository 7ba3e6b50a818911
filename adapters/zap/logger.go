// Package zap adapts go.uber.org/zap to the hookrelay.Logger interface.
package zap

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logging modes accepted by New.
const (
	ProductionMode  = "production"
	DevelopmentMode = "development"
)

// Logger implements hookrelay.Logger on a sugared zap logger.
type Logger struct {
	sugar *zap.SugaredLogger
}

// New builds a zap logger for mode at level ("debug", "info", "warn", "error").
// Production mode writes JSON with ISO8601 timestamps; any other mode writes
// colored console output.
func New(mode, level string) (*Logger, error) {
	var config zap.Config
	if mode == ProductionMode {
		config = zap.NewProductionConfig()
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		config.Level = zap.NewAtomicLevelAt(lvl)
	}

	z, err := config.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return Wrap(z), nil
}

// Wrap adapts an existing zap logger.
func Wrap(z *zap.Logger) *Logger {
	return &Logger{sugar: z.Sugar()}
}

// Zap returns the underlying logger.
func (l *Logger) Zap() *zap.Logger {
	return l.sugar.Desugar()
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

func (l *Logger) Info(message string) {
	l.sugar.Info(message)
}
