// Package logging builds the node's zap loggers and the observability sink
// the retrieval core reports to.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LevelForVerbosity maps the -v count onto a zap level
// 0 = warn, 1 = info, 2 and above = debug
func LevelForVerbosity(verbosity int) zapcore.Level {
	switch {
	case verbosity <= 0:
		return zapcore.WarnLevel
	case verbosity == 1:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// New creates a console logger writing to stderr at the level implied by verbosity
func New(verbosity int) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(LevelForVerbosity(verbosity))
	cfg.DisableStacktrace = verbosity < 3
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return cfg.Build()
}

// Named returns a child logger for a component, tolerating a nil parent
func Named(parent *zap.Logger, name string) *zap.Logger {
	if parent == nil {
		return zap.NewNop()
	}
	return parent.Named(name)
}
