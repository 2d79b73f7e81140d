// Package logging builds the zap loggers used by every binary and
// package in this module.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a JSON zap logger at the given level ("debug", "info",
// "warn", "error"). An empty level defaults to "info"; an unrecognized
// level returns an error.
func New(level string) (*zap.Logger, error) {
	var zl zapcore.Level
	if level == "" {
		level = "info"
	}
	if err := zl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("logging: invalid level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zl)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// Must is New but panics on error, for use at process startup where
// a broken logging configuration should abort the binary immediately.
func Must(level string) *zap.Logger {
	l, err := New(level)
	if err != nil {
		panic(err)
	}
	return l
}
