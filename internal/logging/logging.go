// Package logging builds the process-wide *zap.Logger. Production mode
// tees structured output to both an append-only run log (spec.md §7: "append
// -only to a per-run text file") and stderr, so an operator watching the
// console sees the same records that land on disk.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build constructs a *zap.Logger for level ("debug", "info", "warn",
// "error"). When logFile is non-empty the encoder output is duplicated to
// that file via zapcore.NewTee, opened append-only so repeated runs do not
// clobber prior history.
func Build(level, logFile string) (*zap.Logger, error) {
	atomicLevel := levelFromString(level)

	if logFile == "" {
		cfg := developmentOrProduction(level)
		cfg.Level = atomicLevel
		return cfg.Build()
	}

	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.AddSync(f), atomicLevel),
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), atomicLevel),
	)

	return zap.New(core, zap.AddCaller()), nil
}

func developmentOrProduction(level string) zap.Config {
	if level == "debug" {
		return zap.NewDevelopmentConfig()
	}
	return zap.NewProductionConfig()
}

func levelFromString(level string) zap.AtomicLevel {
	switch level {
	case "debug":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}
