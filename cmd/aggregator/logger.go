package main

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// buildLogger mirrors the teacher's newLogger helper: zap.NewProductionConfig
// with an ISO8601 time encoder, level set from a string flag/env value.
func buildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
