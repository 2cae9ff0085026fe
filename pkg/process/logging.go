// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package process collects the ambient concerns every syncstorage and
// tokenserver binary needs: logging, metrics, health, and error reporting.
// None of it is part of the storage/batch/token core.
package process

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingConfig controls the process-wide zap logger.
type LoggingConfig struct {
	Level string `default:"info" usage:"debug, info, warn, or error"`
	Dev   bool   `default:"false" usage:"use human-readable console encoding instead of JSON"`
}

// NewLogger builds the root *zap.Logger for a binary. Every component logger
// is a named child of this one (log.Named("syncstorage.batch"), etc.), so a
// single level change here governs the whole process.
func NewLogger(cfg LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, err
	}

	var encoder zapcore.Encoder
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Dev {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)
	return zap.New(core, zap.AddCaller()), nil
}
