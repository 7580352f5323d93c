// Package logger builds the service's zap loggers and shared field helpers.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Structured field keys shared across components.
const (
	FieldRunID      = "run_id"
	FieldClaimantID = "claimant_id"
	FieldMatchID    = "match_id"
	FieldPostingID  = "posting_id"
)

// New builds a console (or JSON) logger writing to stdout. debug lowers the
// level to Debug.
func New(json bool, debug bool) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	encoding := "console"

	if json {
		encoding = "json"
	}

	if debug {
		level = zapcore.DebugLevel
	}

	cfg := zap.Config{
		Encoding:         encoding,
		Level:            zap.NewAtomicLevelAt(level),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey: "msg",

			LevelKey:    "level",
			EncodeLevel: zapcore.LowercaseLevelEncoder,

			TimeKey:    "time",
			EncodeTime: zapcore.RFC3339TimeEncoder,

			NameKey: "logger",

			CallerKey:    "caller",
			EncodeCaller: zapcore.ShortCallerEncoder,
		},
	}
	return cfg.Build()
}

// WithFields safely attaches fields to the logger, defaulting to a no-op
// logger when nil.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// ForClaimant attaches the claimant id, and the run id when set.
func ForClaimant(logger *zap.Logger, claimantID int64, runID string) *zap.Logger {
	fields := []zap.Field{zap.Int64(FieldClaimantID, claimantID)}
	if runID != "" {
		fields = append(fields, zap.String(FieldRunID, runID))
	}
	return WithFields(logger, fields...)
}
