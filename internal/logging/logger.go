// Package logging builds the zap loggers shared by the API, the stage
// workers and the status tracker.
package logging

import (
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/voxoff/pipeline/internal/config"
	"github.com/voxoff/pipeline/internal/model"
)

// New constructs a zap logger for the given level and format.
func New(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	var zc zap.Config
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "ts"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case "console":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", format)
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)

	return zc.Build()
}

// NewFromConfig creates a logger using the server section of the config.
func NewFromConfig(cfg *config.Config) (*zap.Logger, error) {
	logger, err := New(cfg.Server.LogLevel, cfg.Server.LogFormat)
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("env", cfg.Server.Env)), nil
}

// Asynq adapts a zap logger to the asynq.Logger interface.
func Asynq(logger *zap.Logger) asynq.Logger {
	return logger.Named("asynq").WithOptions(zap.AddCallerSkip(1)).Sugar()
}

// AsynqLevel maps a config log level onto asynq's own level type.
func AsynqLevel(level string) asynq.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return asynq.DebugLevel
	case "warn":
		return asynq.WarnLevel
	case "error":
		return asynq.ErrorLevel
	}
	return asynq.InfoLevel
}

// Job returns the fields that tie a log line to one job across its hops.
func Job(jobID, songID string) []zap.Field {
	return []zap.Field{zap.String("job_id", jobID), zap.String("song_id", songID)}
}

// Stage returns the stage field.
func Stage(s model.Stage) zap.Field {
	return zap.String("stage", string(s))
}

// ForMessage scopes a logger to a stage message.
func ForMessage(logger *zap.Logger, stage model.Stage, msg *model.StageMessage) *zap.Logger {
	fields := append(Job(msg.JobID, msg.SongID), Stage(stage))
	return logger.With(fields...)
}
