// Package observability contains logging setup shared by the rdgram
// binaries.
package observability

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"rdgram/pkg/config"
)

// SetupLogger builds a zap.Logger from the provided configuration and sets
// it as the global logger. The caller should defer logger.Sync().
func SetupLogger(c config.LogConfig) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	switch strings.ToLower(c.Level) {
	case "debug":
		level.SetLevel(zap.DebugLevel)
	case "warn", "warning":
		level.SetLevel(zap.WarnLevel)
	case "error":
		level.SetLevel(zap.ErrorLevel)
	default:
		level.SetLevel(zap.InfoLevel)
	}

	encCfg := zap.NewProductionEncoderConfig()
	if c.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	var encoder zapcore.Encoder
	if strings.ToLower(c.Format) == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	var cores []zapcore.Core
	for _, out := range c.Outputs {
		cores = append(cores, zapcore.NewCore(encoder, sink(out, c), level))
	}

	opts := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
	if c.Development {
		opts = append(opts, zap.Development())
	}
	logger := zap.New(zapcore.NewTee(cores...), opts...)
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// sink resolves one configured output into a write syncer. File outputs
// rotate through lumberjack when rotation is enabled.
func sink(out string, c config.LogConfig) zapcore.WriteSyncer {
	switch strings.ToLower(out) {
	case "stdout":
		return zapcore.AddSync(os.Stdout)
	case "stderr":
		return zapcore.AddSync(os.Stderr)
	}

	if c.Rotation.Enable {
		name := out
		if strings.TrimSpace(c.Rotation.Filename) != "" {
			name = c.Rotation.Filename
		}
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   name,
			MaxSize:    c.Rotation.MaxSizeMB,
			MaxBackups: c.Rotation.MaxBackups,
			MaxAge:     c.Rotation.MaxAgeDays,
			Compress:   c.Rotation.Compress,
		})
	}

	if dir := filepath.Dir(out); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	f, err := os.OpenFile(out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return zapcore.AddSync(os.Stderr)
	}
	return zapcore.AddSync(f)
}
