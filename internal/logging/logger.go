// Package logging builds the launcher's zap logger.
package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/robbob/launcher/internal/config"
)

// New creates a logger writing to a rotated file and, when console is true,
// to stderr as well. Falls back to stderr only if the log directory cannot be created.
func New(cfg config.LoggingConfig, console bool) *zap.Logger {
	var mirror zapcore.WriteSyncer
	if console {
		mirror = zapcore.Lock(os.Stderr)
	}
	return build(cfg, mirror)
}

// build tees the file core with an optional human-readable mirror.
func build(cfg config.LoggingConfig, mirror zapcore.WriteSyncer) *zap.Logger {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level.SetLevel(zapcore.InfoLevel)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	var cores []zapcore.Core
	if w := fileWriter(cfg); w != nil {
		cores = append(cores, zapcore.NewCore(encoder, w, level))
	} else if mirror == nil {
		mirror = zapcore.Lock(os.Stderr)
	}
	if mirror != nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), mirror, level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

func fileWriter(cfg config.LoggingConfig) zapcore.WriteSyncer {
	if cfg.Path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil
	}

	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    maxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	})
}
