// Package logging builds the process-wide zap logger. Console output is
// human-readable; file output is JSON with size-based rotation so a
// long-running capture daemon cannot fill the disk.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects level and destinations.
type Config struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Output     string `mapstructure:"output"`      // console, file, both
	FilePath   string `mapstructure:"file_path"`   // used for file/both
	MaxSizeMB  int    `mapstructure:"max_size_mb"` // rotation threshold
	MaxBackups int    `mapstructure:"max_backups"` // rotated files kept
}

// New builds a logger from cfg.
func New(cfg Config) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	consoleEnc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	jsonEnc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())

	var cores []zapcore.Core
	switch cfg.Output {
	case "", "console":
		cores = append(cores, zapcore.NewCore(consoleEnc, zapcore.AddSync(os.Stderr), level))
	case "file":
		cores = append(cores, zapcore.NewCore(jsonEnc, fileSink(cfg), level))
	case "both":
		cores = append(cores, zapcore.NewCore(consoleEnc, zapcore.AddSync(os.Stderr), level))
		cores = append(cores, zapcore.NewCore(jsonEnc, fileSink(cfg), level))
	default:
		return nil, fmt.Errorf("invalid log output %q", cfg.Output)
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}

func fileSink(cfg Config) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   true,
	})
}
