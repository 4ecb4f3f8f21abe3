// Package logger configures the global zerolog logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger configuration
type Config struct {
	Level          string // debug, info, warn, error
	Format         string // json, pretty
	FileEnabled    bool
	FilePath       string // logs directory path
	RotationSize   int    // MB
	RetentionDays  int
	ServiceName    string
	ServiceVersion string
}

// errorWriter forwards only error and above.
type errorWriter struct {
	io.Writer
}

func (w errorWriter) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	if l < zerolog.ErrorLevel {
		return len(p), nil
	}
	return w.Write(p)
}

func rotating(dir, name string, cfg Config, backups int) *lumberjack.Logger {
	size := cfg.RotationSize
	if size <= 0 {
		size = 100
	}
	return &lumberjack.Logger{
		Filename:   filepath.Join(dir, name),
		MaxSize:    size,
		MaxAge:     cfg.RetentionDays,
		MaxBackups: backups,
		Compress:   true,
	}
}

// Init initializes the global logger
func Init(cfg Config) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var writers []io.Writer
	if cfg.Format == "pretty" {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	} else {
		writers = append(writers, os.Stderr)
	}

	if cfg.FileEnabled {
		if err := os.MkdirAll(cfg.FilePath, 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		writers = append(writers,
			rotating(cfg.FilePath, "app.log", cfg, 10),
			errorWriter{rotating(cfg.FilePath, "error.log", cfg, 10)},
		)
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("version", cfg.ServiceVersion).
		Logger()

	log.Info().
		Str("level", cfg.Level).
		Str("format", cfg.Format).
		Bool("file_enabled", cfg.FileEnabled).
		Msg("logger initialized")
	return nil
}

// NewAccessLogger creates a logger for HTTP access logs. Without a path the
// global logger is used.
func NewAccessLogger(cfg Config) zerolog.Logger {
	if !cfg.FileEnabled || cfg.FilePath == "" {
		return log.Logger
	}
	if err := os.MkdirAll(cfg.FilePath, 0o755); err != nil {
		log.Warn().Err(err).Msg("failed to create access log directory, using default logger")
		return log.Logger
	}
	return zerolog.New(rotating(cfg.FilePath, "access.log", cfg, 10)).With().
		Timestamp().
		Str("type", "access").
		Logger()
}
