// Package logger provides structured logging for the replayer
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Log is the global logger instance
	Log = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	TimeFormat string // time format for console output

	// File enables rotated file output in addition to stderr
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Init initializes the global logger. The returned closer releases the log
// file, if one was configured.
func Init(cfg Config) io.Closer {
	var output io.Writer = os.Stderr

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: cfg.TimeFormat,
		}
	}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		output = io.MultiWriter(output, lj)
		closer = lj
	}

	Log = zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", "rtbreplay").
		Logger()

	return closer
}

// WithRun tags every subsequent log line with the run id
func WithRun(runID string) {
	Log = Log.With().Str("run_id", runID).Logger()
}

// Replay returns a logger for the main replay loop
func Replay() zerolog.Logger {
	return Log.With().Str("component", "replay").Logger()
}

// Auction returns a logger for a single bid request
func Auction(requestID string) zerolog.Logger {
	return Log.With().Str("component", "auction").Str("request_id", requestID).Logger()
}

// Events returns a logger for a post-auction event worker
func Events(kind string) zerolog.Logger {
	return Log.With().Str("component", "events").Str("kind", kind).Logger()
}

// Notify returns a logger for win/event delivery
func Notify() zerolog.Logger {
	return Log.With().Str("component", "notify").Logger()
}

// Journal returns the logger backing the delivery journal
func Journal() zerolog.Logger {
	return Log.With().Str("component", "journal").Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
