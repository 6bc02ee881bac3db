// Package logging configures structured JSON logging for the CLI.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger construction.
type Options struct {
	Level string // logrus level name; "" means info
	File  string // log file path; "" logs to stderr

	// Rotation settings, used only when File is set.
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

// New builds a logrus logger per opts. When the log file cannot be set up,
// the logger falls back to stderr and the error is reported so the caller
// can mention it without dying over a log path.
func New(opts Options) (*logrus.Logger, error) {
	level := logrus.InfoLevel
	if opts.Level != "" {
		parsed, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})

	output, err := buildOutput(opts)
	logger.SetOutput(output)
	return logger, err
}

func buildOutput(opts Options) (io.Writer, error) {
	if opts.File == "" {
		return os.Stderr, nil
	}
	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return os.Stderr, fmt.Errorf("create log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		Compress:   opts.Compress,
		LocalTime:  true,
	}, nil
}
