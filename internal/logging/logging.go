// Package logging builds the zap loggers used across swallow.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Options struct {
	JSON bool
	// Level is the configured base level (debug, info, warn, error).
	Level string
	// Verbosity is the -v count; each step lowers the level by one.
	Verbosity int
	// File adds a second sink appended to on disk.
	File string
	// Out defaults to stderr.
	Out io.Writer
}

// New returns the logger described by opts and a close function flushing
// and releasing its sinks.
func New(opts Options) (*zap.SugaredLogger, func() error, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	level = Raise(level, opts.Verbosity)

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	cores := []zapcore.Core{zapcore.NewCore(encoder(opts.JSON), zapcore.AddSync(out), level)}
	closers := []io.Closer{}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, errors.Wrapf(err, "create log directory for %s", opts.File)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "open log file %s", opts.File)
		}
		// the file always gets structured lines
		cores = append(cores, zapcore.NewCore(encoder(true), zapcore.AddSync(f), level))
		closers = append(closers, f)
	}

	logger := zap.New(zapcore.NewTee(cores...))
	closeFn := func() error {
		_ = logger.Sync()
		var errs error
		for _, c := range closers {
			errs = errors.CombineErrors(errs, c.Close())
		}
		return errs
	}
	return logger.Sugar(), closeFn, nil
}

func encoder(json bool) zapcore.Encoder {
	if json {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	cfg.EncodeCaller = nil
	cfg.CallerKey = ""
	return zapcore.NewConsoleEncoder(cfg)
}

// ParseLevel maps a configured level name to a zap level. Empty means info.
func ParseLevel(name string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, errors.Newf("unknown log level %q", name)
	}
}

// Raise lowers the threshold of level by verbosity steps, never below debug.
func Raise(level zapcore.Level, verbosity int) zapcore.Level {
	for i := 0; i < verbosity && level > zapcore.DebugLevel; i++ {
		level--
	}
	return level
}
