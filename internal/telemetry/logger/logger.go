// Package logger provides structured logging for sqlfixture.
//
// It wraps github.com/charmbracelet/log and redacts credentials from
// key/value pairs before they reach the output.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Logger is the logging surface used across the module.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
	With(keyvals ...any) Logger
}

// Options configures the logger.
type Options struct {
	// Level is the minimum log level (debug, info, warn, error)
	Level string
	// Format is text, json or logfmt
	Format string
	// Output is the writer for log output (default: os.Stderr)
	Output io.Writer
	// Prefix is the component name prefix
	Prefix string
	// ReportTimestamp adds timestamps to log entries
	ReportTimestamp bool
}

// DefaultOptions returns the options used by the CLI when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Level:           "info",
		Format:          "text",
		Output:          os.Stderr,
		ReportTimestamp: true,
	}
}

func parseLevel(level string) log.Level {
	switch strings.ToLower(level) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

func parseFormat(format string) log.Formatter {
	switch strings.ToLower(format) {
	case "json":
		return log.JSONFormatter
	case "logfmt":
		return log.LogfmtFormatter
	default:
		return log.TextFormatter
	}
}

type charmLogger struct {
	l *log.Logger
}

// New creates a logger with the given options.
func New(opts Options) Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	l := log.NewWithOptions(out, log.Options{
		Level:           parseLevel(opts.Level),
		Prefix:          opts.Prefix,
		Formatter:       parseFormat(opts.Format),
		TimeFormat:      time.RFC3339,
		ReportTimestamp: opts.ReportTimestamp,
	})
	return &charmLogger{l: l}
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return New(Options{Output: io.Discard, Level: "error"})
}

var defaultLogger = New(DefaultOptions())

// Default returns the process-wide logger.
func Default() Logger { return defaultLogger }

// SetDefault replaces the process-wide logger.
func SetDefault(l Logger) {
	if l != nil {
		defaultLogger = l
	}
}

func (c *charmLogger) Debug(msg string, keyvals ...any) { c.l.Debug(msg, Redact(keyvals)...) }
func (c *charmLogger) Info(msg string, keyvals ...any)  { c.l.Info(msg, Redact(keyvals)...) }
func (c *charmLogger) Warn(msg string, keyvals ...any)  { c.l.Warn(msg, Redact(keyvals)...) }
func (c *charmLogger) Error(msg string, keyvals ...any) { c.l.Error(msg, Redact(keyvals)...) }

func (c *charmLogger) With(keyvals ...any) Logger {
	return &charmLogger{l: c.l.With(Redact(keyvals)...)}
}
