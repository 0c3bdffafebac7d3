// Package log provides structured logging for the module, backed by zerolog.
//
// Models never log directly to zerolog; they hold a Logger obtained from a
// LoggerProvider so that call sites stay testable (a no-op provider can be
// substituted) and so the sampler's hot loop never pays for log-level checks
// it doesn't need.
package log

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Level mirrors zerolog's level constants without leaking the zerolog type
// into call sites that only need to pick a verbosity.
type Level int8

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	DisabledLevel
)

// ToLogLevel parses a level name ("debug", "info", "warn", "error", "off").
// Unrecognized names fall back to InfoLevel.
func ToLogLevel(name string) Level {
	switch strings.ToLower(name) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	case "off", "disabled", "silent":
		return DisabledLevel
	default:
		return InfoLevel
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	case DisabledLevel:
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Logger is the minimal structured-logging surface models depend on.
// Fields are passed as alternating key/value pairs, matching zerolog's
// convention for the common case where a caller just wants a message plus a
// handful of named fields rather than a chained builder.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// LoggerProvider hands out named loggers sharing a common sink and level.
type LoggerProvider interface {
	GetLoggerWithName(name string) Logger
}

type zerologLogger struct {
	logger zerolog.Logger
}

func (l *zerologLogger) log(event *zerolog.Event, msg string, fields ...interface{}) {
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		event = event.Interface(key, fields[i+1])
	}
	event.Msg(msg)
}

func (l *zerologLogger) Debug(msg string, fields ...interface{}) {
	l.log(l.logger.Debug(), msg, fields...)
}

func (l *zerologLogger) Info(msg string, fields ...interface{}) {
	l.log(l.logger.Info(), msg, fields...)
}

func (l *zerologLogger) Warn(msg string, fields ...interface{}) {
	l.log(l.logger.Warn(), msg, fields...)
}

func (l *zerologLogger) Error(msg string, fields ...interface{}) {
	l.log(l.logger.Error(), msg, fields...)
}

// ZerologProvider is a LoggerProvider backed by a single zerolog sink.
type ZerologProvider struct {
	base zerolog.Logger
}

// NewZerologProvider creates a provider writing to stderr at the given level.
func NewZerologProvider(level Level) LoggerProvider {
	return NewZerologProviderWithWriter(os.Stderr, level)
}

// NewZerologProviderWithWriter creates a provider writing to an arbitrary sink,
// useful for tests that want to assert on log output.
func NewZerologProviderWithWriter(w io.Writer, level Level) LoggerProvider {
	return &ZerologProvider{
		base: zerolog.New(w).Level(level.zerolog()).With().Timestamp().Logger(),
	}
}

// GetLoggerWithName returns a logger tagging every record with "component": name.
func (p *ZerologProvider) GetLoggerWithName(name string) Logger {
	return &zerologLogger{logger: p.base.With().Str("component", name).Logger()}
}

var defaultProvider LoggerProvider = NewZerologProvider(InfoLevel)

// SetupLogger installs the package-level default provider at the given level.
func SetupLogger(level string) {
	defaultProvider = NewZerologProvider(ToLogLevel(level))
}

// GetLoggerWithName returns a logger from the package-level default provider.
func GetLoggerWithName(name string) Logger {
	return defaultProvider.GetLoggerWithName(name)
}
