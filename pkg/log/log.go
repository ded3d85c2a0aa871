// Package log provides structured logging for whip using zerolog.
//
// Logs are human-readable console output by default, or JSON when
// Config.JSONOutput is set, matching the level/format toggle most
// operators expect from a long-running service. Component loggers
// attach fields (shard, peer address, connection id) so a single
// grep can isolate one subsystem's output.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Level represents a logging threshold.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer

	// ErrorSink, if set, additionally receives error-level and above
	// records, regardless of Output's formatting. Intended for an
	// *ErrorFileFlusher so operators get a standing error log beside
	// stdout.
	ErrorSink io.Writer
}

// Init initializes the global logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.JSONOutput {
		// keep JSON records verbatim in the error sink
	} else {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	writer := io.Writer(output)
	if cfg.ErrorSink != nil {
		writer = zerolog.MultiLevelWriter(output, errorOnly{cfg.ErrorSink})
	}
	Logger = zerolog.New(writer).With().Timestamp().Logger()
}

// errorOnly wraps an io.Writer so it only receives error-level and
// above records when used via zerolog.MultiLevelWriter.
type errorOnly struct {
	w io.Writer
}

func (e errorOnly) Write(p []byte) (int, error) { return len(p), nil }

func (e errorOnly) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < zerolog.ErrorLevel {
		return len(p), nil
	}
	return e.w.Write(p)
}

// WithComponent creates a child logger tagged with a component name.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithPeer creates a child logger tagged with a mesh peer address.
func WithPeer(addr string) zerolog.Logger {
	return Logger.With().Str("peer", addr).Logger()
}

func Info(msg string)  { Logger.Info().Msg(msg) }
func Debug(msg string) { Logger.Debug().Msg(msg) }
func Warn(msg string)  { Logger.Warn().Msg(msg) }
func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) { Logger.Fatal().Msg(msg) }
