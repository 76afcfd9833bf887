// Package logger provides structured logging for metastream
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with metastream-specific helpers
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // console output for interactive use
	Output     io.Writer
	WithCaller bool
}

// ParseLevel maps a configuration level name to a zerolog level.
// Unknown names fall back to info.
func ParseLevel(name string) zerolog.Level {
	switch name {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new structured logger
func NewLogger(cfg Config) *Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	zlog := zerolog.New(output).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("service", "metastream").
		Logger()

	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// Nop returns a logger that discards everything; libraries use it when
// the caller does not inject one
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// OrNop returns l, or a discarding logger when l is nil
func OrNop(l *Logger) *Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// GetZerolog returns the underlying zerolog logger
func (l *Logger) GetZerolog() *zerolog.Logger {
	return &l.zlog
}

func (l *Logger) Info() *zerolog.Event  { return l.zlog.Info() }
func (l *Logger) Debug() *zerolog.Event { return l.zlog.Debug() }
func (l *Logger) Warn() *zerolog.Event  { return l.zlog.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zlog.Error() }

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// Component returns a child logger tagged with a component name
func (l *Logger) Component(name string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", name).Logger()}
}

// MapperLogger returns a logger for graph/document mapping
func (l *Logger) MapperLogger() *Logger { return l.Component("mapper") }

// EnvelopeLogger returns a logger for transform wrapping
func (l *Logger) EnvelopeLogger() *Logger { return l.Component("envelope") }

// ContainerLogger returns a logger for packet file I/O
func (l *Logger) ContainerLogger(path string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "container").
			Str("file", path).
			Logger(),
	}
}

// DataSourceLogger returns a logger for one open data source
func (l *Logger) DataSourceLogger(path string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "datasource").
			Str("file", path).
			Logger(),
	}
}

// LogOperation logs a completed operation with structured fields
func (l *Logger) LogOperation(operation string, duration time.Duration, recordCount int, err error) {
	if err != nil {
		l.zlog.Error().
			Str("operation", operation).
			Dur("duration_ms", duration).
			Err(err).
			Msg("Operation failed")
		return
	}

	l.zlog.Debug().
		Str("operation", operation).
		Dur("duration_ms", duration).
		Int("record_count", recordCount).
		Msg("Operation completed")
}

// LogServerStart logs server startup
func (l *Logger) LogServerStart(httpAddr, grpcAddr, file string) {
	l.zlog.Info().
		Str("event", "server_start").
		Str("http_addr", httpAddr).
		Str("grpc_addr", grpcAddr).
		Str("file", file).
		Msg("metastream server starting")
}

// LogServerReady logs when the server accepts connections
func (l *Logger) LogServerReady(httpAddr, grpcAddr string) {
	l.zlog.Info().
		Str("event", "server_ready").
		Str("http_addr", httpAddr).
		Str("grpc_addr", grpcAddr).
		Msg("metastream server ready to accept connections")
}

// LogServerShutdown logs server shutdown
func (l *Logger) LogServerShutdown() {
	l.zlog.Info().
		Str("event", "server_shutdown").
		Msg("metastream server shutting down")
}

// Global logger instance
var globalLogger *Logger

// InitGlobalLogger initializes the global logger
func InitGlobalLogger(cfg Config) {
	globalLogger = NewLogger(cfg)
	log.Logger = *globalLogger.GetZerolog()
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		InitGlobalLogger(Config{
			Level:  "info",
			Pretty: true,
		})
	}
	return globalLogger
}
