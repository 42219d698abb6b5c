package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger
type Logger struct {
	zerolog.Logger
}

// Options configures a service logger
type Options struct {
	Service string
	// Level is a zerolog level name; empty or unknown means info
	Level string
	// Console selects human readable output instead of JSON lines
	Console bool
	Writer  io.Writer
}

// New creates the logger for a service. Development gets console output.
func New(serviceName string, environment string) *Logger {
	return NewWithOptions(Options{
		Service: serviceName,
		Level:   os.Getenv("DISPATCHRX_LOG_LEVEL"),
		Console: environment == "development",
	})
}

// NewWithOptions builds a logger from explicit options
func NewWithOptions(opt Options) *Logger {
	var w io.Writer = os.Stdout
	if opt.Writer != nil {
		w = opt.Writer
	}
	if opt.Console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opt.Level)))
	if err != nil || opt.Level == "" {
		lvl = zerolog.InfoLevel
	}

	zl := zerolog.New(w).Level(lvl).With().Timestamp()
	if opt.Service != "" {
		zl = zl.Str("service", opt.Service)
	}
	return &Logger{Logger: zl.Logger()}
}

// NewWithWriter creates a JSON logger writing to w at debug level
func NewWithWriter(serviceName string, w io.Writer) *Logger {
	return NewWithOptions(Options{Service: serviceName, Level: "debug", Writer: w})
}

// Nop returns a logger that discards everything. Used by tests and the CLI.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

func (l *Logger) with(key, value string) *Logger {
	return &Logger{Logger: l.Logger.With().Str(key, value).Logger()}
}

// WithDocumentID returns a logger with the fulfillment document ID attached
func (l *Logger) WithDocumentID(documentID string) *Logger {
	return l.with("document_id", documentID)
}

// WithScan returns a logger for one scan of a document
func (l *Logger) WithScan(documentID, scanID, operator string) *Logger {
	return &Logger{Logger: l.Logger.With().
		Str("document_id", documentID).
		Str("scan_id", scanID).
		Str("operator", operator).
		Logger()}
}

// WithComponent returns a logger with the component name attached
func (l *Logger) WithComponent(component string) *Logger {
	return l.with("component", component)
}

// WithContext stores l in ctx for request-scoped logging
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return l.Logger.WithContext(ctx)
}

// FromContext returns the request-scoped logger, or fallback when ctx
// carries none
func FromContext(ctx context.Context, fallback *Logger) *Logger {
	if zl := zerolog.Ctx(ctx); zl != nil && zl.GetLevel() != zerolog.Disabled {
		return &Logger{Logger: *zl}
	}
	return fallback
}

// Annotate adds key to the request-scoped logger in ctx, so loggers
// already derived from ctx (such as the access log) carry it as well.
// It is a no-op when ctx carries no logger.
func Annotate(ctx context.Context, key, value string) {
	zl := zerolog.Ctx(ctx)
	if zl.GetLevel() == zerolog.Disabled {
		return
	}
	zl.UpdateContext(func(c zerolog.Context) zerolog.Context {
		return c.Str(key, value)
	})
}
