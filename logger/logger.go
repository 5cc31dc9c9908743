package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Logger is a zerolog logger with map-based field helpers.
type Logger struct {
	zl zerolog.Logger
}

// New builds a logger from cfg. An invalid level falls back to info.
func New(cfg Config) *Logger {
	cfg.ApplyDefaults()
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	out := sink(cfg.Output)
	var zl zerolog.Logger
	if cfg.Format == "console" {
		zl = zerolog.New(console(out, cfg))
	} else {
		zl = zerolog.New(out)
	}

	zc := zl.Level(level).With()
	if !cfg.DisableTimestamp {
		zc = zc.Timestamp()
	}
	if cfg.Caller {
		zc = zc.CallerWithSkipFrameCount(4)
	}
	if cfg.ServiceName != "" && cfg.Format != "console" {
		zc = zc.Str("service_name", cfg.ServiceName)
	}
	return &Logger{zl: zc.Logger()}
}

// NewWriter returns a JSON logger writing every level to w.
func NewWriter(w io.Writer) *Logger {
	return &Logger{zl: zerolog.New(w).With().Timestamp().Logger()}
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// WithComponent tags every entry with the component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{zl: l.zl.With().Str(FieldComponent, name).Logger()}
}

// WithContext adds the trace and span ids of the span in ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return l
	}
	return &Logger{zl: l.zl.With().
		Str(FieldTraceID, sc.TraceID().String()).
		Str(FieldSpanID, sc.SpanID().String()).
		Logger()}
}

func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	emit(l.zl.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	emit(l.zl.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	emit(l.zl.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	emit(l.zl.Error(), msg, fields)
}

func emit(ev *zerolog.Event, msg string, fields []map[string]interface{}) {
	if ev == nil {
		return
	}
	for _, fm := range fields {
		ev.Fields(fm)
	}
	ev.Msg(msg)
}

func sink(output string) io.Writer {
	if strings.EqualFold(output, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

func console(out io.Writer, cfg Config) zerolog.ConsoleWriter {
	tag := ""
	if len(cfg.ServiceName) >= 3 {
		tag = "[" + strings.ToUpper(cfg.ServiceName[:3]) + "]"
	}
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "15:04:05",
		NoColor:    cfg.NoColor,
		FormatLevel: func(i interface{}) string {
			return fmt.Sprintf("%s[%s]", tag, shortLevel(fmt.Sprint(i)))
		},
		FormatFieldName: func(i interface{}) string { return fmt.Sprint(i) + ":" },
	}
}

func shortLevel(level string) string {
	switch strings.ToLower(level) {
	case "trace":
		return "TRC"
	case "debug":
		return "DBG"
	case "info":
		return "INF"
	case "warn":
		return "WRN"
	case "error":
		return "ERR"
	case "fatal":
		return "FTL"
	}
	return strings.ToUpper(level)
}
