package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/asafsemo/semo/internal/runtime/jsoncodec"
	"github.com/asafsemo/semo/internal/runtime/tracectx"
)

// DefaultMaxExtraDataLength is the extra data cap used when configuration
// does not name one.
const DefaultMaxExtraDataLength = 2000

// Config controls a root logger.
type Config struct {
	// MinLevel is a level name. Unknown names fall back to info.
	MinLevel string
	Format   Format
	// PrintTraceInfo adds the trace block when the logger has a trace id.
	PrintTraceInfo bool
	// MaxExtraDataLength truncates extra data to that many runes. Zero keeps
	// extra data whole and a negative value suppresses it.
	MaxExtraDataLength int
	// Output defaults to stdout.
	Output io.Writer
	// Trace seeds the logger's trace scope.
	Trace tracectx.Context
}

// ChildOptions tune a derived logger. Zero values inherit from the parent.
type ChildOptions struct {
	MinLevel string
	Trace    tracectx.Override
	// Scope, when set, is used as the child's trace verbatim instead of
	// deriving one from the parent.
	Scope              *tracectx.Context
	PrintTraceInfo     *bool
	MaxExtraDataLength int
}

// Logger is a leveled, trace-aware logger. All emit methods return the logger
// so calls can be chained, and none of them panic.
type Logger struct {
	name       string
	minLevel   Level
	trace      tracectx.Context
	printTrace bool
	maxExtra   int
	format     Format
	out        io.Writer
	handler    slog.Handler
}

// Emitter is the signature shared by the level methods.
type Emitter func(msg string, extra ...any) *Logger

// New builds a root logger named name.
func New(name string, cfg Config) *Logger {
	minLevel, ok := ParseLevel(cfg.MinLevel)
	if !ok {
		minLevel = LevelInfo
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	format := cfg.Format
	if format != FormatJSON {
		format = FormatText
	}
	return &Logger{
		name:       normalizeName(name),
		minLevel:   minLevel,
		trace:      cfg.Trace,
		printTrace: cfg.PrintTraceInfo,
		maxExtra:   cfg.MaxExtraDataLength,
		format:     format,
		out:        out,
		handler:    newHandler(format, out),
	}
}

// Name returns the normalized logger name.
func (l *Logger) Name() string {
	if l == nil {
		return ""
	}
	return l.name
}

// MinLevel returns the filter level.
func (l *Logger) MinLevel() Level {
	if l == nil {
		return LevelInfo
	}
	return l.minLevel
}

// TraceContext returns the logger's trace scope.
func (l *Logger) TraceContext() tracectx.Context {
	if l == nil {
		return tracectx.Context{}
	}
	return l.trace
}

func (l *Logger) Fatal(msg string, extra ...any) *Logger {
	return l.emit(LevelFatal, msg, extra, false)
}

func (l *Logger) Error(msg string, extra ...any) *Logger {
	return l.emit(LevelError, msg, extra, false)
}

func (l *Logger) Warn(msg string, extra ...any) *Logger {
	return l.emit(LevelWarn, msg, extra, false)
}

func (l *Logger) Info(msg string, extra ...any) *Logger {
	return l.emit(LevelInfo, msg, extra, false)
}

func (l *Logger) Debug(msg string, extra ...any) *Logger {
	return l.emit(LevelDebug, msg, extra, false)
}

// Complete emits with the info label regardless of the minimum level. It
// marks lifecycle milestones that must always reach the sink.
func (l *Logger) Complete(msg string, extra ...any) *Logger {
	return l.emit(LevelInfo, msg, extra, true)
}

// Log emits at level. Levels outside the known set are printed as UNDEFINED
// and always emitted.
func (l *Logger) Log(level Level, msg string, extra ...any) *Logger {
	if !level.known() {
		return l.emit(LevelUndefined, msg, extra, true)
	}
	return l.emit(level, msg, extra, false)
}

// ByLevel returns the emitter for a level name, falling back to warn.
func (l *Logger) ByLevel(name string) Emitter {
	level, ok := ParseLevel(name)
	if !ok {
		return l.Warn
	}
	switch level {
	case LevelFatal:
		return l.Fatal
	case LevelError:
		return l.Error
	case LevelInfo:
		return l.Info
	case LevelDebug:
		return l.Debug
	default:
		return l.Warn
	}
}

// Child derives a logger with its own name, trace scope and filter level.
// The child trace reuses the parent trace id and records the parent span as
// its parent unless opts override them.
func (l *Logger) Child(name string, opts ChildOptions) *Logger {
	if l == nil {
		return New(name, Config{MinLevel: opts.MinLevel, MaxExtraDataLength: DefaultMaxExtraDataLength})
	}

	child := *l
	child.name = normalizeName(name)
	if opts.Scope != nil {
		child.trace = *opts.Scope
	} else {
		child.trace = tracectx.Derive(l.trace, opts.Trace)
	}
	if lvl, ok := ParseLevel(opts.MinLevel); ok {
		child.minLevel = lvl
	}
	if opts.PrintTraceInfo != nil {
		child.printTrace = *opts.PrintTraceInfo
	}
	if opts.MaxExtraDataLength != 0 {
		child.maxExtra = opts.MaxExtraDataLength
	}
	return &child
}

// Enabled reports whether a record at level passes the filter.
func (l *Logger) Enabled(level Level) bool {
	if l == nil {
		return true
	}
	return level <= l.minLevel
}

func (l *Logger) emit(level Level, msg string, extra []any, force bool) (ret *Logger) {
	ret = l
	if l == nil || l.handler == nil {
		writeRaw(level, "", msg, nil)
		return
	}
	if !force && !l.Enabled(level) {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			writeRaw(level, l.name, msg, r)
		}
	}()

	rec := slog.NewRecord(time.Now(), level.slog(), msg, 0)
	rec.AddAttrs(slog.String(attrLoggerName, l.name))
	if l.printTrace && !l.trace.IsZero() {
		rec.AddAttrs(slog.Any(attrTrace, l.trace))
	}
	if data, ok := l.renderExtra(extra); ok {
		rec.AddAttrs(slog.Group(attrExtraData, slog.String(attrData, data)))
	}
	if err := l.handler.Handle(context.Background(), rec); err != nil {
		writeRaw(level, l.name, msg, err)
	}
	return
}

func (l *Logger) renderExtra(extra []any) (string, bool) {
	if l.maxExtra < 0 || len(extra) == 0 {
		return "", false
	}
	var payload any
	if len(extra) == 1 {
		payload = normalizeExtra(extra[0])
	} else {
		items := make([]any, len(extra))
		for i, e := range extra {
			items[i] = normalizeExtra(e)
		}
		payload = items
	}
	if payload == nil {
		return "", false
	}
	return truncate(jsoncodec.Compact(payload), l.maxExtra), true
}

func normalizeExtra(v any) any {
	switch val := v.(type) {
	case error:
		if val == nil {
			return nil
		}
		return map[string]string{"error": val.Error()}
	case fmt.Stringer:
		return val.String()
	default:
		return v
	}
}

func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

func normalizeName(name string) string {
	return strings.ReplaceAll(name, " ", "_")
}
