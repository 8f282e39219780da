package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/asafsemo/semo/internal/runtime/jsoncodec"
)

// Format selects how records are rendered.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

const (
	attrLoggerName = "loggerName"
	attrTrace      = "trace"
	attrExtraData  = "extraData"
	attrData       = "data"

	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[91m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"
)

// newHandler builds the slog handler for format. Filtering happens in Logger,
// so handlers accept every level.
func newHandler(format Format, w io.Writer) slog.Handler {
	if format == FormatJSON {
		return slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       slog.Level(-100),
			ReplaceAttr: replaceJSONAttr,
		})
	}
	return &textHandler{w: w, mu: &sync.Mutex{}, useColor: isTerminal(w)}
}

func replaceJSONAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}
	switch a.Key {
	case slog.TimeKey:
		return slog.String("ts", a.Value.Time().UTC().Format(timestampLayout))
	case slog.LevelKey:
		if lvl, ok := a.Value.Any().(slog.Level); ok {
			return slog.String(slog.LevelKey, labelForSlog(lvl))
		}
	}
	return a
}

// textHandler renders the tab separated line format:
//
//	2024-01-02T10:00:00.000Z INFO	name	message
//		trace: {...}
//		extraData: ...
type textHandler struct {
	w        io.Writer
	mu       *sync.Mutex
	useColor bool
}

func (h *textHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *textHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *textHandler) WithGroup(string) slog.Handler { return h }

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	var (
		name  string
		trace string
		extra string
	)
	r.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case attrLoggerName:
			name = a.Value.String()
		case attrTrace:
			trace = jsoncodec.Compact(a.Value.Any())
		case attrExtraData:
			for _, ga := range a.Value.Group() {
				if ga.Key == attrData {
					extra = ga.Value.String()
				}
			}
		}
		return true
	})

	var buf []byte
	buf = fmt.Appendf(buf, "%s %s\t%s\t%s", r.Time.UTC().Format(timestampLayout), labelForSlog(r.Level), name, r.Message)
	if trace != "" {
		buf = fmt.Appendf(buf, "\n\ttrace: %s", trace)
	}
	if extra != "" {
		buf = fmt.Appendf(buf, "\n\textraData: %s", extra)
	}
	if h.useColor {
		buf = append([]byte(colorFor(r.Level)), buf...)
		buf = append(buf, colorReset...)
	}
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func colorFor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return colorRed
	case level >= slog.LevelWarn:
		return colorYellow
	case level >= slog.LevelInfo:
		return colorGreen
	default:
		return colorGray
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// writeRaw is the last resort sink used when a handler fails or the logger is
// unusable. It never returns an error.
func writeRaw(level Level, name, msg string, cause any) {
	line := fmt.Sprintf("%s %s\t%s\t%s", time.Now().UTC().Format(timestampLayout), level, name, msg)
	if cause != nil {
		line += fmt.Sprintf("\n\tlogger failure: %v", cause)
	}
	_, _ = fmt.Fprintln(os.Stderr, line)
}
