package logging

import (
	"log/slog"
	"strings"
)

// Level ranks log severities. Lower values are more severe; a record is
// emitted when its rank is at most the logger's minimum level.
type Level int

const (
	LevelUndefined Level = 0
	LevelFatal     Level = 10
	LevelError     Level = 20
	LevelWarn      Level = 30
	LevelInfo      Level = 40
	LevelDebug     Level = 50
)

// Slog levels used when records travel through slog handlers. Fatal and
// undefined have no slog equivalent and sit above error.
const (
	slogLevelFatal     = slog.Level(12)
	slogLevelUndefined = slog.Level(16)
)

var levelNames = map[string]Level{
	"fatal": LevelFatal,
	"error": LevelError,
	"warn":  LevelWarn,
	"info":  LevelInfo,
	"debug": LevelDebug,
}

// ParseLevel resolves a case-insensitive level name.
func ParseLevel(name string) (Level, bool) {
	lvl, ok := levelNames[strings.ToLower(strings.TrimSpace(name))]
	return lvl, ok
}

func (l Level) String() string {
	switch l {
	case LevelFatal:
		return "FATAL"
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNDEFINED"
	}
}

func (l Level) known() bool {
	_, ok := levelNames[strings.ToLower(l.String())]
	return ok
}

func (l Level) slog() slog.Level {
	switch l {
	case LevelFatal:
		return slogLevelFatal
	case LevelError:
		return slog.LevelError
	case LevelWarn:
		return slog.LevelWarn
	case LevelInfo:
		return slog.LevelInfo
	case LevelDebug:
		return slog.LevelDebug
	default:
		return slogLevelUndefined
	}
}

func labelForSlog(level slog.Level) string {
	switch level {
	case slogLevelFatal:
		return LevelFatal.String()
	case slog.LevelError:
		return LevelError.String()
	case slog.LevelWarn:
		return LevelWarn.String()
	case slog.LevelInfo:
		return LevelInfo.String()
	case slog.LevelDebug:
		return LevelDebug.String()
	default:
		return LevelUndefined.String()
	}
}
