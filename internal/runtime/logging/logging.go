package logging

import (
	"maps"

	"github.com/ThreeDotsLabs/watermill"
)

// LogFields represents structured key/value pairs attached to a record.
type LogFields map[string]any

// NewWatermillAdapter lets watermill routers, publishers and subscribers log
// through l. Watermill's trace level maps onto debug.
func NewWatermillAdapter(l *Logger) watermill.LoggerAdapter {
	if l == nil {
		return watermill.NopLogger{}
	}
	return &watermillAdapter{logger: l}
}

type watermillAdapter struct {
	logger *Logger
	fields watermill.LogFields
}

func (a *watermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	merged := a.merge(fields)
	if err != nil {
		merged["error"] = err.Error()
	}
	a.logger.Error(msg, merged)
}

func (a *watermillAdapter) Info(msg string, fields watermill.LogFields) {
	a.log(LevelInfo, msg, fields)
}

func (a *watermillAdapter) Debug(msg string, fields watermill.LogFields) {
	a.log(LevelDebug, msg, fields)
}

func (a *watermillAdapter) Trace(msg string, fields watermill.LogFields) {
	a.log(LevelDebug, msg, fields)
}

func (a *watermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	if len(fields) == 0 {
		return a
	}
	return &watermillAdapter{logger: a.logger, fields: watermill.LogFields(a.merge(fields))}
}

func (a *watermillAdapter) log(level Level, msg string, fields watermill.LogFields) {
	if !a.logger.Enabled(level) {
		return
	}
	if merged := a.merge(fields); len(merged) > 0 {
		a.logger.Log(level, msg, merged)
		return
	}
	a.logger.Log(level, msg)
}

func (a *watermillAdapter) merge(fields watermill.LogFields) LogFields {
	merged := make(LogFields, len(a.fields)+len(fields))
	maps.Copy(merged, a.fields)
	maps.Copy(merged, fields)
	return merged
}
