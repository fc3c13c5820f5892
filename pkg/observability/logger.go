package observability

import (
	"fmt"
	"log"
	"maps"
	"os"
	"slices"
	"strings"
	"time"
)

// severity orders levels from most to least verbose
var severity = map[LogLevel]int{
	LogLevelDebug: 0,
	LogLevelInfo:  1,
	LogLevelWarn:  2,
	LogLevelError: 3,
	LogLevelFatal: 4,
}

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// StandardLogger writes one line per entry through the log package:
//
//	<timestamp> [LEVEL] [prefix] message key=value ...
//
// Fields are emitted in key order so lines diff cleanly.
type StandardLogger struct {
	prefix string
	level  LogLevel
	fields map[string]interface{}
}

// NewStandardLogger creates an INFO-level logger
func NewStandardLogger(prefix string) *StandardLogger {
	return &StandardLogger{prefix: prefix, level: LogLevelInfo}
}

// NewLogger is the fallback used by constructors handed a nil Logger
func NewLogger(prefix string) Logger {
	return NewStandardLogger(prefix)
}

// ParseLogLevel maps a config value onto a LogLevel. Unknown values mean INFO.
func ParseLogLevel(level string) LogLevel {
	l := LogLevel(strings.ToUpper(strings.TrimSpace(level)))
	if _, ok := severity[l]; ok {
		return l
	}
	return LogLevelInfo
}

// WithLevel returns a copy that drops entries below level
func (l *StandardLogger) WithLevel(level LogLevel) *StandardLogger {
	return &StandardLogger{prefix: l.prefix, level: level, fields: l.fields}
}

func (l *StandardLogger) Debug(msg string, fields map[string]interface{}) {
	l.emit(LogLevelDebug, msg, fields)
}

func (l *StandardLogger) Info(msg string, fields map[string]interface{}) {
	l.emit(LogLevelInfo, msg, fields)
}

func (l *StandardLogger) Warn(msg string, fields map[string]interface{}) {
	l.emit(LogLevelWarn, msg, fields)
}

// Error is never filtered by level
func (l *StandardLogger) Error(msg string, fields map[string]interface{}) {
	l.write(LogLevelError, msg, fields)
}

// Fatal logs and exits with status 1
func (l *StandardLogger) Fatal(msg string, fields map[string]interface{}) {
	l.write(LogLevelFatal, msg, fields)
	os.Exit(1)
}

// WithPrefix keeps the level and bound fields under a new prefix
func (l *StandardLogger) WithPrefix(prefix string) Logger {
	return &StandardLogger{prefix: prefix, level: l.level, fields: l.fields}
}

// With binds fields to every subsequent entry
func (l *StandardLogger) With(fields map[string]interface{}) Logger {
	return &StandardLogger{prefix: l.prefix, level: l.level, fields: l.merge(fields)}
}

func (l *StandardLogger) emit(level LogLevel, msg string, fields map[string]interface{}) {
	if severity[level] < severity[l.level] {
		return
	}
	l.write(level, msg, fields)
}

func (l *StandardLogger) write(level LogLevel, msg string, fields map[string]interface{}) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] [%s] %s", time.Now().Format(timestampLayout), level, l.prefix, msg)

	all := l.merge(fields)
	for _, k := range slices.Sorted(maps.Keys(all)) {
		fmt.Fprintf(&b, " %s=%v", k, all[k])
	}
	log.Print(b.String())
}

func (l *StandardLogger) merge(fields map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	maps.Copy(merged, l.fields)
	maps.Copy(merged, fields)
	return merged
}
