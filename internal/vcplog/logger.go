// Package vcplog is the ambient structured logger used across the
// ingestion service, the anchor scheduler, and the offline verifier. It
// writes one JSON object per line with deterministic, sorted-key field
// ordering, matching the shape of the teacher lineage's telemetry package
// (pkg/telemetry/logger.go) without depending on any of its code.
package vcplog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"
)

// Level is a logging severity, ordered low to high.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

const (
	maxFieldCount = 32
	maxKeyLen     = 64
	maxValueLen   = 2048
	maxMessageLen = 1024
)

// Field is a single structured key/value pair attached to a log line.
type Field struct {
	Key string
	Val any
}

func F(key string, val any) Field { return Field{Key: key, Val: val} }

// Logger writes leveled, structured JSON lines to an underlying writer. The
// zero value is not usable; construct with NewDefaultLogger.
type Logger struct {
	mu       sync.Mutex
	w        io.Writer
	service  string
	minLevel Level
	base     []Field
	now      func() time.Time
}

// NewDefaultLogger returns a Logger writing JSON lines to w, tagging every
// line with the given service name, at LevelInfo and above.
func NewDefaultLogger(w io.Writer, service string) *Logger {
	return &Logger{w: w, service: service, minLevel: LevelInfo, now: time.Now}
}

// NewLogger is like NewDefaultLogger but lets the caller set the minimum
// emitted level (e.g. LevelDebug for verbose local runs).
func NewLogger(w io.Writer, service string, min Level) *Logger {
	return &Logger{w: w, service: service, minLevel: min, now: time.Now}
}

// Nop is a Logger that discards everything, used in tests and anywhere a
// caller needs a Logger but does not want output.
var Nop = &Logger{w: io.Discard, service: "nop", minLevel: LevelError + 1}

// With returns a child Logger that prepends the given fields to every line
// it emits, leaving the receiver unmodified.
func (l *Logger) With(fields ...Field) *Logger {
	child := &Logger{w: l.w, service: l.service, minLevel: l.minLevel, now: l.now}
	child.base = append(append([]Field{}, l.base...), fields...)
	return child
}

func (l *Logger) log(level Level, msg string, fields []Field) {
	if level < l.minLevel {
		return
	}
	line := l.render(level, msg, fields)
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.w.Write(line)
}

func (l *Logger) render(level Level, msg string, fields []Field) []byte {
	if len(msg) > maxMessageLen {
		msg = msg[:maxMessageLen] + "...(truncated)"
	}

	all := append(append([]Field{}, l.base...), fields...)
	if len(all) > maxFieldCount {
		all = all[:maxFieldCount]
	}

	obj := make(map[string]any, len(all)+4)
	obj["timestamp"] = l.clock().UTC().Format(time.RFC3339Nano)
	obj["level"] = level.String()
	obj["service"] = l.service
	obj["message"] = msg

	for _, f := range all {
		key := f.Key
		if len(key) > maxKeyLen {
			key = key[:maxKeyLen]
		}
		obj[key] = truncateValue(f.Val)
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b, err := marshalOrdered(keys, obj)
	if err != nil {
		return []byte(fmt.Sprintf(`{"level":"error","message":"vcplog: marshal failed: %s"}`+"\n", err))
	}
	return append(b, '\n')
}

func (l *Logger) clock() time.Time {
	if l.now != nil {
		return l.now()
	}
	return time.Now()
}

func truncateValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if len(s) <= maxValueLen {
		return s
	}
	return s[:maxValueLen] + "...(truncated)"
}

// marshalOrdered writes obj as a JSON object with keys emitted in the given
// (already sorted) order, so log lines are byte-stable for a fixed field
// set regardless of map iteration order.
func marshalOrdered(keys []string, obj map[string]any) ([]byte, error) {
	buf := make([]byte, 0, 256)
	buf = append(buf, '{')
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		vb, err := json.Marshal(obj[k])
		if err != nil {
			vb, _ = json.Marshal(fmt.Sprintf("%v", obj[k]))
		}
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf, nil
}

func (l *Logger) Debug(msg string, fields ...Field) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(LevelError, msg, fields) }

// Fatal logs at error level and then exits the process with status 1. Used
// only from cmd/ entrypoints during startup failure.
func (l *Logger) Fatal(msg string, fields ...Field) {
	l.log(LevelError, msg, fields)
	os.Exit(1)
}
