// Package logger provides the structured logging implementation used by the
// media pipeline worker. It implements core.Logger with leveled, structured
// output in JSON or text format.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dastron/video-ware-sub000/core"
)

// Level represents the logging level
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	}
	return "UNKNOWN"
}

// ParseLevel converts a level name to a Level. Unknown names map to Info.
func ParseLevel(s string) Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return DebugLevel
	case "INFO":
		return InfoLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	}
	return InfoLevel
}

// SimpleLogger is a production-ready core.Logger implementation with
// configurable level, JSON or text output, and persistent fields.
type SimpleLogger struct {
	mu     sync.Mutex
	out    io.Writer
	level  Level
	json   bool
	fields map[string]interface{}
}

// Options configures a SimpleLogger.
type Options struct {
	// Output defaults to os.Stderr
	Output io.Writer

	// Level defaults to the LOG_LEVEL environment variable, then Info
	Level Level

	// JSON enables JSON output; text output is the default
	JSON bool
}

// New creates a SimpleLogger with the given options.
func New(opts Options) *SimpleLogger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	return &SimpleLogger{
		out:    out,
		level:  opts.Level,
		json:   opts.JSON,
		fields: map[string]interface{}{},
	}
}

// NewFromEnv creates a SimpleLogger configured from LOG_LEVEL and LOG_FORMAT.
func NewFromEnv() *SimpleLogger {
	return New(Options{
		Level: ParseLevel(os.Getenv("LOG_LEVEL")),
		JSON:  strings.EqualFold(os.Getenv("LOG_FORMAT"), "json"),
	})
}

// With returns a child logger with additional persistent fields.
func (l *SimpleLogger) With(fields map[string]interface{}) *SimpleLogger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &SimpleLogger{
		out:    l.out,
		level:  l.level,
		json:   l.json,
		fields: merged,
	}
}

// WithComponent implements core.ComponentAwareLogger.
func (l *SimpleLogger) WithComponent(component string) core.Logger {
	return l.With(map[string]interface{}{"component": component})
}

func (l *SimpleLogger) Debug(msg string, fields map[string]interface{}) {
	l.log(DebugLevel, msg, fields)
}

func (l *SimpleLogger) Info(msg string, fields map[string]interface{}) {
	l.log(InfoLevel, msg, fields)
}

func (l *SimpleLogger) Warn(msg string, fields map[string]interface{}) {
	l.log(WarnLevel, msg, fields)
}

func (l *SimpleLogger) Error(msg string, fields map[string]interface{}) {
	l.log(ErrorLevel, msg, fields)
}

func (l *SimpleLogger) log(level Level, msg string, fields map[string]interface{}) {
	if level < l.level {
		return
	}

	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.json {
		entry := make(map[string]interface{}, len(merged)+3)
		for k, v := range merged {
			entry[k] = v
		}
		entry["time"] = time.Now().UTC().Format(time.RFC3339Nano)
		entry["level"] = level.String()
		entry["msg"] = msg
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(l.out, string(data))
			return
		}
	}

	parts := []string{
		time.Now().UTC().Format(time.RFC3339),
		fmt.Sprintf("[%s]", level.String()),
		msg,
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, merged[k]))
	}
	fmt.Fprintln(l.out, strings.Join(parts, " "))
}
