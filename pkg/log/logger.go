// Structured logging for the stepper engine
//
// Provides levelled, prefixed loggers with structured fields and
// text or JSON output. Interrupt-context code never logs: it counts,
// and foreground code reports through these loggers.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var levelNames = [...]string{DEBUG: "DEBUG", INFO: "INFO", WARN: "WARN", ERROR: "ERROR"}

// String returns the string representation of the log level
func (l LogLevel) String() string {
	if l < DEBUG || l > ERROR {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel parses a string into a LogLevel, defaulting to INFO
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// OutputFormat specifies the output format for log messages
type OutputFormat int

const (
	FormatText OutputFormat = iota
	FormatJSON
)

// Fields is a map of structured logging fields
type Fields map[string]interface{}

// sink is the output shared by a logger and everything derived from it.
type sink struct {
	mu         sync.Mutex
	w          io.Writer
	level      LogLevel
	format     OutputFormat
	timeFormat string
	colorize   bool
	caller     bool
}

// Logger writes prefixed log lines to a shared sink.
type Logger struct {
	prefix string
	fields Fields
	out    *sink
}

// Entry is a pending log line carrying extra fields.
type Entry struct {
	logger *Logger
	fields Fields
}

var (
	defaultLogger = New("stepcore")

	ansiColors = map[LogLevel]string{
		DEBUG: "\x1b[36m",
		INFO:  "\x1b[32m",
		WARN:  "\x1b[33m",
		ERROR: "\x1b[31m",
	}
)

const ansiReset = "\x1b[0m"

// New creates a logger with its own sink writing to stderr
func New(prefix string) *Logger {
	return &Logger{
		prefix: prefix,
		out: &sink{
			w:          os.Stderr,
			level:      INFO,
			format:     FormatText,
			timeFormat: "2006-01-02 15:04:05.000",
			colorize:   os.Getenv("NO_COLOR") == "",
		},
	}
}

func (l *Logger) configure(f func(s *sink)) {
	l.out.mu.Lock()
	f(l.out)
	l.out.mu.Unlock()
}

// SetLevel sets the minimum log level
func (l *Logger) SetLevel(level LogLevel) { l.configure(func(s *sink) { s.level = level }) }

// SetWriter sets the output writer
func (l *Logger) SetWriter(w io.Writer) { l.configure(func(s *sink) { s.w = w }) }

// SetFormat selects text or JSON output
func (l *Logger) SetFormat(format OutputFormat) { l.configure(func(s *sink) { s.format = format }) }

// SetColorize enables ANSI colors on the prefix in text output
func (l *Logger) SetColorize(enable bool) { l.configure(func(s *sink) { s.colorize = enable }) }

// SetCaller adds file:line of the call site to each line
func (l *Logger) SetCaller(enable bool) { l.configure(func(s *sink) { s.caller = enable }) }

// SetTimeFormat sets the timestamp layout for text output
func (l *Logger) SetTimeFormat(layout string) { l.configure(func(s *sink) { s.timeFormat = layout }) }

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	return l.out.level
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level LogLevel) bool {
	return level >= l.GetLevel()
}

// WithPrefix returns a logger sharing this logger's sink under another prefix
func (l *Logger) WithPrefix(prefix string) *Logger {
	return &Logger{prefix: prefix, fields: l.fields, out: l.out}
}

// With returns a logger that attaches fields to every line
func (l *Logger) With(fields Fields) *Logger {
	return &Logger{prefix: l.prefix, fields: merge(l.fields, fields), out: l.out}
}

// WithField returns an Entry with the given field
func (l *Logger) WithField(key string, value interface{}) *Entry {
	return &Entry{logger: l, fields: Fields{key: value}}
}

// WithFields returns an Entry with the given fields
func (l *Logger) WithFields(fields Fields) *Entry {
	return &Entry{logger: l, fields: merge(nil, fields)}
}

// WithError returns an Entry with the error field set
func (l *Logger) WithError(err error) *Entry {
	return l.WithField("error", err.Error())
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.write(DEBUG, msg, args, nil) }
func (l *Logger) Info(msg string, args ...interface{})  { l.write(INFO, msg, args, nil) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.write(WARN, msg, args, nil) }
func (l *Logger) Error(msg string, args ...interface{}) { l.write(ERROR, msg, args, nil) }

func merge(base, extra Fields) Fields {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	out := make(Fields, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// callerSkip is the frame distance from write to the user's call site.
const callerSkip = 2

func (l *Logger) write(level LogLevel, msg string, args []interface{}, fields Fields) {
	s := l.out
	s.mu.Lock()
	defer s.mu.Unlock()
	if level < s.level {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	var caller string
	if s.caller {
		if _, file, line, ok := runtime.Caller(callerSkip); ok {
			caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
		}
	}
	all := merge(l.fields, fields)
	var line string
	if s.format == FormatJSON {
		line = encodeJSON(l.prefix, level, msg, caller, all)
	} else {
		line = encodeText(s, l.prefix, level, msg, caller, all)
	}
	io.WriteString(s.w, line)
}

func encodeText(s *sink, prefix string, level LogLevel, msg, caller string, fields Fields) string {
	var sb strings.Builder
	sb.WriteString(time.Now().Format(s.timeFormat))
	fmt.Fprintf(&sb, " [%-5s] ", level.String())
	if s.colorize {
		sb.WriteString(ansiColors[level])
		sb.WriteString(prefix)
		sb.WriteString(ansiReset)
	} else {
		sb.WriteString(prefix)
	}
	sb.WriteString(": ")
	sb.WriteString(msg)
	if caller != "" {
		sb.WriteString(" (" + caller + ")")
	}
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%v", k, fields[k])
		}
		sb.WriteString("}")
	}
	sb.WriteByte('\n')
	return sb.String()
}

// JSONLogEntry is the structure for JSON formatted log entries
type JSONLogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Logger    string                 `json:"logger"`
	Message   string                 `json:"message"`
	Caller    string                 `json:"caller,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func encodeJSON(prefix string, level LogLevel, msg, caller string, fields Fields) string {
	data, err := json.Marshal(JSONLogEntry{
		Timestamp: time.Now().Format(time.RFC3339Nano),
		Level:     level.String(),
		Logger:    prefix,
		Message:   msg,
		Caller:    caller,
		Fields:    fields,
	})
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal log entry: %v"}`+"\n", err)
	}
	return string(data) + "\n"
}

// WithField adds a field to the entry
func (e *Entry) WithField(key string, value interface{}) *Entry {
	return &Entry{logger: e.logger, fields: merge(e.fields, Fields{key: value})}
}

// WithFields adds multiple fields to the entry
func (e *Entry) WithFields(fields Fields) *Entry {
	return &Entry{logger: e.logger, fields: merge(e.fields, fields)}
}

// WithError adds an error field to the entry
func (e *Entry) WithError(err error) *Entry {
	return e.WithField("error", err.Error())
}

func (e *Entry) Debug(msg string) { e.logger.write(DEBUG, msg, nil, e.fields) }
func (e *Entry) Info(msg string)  { e.logger.write(INFO, msg, nil, e.fields) }
func (e *Entry) Warn(msg string)  { e.logger.write(WARN, msg, nil, e.fields) }
func (e *Entry) Error(msg string) { e.logger.write(ERROR, msg, nil, e.fields) }

func (e *Entry) Debugf(format string, args ...interface{}) {
	e.logger.write(DEBUG, format, args, e.fields)
}

func (e *Entry) Infof(format string, args ...interface{}) {
	e.logger.write(INFO, format, args, e.fields)
}

func (e *Entry) Warnf(format string, args ...interface{}) {
	e.logger.write(WARN, format, args, e.fields)
}

func (e *Entry) Errorf(format string, args ...interface{}) {
	e.logger.write(ERROR, format, args, e.fields)
}

// SetDefaultLogger replaces the process-wide logger
func SetDefaultLogger(logger *Logger) {
	defaultLogger = logger
}

// Default returns the process-wide logger
func Default() *Logger {
	return defaultLogger
}

// GetLogger returns a component logger sharing the default sink
func GetLogger(prefix string) *Logger {
	return defaultLogger.WithPrefix(prefix)
}

func init() {
	ConfigureFromEnv(defaultLogger)
}

// ConfigureFromEnv applies environment-based configuration to the logger.
// Environment variables:
//   - STEPCORE_LOG_LEVEL: DEBUG, INFO, WARN, ERROR
//   - STEPCORE_LOG_FORMAT: text, json
//   - STEPCORE_LOG_CALLER: any non-empty value enables caller info
//   - NO_COLOR: any non-empty value disables colors
func ConfigureFromEnv(l *Logger) {
	if v := os.Getenv("STEPCORE_LOG_LEVEL"); v != "" {
		l.SetLevel(ParseLevel(v))
	}
	switch strings.ToLower(os.Getenv("STEPCORE_LOG_FORMAT")) {
	case "json":
		l.SetFormat(FormatJSON)
	case "text":
		l.SetFormat(FormatText)
	}
	if os.Getenv("STEPCORE_LOG_CALLER") != "" {
		l.SetCaller(true)
	}
	if os.Getenv("NO_COLOR") != "" {
		l.SetColorize(false)
	}
}
