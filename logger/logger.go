package logger

import (
	"io"
	"maps"
	"os"
	"regexp"
	"strings"
)

// EnvLevel is the environment variable consulted by GetLevelFromEnv.
const EnvLevel = "TIERCACHE_LOG_LEVEL"

// LogLevel defines the level of logging
type LogLevel int

const (
	LevelTrace LogLevel = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelNone
)

func (l LogLevel) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelNone:
		return "none"
	}
	return "unknown"
}

// ParseLevel converts a level name, case-insensitively, into a LogLevel.
func ParseLevel(s string) (LogLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, true
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	case "none", "off":
		return LevelNone, true
	}
	return LevelNone, false
}

// GetLevelFromEnv reads TIERCACHE_LOG_LEVEL, falling back to def when the
// variable is unset or not a level name.
func GetLevelFromEnv(def LogLevel) LogLevel {
	if level, ok := ParseLevel(os.Getenv(EnvLevel)); ok {
		return level
	}
	return def
}

type Sink io.Writer

// Logger is an interface for logging
type Logger interface {
	// With will return a new logger using metadata as the base context
	With(metadata map[string]interface{}) Logger
	// WithPrefix will return a new logger with a prefix prepended to the message
	WithPrefix(prefix string) Logger
	// Trace level logging
	Trace(msg string, args ...interface{})
	// Debug level logging
	Debug(msg string, args ...interface{})
	// Info level logging
	Info(msg string, args ...interface{})
	// Warning level logging
	Warn(msg string, args ...interface{})
	// Error level logging
	Error(msg string, args ...interface{})
	// Fatal level logging and exit with code 1
	Fatal(msg string, args ...interface{})
	// Stack will return a new logger that logs to the given logger as well as the current logger
	Stack(next Logger) Logger
	// IsLevelEnabled returns true if the given log level is enabled
	IsLevelEnabled(level LogLevel) bool
	// IsTraceEnabled returns true if trace level logging is enabled
	IsTraceEnabled() bool
	// IsDebugEnabled returns true if debug level logging is enabled
	IsDebugEnabled() bool
	// IsInfoEnabled returns true if info level logging is enabled
	IsInfoEnabled() bool
	// IsWarnEnabled returns true if warn level logging is enabled
	IsWarnEnabled() bool
	// IsErrorEnabled returns true if error level logging is enabled
	IsErrorEnabled() bool
}

type SinkLogger interface {
	Logger
	// SetSink will set the sink, and level to sink
	SetSink(sink Sink, level LogLevel)
}

// WithKV returns a logger carrying one extra metadata pair.
func WithKV(l Logger, key string, value interface{}) Logger {
	return l.With(map[string]interface{}{key: value})
}

var ansiColorStripper = regexp.MustCompile("\x1b\\[[0-9;]*[mK]")

// levels is embedded by the loggers that filter on a console level and a
// sink level; a message passes if either accepts it.
type levels struct {
	logLevel     LogLevel
	sinkLogLevel LogLevel
	child        Logger
}

func (l *levels) IsLevelEnabled(level LogLevel) bool {
	if level >= LevelNone {
		return false
	}
	if level >= l.logLevel || level >= l.sinkLogLevel {
		return true
	}
	return l.child != nil && l.child.IsLevelEnabled(level)
}

func (l *levels) IsTraceEnabled() bool { return l.IsLevelEnabled(LevelTrace) }
func (l *levels) IsDebugEnabled() bool { return l.IsLevelEnabled(LevelDebug) }
func (l *levels) IsInfoEnabled() bool  { return l.IsLevelEnabled(LevelInfo) }
func (l *levels) IsWarnEnabled() bool  { return l.IsLevelEnabled(LevelWarn) }
func (l *levels) IsErrorEnabled() bool { return l.IsLevelEnabled(LevelError) }

// SetLogLevel changes the console level.
func (l *levels) SetLogLevel(level LogLevel) {
	l.logLevel = level
}

func copyMetadata(in map[string]interface{}, extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in)+len(extra))
	maps.Copy(out, in)
	maps.Copy(out, extra)
	return out
}
