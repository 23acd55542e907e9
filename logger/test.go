package logger

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
)

type TestLogEntry struct {
	Severity  string
	Message   string
	Arguments []interface{}
}

// Text returns the formatted message.
func (e TestLogEntry) Text() string {
	if len(e.Arguments) == 0 {
		return e.Message
	}
	return fmt.Sprintf(e.Message, e.Arguments...)
}

type testRecorder struct {
	mutex sync.Mutex
	logs  []TestLogEntry
}

// TestLogger records every message for assertions. Loggers derived through
// With, WithPrefix or Stack share the same record, and all of them are safe
// for concurrent use.
type TestLogger struct {
	metadata map[string]interface{}
	recorder *testRecorder
	child    Logger
}

var _ Logger = (*TestLogger)(nil)

// WithPrefix returns the same logger; prefixes are not recorded.
func (c *TestLogger) WithPrefix(prefix string) Logger {
	return c
}

func (c *TestLogger) With(metadata map[string]interface{}) Logger {
	child := c.child
	if child != nil {
		child = child.With(metadata)
	}
	return &TestLogger{metadata: copyMetadata(c.metadata, metadata), recorder: c.recorder, child: child}
}

func (c *TestLogger) Log(level string, msg string, args ...interface{}) {
	c.recorder.mutex.Lock()
	c.recorder.logs = append(c.recorder.logs, TestLogEntry{level, msg, args})
	c.recorder.mutex.Unlock()
}

// Logs returns a snapshot of the recorded entries.
func (c *TestLogger) Logs() []TestLogEntry {
	c.recorder.mutex.Lock()
	defer c.recorder.mutex.Unlock()
	return slices.Clone(c.recorder.logs)
}

// Contains reports whether an entry of the given severity has a formatted
// message containing substr.
func (c *TestLogger) Contains(severity string, substr string) bool {
	return slices.ContainsFunc(c.Logs(), func(e TestLogEntry) bool {
		return e.Severity == severity && strings.Contains(e.Text(), substr)
	})
}

func (c *TestLogger) Trace(msg string, args ...interface{}) {
	c.Log("TRACE", msg, args...)
	if c.child != nil {
		c.child.Trace(msg, args...)
	}
}

func (c *TestLogger) Debug(msg string, args ...interface{}) {
	c.Log("DEBUG", msg, args...)
	if c.child != nil {
		c.child.Debug(msg, args...)
	}
}

func (c *TestLogger) Info(msg string, args ...interface{}) {
	c.Log("INFO", msg, args...)
	if c.child != nil {
		c.child.Info(msg, args...)
	}
}

func (c *TestLogger) Warn(msg string, args ...interface{}) {
	c.Log("WARNING", msg, args...)
	if c.child != nil {
		c.child.Warn(msg, args...)
	}
}

func (c *TestLogger) Error(msg string, args ...interface{}) {
	c.Log("ERROR", msg, args...)
	if c.child != nil {
		c.child.Error(msg, args...)
	}
}

func (c *TestLogger) Fatal(msg string, args ...interface{}) {
	c.Log("FATAL", msg, args...)
	if c.child != nil {
		c.child.Fatal(msg, args...)
	}
	os.Exit(1)
}

func (c *TestLogger) Stack(next Logger) Logger {
	return &TestLogger{metadata: c.metadata, recorder: c.recorder, child: next}
}

func (c *TestLogger) IsLevelEnabled(level LogLevel) bool { return level < LevelNone }
func (c *TestLogger) IsTraceEnabled() bool              { return true }
func (c *TestLogger) IsDebugEnabled() bool              { return true }
func (c *TestLogger) IsInfoEnabled() bool               { return true }
func (c *TestLogger) IsWarnEnabled() bool               { return true }
func (c *TestLogger) IsErrorEnabled() bool              { return true }

// NewTestLogger returns a new Logger instance useful for testing
func NewTestLogger() *TestLogger {
	return &TestLogger{recorder: &testRecorder{}}
}
