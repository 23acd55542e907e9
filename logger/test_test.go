package logger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTestLoggerMethods(t *testing.T) {
	l := NewTestLogger()

	l.Trace("Trace message %d", 1)
	l.Debug("Debug message %d", 2)
	l.Info("Info message %d", 3)
	l.Warn("Warn message %d", 4)
	l.Error("Error message %d", 5)

	logs := l.Logs()
	assert.Len(t, logs, 5)
	for i, severity := range []string{"TRACE", "DEBUG", "INFO", "WARNING", "ERROR"} {
		assert.Equal(t, severity, logs[i].Severity)
		assert.Equal(t, []interface{}{i + 1}, logs[i].Arguments)
	}
	assert.Equal(t, "Warn message 4", logs[3].Text())
	assert.True(t, l.Contains("ERROR", "message 5"))
	assert.False(t, l.Contains("ERROR", "message 4"))
}

func TestTestLoggerDerivedShareRecord(t *testing.T) {
	l := NewTestLogger()
	assert.Same(t, l, l.WithPrefix("[prefix]"))

	derived := l.With(map[string]interface{}{"key1": "value1"}).With(map[string]interface{}{"key2": 2}).(*TestLogger)
	assert.Equal(t, map[string]interface{}{"key1": "value1", "key2": 2}, derived.metadata)

	derived.Info("from derived")
	assert.True(t, l.Contains("INFO", "from derived"))
}

func TestTestLoggerStack(t *testing.T) {
	l := NewTestLogger()
	next := NewTestLogger()
	l.Stack(next).Warn("both")
	assert.True(t, l.Contains("WARNING", "both"))
	assert.True(t, next.Contains("WARNING", "both"))
}

func TestTestLoggerConcurrent(t *testing.T) {
	l := NewTestLogger()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				l.Debug("worker %d entry %d", i, j)
			}
		}()
	}
	wg.Wait()
	assert.Len(t, l.Logs(), 800)
}
