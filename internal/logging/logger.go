package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// InvocationLog represents a single dispatched-call audit entry: one per
// Dispatcher.Dispatch call, emitted regardless of outcome.
type InvocationLog struct {
	Timestamp  time.Time `json:"timestamp"`
	Context    string    `json:"context"`
	Method     string    `json:"method"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
}

// Logger handles invocation audit logging. Every entry is also emitted at
// debug level through the operational logger returned by Op().
type Logger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

var defaultLogger = &Logger{enabled: true, console: false}

// Default returns the default invocation logger.
func Default() *Logger {
	return defaultLogger
}

// SetOutput sets the log output file.
func (l *Logger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables/disables console output.
func (l *Logger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// SetEnabled toggles whether Log does anything at all.
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	l.enabled = enabled
	l.mu.Unlock()
}

// Log writes an invocation audit entry.
func (l *Logger) Log(entry InvocationLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	entry.Timestamp = time.Now()

	Op().Debug("dispatched call",
		"context", entry.Context,
		"method", entry.Method,
		"duration_ms", entry.DurationMs,
		"success", entry.Success,
		"error", entry.Error,
	)

	if l.console {
		status := "ok"
		if !entry.Success {
			status = "err"
		}
		fmt.Printf("[invoke] %s %s.%s %dms\n", status, entry.Context, entry.Method, entry.DurationMs)
		if entry.Error != "" {
			fmt.Printf("[invoke]   error: %s\n", entry.Error)
		}
	}

	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
