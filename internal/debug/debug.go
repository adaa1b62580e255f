// Package debug provides development logging for convtrack.
//
// Logging is off until Enable or EnableWriter is called; every call is a
// no-op while disabled. Components log through a Logger tagged with their
// name so one log file can be filtered per subsystem.
package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	enabled bool
	sink    io.Writer
	closer  io.Closer
	mu      sync.Mutex
	logPath string
)

// Enable turns on debug logging to the specified file.
func Enable(path string) error {
	mu.Lock()
	defer mu.Unlock()

	if enabled {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}

	//nolint:gosec // G304: path comes from configuration, not user input.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}

	sink = f
	closer = f
	logPath = path
	enabled = true

	writeLocked("debug", "INFO", fmt.Sprintf("=== convtrack debug session started %s ===", time.Now().Format(time.RFC3339)))
	return nil
}

// EnableWriter turns on debug logging to w. The writer is not closed by
// Disable.
func EnableWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if closer != nil {
		_ = closer.Close() //nolint:errcheck // replacing the sink
	}
	sink = w
	closer = nil
	logPath = ""
	enabled = true
}

// Disable turns off debug logging and closes the log file.
func Disable() {
	mu.Lock()
	defer mu.Unlock()

	if !enabled {
		return
	}
	if closer != nil {
		_ = closer.Close() //nolint:errcheck // nothing useful to do on close failure
		closer = nil
	}
	sink = nil
	enabled = false
}

// IsEnabled returns whether debug logging is enabled.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// LogPath returns the path to the log file, or "" when logging to a writer.
func LogPath() string {
	mu.Lock()
	defer mu.Unlock()
	return logPath
}

// Log writes an untagged debug message.
func Log(format string, args ...any) {
	write("convtrack", "INFO", fmt.Sprintf(format, args...))
}

func write(component, level, msg string) {
	mu.Lock()
	defer mu.Unlock()
	writeLocked(component, level, msg)
}

func writeLocked(component, level, msg string) {
	if !enabled || sink == nil {
		return
	}
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Fprintf(sink, "[%s] [%s] %s %s\n", timestamp, component, level, msg)
	if f, ok := sink.(*os.File); ok {
		_ = f.Sync() //nolint:errcheck // flush for live tailing
	}
}

// Logger writes messages tagged with a component name.
type Logger struct {
	component string
}

// New returns a logger for component.
func New(component string) *Logger {
	return &Logger{component: component}
}

// Printf logs an informational message.
func (l *Logger) Printf(format string, args ...any) {
	write(l.component, "INFO", fmt.Sprintf(format, args...))
}

// Warnf logs a warning.
func (l *Logger) Warnf(format string, args ...any) {
	write(l.component, "WARN", fmt.Sprintf(format, args...))
}

// Errorf logs an error message.
func (l *Logger) Errorf(format string, args ...any) {
	write(l.component, "ERROR", fmt.Sprintf(format, args...))
}

// Event logs a named event with details.
func (l *Logger) Event(eventType, details string) {
	write(l.component, "EVENT", fmt.Sprintf("%s: %s", eventType, details))
}

// Error logs err with context.
func (l *Logger) Error(err error, context string) {
	write(l.component, "ERROR", fmt.Sprintf("%s - %v", context, err))
}
