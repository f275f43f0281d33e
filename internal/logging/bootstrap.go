package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/tis24dev/panbackup/internal/types"
)

type bootstrapEntry struct {
	level   types.LogLevel
	message string
}

// BootstrapLogger buffers messages produced before the main logger exists
// (argument parsing, configuration loading) and replays them once it does.
type BootstrapLogger struct {
	mu       sync.Mutex
	entries  []bootstrapEntry
	flushed  bool
	minLevel types.LogLevel
}

// NewBootstrapLogger creates a bootstrap logger with INFO as minimum level.
func NewBootstrapLogger() *BootstrapLogger {
	return &BootstrapLogger{minLevel: types.LogLevelInfo}
}

// SetLevel updates the minimum level applied at flush time.
func (b *BootstrapLogger) SetLevel(level types.LogLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.minLevel = level
}

// Debug records a debug message without printing it.
func (b *BootstrapLogger) Debug(format string, args ...interface{}) {
	b.record(types.LogLevelDebug, fmt.Sprintf(format, args...))
}

// Info prints and records an early informational message.
func (b *BootstrapLogger) Info(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(msg)
	b.record(types.LogLevelInfo, msg)
}

// Warning prints an early warning on stderr and records it.
func (b *BootstrapLogger) Warning(format string, args ...interface{}) {
	msg := strings.TrimSuffix(fmt.Sprintf(format, args...), "\n")
	fmt.Fprintln(os.Stderr, msg)
	b.record(types.LogLevelWarning, msg)
}

// Error prints an early error on stderr and records it.
func (b *BootstrapLogger) Error(format string, args ...interface{}) {
	msg := strings.TrimSuffix(fmt.Sprintf(format, args...), "\n")
	fmt.Fprintln(os.Stderr, msg)
	b.record(types.LogLevelError, msg)
}

func (b *BootstrapLogger) record(level types.LogLevel, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.flushed {
		return
	}
	b.entries = append(b.entries, bootstrapEntry{level: level, message: message})
}

// Flush replays buffered entries into logger. Only the first call has an effect.
func (b *BootstrapLogger) Flush(logger *Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.flushed {
		return
	}
	for _, entry := range b.entries {
		if entry.level > b.minLevel {
			continue
		}
		switch entry.level {
		case types.LogLevelDebug:
			logger.Debug("%s", entry.message)
		case types.LogLevelWarning:
			logger.Warning("%s", entry.message)
		case types.LogLevelError, types.LogLevelCritical:
			logger.Error("%s", entry.message)
		default:
			logger.Info("%s", entry.message)
		}
	}
	b.flushed = true
	b.entries = nil
}
