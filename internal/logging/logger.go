package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/tis24dev/panbackup/internal/types"
)

// sink is the state shared by a logger and every prefixed child derived from it.
type sink struct {
	mu           sync.Mutex
	level        types.LogLevel
	useColor     bool
	output       io.Writer
	timeFormat   string
	logFile      *os.File
	warningCount int64
	errorCount   int64
}

// Logger handles application logging.
// Loggers derived with WithPrefix share level, outputs and counters with their parent.
type Logger struct {
	sink   *sink
	prefix string
}

// New creates a new logger writing to stdout.
func New(level types.LogLevel, useColor bool) *Logger {
	return &Logger{
		sink: &sink{
			level:      level,
			useColor:   useColor,
			output:     os.Stdout,
			timeFormat: "2006-01-02 15:04:05",
		},
	}
}

// WithPrefix returns a logger that prepends prefix to every message.
func (l *Logger) WithPrefix(prefix string) *Logger {
	if l == nil {
		return nil
	}
	combined := prefix
	if l.prefix != "" {
		combined = l.prefix + " " + prefix
	}
	return &Logger{sink: l.sink, prefix: combined}
}

// SetOutput sets the logger output writer.
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if w == nil {
		l.sink.output = os.Stdout
		return
	}
	l.sink.output = w
}

// SetLevel sets the logging level.
func (l *Logger) SetLevel(level types.LogLevel) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

// UsesColor returns whether color output is enabled.
func (l *Logger) UsesColor() bool {
	return l.sink.useColor
}

// OpenLogFile opens a log file in append mode; every following line is also written there.
func (l *Logger) OpenLogFile(logPath string) error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.logFile != nil {
		l.sink.logFile.Close()
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	l.sink.logFile = file
	return nil
}

// CloseLogFile closes the log file, if any.
func (l *Logger) CloseLogFile() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.logFile == nil {
		return nil
	}

	err := l.sink.logFile.Close()
	l.sink.logFile = nil
	return err
}

// GetLogFilePath returns the path of the currently open log file (or "" if none).
func (l *Logger) GetLogFilePath() string {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.logFile == nil {
		return ""
	}
	return l.sink.logFile.Name()
}

func (l *Logger) log(level types.LogLevel, format string, args ...interface{}) {
	l.logWithLabel(level, "", "", format, args...)
}

func (l *Logger) logWithLabel(level types.LogLevel, label string, colorOverride string, format string, args ...interface{}) {
	if l == nil {
		return
	}
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if level > s.level {
		return
	}

	switch level {
	case types.LogLevelWarning:
		s.warningCount++
	case types.LogLevelError, types.LogLevelCritical:
		s.errorCount++
	}

	timestamp := time.Now().Format(s.timeFormat)
	levelStr := level.String()
	if label != "" {
		levelStr = label
	}
	message := fmt.Sprintf(format, args...)
	if l.prefix != "" {
		message = l.prefix + " " + message
	}

	var colorCode, resetCode string
	if s.useColor {
		resetCode = "\033[0m"
		colorCode = colorOverride
		if colorCode == "" {
			colorCode = levelColor(level)
		}
	}

	fmt.Fprintf(s.output, "[%s] %s%-8s%s %s\n", timestamp, colorCode, levelStr, resetCode, message)
	if s.logFile != nil {
		fmt.Fprintf(s.logFile, "[%s] %-8s %s\n", timestamp, levelStr, message)
	}
}

func levelColor(level types.LogLevel) string {
	switch level {
	case types.LogLevelDebug:
		return "\033[36m" // Cyan
	case types.LogLevelInfo:
		return "\033[32m" // Green
	case types.LogLevelWarning:
		return "\033[33m" // Yellow
	case types.LogLevelError:
		return "\033[31m" // Red
	case types.LogLevelCritical:
		return "\033[1;31m" // Bold Red
	default:
		return ""
	}
}

// HasWarnings returns true if at least one warning was logged.
func (l *Logger) HasWarnings() bool {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return l.sink.warningCount > 0
}

// HasErrors returns true if at least one error or critical message was logged.
func (l *Logger) HasErrors() bool {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return l.sink.errorCount > 0
}

// Debug writes a debug log.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(types.LogLevelDebug, format, args...)
}

// Info writes an informational log
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(types.LogLevelInfo, format, args...)
}

// Step writes an informational log with STEP label (pipeline stages)
func (l *Logger) Step(format string, args ...interface{}) {
	l.labeled("STEP", "\033[34m", format, args...)
}

// Skip writes an informational log with SKIP label (disabled backends, kept files)
func (l *Logger) Skip(format string, args ...interface{}) {
	l.labeled("SKIP", "\033[35m", format, args...)
}

func (l *Logger) labeled(label, color, format string, args ...interface{}) {
	if l == nil {
		return
	}
	colorOverride := ""
	if l.sink.useColor {
		colorOverride = color
	}
	l.logWithLabel(types.LogLevelInfo, label, colorOverride, format, args...)
}

// Warning writes a warning log.
func (l *Logger) Warning(format string, args ...interface{}) {
	l.log(types.LogLevelWarning, format, args...)
}

// Error writes an error log.
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(types.LogLevelError, format, args...)
}

// Critical writes a critical log.
func (l *Logger) Critical(format string, args ...interface{}) {
	l.log(types.LogLevelCritical, format, args...)
}

// Package-level default logger
var defaultLogger = New(types.LogLevelInfo, true)

// SetDefaultLogger sets the default logger.
func SetDefaultLogger(logger *Logger) {
	defaultLogger = logger
}

// GetDefaultLogger returns the default logger.
func GetDefaultLogger() *Logger {
	return defaultLogger
}
