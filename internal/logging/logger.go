package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// LogLevel represents different logging levels
type LogLevel int32

const (
	// LevelError only logs errors
	LevelError LogLevel = iota
	// LevelWarn logs warnings and errors
	LevelWarn
	// LevelInfo logs general information, warnings and errors
	LevelInfo
	// LevelDebug logs detailed debug information and all above
	LevelDebug
	// LevelTrace logs every FUSE request and reply and all above
	LevelTrace
)

// String returns the upper-case name of the level.
func (l LogLevel) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	case LevelTrace:
		return "TRACE"
	default:
		return fmt.Sprintf("LEVEL(%d)", int32(l))
	}
}

// ParseLevel converts a level name (case-insensitive) to a LogLevel.
func ParseLevel(name string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "ERROR":
		return LevelError, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "INFO":
		return LevelInfo, nil
	case "DEBUG":
		return LevelDebug, nil
	case "TRACE":
		return LevelTrace, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// Logger provides leveled, prefixed logging. Loggers derived with
// WithPrefix share the level of the logger they were derived from.
type Logger struct {
	level  *atomic.Int32
	tag    string
	logger *log.Logger
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// GetLogger returns the default logger instance
func GetLogger() *Logger {
	once.Do(func() {
		defaultLogger = NewLogger("VNFUSE")

		// Set initial log level from environment
		if name := os.Getenv("LOG_LEVEL"); name != "" {
			if level, err := ParseLevel(name); err == nil {
				defaultLogger.SetLevel(level)
			}
		}

		// Enable debug logging if FUSE_DEBUG is set
		if os.Getenv("FUSE_DEBUG") != "" {
			defaultLogger.SetLevel(LevelDebug)
		}
	})
	return defaultLogger
}

// NewLogger creates a new logger with the given prefix
func NewLogger(prefix string) *Logger {
	flags := log.Ldate | log.Ltime | log.Lmicroseconds | log.LUTC
	if os.Getenv("LOG_LONGFILE") != "" {
		flags |= log.Llongfile
	} else {
		flags |= log.Lshortfile
	}

	level := new(atomic.Int32)
	level.Store(int32(LevelInfo))

	return &Logger{
		level:  level,
		logger: log.New(os.Stdout, prefix+": ", flags),
	}
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level LogLevel) {
	l.level.Store(int32(level))
}

// SetLevelName sets the logging level from its name.
func (l *Logger) SetLevelName(name string) error {
	level, err := ParseLevel(name)
	if err != nil {
		return err
	}
	l.SetLevel(level)
	return nil
}

// Level returns the current logging level.
func (l *Logger) Level() LogLevel {
	return LogLevel(l.level.Load())
}

// Enabled reports whether messages at level are written.
func (l *Logger) Enabled(level LogLevel) bool {
	return level <= l.Level()
}

// log performs the actual logging
func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if !l.Enabled(level) {
		return
	}

	msg := fmt.Sprintf(format, args...)
	if l.tag != "" {
		msg = l.tag + ": " + msg
	}
	if err := l.logger.Output(3, fmt.Sprintf("[%s] %s", level, msg)); err != nil {
		// write directly to stderr
		fmt.Fprintf(os.Stderr, "Failed to write log message: %v\n", err)
	}
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Trace logs a trace message
func (l *Logger) Trace(format string, args ...interface{}) {
	l.log(LevelTrace, format, args...)
}

// WithPrefix creates a new logger with an additional prefix
func (l *Logger) WithPrefix(prefix string) *Logger {
	if l.tag != "" {
		prefix = l.tag + "/" + prefix
	}
	return &Logger{
		level:  l.level,
		tag:    prefix,
		logger: l.logger,
	}
}

// FuseDebug adapts the logger to bazil's fuse.Debug hook. Messages are
// written at trace level.
func (l *Logger) FuseDebug(msg interface{}) {
	l.log(LevelTrace, "%v", msg)
}
