package app

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger interface for app layer
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

type level int

const (
	levelDebug level = iota
	levelInfo
	levelWarn
	levelError
)

func parseLevel(s string) level {
	switch strings.ToLower(s) {
	case "debug":
		return levelDebug
	case "warn", "warning":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

// stderrLogger writes timestamped leveled lines, dropping entries below
// its minimum level.
type stderrLogger struct {
	mu     sync.Mutex
	output io.Writer
	min    level
}

// NewStderrLogger creates a leveled logger writing to stderr.
// minLevel is one of debug, info, warn, error; unknown values mean info.
func NewStderrLogger(minLevel string) Logger {
	return &stderrLogger{output: os.Stderr, min: parseLevel(minLevel)}
}

func (l *stderrLogger) log(lv level, tag, format string, args ...interface{}) {
	if lv < l.min {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := time.Now().UTC().Format(time.RFC3339)
	fmt.Fprintf(l.output, ts+" "+tag+": "+format+"\n", args...)
}

func (l *stderrLogger) Debug(format string, args ...interface{}) {
	l.log(levelDebug, "DEBUG", format, args...)
}

func (l *stderrLogger) Info(format string, args ...interface{}) {
	l.log(levelInfo, "INFO", format, args...)
}

func (l *stderrLogger) Warn(format string, args ...interface{}) {
	l.log(levelWarn, "WARN", format, args...)
}

func (l *stderrLogger) Error(format string, args ...interface{}) {
	l.log(levelError, "ERROR", format, args...)
}

// globalLogger is the logger instance used by app layer
var globalLogger Logger = NewStderrLogger("info")

// SetLogger sets the global logger for app layer
func SetLogger(logger Logger) {
	if logger != nil {
		globalLogger = logger
	}
}

// GetLogger returns the current logger
func GetLogger() Logger {
	return globalLogger
}
