package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// levelNames maps each level to the tag printed in front of the message
var levelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Logger is a leveled printf logger writing through a standard log.Logger.
// The zero value is not usable, build one with New.
type Logger struct {
	level LogLevel
	out   *log.Logger
	mu    sync.RWMutex
}

// New creates a Logger at the given level writing to stdout with the
// [RADIO-RELAY] prefix used by every line the service emits.
func New(level string) *Logger {
	return &Logger{
		level: ParseLogLevel(level),
		out:   log.New(os.Stdout, "[RADIO-RELAY] ", log.LstdFlags),
	}
}

// getDefaultLogger returns the process wide logger used by the package-level helpers
func getDefaultLogger() *Logger {
	once.Do(func() {
		defaultLogger = New("INFO")
	})
	return defaultLogger
}

// ParseLogLevel converts a config string into a LogLevel, defaulting to INFO
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// SetLogLevel sets the level of the default logger
func SetLogLevel(level string) {
	getDefaultLogger().SetLevel(level)
}

// GetLogLevel returns the level of the default logger
func GetLogLevel() string {
	return getDefaultLogger().GetLevel()
}

// SetOutput redirects the default logger, mainly so tests can capture lines
func SetOutput(w io.Writer) {
	getDefaultLogger().SetOutput(w)
}

// SetLevel changes the minimum level this logger emits
func (l *Logger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = ParseLogLevel(level)
}

// GetLevel returns the current level as its config string
func (l *Logger) GetLevel() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if name, ok := levelNames[l.level]; ok {
		return name
	}
	return "INFO"
}

// SetOutput swaps the destination writer
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.SetOutput(w)
}

// emit formats and writes one line when the level passes the threshold
func (l *Logger) emit(level LogLevel, format string, v ...any) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if level < l.level {
		return
	}
	l.out.Printf("[%s] %s", levelNames[level], fmt.Sprintf(format, v...))
}

// Debug logs debug level messages
func (l *Logger) Debug(format string, v ...any) { l.emit(DEBUG, format, v...) }

// Info logs info level messages
func (l *Logger) Info(format string, v ...any) { l.emit(INFO, format, v...) }

// Warn logs warning level messages
func (l *Logger) Warn(format string, v ...any) { l.emit(WARN, format, v...) }

// Error logs error level messages
func (l *Logger) Error(format string, v ...any) { l.emit(ERROR, format, v...) }

// Debug logs debug level messages on the default logger
func Debug(format string, v ...any) {
	getDefaultLogger().Debug(format, v...)
}

// Info logs info level messages on the default logger
func Info(format string, v ...any) {
	getDefaultLogger().Info(format, v...)
}

// Warn logs warning level messages on the default logger
func Warn(format string, v ...any) {
	getDefaultLogger().Warn(format, v...)
}

// Error logs error level messages on the default logger
func Error(format string, v ...any) {
	getDefaultLogger().Error(format, v...)
}

// Fatal logs at error level and exits, only used during start-up
func Fatal(format string, v ...any) {
	getDefaultLogger().Error(format, v...)
	os.Exit(1)
}
