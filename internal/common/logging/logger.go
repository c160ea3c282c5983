package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// ServiceName names the global logger
const ServiceName = "cache-manager"

var (
	globalMu     sync.RWMutex
	globalLogger Logger
)

// InitGlobalLogger replaces the global logger with one built from LOG_LEVEL.
// LOG_FILE, when set, is appended to instead of stdout.
func InitGlobalLogger() {
	level := ParseLevel(os.Getenv("LOG_LEVEL"))

	var output io.Writer
	logFile := os.Getenv("LOG_FILE")
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			panic(fmt.Sprintf("failed to open log file %s: %v", logFile, err))
		}
		output = file
	}

	logger, err := NewZapLogger(LogConfig{Level: level, Output: output, Name: ServiceName})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	SetGlobalLogger(logger)

	logger.Info("Logger initialized", String("level", level.String()), String("log_file", logFile))
}

// SetGlobalLogger replaces the global logger
func SetGlobalLogger(logger Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// GetGlobalLogger returns the global logger, creating an INFO level stdout
// logger on first use if InitGlobalLogger was never called.
func GetGlobalLogger() Logger {
	globalMu.RLock()
	logger := globalLogger
	globalMu.RUnlock()
	if logger != nil {
		return logger
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger, _ = NewZapLogger(LogConfig{Level: InfoLevel, Name: ServiceName})
	}
	return globalLogger
}

// OrGlobal returns logger, or the global logger when logger is nil
func OrGlobal(logger Logger) Logger {
	if logger != nil {
		return logger
	}
	return GetGlobalLogger()
}

// Info logs to the global logger
func Info(msg string, fields ...Field) {
	GetGlobalLogger().Info(msg, fields...)
}

// Error logs to the global logger
func Error(msg string, err error, fields ...Field) {
	GetGlobalLogger().Error(msg, err, fields...)
}

// MustSync flushes the global logger. Call before exit.
func MustSync() {
	if zapLogger, ok := GetGlobalLogger().(*ZapAdapter); ok {
		_ = zapLogger.Sync()
	}
}
