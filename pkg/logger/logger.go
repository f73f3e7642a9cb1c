package logger

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

const InfoLogLevel = "info"

var (
	globalLogger *zap.Logger
	once         sync.Once
)

// Logger is a wrapper around zap.Logger
type Logger struct {
	*zap.Logger
}

// InitProduction initializes the global logger with production
// configuration, honoring the general.log_level config key when set.
func InitProduction() {
	once.Do(func() {
		level := InfoLogLevel
		if viper.IsSet("general.log_level") {
			level = viper.GetString("general.log_level")
		}

		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(getZapLevel(level))
		logger, err := config.Build()
		if err != nil {
			fmt.Printf("Failed to initialize production logger: %v\n", err)
			os.Exit(1)
		}
		globalLogger = logger.Named("armpoller")
	})
}

// InitTest initializes the global logger for testing
func InitTest(tb zaptest.TestingT) {
	once.Do(func() {
		globalLogger = zaptest.NewLogger(tb)
	})
}

// Get returns the global logger instance
func Get() *Logger {
	if globalLogger == nil {
		InitProduction() // Default to production logger if not initialized
	}
	return &Logger{globalLogger}
}

func getZapLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// With creates a child logger and adds structured context to it
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{l.Logger.With(fields...)}
}

// Formatted logging methods
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.Logger.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.Logger.Info(fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.Logger.Warn(fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Logger.Error(fmt.Sprintf(format, args...))
}

// Sync flushes any buffered log entries
func (l *Logger) Sync() error {
	return l.Logger.Sync()
}

// NewNopLogger returns a no-op Logger
func NewNopLogger() *Logger {
	return &Logger{zap.NewNop()}
}

// Field is a type alias for zap.Field for convenience
type Field = zap.Field

// Common field constructors
var (
	String = zap.String
	Int    = zap.Int
	Error  = zap.Error
)
