package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggers     = make(map[string]*Logger)
	loggerMutex sync.RWMutex
)

// LogConfig holds configuration for one named logger instance.
type LogConfig struct {
	ServiceName string // e.g. "coordinator", "coordinator-node-2"
	LogLevel    string // "debug", "info", "warn", "error"
	OutputPaths []string
	Development bool
}

// Logger wraps zap.Logger with a fixed service-name field.
type Logger struct {
	*zap.Logger
	serviceID   string
	outputPaths []string
}

// GetLogger returns the logger for config.ServiceName, creating and
// registering it on first use. Subsequent calls with the same service
// name return the same instance.
func GetLogger(config LogConfig) (*Logger, error) {
	loggerMutex.RLock()
	logger, exists := loggers[config.ServiceName]
	loggerMutex.RUnlock()
	if exists {
		return logger, nil
	}

	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	if logger, exists = loggers[config.ServiceName]; exists {
		return logger, nil
	}

	for _, path := range config.OutputPaths {
		if filepath.Ext(path) == ".log" {
			dir := filepath.Dir(path)
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("logging: create log directory %s: %w", dir, err)
			}
		}
	}

	var level zapcore.Level
	switch config.LogLevel {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       config.Development,
		DisableCaller:     false,
		DisableStacktrace: false,
		Encoding:          "json",
		EncoderConfig:     encoderConfig,
		OutputPaths:       config.OutputPaths,
		ErrorOutputPaths:  []string{"stderr"},
	}

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build logger for %s: %w", config.ServiceName, err)
	}

	logger = &Logger{
		Logger:      zapLogger,
		serviceID:   config.ServiceName,
		outputPaths: config.OutputPaths,
	}
	loggers[config.ServiceName] = logger
	return logger, nil
}

func (l *Logger) Info(msg string, fields ...zapcore.Field) {
	l.Logger.Info(msg, append([]zapcore.Field{zap.String("service", l.serviceID)}, fields...)...)
}

func (l *Logger) Error(msg string, fields ...zapcore.Field) {
	l.Logger.Error(msg, append([]zapcore.Field{zap.String("service", l.serviceID)}, fields...)...)
}

func (l *Logger) Debug(msg string, fields ...zapcore.Field) {
	l.Logger.Debug(msg, append([]zapcore.Field{zap.String("service", l.serviceID)}, fields...)...)
}

func (l *Logger) Warn(msg string, fields ...zapcore.Field) {
	l.Logger.Warn(msg, append([]zapcore.Field{zap.String("service", l.serviceID)}, fields...)...)
}

// Close flushes any buffered log entries.
func (l *Logger) Close() error {
	return l.Logger.Sync()
}

// GetOutputPaths returns the output paths configured for this logger.
func (l *Logger) GetOutputPaths() []string {
	return l.outputPaths
}

// Shutdown flushes and drops every registered logger. Call once on
// process exit.
func Shutdown() {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	for name, logger := range loggers {
		_ = logger.Close()
		delete(loggers, name)
	}
}
