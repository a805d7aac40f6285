package logger

import (
	"github.com/flexprice/lifecycle/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.SugaredLogger to provide logging functionality
type Logger struct {
	*zap.SugaredLogger
}

// Global logger for convenience
var L *Logger

// NewLogger creates and returns a new Logger instance configured from cfg
func NewLogger(cfg *config.Configuration) (*Logger, error) {
	level := "info"
	if cfg != nil && cfg.Logging.Level != "" {
		level = string(cfg.Logging.Level)
	}
	return newLogger(level)
}

func newLogger(level string) (*Logger, error) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(lvl)

	zapLogger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{
		SugaredLogger: zapLogger.Sugar(),
	}, nil
}

// NewNoopLogger returns a logger that discards everything, used in tests
func NewNoopLogger() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

// Given logger is a heavily used object it is kept as a global as well for
// scripts, everywhere else it should be injected.
func init() {
	L, _ = newLogger("info")
}

// WithSubscription returns a child logger carrying the subscription id
func (l *Logger) WithSubscription(subscriptionID string) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With("subscription_id", subscriptionID)}
}

// Helper methods to make logging more convenient
func (l *Logger) Debugf(template string, args ...interface{}) {
	l.SugaredLogger.Debugf(template, args...)
}

func (l *Logger) Infof(template string, args ...interface{}) {
	l.SugaredLogger.Infof(template, args...)
}

func (l *Logger) Warnf(template string, args ...interface{}) {
	l.SugaredLogger.Warnf(template, args...)
}

func (l *Logger) Errorf(template string, args ...interface{}) {
	l.SugaredLogger.Errorf(template, args...)
}
