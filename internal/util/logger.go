package util

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName tags every log line and trace emitted by this process.
const ServiceName = "marketplace-service"

var logger *zap.Logger

// InitLogger builds the process-wide logger. Production gets JSON output with
// the service field stamped on every entry; anything else gets the colored
// console encoder for local runs.
func InitLogger(env string) error {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	built, err := config.Build(zap.Fields(zap.String("service", ServiceName)))
	if err != nil {
		return err
	}

	logger = built
	zap.ReplaceGlobals(logger)
	return nil
}

// GetLogger returns the process logger, falling back to a development logger
// before InitLogger has run (tests, mostly).
func GetLogger() *zap.Logger {
	if logger == nil {
		logger, _ = zap.NewDevelopment()
	}
	return logger
}

// NamedLogger returns a child of the process logger tagged with a component
// name such as "checkout" or "sweeper".
func NamedLogger(component string) *zap.Logger {
	return GetLogger().Named(component)
}

// SyncLogger flushes any buffered log entries
func SyncLogger() {
	if logger != nil {
		_ = logger.Sync()
	}
}
