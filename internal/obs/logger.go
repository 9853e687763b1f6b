package obs

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig selects the encoder and level of the process logger.
type LogConfig struct {
	Level   string
	Pretty  bool
	Service string
	Version string
}

// NewLogger builds a production JSON logger, or a console logger when Pretty
// is set. Unknown levels fall back to info.
func NewLogger(configuration LogConfig) (*zap.Logger, error) {
	var zapConfig zap.Config
	if configuration.Pretty {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}
	level := new(zapcore.Level)
	if err := level.Set(configuration.Level); err != nil {
		*level = zapcore.InfoLevel
	}
	zapConfig.Level = zap.NewAtomicLevelAt(*level)
	zapConfig.EncoderConfig.TimeKey = "ts"
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapConfig.Build(zap.Fields(
		zap.String("service", configuration.Service),
		zap.String("version", configuration.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("obs.logger.build: %w", err)
	}
	return logger, nil
}
