package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap logger. Production environments get JSON output,
// everything else the console encoder with colored levels.
func New(env, level string) (*zap.Logger, error) {
	var cfg zap.Config
	if env == "production" || env == "prod" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// Must is New for main packages; it falls back to a no-op logger.
func Must(env, level string) *zap.Logger {
	l, err := New(env, level)
	if err != nil {
		return zap.NewNop()
	}
	return l
}
