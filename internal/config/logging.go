package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger from the log section. Logs go to stderr so
// that stdout stays free for command output.
func NewLogger(c LogConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if c.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(c.Level))); err != nil {
			return nil, eris.Wrapf(err, "config: log level %q", c.Level)
		}
	}

	var zc zap.Config
	switch strings.ToLower(c.Format) {
	case "json":
		zc = zap.NewProductionConfig()
	case "", "console":
		zc = zap.NewDevelopmentConfig()
		zc.DisableStacktrace = true
	default:
		return nil, eris.Errorf("config: unknown log format %q (supported: json, console)", c.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	logger, err := zc.Build()
	if err != nil {
		return nil, eris.Wrap(err, "config: build logger")
	}
	return logger, nil
}

// InitLogger installs the logger as zap's global logger and returns a
// function restoring the previous one.
func InitLogger(c LogConfig, fields ...zap.Field) (*zap.Logger, func(), error) {
	logger, err := NewLogger(c)
	if err != nil {
		return nil, nil, err
	}
	logger = logger.With(fields...)
	restore := zap.ReplaceGlobals(logger)
	return logger, func() {
		_ = logger.Sync()
		restore()
	}, nil
}
