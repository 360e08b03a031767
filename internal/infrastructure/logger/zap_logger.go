package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a JSON production logger writing to stdout. Unknown
// levels fall back to info.
func NewLogger(level string) (*zap.Logger, error) {
	return build(level, nil)
}

// NewFileLogger additionally appends JSON lines to path.
func NewFileLogger(path, level string) (*zap.Logger, error) {
	if path == "" {
		return NewLogger(level)
	}
	return build(level, []string{path})
}

func build(level string, extra []string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()

	l, err := zapcore.ParseLevel(level)
	if err != nil {
		l = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(l)
	config.EncoderConfig.TimeKey = "ts"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = append([]string{"stdout"}, extra...)

	return config.Build(zap.Fields(zap.String("app", "perp_trader")))
}
