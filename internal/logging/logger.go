package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"vrpsolver/internal/metrics"
)

// Config holds logger configuration options
type Config struct {
	// Format is "json" or "console" ("text" is accepted as console)
	Format string
	// Level is the minimum level: debug, info, warn, error
	Level string
	// Output defaults to os.Stdout
	Output zapcore.WriteSyncer
}

// NewLogger builds a zap logger whose entries are counted in
// metrics.LogEntries.
func NewLogger(cfg Config) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	output := cfg.Output
	if output == nil {
		output = zapcore.Lock(os.Stdout)
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "text", "console":
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(ec)
	default:
		ec := zap.NewProductionEncoderConfig()
		ec.TimeKey = "timestamp"
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(ec)
	}

	core := &metricsHookCore{Core: zapcore.NewCore(encoder, output, level)}
	return zap.New(core, zap.AddCaller()), nil
}

// Discard returns a logger that drops everything (tests).
func Discard() *zap.Logger { return zap.NewNop() }

func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

type metricsHookCore struct {
	zapcore.Core
}

func (c *metricsHookCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *metricsHookCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	metrics.LogEntries.WithLabelValues(entry.Level.String()).Inc()
	return c.Core.Write(entry, fields)
}

func (c *metricsHookCore) With(fields []zapcore.Field) zapcore.Core {
	return &metricsHookCore{Core: c.Core.With(fields)}
}
