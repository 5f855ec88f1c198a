// Package logging builds the process logger: structured zap output with
// secret redaction applied at the encoder so sensitive values cannot
// reach any sink.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logger configuration.
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is "json" for production or "console" for development.
	Format string `koanf:"format"`

	// Redaction controls sensitive field scrubbing.
	Redaction RedactionConfig `koanf:"redaction"`
}

// DefaultRedaction covers the credential field names corpusd handles.
func DefaultRedaction() RedactionConfig {
	return RedactionConfig{
		Enabled: true,
		Fields: []string{
			"password", "secret", "token", "api_key",
			"authorization", "bearer", "credential",
		},
		Patterns: []string{
			`(?i)bearer\s+\S+`,
			`(?i)api[_-]?key[=:]\s*\S+`,
		},
	}
}

// New builds a zap logger for the given config. The service field is
// attached to every entry.
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	var encoderCfg zapcore.EncoderConfig
	var encoder zapcore.Encoder
	switch cfg.Format {
	case "json", "":
		encoderCfg = zap.NewProductionEncoderConfig()
		encoderCfg.TimeKey = "timestamp"
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	case "console":
		encoderCfg = zap.NewDevelopmentEncoderConfig()
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	default:
		return nil, fmt.Errorf("unknown log format: %s", cfg.Format)
	}

	redaction := cfg.Redaction
	if redaction.Fields == nil && redaction.Patterns == nil {
		redaction = DefaultRedaction()
	}
	wrapped, err := NewRedactingEncoder(encoder, redaction)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(wrapped, zapcore.Lock(os.Stdout), level)
	logger := zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service", "corpusd")),
	)
	return logger, nil
}
