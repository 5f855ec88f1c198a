package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/peakai/corpusd/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"json info", Config{Level: "info", Format: "json"}, false},
		{"console debug", Config{Level: "debug", Format: "console"}, false},
		{"empty format defaults to json", Config{Level: "warn"}, false},
		{"bad level", Config{Level: "loud", Format: "json"}, true},
		{"bad format", Config{Level: "info", Format: "xml"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
		})
	}
}

// redactingObserver builds an observed logger with the redacting encoder
// in front of a JSON encoder so field scrubbing can be asserted.
func encodeWithRedaction(t *testing.T, fields ...zap.Field) string {
	t.Helper()

	base := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	enc, err := NewRedactingEncoder(base, DefaultRedaction())
	require.NoError(t, err)

	buf, err := enc.EncodeEntry(zapcore.Entry{Message: "msg"}, fields)
	require.NoError(t, err)
	return buf.String()
}

func TestRedactingEncoder_FieldNames(t *testing.T) {
	out := encodeWithRedaction(t,
		zap.String("api_key", "sk-12345"),
		zap.String("Password", "hunter2"),
		zap.String("plain", "visible"),
	)

	assert.NotContains(t, out, "sk-12345")
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "[REDACTED]")
	assert.Contains(t, out, "visible")
}

func TestRedactingEncoder_ValuePatterns(t *testing.T) {
	out := encodeWithRedaction(t,
		zap.String("header", "Bearer abc.def.ghi"),
	)

	assert.NotContains(t, out, "abc.def.ghi")
	assert.Contains(t, out, "[REDACTED:pattern]")
}

func TestRedactingEncoder_DisabledPassesThrough(t *testing.T) {
	base := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	enc, err := NewRedactingEncoder(base, RedactionConfig{Enabled: false})
	require.NoError(t, err)

	buf, err := enc.EncodeEntry(zapcore.Entry{Message: "msg"}, []zap.Field{
		zap.String("api_key", "sk-12345"),
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "sk-12345")
}

func TestNewRedactingEncoder_BadPattern(t *testing.T) {
	base := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())

	_, err := NewRedactingEncoder(base, RedactionConfig{Enabled: true, Patterns: []string{"("}})
	assert.Error(t, err)
}

func TestSecretField(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	logger.Info("connecting", Secret("api_key", config.Secret("sk-12345")))

	entries := logs.All()
	require.Len(t, entries, 1)

	enc := zapcore.NewMapObjectEncoder()
	for _, f := range entries[0].Context {
		f.AddTo(enc)
	}
	nested, ok := enc.Fields["api_key"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "[REDACTED:8]", nested["api_key"])
}

func TestRedactedString(t *testing.T) {
	f := RedactedString("token", "abcdef")
	assert.Equal(t, "[REDACTED:6]", f.String)
}
