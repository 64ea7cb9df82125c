package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"WARN", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"bogus", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), tt.in)
	}
}

func TestNewWritesToOutputPath(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.log")
	l, err := New(Config{Level: "debug", OutputPaths: []string{out}})
	require.NoError(t, err)

	l.With(String("vendor", "mouser")).Info("scrape ok", Int64("product_id", 7))
	_ = l.Sync()

	assert.FileExists(t, out)
}

func TestNopDoesNotPanic(t *testing.T) {
	l := NewNop()
	l.Debug("x")
	l.With(Error(nil)).Warn("y")
	assert.NoError(t, l.Sync())
}
