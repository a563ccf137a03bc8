package util

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLogLevelFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	require.Equal(t, zapcore.InfoLevel, logLevel())

	t.Setenv("LOG_LEVEL", "debug")
	require.Equal(t, zapcore.DebugLevel, logLevel())

	t.Setenv("LOG_LEVEL", "warn")
	require.Equal(t, zapcore.WarnLevel, logLevel())

	t.Setenv("LOG_LEVEL", "not-a-level")
	require.Equal(t, zapcore.InfoLevel, logLevel())
}
