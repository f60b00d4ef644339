package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewWritesFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "knut.log")
	logger, err := New("info", file)
	require.NoError(t, err)

	logger.Sugar().Infof("Listening on %s", "127.0.0.1:8080")
	logger.Debug("hidden")
	_ = logger.Sync()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Listening on 127.0.0.1:8080")
	assert.NotContains(t, string(data), "hidden")
}

func TestNewLevel(t *testing.T) {
	logger, err := New("error", "")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.WarnLevel))
	assert.True(t, logger.Core().Enabled(zapcore.ErrorLevel))

	_, err = New("chatty", "")
	assert.Error(t, err)
}
