package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHelpersAreSafeBeforeInit(t *testing.T) {
	Set(nil)
	assert.NotPanics(t, func() {
		Info("before init", zap.String("k", "v"))
		Warn("before init")
		Debug("before init")
		Sync()
	})
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	err := Init("loud", "json", "stdout")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	require.NoError(t, Init("info", "json", path))
	t.Cleanup(func() { Set(nil) })

	Info("pipeline started", zap.String("request_id", "r-1"))
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"pipeline started"`)
	assert.Contains(t, string(data), `"request_id":"r-1"`)
}
