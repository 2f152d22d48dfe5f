package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 2, cfg.Pipeline.RepairAttempts)
	assert.Equal(t, 0.5, cfg.Pipeline.FallbackCeiling)
	assert.Equal(t, 500*time.Millisecond, cfg.Pipeline.BaseDelay())
	assert.Equal(t, "memory", cfg.Retrieval.Backend)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, 15*time.Second, cfg.LLM.Timeout())
}

func TestLoadReadsFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	yaml := []byte("pipeline:\n  maxAttempts: 4\nretrieval:\n  topK: 8\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644))
	t.Setenv("INTENT_AGENT_LLM_PROVIDER", "anthropic")

	cfg, err := LoadWith(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 8, cfg.Retrieval.TopK)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
}

func TestLoadWithExplicitFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	// a searchable config.yaml must not shadow the explicit file
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("retrieval:\n  topK: 9\n"), 0o644))
	path := filepath.Join(dir, "custom.yaml")
	yaml := []byte("redis:\n  enabled: true\n  host: 127.0.0.1\n  port: 4000\nretrieval:\n  topK: 7\n")
	require.NoError(t, os.WriteFile(path, yaml, 0o644))

	v := viper.New()
	v.SetConfigFile(path)
	cfg, err := LoadWith(v)
	require.NoError(t, err)

	assert.Equal(t, path, v.ConfigFileUsed())
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "127.0.0.1", cfg.Redis.Host)
	assert.Equal(t, 4000, cfg.Redis.Port)
	assert.Equal(t, 7, cfg.Retrieval.TopK)
}

func TestLoadWithMissingExplicitFile(t *testing.T) {
	t.Chdir(t.TempDir())

	v := viper.New()
	v.SetConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := LoadWith(v)
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	base, err := Load()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"zero attempts", func(c *Config) { c.Pipeline.MaxAttempts = 0 }, "maxAttempts"},
		{"ceiling above one", func(c *Config) { c.Pipeline.FallbackCeiling = 1.5 }, "fallbackCeiling"},
		{"both weights zero", func(c *Config) { c.Pipeline.LexicalWeight, c.Pipeline.SemanticWeight = 0, 0 }, "weights"},
		{"threshold zero", func(c *Config) { c.Pipeline.WorkspaceThreshold = 0 }, "workspaceThreshold"},
		{"unknown backend", func(c *Config) { c.Retrieval.Backend = "faiss" }, "retrieval backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
