package app

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelliquery/intent-agent/internal/pipeline"
	"github.com/intelliquery/intent-agent/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadWith(viper.New())
	require.NoError(t, err)

	cfg.LLM.Provider = "none"
	cfg.SQLite.Enabled = false
	cfg.Redis.Enabled = false
	cfg.Entities.NEREnabled = false
	cfg.Embedding.Provider = "hash"
	cfg.Embedding.Dim = 64
	cfg.Catalog.Path = ""
	return cfg
}

func TestNewServesQueries(t *testing.T) {
	rt, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	assert.Nil(t, rt.Store)
	assert.Equal(t, "none", rt.Provider.Name())
	require.NotNil(t, rt.Registry.Current())
	assert.Equal(t, uint64(1), rt.Registry.Current().Version)

	env := rt.Orchestrator.Run(context.Background(), pipeline.Query{
		Text:       "show sales in Mumbai",
		ReceivedAt: time.Now().UTC(),
	})
	require.True(t, env.Success)
	require.NotNil(t, env.IntentAnalysis)
	assert.True(t, env.Metadata.FallbackUsed)
	assert.Equal(t, "none", env.Metadata.Provider)
	assert.Contains(t, env.IntentAnalysis.Entities.Locations, "Mumbai")

	h := rt.Handlers()
	assert.NotNil(t, h.Intent)
	assert.NotNil(t, h.WebSocket)
	assert.NotNil(t, h.System)
	assert.NotNil(t, h.History)
}

func TestReloadPublishesNewGeneration(t *testing.T) {
	cfg := testConfig(t)
	rt, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`workspaces:
  - id: logistics
    keywords: [shipment, delivery]
    exemplars:
      - phrase: track the shipment
        intent: read
`), 0o644))
	cfg.Catalog.Path = path

	gen, err := rt.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), gen.Version)
	assert.Equal(t, []string{"logistics"}, gen.Catalog.IDs())
	assert.Same(t, gen, rt.Registry.Current())

	require.NoError(t, os.WriteFile(path, []byte("workspaces: ["), 0o644))
	_, err = rt.Reload(context.Background())
	assert.Error(t, err)
	assert.Equal(t, uint64(2), rt.Registry.Current().Version)
}

func TestNewWithEmbeddingCache(t *testing.T) {
	mr := miniredis.RunT(t)
	host, portStr, err := net.SplitHostPort(mr.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := testConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Host = host
	cfg.Redis.Port = port

	rt, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	assert.NotNil(t, rt.cache)
	assert.NotEmpty(t, mr.Keys())
}

func TestNewSkipsUnreachableCache(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Host = "127.0.0.1"
	cfg.Redis.Port = 1

	rt, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	assert.Nil(t, rt.cache)
}

func TestNewRejectsBadCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Catalog.Path = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.Provider = "mystery"
	cfg.LLM.APIKey = "key"

	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, "unknown llm provider")
}
