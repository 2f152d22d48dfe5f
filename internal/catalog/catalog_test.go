package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	assert.Equal(t, []string{"sales", "inventory", "customers", "finance", "hr", "marketing", "general"}, c.IDs())
	assert.Equal(t, "general", c.DefaultWorkspace())
	assert.Greater(t, c.ExemplarCount(), 0)

	sales, ok := c.Get("sales")
	require.True(t, ok)
	assert.Contains(t, sales.Keywords, "sales")
	assert.Same(t, c, Default())
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New([]Workspace{{ID: " "}})
	assert.ErrorContains(t, err, "empty id")

	_, err = New([]Workspace{{ID: "Sales"}, {ID: "sales"}})
	assert.ErrorContains(t, err, "duplicate")
}

func TestResolveAndOrder(t *testing.T) {
	c, err := New([]Workspace{
		{ID: "ops", Keywords: []string{" Deploy ", ""}},
		{ID: "Billing"},
	})
	require.NoError(t, err)

	id, ok := c.Resolve("BILLING ")
	assert.True(t, ok)
	assert.Equal(t, "Billing", id)

	_, ok = c.Resolve("unknown")
	assert.False(t, ok)

	assert.Equal(t, 1, c.Order("Billing"))
	assert.Equal(t, -1, c.Order("billing"))
	assert.Equal(t, "ops", c.DefaultWorkspace())

	ops, _ := c.Get("ops")
	assert.Equal(t, []string{"deploy"}, ops.Keywords)
	assert.Equal(t, "ops", ops.Name)
}

func TestWorkspacesReturnsCopy(t *testing.T) {
	c := Default()
	ws := c.Workspaces()
	ws[0].ID = "mutated"
	assert.Equal(t, "sales", c.IDs()[0])
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	body := []byte(`workspaces:
  - id: logistics
    name: Logistics
    keywords: [shipment, delivery]
    exemplars:
      - phrase: track the shipment
        intent: read
`)
	require.NoError(t, os.WriteFile(path, body, 0o644))

	c, err := LoadOrDefault(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"logistics"}, c.IDs())

	ws, _ := c.Get("logistics")
	require.Len(t, ws.Exemplars, 1)
	assert.Equal(t, "read", ws.Exemplars[0].Intent)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Parse([]byte("workspaces: ["))
	assert.ErrorContains(t, err, "failed to parse catalog")
}
