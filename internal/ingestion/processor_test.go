package ingestion

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelliquery/intent-agent/internal/catalog"
	"github.com/intelliquery/intent-agent/internal/embedding"
)

type failingEmbedder struct{ *embedding.HashEmbedder }

func (failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("provider unavailable")
}

func TestProcessKeepsCatalogOrder(t *testing.T) {
	cat, err := catalog.New([]catalog.Workspace{
		{ID: "sales", Exemplars: []catalog.Exemplar{{Phrase: "total sales", Intent: "READ"}, {Phrase: "  "}, {Phrase: "orders today"}}},
		{ID: "hr", Description: "employees and payroll"},
		{ID: "empty"},
	})
	require.NoError(t, err)

	p := NewProcessor(embedding.NewHashEmbedder(32)).WithBatching(1, 2)
	entries, err := p.Process(context.Background(), cat)
	require.NoError(t, err)

	require.Len(t, entries, 3)
	assert.Equal(t, "sales", entries[0].WorkspaceID)
	assert.Equal(t, "total sales", entries[0].Phrase)
	assert.Equal(t, "read", entries[0].Intent)
	assert.Equal(t, "orders today", entries[1].Phrase)
	assert.Equal(t, "hr", entries[2].WorkspaceID)
	assert.Equal(t, "employees and payroll", entries[2].Phrase)
	for _, e := range entries {
		assert.Len(t, e.Vector, 32)
	}
}

func TestProcessDefaultCatalog(t *testing.T) {
	entries, err := NewProcessor(embedding.NewHashEmbedder(64)).Process(context.Background(), catalog.Default())
	require.NoError(t, err)
	assert.Len(t, entries, catalog.Default().ExemplarCount())
}

func TestProcessPropagatesEmbedderError(t *testing.T) {
	p := NewProcessor(failingEmbedder{embedding.NewHashEmbedder(8)})
	_, err := p.Process(context.Background(), catalog.Default())
	assert.ErrorContains(t, err, "provider unavailable")
}
