package zilliz

import (
	"context"
	"sort"
	"testing"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelliquery/intent-agent/internal/index"
)

func TestCollectionNaming(t *testing.T) {
	name := CollectionName("workspace_exemplars", 7)
	assert.Equal(t, "workspace_exemplars_v7", name)

	v, ok := parseVersion("workspace_exemplars", name)
	assert.True(t, ok)
	assert.Equal(t, uint64(7), v)

	_, ok = parseVersion("workspace_exemplars", "other_v3")
	assert.False(t, ok)
	_, ok = parseVersion("workspace_exemplars", "workspace_exemplars_vX")
	assert.False(t, ok)
}

func TestColumnsNormaliseAndValidate(t *testing.T) {
	cols, err := columns(2, []index.Entry{
		{WorkspaceID: "sales", Phrase: "total sales", Intent: "read", Vector: []float32{3, 4}},
		{WorkspaceID: "hr", Phrase: "headcount", Vector: []float32{0, 1}},
	})
	require.NoError(t, err)
	require.Len(t, cols, 5)

	for _, c := range cols {
		assert.Equal(t, 2, c.Len(), c.Name())
	}

	vec, err := cols[1].Get(0)
	require.NoError(t, err)
	fv, ok := vec.([]float32)
	require.True(t, ok)
	assert.InDelta(t, 0.6, fv[0], 1e-6)
	assert.InDelta(t, 0.8, fv[1], 1e-6)

	_, err = columns(3, []index.Entry{{WorkspaceID: "x", Vector: []float32{1}}})
	assert.ErrorIs(t, err, index.ErrDimensionMismatch)

	_, err = columns(2, []index.Entry{{WorkspaceID: "x", Vector: []float32{0, 0}}})
	assert.ErrorIs(t, err, index.ErrZeroVector)
}

func TestCollectionSearchGuards(t *testing.T) {
	empty := &Collection{name: "c_v1", dim: 2}
	_, err := empty.Search(context.Background(), []float32{1, 0}, 3)
	assert.ErrorIs(t, err, index.ErrEmptyIndex)

	c := &Collection{name: "c_v1", dim: 2, count: 1}
	_, err = c.Search(context.Background(), []float32{1, 0, 0}, 3)
	assert.ErrorIs(t, err, index.ErrDimensionMismatch)
	assert.Equal(t, "c_v1", c.Name())
	assert.Equal(t, 1, c.Len())
}

// fakeMilvus cuts at topK like the server and orders equal scores by
// descending id, the opposite of catalog order.
type fakeMilvus struct {
	client.Client
	scores []float32
	limits []int
}

func (f *fakeMilvus) Search(_ context.Context, _ string, _ []string, _ string, _ []string,
	_ []entity.Vector, _ string, _ entity.MetricType, topK int, _ entity.SearchParam, _ ...client.SearchQueryOptionFunc) ([]client.SearchResult, error) {
	f.limits = append(f.limits, topK)

	ids := make([]int64, len(f.scores))
	for i := range ids {
		ids[i] = int64(i)
	}
	sort.Slice(ids, func(i, j int) bool {
		if f.scores[ids[i]] != f.scores[ids[j]] {
			return f.scores[ids[i]] > f.scores[ids[j]]
		}
		return ids[i] > ids[j]
	})
	ids = ids[:min(topK, len(ids))]

	scores := make([]float32, len(ids))
	workspaces := make([]string, len(ids))
	for i, id := range ids {
		scores[i] = f.scores[id]
		workspaces[i] = "sales"
	}
	return []client.SearchResult{{
		ResultCount: len(ids),
		IDs:         entity.NewColumnInt64(fieldID, ids),
		Fields:      client.ResultSet{entity.NewColumnVarChar(fieldWorkspaceID, workspaces)},
		Scores:      scores,
	}}, nil
}

func positions(matches []index.Match) []int {
	out := make([]int, len(matches))
	for i, m := range matches {
		out[i] = m.Position
	}
	return out
}

func TestCollectionSearchBreaksTiesByCatalogOrder(t *testing.T) {
	scores := make([]float32, 20)
	for i := range scores {
		scores[i] = 0.5
	}
	fake := &fakeMilvus{scores: scores}
	c := &Collection{client: fake, name: "c_v1", dim: 2, count: len(scores)}

	matches, err := c.Search(context.Background(), []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, positions(matches))
	assert.Equal(t, []int{3 + tieMargin, 20}, fake.limits)
}

func TestCollectionSearchWithoutBoundaryTie(t *testing.T) {
	scores := make([]float32, 20)
	for i := range scores {
		scores[i] = 0.9 - float32(i)*0.01
	}
	scores[1] = scores[0]
	fake := &fakeMilvus{scores: scores}
	c := &Collection{client: fake, name: "c_v1", dim: 2, count: len(scores)}

	matches, err := c.Search(context.Background(), []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, positions(matches))
	assert.Equal(t, []int{3 + tieMargin}, fake.limits)
}

func TestTieAtCut(t *testing.T) {
	ranked := []index.Match{{Score: 0.9}, {Score: 0.5}, {Score: 0.5}}
	assert.True(t, tieAtCut(ranked, 2))
	assert.False(t, tieAtCut(ranked, 1))
	assert.False(t, tieAtCut(ranked, 3))
	assert.False(t, tieAtCut(ranked, 0))
}
