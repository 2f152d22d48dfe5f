package index

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entries() []Entry {
	return []Entry{
		{WorkspaceID: "sales", Phrase: "total sales", Intent: "read", Vector: []float32{1, 0, 0}},
		{WorkspaceID: "inventory", Phrase: "stock levels", Vector: []float32{0, 2, 0}},
		{WorkspaceID: "finance", Phrase: "expenses", Vector: []float32{0, 3, 0}},
		{WorkspaceID: "hr", Phrase: "headcount", Vector: []float32{-1, 0, 0}},
	}
}

func TestBuildNormalises(t *testing.T) {
	s, err := Build(3, entries())
	require.NoError(t, err)
	assert.Equal(t, 4, s.Len())
	assert.Equal(t, 3, s.Dim())

	for _, e := range s.entries {
		var n float64
		for _, x := range e.Vector {
			n += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, math.Sqrt(n), 1e-6)
	}
}

func TestBuildRejects(t *testing.T) {
	_, err := Build(3, []Entry{{WorkspaceID: "x", Vector: []float32{1, 0}}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = Build(3, []Entry{{WorkspaceID: "x", Vector: []float32{0, 0, 0}}})
	assert.ErrorIs(t, err, ErrZeroVector)

	_, err = Build(0, nil)
	assert.Error(t, err)
}

func TestSearchRanksWithInsertionOrderTieBreak(t *testing.T) {
	s, err := Build(3, entries())
	require.NoError(t, err)

	got, err := s.Search(context.Background(), []float32{0, 5, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "inventory", got[0].WorkspaceID)
	assert.Equal(t, "finance", got[1].WorkspaceID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
}

func TestSearchClampsNegativeSimilarity(t *testing.T) {
	s, err := Build(3, entries())
	require.NoError(t, err)

	got, err := s.Search(context.Background(), []float32{1, 0, 0}, 0)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "sales", got[0].WorkspaceID)
	assert.Equal(t, "read", got[0].Intent)
	assert.Equal(t, "hr", got[3].WorkspaceID)
	assert.Equal(t, 0.0, got[3].Score)
	for _, m := range got {
		assert.GreaterOrEqual(t, m.Score, 0.0)
		assert.LessOrEqual(t, m.Score, 1.0)
	}
}

func TestSearchIsDeterministicAcrossRebuilds(t *testing.T) {
	a, _ := Build(3, entries())
	b, _ := Build(3, entries())
	q := []float32{0.3, 0.7, 0.1}

	ra, err := a.Search(context.Background(), q, 3)
	require.NoError(t, err)
	rb, err := b.Search(context.Background(), q, 3)
	require.NoError(t, err)
	assert.Equal(t, ra, rb)
}

func TestSearchErrors(t *testing.T) {
	empty, err := Build(3, nil)
	require.NoError(t, err)
	_, err = empty.Search(context.Background(), []float32{1, 0, 0}, 3)
	assert.ErrorIs(t, err, ErrEmptyIndex)

	var nilSnap *Snapshot
	_, err = nilSnap.Search(context.Background(), []float32{1}, 1)
	assert.ErrorIs(t, err, ErrEmptyIndex)

	s, _ := Build(3, entries())
	_, err = s.Search(context.Background(), []float32{1, 0}, 3)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Search(ctx, []float32{1, 0, 0}, 3)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0.0, ClampScore(-0.2))
	assert.Equal(t, 1.0, ClampScore(1.0000001))
	assert.Equal(t, 0.0, ClampScore(math.NaN()))
	assert.Equal(t, 0.4, ClampScore(0.4))
}
