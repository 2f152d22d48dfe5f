// Package index implements nearest-neighbour search over workspace exemplar
// vectors. Vectors are L2-normalised at build time so cosine similarity is a
// plain inner product.
package index

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	ErrEmptyIndex        = errors.New("similarity index is empty")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrZeroVector        = errors.New("zero-length vector")
)

type Entry struct {
	WorkspaceID string
	Phrase      string
	Intent      string
	Vector      []float32
}

type Match struct {
	WorkspaceID string  `json:"workspace_id"`
	Phrase      string  `json:"phrase"`
	Intent      string  `json:"intent,omitempty"`
	Score       float64 `json:"score"`
	Position    int     `json:"-"`
}

// Searcher is the similarity backend consumed by the retrieve stage.
type Searcher interface {
	Search(ctx context.Context, vector []float32, k int) ([]Match, error)
	Len() int
}

// Snapshot is an immutable in-memory index.
type Snapshot struct {
	dim     int
	entries []Entry
}

// Build copies and normalises entries, keeping their order as the tie-break.
func Build(dim int, entries []Entry) (*Snapshot, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dim)
	}
	s := &Snapshot{dim: dim, entries: make([]Entry, 0, len(entries))}
	for i, e := range entries {
		if len(e.Vector) != dim {
			return nil, fmt.Errorf("entry %d (%s): %w: got %d, want %d", i, e.WorkspaceID, ErrDimensionMismatch, len(e.Vector), dim)
		}
		v, err := Normalize(e.Vector)
		if err != nil {
			return nil, fmt.Errorf("entry %d (%s): %w", i, e.WorkspaceID, err)
		}
		e.Vector = v
		s.entries = append(s.entries, e)
	}
	return s, nil
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

func (s *Snapshot) Dim() int {
	return s.dim
}

// Search returns the top-k entries by similarity, descending, ties broken by
// insertion order. Scores are clamped into [0,1].
func (s *Snapshot) Search(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if s.Len() == 0 {
		return nil, ErrEmptyIndex
	}
	if len(vector) != s.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), s.dim)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q, err := Normalize(vector)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, len(s.entries))
	for i, e := range s.entries {
		matches[i] = Match{
			WorkspaceID: e.WorkspaceID,
			Phrase:      e.Phrase,
			Intent:      e.Intent,
			Score:       ClampScore(dot(q, e.Vector)),
			Position:    i,
		}
	}
	Rank(matches)

	if k > 0 && k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}

// Rank sorts by score descending then by Position ascending.
func Rank(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Position < matches[j].Position
	})
}

// Normalize returns a unit-length copy of v.
func Normalize(v []float32) ([]float32, error) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, ErrZeroVector
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}

func ClampScore(s float64) float64 {
	switch {
	case math.IsNaN(s) || s < 0:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
