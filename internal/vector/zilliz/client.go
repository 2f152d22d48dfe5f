package zilliz

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/intelliquery/intent-agent/internal/index"
	"github.com/intelliquery/intent-agent/pkg/logger"
)

const (
	fieldID          = "exemplar_id"
	fieldEmbedding   = "embedding"
	fieldWorkspaceID = "workspace_id"
	fieldPhrase      = "phrase"
	fieldIntent      = "intent"

	tieMargin = 8
)

// Client manages versioned exemplar collections in Milvus/Zilliz. Each index
// generation lives in its own collection "<prefix>_v<version>", so readers
// holding an older Collection keep a complete view until it is dropped.
type Client struct {
	client    client.Client
	prefix    string
	vectorDim int
}

func NewClient(ctx context.Context, endpoint, apiKey, prefix string, vectorDim int) (*Client, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: endpoint,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Zilliz/Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection_prefix", prefix),
	)

	return &Client{client: c, prefix: prefix, vectorDim: vectorDim}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

// CollectionName returns the collection holding the given generation.
func CollectionName(prefix string, version uint64) string {
	return fmt.Sprintf("%s_v%d", prefix, version)
}

func parseVersion(prefix, name string) (uint64, bool) {
	rest, ok := strings.CutPrefix(name, prefix+"_v")
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseUint(rest, 10, 64)
	return v, err == nil
}

func (z *Client) schema(name string) *entity.Schema {
	return &entity.Schema{
		CollectionName: name,
		Description:    "workspace exemplar embeddings",
		Fields: []*entity.Field{
			{
				Name:       fieldID,
				DataType:   entity.FieldTypeInt64,
				PrimaryKey: true,
				AutoID:     false,
			},
			{
				Name:     fieldEmbedding,
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": strconv.Itoa(z.vectorDim),
				},
			},
			{
				Name:     fieldWorkspaceID,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     fieldPhrase,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "1024",
				},
			},
			{
				Name:     fieldIntent,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "32",
				},
			},
		},
	}
}

// Publish writes entries into a fresh collection for version, builds a flat
// inner-product index and loads it. Vectors are normalised first so inner
// product equals cosine similarity.
func (z *Client) Publish(ctx context.Context, version uint64, entries []index.Entry) (*Collection, error) {
	name := CollectionName(z.prefix, version)

	has, err := z.client.HasCollection(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection: %w", err)
	}
	if has {
		if err := z.client.DropCollection(ctx, name); err != nil {
			return nil, fmt.Errorf("failed to drop stale collection: %w", err)
		}
	}

	if err := z.client.CreateCollection(ctx, z.schema(name), entity.DefaultShardNumber); err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	cols, err := columns(z.vectorDim, entries)
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		if _, err := z.client.Insert(ctx, name, "", cols...); err != nil {
			return nil, fmt.Errorf("failed to insert exemplars: %w", err)
		}
		if err := z.client.Flush(ctx, name, false); err != nil {
			return nil, fmt.Errorf("failed to flush: %w", err)
		}
	}

	idx, err := entity.NewIndexFlat(entity.IP)
	if err != nil {
		return nil, fmt.Errorf("failed to build index params: %w", err)
	}
	if err := z.client.CreateIndex(ctx, name, fieldEmbedding, idx, false); err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	if err := z.client.LoadCollection(ctx, name, false); err != nil {
		return nil, fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Exemplar collection published",
		zap.String("collection", name),
		zap.Int("exemplars", len(entries)),
	)

	return &Collection{client: z.client, name: name, dim: z.vectorDim, count: len(entries)}, nil
}

// DropOlder removes every versioned collection below keep.
func (z *Client) DropOlder(ctx context.Context, keep uint64) error {
	collections, err := z.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, coll := range collections {
		v, ok := parseVersion(z.prefix, coll.Name)
		if !ok || v >= keep {
			continue
		}
		if err := z.client.DropCollection(ctx, coll.Name); err != nil {
			logger.Warn("Failed to drop old collection", zap.String("collection", coll.Name), zap.Error(err))
			continue
		}
		logger.Info("Old exemplar collection dropped", zap.String("collection", coll.Name))
	}
	return nil
}

func columns(dim int, entries []index.Entry) ([]entity.Column, error) {
	ids := make([]int64, len(entries))
	vectors := make([][]float32, len(entries))
	workspaces := make([]string, len(entries))
	phrases := make([]string, len(entries))
	intents := make([]string, len(entries))

	for i, e := range entries {
		if len(e.Vector) != dim {
			return nil, fmt.Errorf("entry %d: %w: got %d, want %d", i, index.ErrDimensionMismatch, len(e.Vector), dim)
		}
		v, err := index.Normalize(e.Vector)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		ids[i] = int64(i)
		vectors[i] = v
		workspaces[i] = e.WorkspaceID
		phrases[i] = e.Phrase
		intents[i] = e.Intent
	}

	return []entity.Column{
		entity.NewColumnInt64(fieldID, ids),
		entity.NewColumnFloatVector(fieldEmbedding, dim, vectors),
		entity.NewColumnVarChar(fieldWorkspaceID, workspaces),
		entity.NewColumnVarChar(fieldPhrase, phrases),
		entity.NewColumnVarChar(fieldIntent, intents),
	}, nil
}

// Collection is one published generation; it implements index.Searcher.
type Collection struct {
	client client.Client
	name   string
	dim    int
	count  int
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) Len() int { return c.count }

func (c *Collection) Search(ctx context.Context, vector []float32, k int) ([]index.Match, error) {
	if c.count == 0 {
		return nil, index.ErrEmptyIndex
	}
	if len(vector) != c.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", index.ErrDimensionMismatch, len(vector), c.dim)
	}
	q, err := index.Normalize(vector)
	if err != nil {
		return nil, err
	}
	if k <= 0 || k > c.count {
		k = c.count
	}

	// Milvus cuts at top-k before equal scores are ordered by catalog
	// position, so fetch a margin and widen to the whole collection when a
	// tie still straddles the cut.
	limit := min(k+tieMargin, c.count)
	matches, err := c.search(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	if limit < c.count && len(matches) == limit && tieAtCut(matches, k) {
		limit = c.count
		if matches, err = c.search(ctx, q, limit); err != nil {
			return nil, err
		}
	}
	if len(matches) > k {
		matches = matches[:k]
	}

	logger.Debug("Vector search completed",
		zap.String("collection", c.name),
		zap.Int("topK", k),
		zap.Int("fetched", limit),
		zap.Int("results", len(matches)),
	)

	return matches, nil
}

func (c *Collection) search(ctx context.Context, q []float32, limit int) ([]index.Match, error) {
	sp, err := entity.NewIndexFlatSearchParam()
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	results, err := c.client.Search(
		ctx,
		c.name,
		[]string{},
		"",
		[]string{fieldWorkspaceID, fieldPhrase, fieldIntent},
		[]entity.Vector{entity.FloatVector(q)},
		fieldEmbedding,
		entity.IP,
		limit,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	matches := make([]index.Match, 0, limit)
	for _, sr := range results {
		for i := 0; i < sr.ResultCount; i++ {
			m, err := readMatch(sr, i)
			if err != nil {
				return nil, err
			}
			matches = append(matches, m)
		}
	}
	index.Rank(matches)
	return matches, nil
}

// tieAtCut reports whether the last fetched match scores the same as the
// k-th, meaning unfetched entries could share that score.
func tieAtCut(ranked []index.Match, k int) bool {
	if k <= 0 || len(ranked) <= k {
		return false
	}
	return ranked[len(ranked)-1].Score == ranked[k-1].Score
}

func readMatch(sr client.SearchResult, i int) (index.Match, error) {
	id, err := sr.IDs.Get(i)
	if err != nil {
		return index.Match{}, fmt.Errorf("failed to read id: %w", err)
	}
	pos, _ := id.(int64)

	m := index.Match{
		WorkspaceID: stringAt(sr, fieldWorkspaceID, i),
		Phrase:      stringAt(sr, fieldPhrase, i),
		Intent:      stringAt(sr, fieldIntent, i),
		Score:       index.ClampScore(float64(sr.Scores[i])),
		Position:    int(pos),
	}
	if m.WorkspaceID == "" {
		return index.Match{}, fmt.Errorf("search result %d has no workspace id", i)
	}
	return m, nil
}

func stringAt(sr client.SearchResult, field string, i int) string {
	col := sr.Fields.GetColumn(field)
	if col == nil {
		return ""
	}
	v, err := col.Get(i)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}
