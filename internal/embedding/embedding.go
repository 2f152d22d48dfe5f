// Package embedding turns text into fixed-dimension vectors for the
// similarity index.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/intelliquery/intent-agent/internal/metrics"
	"github.com/intelliquery/intent-agent/pkg/logger"
	"github.com/intelliquery/intent-agent/pkg/utils"
)

var ErrEmptyText = errors.New("cannot embed empty text")

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// HashEmbedder is a deterministic local embedder using signed feature
// hashing over word unigrams, bigrams and character trigrams. It needs no
// network and gives lexically similar phrases similar vectors.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 384
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Dimensions() int { return h.dim }

func (h *HashEmbedder) Name() string { return fmt.Sprintf("hash-%d", h.dim) }

func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil, ErrEmptyText
	}

	vec := make([]float32, h.dim)
	for i, tok := range tokens {
		h.add(vec, "w:"+tok, 1.0)
		if i > 0 {
			h.add(vec, "b:"+tokens[i-1]+" "+tok, 0.7)
		}
		padded := "#" + tok + "#"
		for j := 0; j+3 <= len(padded); j++ {
			h.add(vec, "c:"+padded[j:j+3], 0.3)
		}
	}
	return vec, nil
}

func (h *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func (h *HashEmbedder) add(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dim))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Store persists embeddings between processes; the redis cache implements it.
type Store interface {
	GetEmbedding(ctx context.Context, key string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, key string, embedding []float32, ttl time.Duration) error
}

// Cached fronts an Embedder with a Store. Cache failures are logged and
// never fail the embedding call.
type Cached struct {
	inner Embedder
	store Store
	ttl   time.Duration
}

func NewCached(inner Embedder, store Store, ttl time.Duration) *Cached {
	return &Cached{inner: inner, store: store, ttl: ttl}
}

func (c *Cached) Dimensions() int { return c.inner.Dimensions() }

func (c *Cached) Name() string { return c.inner.Name() }

func (c *Cached) key(text string) string {
	return utils.CacheKey(c.inner.Name(), text)
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if v, ok, err := c.store.GetEmbedding(ctx, key); err != nil {
		logger.Warn("Embedding cache read failed", zap.Error(err))
	} else if ok && len(v) == c.inner.Dimensions() {
		metrics.CacheHits.WithLabelValues("embedding").Inc()
		return v, nil
	}
	metrics.CacheMisses.WithLabelValues("embedding").Inc()

	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.store.SetEmbedding(ctx, key, v, c.ttl); err != nil {
		logger.Warn("Embedding cache write failed", zap.Error(err))
	}
	return v, nil
}

func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []int
	for i, t := range texts {
		v, ok, err := c.store.GetEmbedding(ctx, c.key(t))
		if err == nil && ok && len(v) == c.inner.Dimensions() {
			metrics.CacheHits.WithLabelValues("embedding").Inc()
			out[i] = v
			continue
		}
		metrics.CacheMisses.WithLabelValues("embedding").Inc()
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	batch := make([]string, len(missing))
	for j, i := range missing {
		batch[j] = texts[i]
	}
	vecs, err := c.inner.EmbedBatch(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(batch) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(batch))
	}
	for j, i := range missing {
		out[i] = vecs[j]
		if err := c.store.SetEmbedding(ctx, c.key(texts[i]), vecs[j], c.ttl); err != nil {
			logger.Warn("Embedding cache write failed", zap.Error(err))
		}
	}
	return out, nil
}
