// Package registry owns the live catalog and similarity index. Requests take
// one Generation at start; Rebuild swaps in a complete new generation
// atomically, so readers never observe a partial index.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/intelliquery/intent-agent/internal/catalog"
	"github.com/intelliquery/intent-agent/internal/embedding"
	"github.com/intelliquery/intent-agent/internal/index"
	"github.com/intelliquery/intent-agent/internal/ingestion"
	"github.com/intelliquery/intent-agent/internal/metrics"
	"github.com/intelliquery/intent-agent/internal/vector/zilliz"
	"github.com/intelliquery/intent-agent/pkg/logger"
)

var ErrNotReady = errors.New("registry has no generation yet")

type Generation struct {
	Version  uint64
	Catalog  *catalog.Catalog
	Index    index.Searcher
	Embedder string
	BuiltAt  time.Time
}

// Backend materialises index entries into a searchable form.
type Backend interface {
	Publish(ctx context.Context, version uint64, dim int, entries []index.Entry) (index.Searcher, error)
	// Retire releases generations with a version below keep.
	Retire(ctx context.Context, keep uint64)
	Name() string
}

type Registry struct {
	embedder  embedding.Embedder
	processor *ingestion.Processor
	backend   Backend

	mu      sync.Mutex
	current atomic.Pointer[Generation]
	version uint64
}

func New(embedder embedding.Embedder, backend Backend) *Registry {
	if backend == nil {
		backend = MemoryBackend{}
	}
	return &Registry{
		embedder:  embedder,
		processor: ingestion.NewProcessor(embedder),
		backend:   backend,
	}
}

// WithBatching sets how exemplars are grouped and parallelised when a
// generation is embedded.
func (r *Registry) WithBatching(batchSize, concurrency int) *Registry {
	r.processor.WithBatching(batchSize, concurrency)
	return r
}

// Current returns the live generation, or nil before the first Rebuild.
func (r *Registry) Current() *Generation {
	return r.current.Load()
}

func (r *Registry) Embedder() embedding.Embedder {
	return r.embedder
}

func (r *Registry) BackendName() string {
	return r.backend.Name()
}

// Rebuild embeds cat, publishes a new index and swaps it in. Concurrent
// rebuilds are serialised; on error the previous generation stays live.
func (r *Registry) Rebuild(ctx context.Context, cat *catalog.Catalog) (*Generation, error) {
	if cat == nil {
		return nil, fmt.Errorf("rebuild: nil catalog")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	version := r.version + 1

	entries, err := r.processor.Process(ctx, cat)
	if err != nil {
		metrics.IndexRebuilds.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("rebuild: %w", err)
	}

	searcher, err := r.backend.Publish(ctx, version, r.embedder.Dimensions(), entries)
	if err != nil {
		metrics.IndexRebuilds.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("rebuild: %w", err)
	}

	gen := &Generation{
		Version:  version,
		Catalog:  cat,
		Index:    searcher,
		Embedder: r.embedder.Name(),
		BuiltAt:  time.Now().UTC(),
	}
	r.version = version
	r.current.Store(gen)
	// Requests that loaded the previous generation may still be searching it.
	r.backend.Retire(ctx, version-1)
	metrics.IndexRebuilds.WithLabelValues("success").Inc()
	metrics.IndexExemplars.Set(float64(searcher.Len()))

	logger.Info("Index generation published",
		zap.Uint64("version", version),
		zap.Int("workspaces", cat.Len()),
		zap.Int("exemplars", searcher.Len()),
		zap.String("backend", r.backend.Name()),
		zap.Duration("elapsed", time.Since(start)),
	)

	return gen, nil
}

// MemoryBackend keeps each generation as an in-process snapshot.
type MemoryBackend struct{}

func (MemoryBackend) Publish(_ context.Context, _ uint64, dim int, entries []index.Entry) (index.Searcher, error) {
	return index.Build(dim, entries)
}

func (MemoryBackend) Retire(context.Context, uint64) {}

func (MemoryBackend) Name() string { return "memory" }

// MilvusBackend publishes each generation to its own collection. The live
// and the previous collections are kept; older ones are dropped after a swap.
type MilvusBackend struct {
	Client *zilliz.Client
}

func (m MilvusBackend) Publish(ctx context.Context, version uint64, _ int, entries []index.Entry) (index.Searcher, error) {
	return m.Client.Publish(ctx, version, entries)
}

func (m MilvusBackend) Retire(ctx context.Context, keep uint64) {
	if err := m.Client.DropOlder(ctx, keep); err != nil {
		logger.Warn("Failed to retire old exemplar collections", zap.Error(err))
	}
}

func (MilvusBackend) Name() string { return "milvus" }
