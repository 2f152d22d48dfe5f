// Package app assembles the runtime shared by the API server and the CLI:
// stores, embedder, index registry, remote provider and the pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/intelliquery/intent-agent/internal/api/handlers"
	cacheredis "github.com/intelliquery/intent-agent/internal/cache/redis"
	"github.com/intelliquery/intent-agent/internal/catalog"
	"github.com/intelliquery/intent-agent/internal/classifier"
	"github.com/intelliquery/intent-agent/internal/embedding"
	"github.com/intelliquery/intent-agent/internal/entities"
	"github.com/intelliquery/intent-agent/internal/llm"
	"github.com/intelliquery/intent-agent/internal/mapper"
	"github.com/intelliquery/intent-agent/internal/metrics"
	"github.com/intelliquery/intent-agent/internal/pipeline"
	"github.com/intelliquery/intent-agent/internal/registry"
	"github.com/intelliquery/intent-agent/internal/storage/sqlite"
	"github.com/intelliquery/intent-agent/internal/vector/zilliz"
	"github.com/intelliquery/intent-agent/pkg/config"
	"github.com/intelliquery/intent-agent/pkg/logger"
)

// Runtime owns every long-lived component. Close releases them.
type Runtime struct {
	Config       *config.Config
	Registry     *registry.Registry
	Provider     llm.Provider
	Orchestrator *pipeline.Orchestrator

	// Store is nil when the audit store is disabled.
	Store *sqlite.Client

	cache   *cacheredis.Client
	vectors *zilliz.Client
}

// New builds the runtime and publishes the first index generation from the
// configured catalog.
func New(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	rt := &Runtime{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	metrics.Init()

	if cfg.SQLite.Enabled {
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		store, err := sqlite.NewClient(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		rt.Store = store
		if err := store.InitSchema(); err != nil {
			return nil, err
		}
	}

	if cfg.Redis.Enabled {
		cache, err := cacheredis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("Redis unavailable, embedding cache disabled", zap.Error(err))
		} else {
			rt.cache = cache
		}
	}

	embedder := rt.buildEmbedder()

	var backend registry.Backend = registry.MemoryBackend{}
	if cfg.Retrieval.Backend == "milvus" {
		vectors, err := zilliz.NewClient(ctx, cfg.Zilliz.Endpoint, cfg.Zilliz.APIKey, cfg.Zilliz.CollectionPrefix, embedder.Dimensions())
		if err != nil {
			return nil, err
		}
		rt.vectors = vectors
		backend = registry.MilvusBackend{Client: vectors}
	}
	rt.Registry = registry.New(embedder, backend).WithBatching(cfg.Embedding.BatchSize, cfg.Embedding.Concurrency)

	cat, err := catalog.LoadOrDefault(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	if _, err := rt.Registry.Rebuild(ctx, cat); err != nil {
		return nil, fmt.Errorf("failed to build initial index: %w", err)
	}

	var recognizer entities.Recognizer
	if cfg.Entities.NEREnabled {
		recognizer = entities.NewProseRecognizer()
	}
	extractor, err := entities.NewPatternExtractor(entities.Config{
		Locations:      cfg.Entities.Locations,
		Products:       cfg.Entities.Products,
		CustomPatterns: cfg.Entities.CustomPatterns,
		Recognizer:     recognizer,
	})
	if err != nil {
		return nil, err
	}

	rt.Provider, err = llm.NewFromConfig(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}
	prompts, err := mapper.LoadPrompts(cfg.Prompt.Path)
	if err != nil {
		return nil, err
	}
	m := mapper.New(rt.Provider, prompts, mapper.Config{
		MaxAttempts:    cfg.Pipeline.MaxAttempts,
		BaseDelay:      cfg.Pipeline.BaseDelay(),
		MaxDelay:       cfg.Pipeline.MaxDelay(),
		AttemptTimeout: cfg.LLM.Timeout(),
		HintCandidates: cfg.Pipeline.HintCandidates,
	})

	deps := pipeline.Deps{
		Source:    rt.Registry,
		Extractor: extractor,
		Classifier: classifier.New(classifier.Config{
			LexicalWeight:  cfg.Pipeline.LexicalWeight,
			SemanticWeight: cfg.Pipeline.SemanticWeight,
			Threshold:      cfg.Pipeline.WorkspaceThreshold,
			Temperature:    cfg.Pipeline.Temperature,
		}),
		Mapper:    m,
		Observers: []pipeline.Observer{pipeline.MetricsObserver{}},
	}
	if rt.Store != nil {
		deps.Recorder = rt.Store
	}

	rt.Orchestrator, err = pipeline.New(pipeline.Config{
		TopK:             cfg.Retrieval.TopK,
		RetrievalTimeout: cfg.Retrieval.Timeout(),
		FallbackCeiling:  cfg.Pipeline.FallbackCeiling,
		RepairAttempts:   cfg.Pipeline.RepairAttempts,
		MaxQueryLength:   cfg.Server.MaxQueryLen,
	}, deps)
	if err != nil {
		return nil, err
	}

	logger.Info("Runtime initialized",
		zap.String("provider", rt.Provider.Name()),
		zap.String("embedder", embedder.Name()),
		zap.String("retrieval_backend", backend.Name()),
		zap.Bool("audit_store", rt.Store != nil),
		zap.Bool("embedding_cache", rt.cache != nil),
		zap.Bool("ner", recognizer != nil),
	)

	ok = true
	return rt, nil
}

func (rt *Runtime) buildEmbedder() embedding.Embedder {
	cfg := rt.Config.Embedding

	var embedder embedding.Embedder
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		key := cfg.APIKey
		if key == "" && strings.EqualFold(rt.Config.LLM.Provider, "openai") {
			key = rt.Config.LLM.APIKey
		}
		if key == "" {
			logger.Warn("No API key for embeddings, using hash embedder")
			embedder = embedding.NewHashEmbedder(cfg.Dim)
		} else {
			embedder = llm.NewOpenAIEmbedder(key, rt.Config.LLM.BaseURL, cfg.Model, cfg.Dim)
		}
	default:
		embedder = embedding.NewHashEmbedder(cfg.Dim)
	}

	if rt.cache != nil {
		return embedding.NewCached(embedder, rt.cache, time.Duration(cfg.CacheTTL)*time.Second)
	}
	return embedder
}

// Reload rebuilds the index from the catalog file. The live generation is
// kept when loading or rebuilding fails.
func (rt *Runtime) Reload(ctx context.Context) (*registry.Generation, error) {
	cat, err := catalog.LoadOrDefault(rt.Config.Catalog.Path)
	if err != nil {
		return nil, err
	}
	return rt.Registry.Rebuild(ctx, cat)
}

// Handlers builds the HTTP handlers over this runtime.
func (rt *Runtime) Handlers() handlers.Handlers {
	var history handlers.HistoryStore
	var stats handlers.StatsSource
	if rt.Store != nil {
		history = rt.Store
		stats = rt.Store
	}
	return handlers.Handlers{
		Intent:    handlers.NewIntentHandler(rt.Orchestrator),
		WebSocket: handlers.NewWebSocketHandler(rt.Orchestrator),
		System:    handlers.NewSystemHandler(rt.Registry, rt, rt.Provider, stats),
		History:   handlers.NewHistoryHandler(history),
	}
}

// Close releases every client that was opened, in reverse order.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.vectors != nil {
		errs = append(errs, rt.vectors.Close())
	}
	if rt.cache != nil {
		errs = append(errs, rt.cache.Close())
	}
	if rt.Store != nil {
		errs = append(errs, rt.Store.Close())
	}
	return errors.Join(errs...)
}
