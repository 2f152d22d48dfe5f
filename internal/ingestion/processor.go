package ingestion

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/intelliquery/intent-agent/internal/catalog"
	"github.com/intelliquery/intent-agent/internal/embedding"
	"github.com/intelliquery/intent-agent/internal/index"
	"github.com/intelliquery/intent-agent/pkg/logger"
)

// Processor embeds every exemplar of a catalog into index entries, in
// catalog declaration order.
type Processor struct {
	embedder    embedding.Embedder
	batchSize   int
	concurrency int
}

func NewProcessor(embedder embedding.Embedder) *Processor {
	return &Processor{
		embedder:    embedder,
		batchSize:   32,
		concurrency: 4,
	}
}

func (p *Processor) WithBatching(batchSize, concurrency int) *Processor {
	if batchSize > 0 {
		p.batchSize = batchSize
	}
	if concurrency > 0 {
		p.concurrency = concurrency
	}
	return p
}

type pending struct {
	workspaceID string
	phrase      string
	intent      string
}

// Process returns one entry per non-blank exemplar phrase. The workspace
// description is embedded too when a workspace declares no exemplars, so
// every workspace is reachable by retrieval.
func (p *Processor) Process(ctx context.Context, cat *catalog.Catalog) ([]index.Entry, error) {
	items := collect(cat)
	if len(items) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for start := 0; start < len(items); start += p.batchSize {
		start := start
		end := min(start+p.batchSize, len(items))
		g.Go(func() error {
			texts := make([]string, end-start)
			for i := range texts {
				texts[i] = items[start+i].phrase
			}
			out, err := p.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return fmt.Errorf("failed to embed exemplars %d-%d: %w", start, end, err)
			}
			if len(out) != len(texts) {
				return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(out), len(texts))
			}
			copy(vectors[start:end], out)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	entries := make([]index.Entry, len(items))
	for i, it := range items {
		entries[i] = index.Entry{
			WorkspaceID: it.workspaceID,
			Phrase:      it.phrase,
			Intent:      it.intent,
			Vector:      vectors[i],
		}
	}

	logger.Info("Catalog exemplars embedded",
		zap.Int("workspaces", cat.Len()),
		zap.Int("exemplars", len(entries)),
		zap.String("embedder", p.embedder.Name()),
	)

	return entries, nil
}

func collect(cat *catalog.Catalog) []pending {
	var items []pending
	for _, ws := range cat.Workspaces() {
		added := 0
		for _, ex := range ws.Exemplars {
			phrase := strings.TrimSpace(ex.Phrase)
			if phrase == "" {
				continue
			}
			items = append(items, pending{
				workspaceID: ws.ID,
				phrase:      phrase,
				intent:      strings.ToLower(strings.TrimSpace(ex.Intent)),
			})
			added++
		}
		if added == 0 && strings.TrimSpace(ws.Description) != "" {
			items = append(items, pending{workspaceID: ws.ID, phrase: strings.TrimSpace(ws.Description)})
		}
	}
	return items
}
