package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/intelliquery/intent-agent/internal/llm"
	"github.com/intelliquery/intent-agent/internal/registry"
	"github.com/intelliquery/intent-agent/internal/storage/models"
	"github.com/intelliquery/intent-agent/pkg/apperror"
	"github.com/intelliquery/intent-agent/pkg/logger"
)

// IndexInfo exposes the live generation. *registry.Registry implements it.
type IndexInfo interface {
	Current() *registry.Generation
	BackendName() string
}

// Reloader rebuilds the generation from the configured catalog.
type Reloader interface {
	Reload(ctx context.Context) (*registry.Generation, error)
}

type StatsSource interface {
	GetStats(ctx context.Context) (*models.RequestStats, error)
	Ping(ctx context.Context) error
}

type SystemHandler struct {
	index    IndexInfo
	reloader Reloader
	provider llm.Provider
	stats    StatsSource
	started  time.Time
}

func NewSystemHandler(index IndexInfo, reloader Reloader, provider llm.Provider, stats StatsSource) *SystemHandler {
	if provider == nil {
		provider = llm.Disabled{}
	}
	return &SystemHandler{
		index:    index,
		reloader: reloader,
		provider: provider,
		stats:    stats,
		started:  time.Now(),
	}
}

func (h *SystemHandler) HandleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// HandleReady reports ready once a generation is live and the audit store
// answers.
func (h *SystemHandler) HandleReady(c *fiber.Ctx) error {
	if h.index.Current() == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not_ready",
			"reason": "index not built",
		})
	}
	if h.stats != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := h.stats.Ping(ctx); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "not_ready",
				"reason": "audit store unavailable",
			})
		}
	}
	return c.JSON(fiber.Map{"status": "ready"})
}

func (h *SystemHandler) HandleStatus(c *fiber.Ctx) error {
	index := fiber.Map{"backend": h.index.BackendName(), "built": false}
	catalog := fiber.Map{}
	if gen := h.index.Current(); gen != nil {
		index["built"] = true
		index["version"] = gen.Version
		index["exemplars"] = gen.Index.Len()
		index["embedder"] = gen.Embedder
		index["built_at"] = gen.BuiltAt
		catalog["workspaces"] = gen.Catalog.IDs()
		catalog["workspace_count"] = gen.Catalog.Len()
		catalog["default_workspace"] = gen.Catalog.DefaultWorkspace()
	}

	provider := fiber.Map{
		"name":    h.provider.Name(),
		"enabled": !isDisabled(h.provider),
	}
	if br, ok := h.provider.(llm.BreakerReporter); ok {
		provider["breaker_state"] = br.BreakerState().String()
	}

	resp := fiber.Map{
		"status":         "running",
		"uptime_seconds": time.Since(h.started).Seconds(),
		"index":          index,
		"catalog":        catalog,
		"provider":       provider,
		"timestamp":      time.Now().UTC(),
	}

	if h.stats != nil {
		stats, err := h.stats.GetStats(c.UserContext())
		if err != nil {
			logger.Warn("Failed to load request stats", zap.Error(err))
		} else {
			resp["requests"] = fiber.Map{
				"total":             stats.Total,
				"failed":            stats.Failed,
				"fallbacks":         stats.Fallbacks,
				"validation_failed": stats.ValidationFailed,
				"mean_confidence":   stats.MeanConfidence,
				"mean_latency_ms":   stats.MeanLatencyMS,
			}
		}
	}
	return c.JSON(resp)
}

// HandleReload serves POST /api/catalog/reload. The previous generation
// stays live when the rebuild fails.
func (h *SystemHandler) HandleReload(c *fiber.Ctx) error {
	if h.reloader == nil {
		return errorResponse(c, apperror.New(apperror.CodeNotFound, "catalog reload is not configured"))
	}

	gen, err := h.reloader.Reload(c.UserContext())
	if err != nil {
		logger.Error("Catalog reload failed", zap.Error(err))
		return errorResponse(c, apperror.Wrap(apperror.CodeInternal, "catalog reload failed: "+err.Error(), err))
	}
	return c.JSON(fiber.Map{
		"success":    true,
		"version":    gen.Version,
		"workspaces": gen.Catalog.Len(),
		"exemplars":  gen.Index.Len(),
		"built_at":   gen.BuiltAt,
	})
}

func isDisabled(p llm.Provider) bool {
	_, ok := p.(llm.Disabled)
	return ok
}
