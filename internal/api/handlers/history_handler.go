package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/intelliquery/intent-agent/internal/schema"
	"github.com/intelliquery/intent-agent/internal/storage/models"
	"github.com/intelliquery/intent-agent/pkg/apperror"
	"github.com/intelliquery/intent-agent/pkg/logger"
)

// HistoryStore is the request audit store. *sqlite.Client implements it.
type HistoryStore interface {
	GetRecentRequests(ctx context.Context, limit int) ([]models.IntentRequest, error)
	GetRequest(ctx context.Context, id string) (*models.IntentRequest, []models.StageResult, error)
	StoreFeedback(ctx context.Context, f *models.Feedback) error
}

type HistoryHandler struct {
	store HistoryStore
}

func NewHistoryHandler(store HistoryStore) *HistoryHandler {
	return &HistoryHandler{store: store}
}

type requestView struct {
	ID               string   `json:"id"`
	Query            string   `json:"query"`
	Success          bool     `json:"success"`
	ErrorCode        string   `json:"error_code,omitempty"`
	IntentType       string   `json:"intent_type,omitempty"`
	Workspaces       []string `json:"workspaces"`
	Confidence       float64  `json:"confidence"`
	Provider         string   `json:"provider,omitempty"`
	LLMAttempts      int      `json:"llm_attempts"`
	FallbackUsed     bool     `json:"fallback_used"`
	ValidationFailed bool     `json:"validation_failed"`
	LatencyMS        int64    `json:"latency_ms"`
	CreatedAt        string   `json:"created_at"`
}

func viewOf(r models.IntentRequest) requestView {
	return requestView{
		ID:               r.ID,
		Query:            r.QueryText,
		Success:          r.Success,
		ErrorCode:        r.ErrorCode,
		IntentType:       r.IntentType,
		Workspaces:       r.Workspaces,
		Confidence:       r.Confidence,
		Provider:         r.Provider,
		LLMAttempts:      r.LLMAttempts,
		FallbackUsed:     r.FallbackUsed,
		ValidationFailed: r.ValidationFailed,
		LatencyMS:        r.LatencyMS,
		CreatedAt:        r.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

func (h *HistoryHandler) unavailable(c *fiber.Ctx) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"success": false,
		"error": fiber.Map{
			"code":    apperror.CodeNotFound,
			"message": "request history is disabled",
		},
	})
}

// GetHistory serves GET /api/history?limit=N.
func (h *HistoryHandler) GetHistory(c *fiber.Ctx) error {
	if h.store == nil {
		return h.unavailable(c)
	}

	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 200 {
		return errorResponse(c, apperror.InvalidInput("limit must be between 1 and 200"))
	}

	records, err := h.store.GetRecentRequests(c.UserContext(), limit)
	if err != nil {
		logger.Error("Failed to load request history", zap.Error(err))
		return errorResponse(c, err)
	}

	views := make([]requestView, 0, len(records))
	for _, r := range records {
		views = append(views, viewOf(r))
	}
	return c.JSON(fiber.Map{
		"history": views,
		"count":   len(views),
	})
}

// GetRequest serves GET /api/history/:id with the per-stage results.
func (h *HistoryHandler) GetRequest(c *fiber.Ctx) error {
	if h.store == nil {
		return h.unavailable(c)
	}

	r, stages, err := h.store.GetRequest(c.UserContext(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"request": viewOf(*r),
		"stages":  stages,
	})
}

// SubmitFeedback serves POST /api/history/:id/feedback.
func (h *HistoryHandler) SubmitFeedback(c *fiber.Ctx) error {
	if h.store == nil {
		return h.unavailable(c)
	}

	var req struct {
		Correct            bool     `json:"correct"`
		ExpectedIntent     string   `json:"expected_intent"`
		ExpectedWorkspaces []string `json:"expected_workspaces"`
		Comment            string   `json:"comment"`
	}
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, apperror.InvalidInput("Invalid request body"))
	}

	expected := strings.ToLower(strings.TrimSpace(req.ExpectedIntent))
	if expected != "" && !schema.IsIntentType(expected) {
		return errorResponse(c, apperror.InvalidInput("expected_intent must be one of "+strings.Join(schema.IntentTypes, ", ")))
	}

	id := c.Params("id")
	if _, _, err := h.store.GetRequest(c.UserContext(), id); err != nil {
		return errorResponse(c, err)
	}

	err := h.store.StoreFeedback(c.UserContext(), &models.Feedback{
		RequestID:          id,
		Correct:            req.Correct,
		ExpectedIntent:     expected,
		ExpectedWorkspaces: req.ExpectedWorkspaces,
		Comment:            req.Comment,
	})
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true})
}
