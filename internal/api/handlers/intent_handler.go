package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/intelliquery/intent-agent/internal/pipeline"
	"github.com/intelliquery/intent-agent/internal/schema"
	"github.com/intelliquery/intent-agent/pkg/apperror"
	"github.com/intelliquery/intent-agent/pkg/logger"
)

type IntentHandler struct {
	pipeline *pipeline.Orchestrator
}

func NewIntentHandler(p *pipeline.Orchestrator) *IntentHandler {
	return &IntentHandler{pipeline: p}
}

type intentRequest struct {
	Query           string         `json:"query"`
	Locale          string         `json:"locale"`
	Metadata        map[string]any `json:"metadata"`
	IncludeMetadata *bool          `json:"include_metadata"`
}

// bindQuery parses the body, preferring the copy sanitised by the
// validation middleware.
func bindQuery(c *fiber.Ctx, req *intentRequest) error {
	if err := c.BodyParser(req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return apperror.InvalidInput("Invalid request body")
	}
	if body, ok := c.Locals("sanitized_body").(map[string]interface{}); ok {
		if q, ok := body["query"].(string); ok {
			req.Query = q
		}
	}
	return nil
}

// HandleIntent serves POST /api/intent and /api/v1/intent.
func (h *IntentHandler) HandleIntent(c *fiber.Ctx) error {
	var req intentRequest
	if err := bindQuery(c, &req); err != nil {
		return errorResponse(c, err)
	}

	env := h.pipeline.Run(c.UserContext(), pipeline.Query{
		Text:       req.Query,
		Locale:     req.Locale,
		Metadata:   req.Metadata,
		RequestID:  c.Get("X-Request-ID"),
		ReceivedAt: time.Now().UTC(),
	})

	if !env.Success {
		return c.Status(fiber.StatusBadRequest).JSON(env)
	}
	if env.Metadata != nil {
		c.Set("X-Request-ID", env.Metadata.RequestID)
	}
	if req.IncludeMetadata != nil && !*req.IncludeMetadata {
		trimmed := *env
		trimmed.Metadata = nil
		return c.JSON(trimmed)
	}
	return c.JSON(env)
}

// HandleValidate serves POST /api/validate with the advisory pre-check.
func (h *IntentHandler) HandleValidate(c *fiber.Ctx) error {
	var req intentRequest
	if err := bindQuery(c, &req); err != nil {
		return errorResponse(c, err)
	}

	report, err := h.pipeline.Precheck(req.Query)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"success":    true,
		"query":      req.Query,
		"validation": report,
		"timestamp":  time.Now().UTC(),
	})
}

// HandleValidateIntent serves POST /api/validate_intent. It checks an
// arbitrary intent document against the live contract and returns the
// deterministic repair.
func (h *IntentHandler) HandleValidateIntent(c *fiber.Ctx) error {
	v, err := h.pipeline.Validator()
	if err != nil {
		return errorResponse(c, err)
	}

	body := c.Body()
	candidate, err := schema.ParseCandidate(body)
	if err != nil {
		return errorResponse(c, apperror.Wrap(apperror.CodeInvalidInput, "body must be a JSON object", err))
	}

	documentViolations, err := v.CheckDocument(body)
	if err != nil {
		return errorResponse(c, apperror.Wrap(apperror.CodeInvalidInput, "body is not valid JSON", err))
	}
	violations := v.Validate(candidate)

	repaired, changed := v.Repair(candidate, schema.Defaults{})
	remaining := v.Validate(repaired)

	resp := fiber.Map{
		"success":           true,
		"valid":             len(violations) == 0 && len(documentViolations) == 0,
		"violations":        nonNil(violations),
		"schema_violations": nonNil(documentViolations),
		"repaired":          repaired,
		"repaired_fields":   append([]string{}, changed...),
		"repaired_valid":    len(remaining) == 0,
		"remaining":         nonNil(remaining),
		"timestamp":         time.Now().UTC(),
	}
	if len(remaining) == 0 {
		if analysis, err := v.Finalize(repaired); err == nil {
			resp["intent_analysis"] = analysis
		}
	}
	return c.JSON(resp)
}

// HandleSchema serves GET /api/schema, the JSON Schema of the live contract.
func (h *IntentHandler) HandleSchema(c *fiber.Ctx) error {
	v, err := h.pipeline.Validator()
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(schema.JSONSchema(v.Catalog()))
}

func nonNil(vs []schema.Violation) []schema.Violation {
	if vs == nil {
		return []schema.Violation{}
	}
	return vs
}

func errorResponse(c *fiber.Ctx, err error) error {
	code := apperror.CodeOf(err)
	msg := err.Error()
	if ae, ok := err.(*apperror.Error); ok {
		msg = ae.Message
	}
	return c.Status(apperror.HTTPStatus(err)).JSON(fiber.Map{
		"success": false,
		"error": fiber.Map{
			"code":    code,
			"message": msg,
		},
		"timestamp": time.Now().UTC(),
	})
}
