package validation

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/intelliquery/intent-agent/pkg/apperror"
)

type Config struct {
	MaxQueryLength      int
	AllowedContentTypes []string
	// QueryPaths lists the routes whose JSON body carries a "query" field.
	QueryPaths []string
	Logger     *zap.Logger
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 2000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if len(cfg.QueryPaths) == 0 {
		cfg.QueryPaths = []string{"/api/intent", "/api/v1/intent", "/api/validate"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			contentType := c.Get(fiber.HeaderContentType)
			if contentType != "" {
				allowed := false
				for _, allowedType := range cfg.AllowedContentTypes {
					if strings.Contains(contentType, allowedType) {
						allowed = true
						break
					}
				}
				if !allowed {
					return reject(c, fiber.StatusUnsupportedMediaType, "Unsupported content type")
				}
			}
		}

		if c.Method() != fiber.MethodPost || !matches(c.Path(), cfg.QueryPaths) {
			return c.Next()
		}

		var req map[string]interface{}
		if err := c.BodyParser(&req); err != nil {
			return reject(c, fiber.StatusBadRequest, "Invalid JSON format")
		}

		// an absent or empty query is left to the pipeline, which reports it
		raw, present := req["query"]
		if !present || raw == nil {
			return c.Next()
		}
		query, ok := raw.(string)
		if !ok {
			return reject(c, fiber.StatusBadRequest, "Query must be a string")
		}

		if len([]rune(query)) > cfg.MaxQueryLength {
			return reject(c, fiber.StatusBadRequest, "Query exceeds maximum length")
		}

		// Query text is classified, never rendered, so markup passes through.
		clean := sanitizeString(query)
		if clean != query {
			cfg.Logger.Debug("Query sanitized",
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
			)
		}
		req["query"] = clean
		c.Locals("sanitized_body", req)

		return c.Next()
	}
}

func reject(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error": fiber.Map{
			"code":    apperror.CodeInvalidInput,
			"message": msg,
		},
	})
}

func matches(path string, paths []string) bool {
	path = strings.TrimSuffix(path, "/")
	for _, p := range paths {
		if path == p {
			return true
		}
	}
	return false
}

func sanitizeString(input string) string {
	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\x00", "")
	return input
}
