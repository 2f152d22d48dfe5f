package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/intelliquery/intent-agent/internal/metrics"
)

type Handlers struct {
	Intent    *IntentHandler
	WebSocket *WebSocketHandler
	System    *SystemHandler
	History   *HistoryHandler
}

// Register mounts every route on app.
func Register(app *fiber.App, h Handlers) {
	api := app.Group("/api")

	api.Post("/intent", h.Intent.HandleIntent)
	api.Post("/v1/intent", h.Intent.HandleIntent)
	api.Post("/validate", h.Intent.HandleValidate)
	api.Post("/validate_intent", h.Intent.HandleValidateIntent)
	api.Get("/schema", h.Intent.HandleSchema)

	api.Get("/status", h.System.HandleStatus)
	api.Get("/health", h.System.HandleHealth)
	api.Get("/ready", h.System.HandleReady)
	api.Post("/catalog/reload", h.System.HandleReload)

	api.Get("/history", h.History.GetHistory)
	api.Get("/history/:id", h.History.GetRequest)
	api.Post("/history/:id/feedback", h.History.SubmitFeedback)

	app.Use("/ws", h.WebSocket.Upgrade)
	app.Get("/ws/intent", websocket.New(h.WebSocket.HandleConnection))

	app.Get("/metrics", metrics.MetricsHandler())
}
