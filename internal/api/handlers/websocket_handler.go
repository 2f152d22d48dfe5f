package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/intelliquery/intent-agent/internal/pipeline"
	"github.com/intelliquery/intent-agent/pkg/logger"
)

type WebSocketHandler struct {
	pipeline *pipeline.Orchestrator
}

func NewWebSocketHandler(p *pipeline.Orchestrator) *WebSocketHandler {
	return &WebSocketHandler{pipeline: p}
}

// Upgrade rejects plain HTTP requests to the websocket route.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

type wsMessage struct {
	Type      string         `json:"type"`
	Query     string         `json:"query"`
	Locale    string         `json:"locale"`
	RequestID string         `json:"request_id"`
	Metadata  map[string]any `json:"metadata"`
}

type jsonWriter interface {
	WriteJSON(v interface{}) error
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		if err := h.handleMessage(ctx, c, msg); err != nil {
			logger.Error("Failed to stream analysis", zap.Error(err))
			break
		}
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, w jsonWriter, msg wsMessage) error {
	switch msg.Type {
	case "ping":
		return w.WriteJSON(fiber.Map{"type": "pong"})
	case "query":
	default:
		return w.WriteJSON(fiber.Map{"type": "error", "error": "unsupported message type " + msg.Type})
	}

	logger.Info("Processing WebSocket query", zap.Int("length", len(msg.Query)))

	stream := &streamObserver{w: w}
	env := h.pipeline.Run(ctx, pipeline.Query{
		Text:       msg.Query,
		Locale:     msg.Locale,
		Metadata:   msg.Metadata,
		RequestID:  msg.RequestID,
		ReceivedAt: time.Now().UTC(),
	}, pipeline.WithObserver(stream))

	if stream.err != nil {
		return stream.err
	}
	return w.WriteJSON(fiber.Map{"type": "result", "envelope": env})
}

// streamObserver forwards stage reports to the client as they finish.
// Observers run on the caller's goroutine, so writes never interleave.
type streamObserver struct {
	w   jsonWriter
	err error
}

func (s *streamObserver) OnStage(requestID string, r pipeline.StageReport) {
	if s.err != nil {
		return
	}
	s.err = s.w.WriteJSON(fiber.Map{
		"type":       "stage",
		"request_id": requestID,
		"report":     r,
	})
}

func (s *streamObserver) OnComplete(*pipeline.Envelope) {}
