package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/hitl-agent/backend/internal/pipeline"
	"github.com/hitl-agent/backend/pkg/logger"
)

// WebSocketHandler streams pipeline stage events to the client while a
// submission is processed, then sends the final result.
type WebSocketHandler struct {
	pipeline *pipeline.Pipeline
}

func NewWebSocketHandler(p *pipeline.Pipeline) *WebSocketHandler {
	return &WebSocketHandler{pipeline: p}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type   string `json:"type"`
			Prompt string `json:"prompt"`
		}

		err := c.ReadJSON(&msg)
		if err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		if msg.Type != "submit" || msg.Prompt == "" {
			h.sendError(c, "Expected a submit message with a prompt")
			continue
		}

		sink := func(stage, detail string) {
			c.WriteJSON(map[string]interface{}{
				"type":   "stage",
				"stage":  stage,
				"detail": detail,
			})
		}

		result, err := h.pipeline.Submit(context.Background(), msg.Prompt, sink)
		if err != nil {
			logger.Error("WebSocket submission failed", zap.Error(err))
			h.sendError(c, "Failed to process submission")
			continue
		}

		c.WriteJSON(map[string]interface{}{
			"type":   "complete",
			"result": result,
		})
	}
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}
