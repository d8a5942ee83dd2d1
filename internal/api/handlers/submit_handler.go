package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/hitl-agent/backend/internal/gate"
	"github.com/hitl-agent/backend/internal/llm"
	"github.com/hitl-agent/backend/internal/pipeline"
	"github.com/hitl-agent/backend/pkg/logger"
)

type SubmitHandler struct {
	pipeline *pipeline.Pipeline
}

func NewSubmitHandler(p *pipeline.Pipeline) *SubmitHandler {
	return &SubmitHandler{pipeline: p}
}

func (h *SubmitHandler) HandleSubmit(c *fiber.Ctx) error {
	var req struct {
		Prompt string `json:"prompt"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Prompt == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Prompt is required",
		})
	}

	result, err := h.pipeline.Submit(c.Context(), req.Prompt, nil)
	if err != nil {
		logger.Error("Failed to process submission", zap.Error(err))

		switch {
		case errors.Is(err, llm.ErrGenerationFailed):
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": "Generation service failed; no item was created",
			})
		case errors.Is(err, gate.ErrInvalidConfidence):
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": "Confidence score was malformed; no item was created",
			})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to process submission",
			})
		}
	}

	return c.JSON(result)
}
