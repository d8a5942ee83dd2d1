package handlers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/hitl-agent/backend/internal/classifier"
	"github.com/hitl-agent/backend/internal/metrics"
	"github.com/hitl-agent/backend/pkg/logger"
)

type RetrainHandler struct {
	trainer     *classifier.Trainer
	minExamples int
}

func NewRetrainHandler(trainer *classifier.Trainer, minExamples int) *RetrainHandler {
	return &RetrainHandler{
		trainer:     trainer,
		minExamples: minExamples,
	}
}

func (h *RetrainHandler) HandleRetrain(c *fiber.Ctx) error {
	minExamples := h.minExamples
	if v := c.QueryInt("min_examples"); v > 0 {
		minExamples = v
	}

	result, err := h.trainer.Retrain(c.Context(), minExamples)
	if err != nil {
		logger.Error("Retrain failed", zap.Error(err))
		metrics.RetrainRuns.WithLabelValues("error").Inc()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Retrain failed",
		})
	}

	metrics.RetrainRuns.WithLabelValues(string(result.Status)).Inc()

	if result.Status == classifier.StatusInsufficientData {
		return c.JSON(fiber.Map{
			"status":  result.Status,
			"message": fmt.Sprintf("Need %d more labeled examples to retrain (found %d, required %d)", result.MinExamples-result.ExampleCount, result.ExampleCount, result.MinExamples),
			"found":   result.ExampleCount,
		})
	}

	return c.JSON(fiber.Map{
		"status":     result.Status,
		"message":    fmt.Sprintf("Retrained on %d examples", result.ExampleCount),
		"examples":   result.ExampleCount,
		"labels":     result.Labels,
		"trained_at": result.TrainedAt,
	})
}
