package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/hitl-agent/backend/internal/metrics"
	"github.com/hitl-agent/backend/internal/review"
	"github.com/hitl-agent/backend/internal/storage"
	"github.com/hitl-agent/backend/internal/storage/models"
	"github.com/hitl-agent/backend/pkg/logger"
)

type ReviewHandler struct {
	store   storage.Store
	reviews *review.Service
}

func NewReviewHandler(store storage.Store, reviews *review.Service) *ReviewHandler {
	return &ReviewHandler{
		store:   store,
		reviews: reviews,
	}
}

func (h *ReviewHandler) ListPending(c *fiber.Ctx) error {
	items, err := h.store.ListPending(c.Context())
	if err != nil {
		logger.Error("Failed to list pending items", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list pending items",
		})
	}

	if items == nil {
		items = []models.Item{}
	}
	return c.JSON(fiber.Map{"items": items})
}

func (h *ReviewHandler) ListPublished(c *fiber.Ctx) error {
	items, err := h.store.ListPublished(c.Context())
	if err != nil {
		logger.Error("Failed to list published items", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list published items",
		})
	}

	if items == nil {
		items = []models.Item{}
	}
	return c.JSON(fiber.Map{"items": items})
}

func (h *ReviewHandler) HandleDecide(c *fiber.Ctx) error {
	var req struct {
		Action       string `json:"action"`
		EditedOutput string `json:"edited_output"`
		TrueLabel    string `json:"true_label"`
		ReviewerID   string `json:"reviewer_id"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	item, err := h.reviews.Decide(c.Context(), review.DecideRequest{
		ID:           c.Params("id"),
		Action:       review.Action(req.Action),
		EditedOutput: req.EditedOutput,
		TrueLabel:    req.TrueLabel,
		ReviewerID:   req.ReviewerID,
	})
	if err != nil {
		switch {
		case errors.Is(err, review.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Item not found",
			})
		case errors.Is(err, review.ErrInvalidTransition):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": err.Error(),
			})
		case errors.Is(err, review.ErrUnknownAction), errors.Is(err, review.ErrMissingReviewer):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		default:
			logger.Error("Failed to apply review decision", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to apply review decision",
			})
		}
	}

	metrics.ReviewDecisions.WithLabelValues(req.Action).Inc()

	return c.JSON(item)
}
