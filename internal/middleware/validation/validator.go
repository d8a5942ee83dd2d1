package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var (
	promptInjectionPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)
	validActions           = map[string]bool{"approve": true, "reject": true, "edit": true}
)

type Config struct {
	MaxPromptLength int
	MaxOutputLength int
	Logger          *zap.Logger
}

// Middleware validates submission and review-decision bodies before they
// reach the handlers, so malformed input fails fast with a clear message.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxPromptLength == 0 {
		cfg.MaxPromptLength = 5000
	}
	if cfg.MaxOutputLength == 0 {
		cfg.MaxOutputLength = 100000
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == "POST" {
			contentType := c.Get("Content-Type")
			if contentType != "" && !strings.Contains(contentType, "application/json") {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		path := c.Path()

		if strings.HasSuffix(path, "/api/v1/submit") && c.Method() == "POST" {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			prompt, ok := req["prompt"].(string)
			if !ok || strings.TrimSpace(prompt) == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Prompt is required and must be a string",
				})
			}

			if len(prompt) > cfg.MaxPromptLength {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Prompt exceeds maximum length",
				})
			}

			if promptInjectionPattern.MatchString(prompt) {
				cfg.Logger.Warn("Suspicious prompt content",
					zap.String("ip", c.IP()),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid prompt content",
				})
			}
		}

		if strings.Contains(path, "/decide") && c.Method() == "POST" {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			action, ok := req["action"].(string)
			if !ok || !validActions[action] {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Action must be one of: approve, reject, edit",
				})
			}

			if action == "edit" {
				edited, ok := req["edited_output"].(string)
				if !ok || strings.TrimSpace(edited) == "" {
					return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
						"error": "Edited output is required for the edit action",
					})
				}
				if len(edited) > cfg.MaxOutputLength {
					return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
						"error": "Edited output exceeds maximum size",
					})
				}
			}
		}

		return c.Next()
	}
}
