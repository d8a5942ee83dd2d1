package security

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

type HeadersConfig struct {
	AllowedOrigins []string
	Development    bool
}

// Headers sets response headers for a JSON API consumed by the review
// dashboard. Nothing here serves scripts, styles or frames, so the policy
// denies everything except API and websocket connections to the configured
// origins.
func Headers(cfg HeadersConfig) fiber.Handler {
	csp := "default-src 'none'; connect-src 'self'" + connectSrc(cfg.AllowedOrigins) +
		"; frame-ancestors 'none'; base-uri 'none'"

	return func(c *fiber.Ctx) error {
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("Referrer-Policy", "no-referrer")
		c.Set("Content-Security-Policy", csp)
		// Review queues change under the reviewer's feet; never cache them.
		c.Set("Cache-Control", "no-store")

		if !cfg.Development {
			c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		return c.Next()
	}
}

func connectSrc(origins []string) string {
	if len(origins) == 0 {
		return ""
	}
	return " " + strings.Join(origins, " ")
}
