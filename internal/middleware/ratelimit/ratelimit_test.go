package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, cfg Config) *fiber.App {
	t.Helper()

	limiter := New(cfg)
	t.Cleanup(limiter.Stop)

	ok := func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) }

	app := fiber.New()
	app.Use(limiter.Middleware())
	app.Post("/api/v1/submit", ok)
	app.Post("/api/v1/items/:id/decide", ok)
	app.Get("/api/v1/items/pending", ok)
	return app
}

func request(t *testing.T, app *fiber.App, method, path, reviewer string) int {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	if reviewer != "" {
		req.Header.Set("X-Reviewer-ID", reviewer)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestSubmitBudgetExhausts(t *testing.T) {
	app := newTestApp(t, Config{SubmitPerMinute: 2, Window: time.Minute})

	assert.Equal(t, fiber.StatusOK, request(t, app, "POST", "/api/v1/submit", ""))
	assert.Equal(t, fiber.StatusOK, request(t, app, "POST", "/api/v1/submit", ""))
	assert.Equal(t, fiber.StatusTooManyRequests, request(t, app, "POST", "/api/v1/submit", ""))
}

func TestDecideBudgetIsPerReviewer(t *testing.T) {
	app := newTestApp(t, Config{DecidePerMinute: 2, Window: time.Minute})

	assert.Equal(t, fiber.StatusOK, request(t, app, "POST", "/api/v1/items/a/decide", "reviewer-1"))
	assert.Equal(t, fiber.StatusOK, request(t, app, "POST", "/api/v1/items/b/decide", "reviewer-1"))
	assert.Equal(t, fiber.StatusTooManyRequests, request(t, app, "POST", "/api/v1/items/c/decide", "reviewer-1"))

	// A different reviewer has an untouched budget.
	assert.Equal(t, fiber.StatusOK, request(t, app, "POST", "/api/v1/items/d/decide", "reviewer-2"))
}

func TestSubmitAndDecideBudgetsAreIndependent(t *testing.T) {
	app := newTestApp(t, Config{SubmitPerMinute: 1, DecidePerMinute: 2, Window: time.Minute})

	assert.Equal(t, fiber.StatusOK, request(t, app, "POST", "/api/v1/submit", ""))
	assert.Equal(t, fiber.StatusTooManyRequests, request(t, app, "POST", "/api/v1/submit", ""))

	assert.Equal(t, fiber.StatusOK, request(t, app, "POST", "/api/v1/items/a/decide", "reviewer-1"))
}

func TestReadRoutesAreNotLimited(t *testing.T) {
	app := newTestApp(t, Config{SubmitPerMinute: 1, DecidePerMinute: 1, Window: time.Minute})

	for i := 0; i < 10; i++ {
		assert.Equal(t, fiber.StatusOK, request(t, app, "GET", "/api/v1/items/pending", ""))
	}
}
