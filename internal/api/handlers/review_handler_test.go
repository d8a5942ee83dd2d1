package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitl-agent/backend/internal/review"
	"github.com/hitl-agent/backend/internal/storage/memory"
	"github.com/hitl-agent/backend/internal/storage/models"
)

func newTestApp(t *testing.T) (*fiber.App, *memory.Store) {
	t.Helper()

	store := memory.NewStore()
	handler := NewReviewHandler(store, review.NewService(store))

	app := fiber.New()
	app.Get("/api/v1/items/pending", handler.ListPending)
	app.Get("/api/v1/items/published", handler.ListPublished)
	app.Post("/api/v1/items/:id/decide", handler.HandleDecide)

	return app, store
}

func seedPending(t *testing.T, store *memory.Store, id string) {
	t.Helper()
	require.NoError(t, store.InsertPending(context.Background(), &models.Item{
		ID:         id,
		Prompt:     "a question",
		Output:     "a draft answer",
		Confidence: 0.5,
		Status:     models.StatusPending,
		CreatedAt:  time.Now().UTC(),
	}))
}

func decide(t *testing.T, app *fiber.App, id string, body map[string]interface{}) (int, map[string]interface{}) {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/v1/items/"+id+"/decide", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var parsed map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	return resp.StatusCode, parsed
}

func TestListPendingEmpty(t *testing.T) {
	app, _ := newTestApp(t)

	req := httptest.NewRequest("GET", "/api/v1/items/pending", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var parsed struct {
		Items []models.Item `json:"items"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	assert.NotNil(t, parsed.Items)
	assert.Empty(t, parsed.Items)
}

func TestDecideApproveMovesItem(t *testing.T) {
	app, store := newTestApp(t)
	seedPending(t, store, "item-1")

	status, body := decide(t, app, "item-1", map[string]interface{}{
		"action":      "approve",
		"reviewer_id": "reviewer-1",
	})
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "published", body["status"])
	assert.Equal(t, "reviewer-1", body["reviewer_id"])

	published, err := store.ListPublished(context.Background())
	require.NoError(t, err)
	assert.Len(t, published, 1)
}

func TestDecideUnknownItemReturns404(t *testing.T) {
	app, _ := newTestApp(t)

	status, _ := decide(t, app, "missing", map[string]interface{}{
		"action":      "approve",
		"reviewer_id": "reviewer-1",
	})
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestDecideTwiceReturnsConflict(t *testing.T) {
	app, store := newTestApp(t)
	seedPending(t, store, "item-2")

	status, _ := decide(t, app, "item-2", map[string]interface{}{
		"action":      "reject",
		"reviewer_id": "reviewer-1",
	})
	require.Equal(t, fiber.StatusOK, status)

	status, body := decide(t, app, "item-2", map[string]interface{}{
		"action":      "approve",
		"reviewer_id": "reviewer-2",
	})
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Contains(t, body["error"], "already rejected")
}

func TestDecideMissingReviewerReturns400(t *testing.T) {
	app, store := newTestApp(t)
	seedPending(t, store, "item-3")

	status, _ := decide(t, app, "item-3", map[string]interface{}{
		"action": "approve",
	})
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestDecideUnknownActionReturns400(t *testing.T) {
	app, store := newTestApp(t)
	seedPending(t, store, "item-4")

	status, _ := decide(t, app, "item-4", map[string]interface{}{
		"action":      "escalate",
		"reviewer_id": "reviewer-1",
	})
	assert.Equal(t, fiber.StatusBadRequest, status)
}
