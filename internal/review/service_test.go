package review

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitl-agent/backend/internal/storage/memory"
	"github.com/hitl-agent/backend/internal/storage/models"
)

func newPendingItem(id string) *models.Item {
	return &models.Item{
		ID:         id,
		Prompt:     "What is the refund policy?",
		Output:     "Refunds are issued within 14 days.",
		Confidence: 0.62,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestDecideApprove(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store)
	ctx := context.Background()

	require.NoError(t, svc.CreatePending(ctx, newPendingItem("item-1")))

	item, err := svc.Decide(ctx, DecideRequest{
		ID:         "item-1",
		Action:     ActionApprove,
		ReviewerID: "reviewer-7",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusPublished, item.Status)
	assert.Equal(t, "reviewer-7", item.ReviewerID)
	require.NotNil(t, item.ReviewedAt)
	assert.Equal(t, "Refunds are issued within 14 days.", item.Output)

	published, err := store.ListPublished(ctx)
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.Equal(t, "item-1", published[0].ID)

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDecideEditReplacesOutput(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store)
	ctx := context.Background()

	require.NoError(t, svc.CreatePending(ctx, newPendingItem("item-2")))

	item, err := svc.Decide(ctx, DecideRequest{
		ID:           "item-2",
		Action:       ActionEdit,
		EditedOutput: "Refunds are issued within 30 days.",
		ReviewerID:   "reviewer-7",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusPublished, item.Status)
	assert.Equal(t, "Refunds are issued within 30 days.", item.Output)

	published, err := store.ListPublished(ctx)
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.Equal(t, "Refunds are issued within 30 days.", published[0].Output)
}

func TestDecideReject(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store)
	ctx := context.Background()

	require.NoError(t, svc.CreatePending(ctx, newPendingItem("item-3")))

	item, err := svc.Decide(ctx, DecideRequest{
		ID:         "item-3",
		Action:     ActionReject,
		TrueLabel:  "negative",
		ReviewerID: "reviewer-7",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, item.Status)
	assert.Equal(t, "negative", item.TrueLabel)

	published, err := store.ListPublished(ctx)
	require.NoError(t, err)
	assert.Empty(t, published)

	// Rejected items keep their labels for retraining.
	labeled, err := store.ListLabeled(ctx)
	require.NoError(t, err)
	require.Len(t, labeled, 1)
	assert.Equal(t, "negative", labeled[0].Label)
}

func TestDecideUnknownItem(t *testing.T) {
	svc := NewService(memory.NewStore())

	_, err := svc.Decide(context.Background(), DecideRequest{
		ID:         "no-such-item",
		Action:     ActionApprove,
		ReviewerID: "reviewer-7",
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDecideAlreadyResolved(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store)
	ctx := context.Background()

	require.NoError(t, svc.CreatePending(ctx, newPendingItem("item-4")))

	first, err := svc.Decide(ctx, DecideRequest{
		ID:         "item-4",
		Action:     ActionReject,
		ReviewerID: "reviewer-7",
	})
	require.NoError(t, err)

	// A second decision must fail without touching the resolved item.
	_, err = svc.Decide(ctx, DecideRequest{
		ID:         "item-4",
		Action:     ActionApprove,
		ReviewerID: "reviewer-8",
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	resolved, err := store.GetResolved(ctx, "item-4")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, resolved.Status)
	assert.Equal(t, "reviewer-7", resolved.ReviewerID)
	assert.Equal(t, first.ReviewedAt.Unix(), resolved.ReviewedAt.Unix())
}

func TestDecideUnknownAction(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store)
	ctx := context.Background()

	require.NoError(t, svc.CreatePending(ctx, newPendingItem("item-5")))

	_, err := svc.Decide(ctx, DecideRequest{
		ID:         "item-5",
		Action:     Action("escalate"),
		ReviewerID: "reviewer-7",
	})
	assert.ErrorIs(t, err, ErrUnknownAction)

	// The item stays pending.
	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestDecideRequiresReviewer(t *testing.T) {
	svc := NewService(memory.NewStore())

	_, err := svc.Decide(context.Background(), DecideRequest{
		ID:     "item-6",
		Action: ActionApprove,
	})
	assert.ErrorIs(t, err, ErrMissingReviewer)
}

func TestCreatePublishedMarksAutoReviewer(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store)
	ctx := context.Background()

	item := newPendingItem("item-7")
	item.Confidence = 0.95
	require.NoError(t, svc.CreatePublished(ctx, item))

	published, err := store.ListPublished(ctx)
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.Equal(t, models.StatusPublished, published[0].Status)
	assert.Equal(t, models.ReviewerAuto, published[0].ReviewerID)
}

func TestLockMapDrainsAfterTransitions(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store)
	ctx := context.Background()

	for _, id := range []string{"d1", "d2", "d3"} {
		require.NoError(t, svc.CreatePending(ctx, newPendingItem(id)))
		_, err := svc.Decide(ctx, DecideRequest{
			ID:         id,
			Action:     ActionApprove,
			ReviewerID: "reviewer-7",
		})
		require.NoError(t, err)
	}

	// Failed lookups must not leak entries either.
	_, err := svc.Decide(ctx, DecideRequest{
		ID:         "never-existed",
		Action:     ActionApprove,
		ReviewerID: "reviewer-7",
	})
	require.ErrorIs(t, err, ErrNotFound)

	svc.mu.Lock()
	remaining := len(svc.locks)
	svc.mu.Unlock()
	assert.Zero(t, remaining, "per-item locks must be released once work finishes")
}

func TestOnPublishHookFires(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store)
	ctx := context.Background()

	publishedIDs := make(chan string, 2)
	svc.OnPublish(func(ctx context.Context, item *models.Item) {
		publishedIDs <- item.ID
	})

	require.NoError(t, svc.CreatePublished(ctx, newPendingItem("auto-1")))

	require.NoError(t, svc.CreatePending(ctx, newPendingItem("human-1")))
	_, err := svc.Decide(ctx, DecideRequest{
		ID:         "human-1",
		Action:     ActionApprove,
		ReviewerID: "reviewer-7",
	})
	require.NoError(t, err)

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-publishedIDs:
			got[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("publish hook did not fire")
		}
	}
	assert.True(t, got["auto-1"])
	assert.True(t, got["human-1"])
}

func TestOnPublishHookSkippedOnReject(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store)
	ctx := context.Background()

	fired := make(chan string, 1)
	svc.OnPublish(func(ctx context.Context, item *models.Item) {
		fired <- item.ID
	})

	require.NoError(t, svc.CreatePending(ctx, newPendingItem("item-8")))
	_, err := svc.Decide(ctx, DecideRequest{
		ID:         "item-8",
		Action:     ActionReject,
		ReviewerID: "reviewer-7",
	})
	require.NoError(t, err)

	select {
	case id := <-fired:
		t.Fatalf("publish hook fired for rejected item %s", id)
	case <-time.After(100 * time.Millisecond):
	}
}
