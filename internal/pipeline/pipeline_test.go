package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitl-agent/backend/internal/gate"
	"github.com/hitl-agent/backend/internal/retrieval"
	"github.com/hitl-agent/backend/internal/review"
	"github.com/hitl-agent/backend/internal/storage/memory"
	"github.com/hitl-agent/backend/internal/storage/models"
)

type fakeGenerator struct {
	output      string
	err         error
	lastContext string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt, contextBlock string) (string, error) {
	f.lastContext = contextBlock
	return f.output, f.err
}

type fakeScorer struct {
	confidence float64
	err        error
}

func (f *fakeScorer) ScoreConfidence(ctx context.Context, candidate string) (float64, error) {
	return f.confidence, f.err
}

type fakeBuilder struct {
	context retrieval.Context
	err     error
}

func (f *fakeBuilder) Build(ctx context.Context, prompt string) (retrieval.Context, error) {
	return f.context, f.err
}

func newTestPipeline(store *memory.Store, gen *fakeGenerator, scorer *fakeScorer, builder *fakeBuilder) *Pipeline {
	return NewPipeline(builder, gen, scorer, review.NewService(store), nil, Config{
		ConfidenceThreshold:  0.85,
		PersistAutoPublished: true,
	})
}

func TestSubmitAutoPublishesHighConfidence(t *testing.T) {
	store := memory.NewStore()
	pipe := newTestPipeline(store,
		&fakeGenerator{output: "a confident answer"},
		&fakeScorer{confidence: 0.93},
		&fakeBuilder{},
	)

	result, err := pipe.Submit(context.Background(), "a question", nil)
	require.NoError(t, err)

	assert.Equal(t, models.StatusPublished, result.Status)
	assert.Equal(t, 0.93, result.Confidence)
	assert.Equal(t, "a confident answer", result.Output)
	assert.NotEmpty(t, result.ID)

	published, err := store.ListPublished(context.Background())
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.Equal(t, models.ReviewerAuto, published[0].ReviewerID)

	pending, err := store.ListPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSubmitQueuesLowConfidence(t *testing.T) {
	store := memory.NewStore()
	pipe := newTestPipeline(store,
		&fakeGenerator{output: "a shaky answer"},
		&fakeScorer{confidence: 0.4},
		&fakeBuilder{},
	)

	result, err := pipe.Submit(context.Background(), "a hard question", nil)
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, result.Status)

	pending, err := store.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, result.ID, pending[0].ID)
	assert.Equal(t, "a hard question", pending[0].Prompt)
	assert.Equal(t, 0.4, pending[0].Confidence)
}

func TestSubmitAtThresholdPublishes(t *testing.T) {
	store := memory.NewStore()
	pipe := newTestPipeline(store,
		&fakeGenerator{output: "answer"},
		&fakeScorer{confidence: 0.85},
		&fakeBuilder{},
	)

	result, err := pipe.Submit(context.Background(), "question", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPublished, result.Status)
}

func TestSubmitGenerationFailureStoresNothing(t *testing.T) {
	store := memory.NewStore()
	pipe := newTestPipeline(store,
		&fakeGenerator{err: errors.New("model overloaded")},
		&fakeScorer{confidence: 0.9},
		&fakeBuilder{},
	)

	_, err := pipe.Submit(context.Background(), "question", nil)
	require.Error(t, err)

	pending, _ := store.ListPending(context.Background())
	published, _ := store.ListPublished(context.Background())
	assert.Empty(t, pending)
	assert.Empty(t, published)
}

func TestSubmitInvalidConfidenceStoresNothing(t *testing.T) {
	store := memory.NewStore()
	pipe := newTestPipeline(store,
		&fakeGenerator{output: "answer"},
		&fakeScorer{confidence: 1.7},
		&fakeBuilder{},
	)

	_, err := pipe.Submit(context.Background(), "question", nil)
	require.ErrorIs(t, err, gate.ErrInvalidConfidence)

	pending, _ := store.ListPending(context.Background())
	published, _ := store.ListPublished(context.Background())
	assert.Empty(t, pending)
	assert.Empty(t, published)
}

func TestSubmitPassesContextToGenerator(t *testing.T) {
	gen := &fakeGenerator{output: "answer"}
	pipe := newTestPipeline(memory.NewStore(), gen,
		&fakeScorer{confidence: 0.9},
		&fakeBuilder{context: retrieval.Context{
			Text:  "approved examples block",
			Items: []retrieval.ScoredItem{{Score: 0.9}},
		}},
	)

	result, err := pipe.Submit(context.Background(), "question", nil)
	require.NoError(t, err)

	assert.Equal(t, "approved examples block", gen.lastContext)
	assert.Equal(t, 1, result.ContextUsed)
}

func TestSubmitBuilderFailureDegradesToNoContext(t *testing.T) {
	gen := &fakeGenerator{output: "answer"}
	pipe := newTestPipeline(memory.NewStore(), gen,
		&fakeScorer{confidence: 0.9},
		&fakeBuilder{err: errors.New("corpus unavailable")},
	)

	result, err := pipe.Submit(context.Background(), "question", nil)
	require.NoError(t, err, "retrieval is an enhancement, not a dependency")
	assert.Empty(t, gen.lastContext)
	assert.Zero(t, result.ContextUsed)
}

func TestSubmitEmitsStageEvents(t *testing.T) {
	pipe := newTestPipeline(memory.NewStore(),
		&fakeGenerator{output: "answer"},
		&fakeScorer{confidence: 0.4},
		&fakeBuilder{},
	)

	var stages []string
	sink := func(stage, detail string) {
		stages = append(stages, stage)
	}

	_, err := pipe.Submit(context.Background(), "question", sink)
	require.NoError(t, err)
	assert.Equal(t, []string{"retrieving", "generating", "scoring", "queued"}, stages)
}

func TestSubmitSkipsPersistenceWhenConfigured(t *testing.T) {
	store := memory.NewStore()
	pipe := NewPipeline(&fakeBuilder{},
		&fakeGenerator{output: "answer"},
		&fakeScorer{confidence: 0.95},
		review.NewService(store), nil, Config{
			ConfidenceThreshold:  0.85,
			PersistAutoPublished: false,
		})

	result, err := pipe.Submit(context.Background(), "question", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPublished, result.Status)

	published, err := store.ListPublished(context.Background())
	require.NoError(t, err)
	assert.Empty(t, published, "auto-published items bypass the store in this mode")
}

// Round trip: a queued item approved by a reviewer joins the published
// corpus that future submissions retrieve from.
func TestSubmitReviewRoundTrip(t *testing.T) {
	store := memory.NewStore()
	reviews := review.NewService(store)
	pipe := NewPipeline(&fakeBuilder{},
		&fakeGenerator{output: "draft answer"},
		&fakeScorer{confidence: 0.5},
		reviews, nil, Config{ConfidenceThreshold: 0.85, PersistAutoPublished: true})
	ctx := context.Background()

	result, err := pipe.Submit(ctx, "tricky question", nil)
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, result.Status)

	item, err := reviews.Decide(ctx, review.DecideRequest{
		ID:           result.ID,
		Action:       review.ActionEdit,
		EditedOutput: "corrected answer",
		TrueLabel:    "billing",
		ReviewerID:   "reviewer-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPublished, item.Status)

	published, err := store.ListPublished(ctx)
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.Equal(t, "corrected answer", published[0].Output)
	assert.Equal(t, "tricky question", published[0].Prompt)

	labeled, err := store.ListLabeled(ctx)
	require.NoError(t, err)
	require.Len(t, labeled, 1)
	assert.Equal(t, "billing", labeled[0].Label)
}
