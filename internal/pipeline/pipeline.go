package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hitl-agent/backend/internal/gate"
	"github.com/hitl-agent/backend/internal/metrics"
	"github.com/hitl-agent/backend/internal/retrieval"
	"github.com/hitl-agent/backend/internal/review"
	"github.com/hitl-agent/backend/internal/storage/models"
	"github.com/hitl-agent/backend/pkg/logger"
)

type Generator interface {
	Generate(ctx context.Context, prompt, contextBlock string) (string, error)
}

type ConfidenceScorer interface {
	ScoreConfidence(ctx context.Context, candidate string) (float64, error)
}

type ContextBuilder interface {
	Build(ctx context.Context, prompt string) (retrieval.Context, error)
}

type Labeler interface {
	Predict(text string) string
}

// EventSink receives stage notifications during a submission; may be nil.
type EventSink func(stage, detail string)

type Config struct {
	ConfidenceThreshold float64
	// PersistAutoPublished controls whether gate-published items join the
	// corpus. The sampled system skipped the insert, which starves future
	// retrieval; persisting is the default, false restores parity.
	PersistAutoPublished bool
}

type SubmitResult struct {
	ID             string        `json:"id"`
	Status         models.Status `json:"status"`
	Confidence     float64       `json:"confidence"`
	Output         string        `json:"output"`
	ContextUsed    int           `json:"context_used"`
	PredictedLabel string        `json:"predicted_label,omitempty"`
}

// Pipeline runs one submission end to end: retrieval context, generation,
// self-evaluated confidence, gate routing, persistence. Each call is
// independent; the feedback store is the only shared state.
type Pipeline struct {
	builder   ContextBuilder
	generator Generator
	scorer    ConfidenceScorer
	reviews   *review.Service
	labeler   Labeler
	config    Config
}

func NewPipeline(builder ContextBuilder, generator Generator, scorer ConfidenceScorer, reviews *review.Service, labeler Labeler, config Config) *Pipeline {
	return &Pipeline{
		builder:   builder,
		generator: generator,
		scorer:    scorer,
		reviews:   reviews,
		labeler:   labeler,
		config:    config,
	}
}

func (p *Pipeline) Submit(ctx context.Context, prompt string, sink EventSink) (*SubmitResult, error) {
	startTime := time.Now()
	itemID := uuid.New().String()

	logger.Info("Processing submission",
		zap.String("item_id", itemID),
		zap.Int("prompt_length", len(prompt)),
	)

	emit(sink, "retrieving", "searching approved answers for context")

	retrievalCtx, err := p.builder.Build(ctx, prompt)
	if err != nil {
		// Context is an enhancement; generation proceeds with the bare prompt.
		logger.Warn("Context build failed, generating without context", zap.Error(err))
		retrievalCtx = retrieval.Context{}
	}

	emit(sink, "generating", fmt.Sprintf("using %d approved examples as context", len(retrievalCtx.Items)))

	output, err := p.generator.Generate(ctx, prompt, retrievalCtx.Text)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	emit(sink, "scoring", "self-evaluating confidence")

	confidence, err := p.scorer.ScoreConfidence(ctx, output)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	decision, err := gate.Route(confidence, p.config.ConfidenceThreshold)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	metrics.ConfidenceScore.Observe(confidence)
	metrics.ContextItemsUsed.Observe(float64(len(retrievalCtx.Items)))
	metrics.GateDecisions.WithLabelValues(decision.String()).Inc()

	item := &models.Item{
		ID:         itemID,
		Prompt:     prompt,
		Output:     output,
		Confidence: confidence,
		CreatedAt:  time.Now().UTC(),
	}

	switch decision {
	case gate.AutoPublish:
		if p.config.PersistAutoPublished {
			if err := p.reviews.CreatePublished(ctx, item); err != nil {
				metrics.SubmissionsTotal.WithLabelValues("failed").Inc()
				return nil, fmt.Errorf("failed to persist auto-published item: %w", err)
			}
		} else {
			item.Status = models.StatusPublished
			item.ReviewerID = models.ReviewerAuto
		}
		emit(sink, "published", "confidence cleared the threshold")
	case gate.QueueForReview:
		if err := p.reviews.CreatePending(ctx, item); err != nil {
			metrics.SubmissionsTotal.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("failed to enqueue item for review: %w", err)
		}
		emit(sink, "queued", "confidence below threshold, queued for human review")
	}

	metrics.SubmissionsTotal.WithLabelValues(string(item.Status)).Inc()
	metrics.SubmitDuration.Observe(time.Since(startTime).Seconds())

	result := &SubmitResult{
		ID:          item.ID,
		Status:      item.Status,
		Confidence:  confidence,
		Output:      output,
		ContextUsed: len(retrievalCtx.Items),
	}
	if p.labeler != nil {
		result.PredictedLabel = p.labeler.Predict(prompt)
	}

	logger.Info("Submission processed",
		zap.String("item_id", item.ID),
		zap.String("status", string(item.Status)),
		zap.Float64("confidence", confidence),
		zap.Int("context_used", len(retrievalCtx.Items)),
		zap.Duration("latency", time.Since(startTime)),
	)

	return result, nil
}

func emit(sink EventSink, stage, detail string) {
	if sink != nil {
		sink(stage, detail)
	}
}
