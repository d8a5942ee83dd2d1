package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hitl-agent/backend/internal/storage/models"
	"github.com/hitl-agent/backend/pkg/logger"
)

type LabeledSource interface {
	ListLabeled(ctx context.Context) ([]models.LabeledExample, error)
}

type ResultStatus string

const (
	StatusTrained          ResultStatus = "trained"
	StatusInsufficientData ResultStatus = "insufficient_data"
)

// Result reports a retrain outcome. InsufficientData is a normal result,
// not an error: it tells the caller how many labeled examples exist and how
// many are needed.
type Result struct {
	Status       ResultStatus `json:"status"`
	ExampleCount int          `json:"example_count"`
	MinExamples  int          `json:"min_examples"`
	Labels       []string     `json:"labels,omitempty"`
	TrainedAt    time.Time    `json:"trained_at,omitempty"`
}

// Trainer rebuilds the classifier from human-labeled examples. The active
// model is swapped atomically, so in-flight predictions keep using the old
// model until the new one is fully built; retraining never holds a lock
// that item transitions depend on.
type Trainer struct {
	source    LabeledSource
	modelPath string

	retrainMu sync.Mutex
	active    atomic.Pointer[Model]
}

func NewTrainer(source LabeledSource, modelPath string) *Trainer {
	t := &Trainer{
		source:    source,
		modelPath: modelPath,
	}

	if model, err := loadModel(modelPath); err == nil {
		t.active.Store(model)
		logger.Info("Classifier model loaded",
			zap.String("path", modelPath),
			zap.Int("examples", model.ExampleCount),
		)
	}

	return t
}

// Retrain fits a new model from a snapshot of the labeled examples. With
// fewer than minExamples examples it is a no-op reporting the shortfall.
func (t *Trainer) Retrain(ctx context.Context, minExamples int) (Result, error) {
	t.retrainMu.Lock()
	defer t.retrainMu.Unlock()

	examples, err := t.source.ListLabeled(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read labeled examples: %w", err)
	}

	if len(examples) < minExamples {
		logger.Info("Not enough labeled examples to retrain",
			zap.Int("found", len(examples)),
			zap.Int("required", minExamples),
		)
		return Result{
			Status:       StatusInsufficientData,
			ExampleCount: len(examples),
			MinExamples:  minExamples,
		}, nil
	}

	texts := make([]string, len(examples))
	labels := make([]string, len(examples))
	for i, ex := range examples {
		texts[i] = ex.Text
		labels[i] = ex.Label
	}

	model := Fit(texts, labels)

	if t.modelPath != "" {
		if err := saveModel(t.modelPath, model); err != nil {
			return Result{}, fmt.Errorf("failed to persist model: %w", err)
		}
	}

	t.active.Store(model)

	logger.Info("Classifier retrained",
		zap.Int("examples", model.ExampleCount),
		zap.Int("labels", len(model.LabelCounts)),
		zap.Int("vocab", model.VocabSize),
	)

	return Result{
		Status:       StatusTrained,
		ExampleCount: model.ExampleCount,
		MinExamples:  minExamples,
		Labels:       model.Labels(),
		TrainedAt:    model.TrainedAt,
	}, nil
}

// Predict labels text with the active model, or the keyword heuristic when
// no model has been trained yet.
func (t *Trainer) Predict(text string) string {
	if model := t.active.Load(); model != nil {
		return model.Predict(text)
	}
	return string(HeuristicPredict(text))
}

// Trained reports whether a fitted model is active.
func (t *Trainer) Trained() bool {
	return t.active.Load() != nil
}

func loadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var model Model
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("failed to decode model file: %w", err)
	}
	return &model, nil
}

// saveModel writes to a temp file and renames it so a crash mid-write never
// leaves a torn model on disk.
func saveModel(path string, model *Model) error {
	data, err := json.MarshalIndent(model, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write model file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace model file: %w", err)
	}
	return nil
}
