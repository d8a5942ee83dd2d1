package llm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/hitl-agent/backend/pkg/circuitbreaker"
	"github.com/hitl-agent/backend/pkg/logger"
	"github.com/hitl-agent/backend/pkg/retry"
)

// ErrGenerationFailed wraps upstream completion failures so callers can
// distinguish them from local errors.
var ErrGenerationFailed = errors.New("generation service failed")

type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	temperature    float32
	maxTokens      int
	timeout        time.Duration
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

func NewClient(apiKey, model, embeddingModel string, temperature float32, maxTokens, timeoutSec int) *Client {
	client := openai.NewClient(apiKey)

	cb := circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Logger:       logger.GetLogger(),
	}

	timeout := time.Duration(timeoutSec) * time.Second
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	logger.Info("LLM client initialized",
		zap.String("model", model),
		zap.String("embedding_model", embeddingModel),
	)

	return &Client{
		client:         client,
		model:          model,
		embeddingModel: embeddingModel,
		temperature:    temperature,
		maxTokens:      maxTokens,
		timeout:        timeout,
		cb:             cb,
		retryConfig:    retryConfig,
	}
}

func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string, temperature float32, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: userPrompt,
		},
	}

	var content string

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       c.model,
					Messages:    messages,
					Temperature: temperature,
					MaxTokens:   maxTokens,
				},
			)
			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}

			logger.Debug("Completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			content = resp.Choices[0].Message.Content
			return nil
		})
	})

	if err != nil {
		return "", err
	}

	return content, nil
}

// Generate produces a candidate answer. The context block, when present,
// carries previously approved examples and is prepended to the prompt.
func (c *Client) Generate(ctx context.Context, prompt, contextBlock string) (string, error) {
	systemPrompt := "You are an assistant producing answers that will be reviewed before publication. Answer the question directly and completely."

	userPrompt := prompt
	if contextBlock != "" {
		userPrompt = contextBlock + "\n\nQuestion: " + prompt + "\n\nAnswer:"
	}

	content, err := c.complete(ctx, systemPrompt, userPrompt, c.temperature, c.maxTokens)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	return content, nil
}

// GenerateEmbedding returns the embedding vector for text. Callers treat a
// failure as a missing embedding, not a fatal error.
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var embedding []float32

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateEmbeddings(
				ctx,
				openai.EmbeddingRequest{
					Input: []string{text},
					Model: openai.EmbeddingModel(c.embeddingModel),
				},
			)
			if err != nil {
				return fmt.Errorf("failed to generate embedding: %w", err)
			}

			embedding = make([]float32, len(resp.Data[0].Embedding))
			copy(embedding, resp.Data[0].Embedding)
			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return embedding, nil
}

// ScoreConfidence asks the model to rate its own answer between 0.0 and 1.0.
// An unparseable rating falls back to 0.5 so a chatty model never blocks the
// pipeline; the result is clamped before it reaches the gate.
func (c *Client) ScoreConfidence(ctx context.Context, candidate string) (float64, error) {
	systemPrompt := "You are a self-evaluation engine. Rate the trustworthiness of the given answer. Reply with a single number between 0.0 and 1.0 and nothing else."

	content, err := c.complete(ctx, systemPrompt, "Answer: "+candidate, 0.0, 8)
	if err != nil {
		return 0, fmt.Errorf("failed to score confidence: %w", err)
	}

	score, ok := parseScore(content)
	if !ok {
		logger.Warn("Unparseable confidence rating, using fallback",
			zap.String("raw", content),
		)
		return 0.5, nil
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}

func parseScore(content string) (float64, bool) {
	for _, field := range strings.Fields(strings.TrimSpace(content)) {
		field = strings.Trim(field, ",;:")
		if v, err := strconv.ParseFloat(field, 64); err == nil {
			return v, true
		}
	}
	return 0, false
}
