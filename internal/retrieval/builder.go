package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hitl-agent/backend/internal/similarity"
	"github.com/hitl-agent/backend/internal/storage/models"
	"github.com/hitl-agent/backend/pkg/logger"
	"github.com/hitl-agent/backend/pkg/utils"
)

type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32) error
}

type CorpusReader interface {
	ListPublished(ctx context.Context) ([]models.Item, error)
}

// Index is an optional vector index over published prompt embeddings. When
// present it replaces the corpus scan; scores must be cosine similarities.
type Index interface {
	Search(ctx context.Context, embedding []float32, topK int) ([]IndexMatch, error)
}

type IndexMatch struct {
	ItemID string
	Score  float64
}

type ScoredItem struct {
	Item  models.Item
	Score float64
}

type Context struct {
	Text  string
	Items []ScoredItem
}

type Config struct {
	TopK          int
	MinSimilarity float64
}

// Builder retrieves the published items most similar to a new prompt and
// formats them into a context block for the generator.
type Builder struct {
	embedder Embedder
	corpus   CorpusReader
	cache    EmbeddingCache
	index    Index
	config   Config
}

func NewBuilder(embedder Embedder, corpus CorpusReader, config Config) *Builder {
	return &Builder{
		embedder: embedder,
		corpus:   corpus,
		config:   config,
	}
}

// WithCache enables embedding reuse between retrievals.
func (b *Builder) WithCache(cache EmbeddingCache) *Builder {
	b.cache = cache
	return b
}

// WithIndex swaps the corpus scan for a vector index lookup.
func (b *Builder) WithIndex(index Index) *Builder {
	b.index = index
	return b
}

// Build returns the retrieval context for prompt. A missing prompt
// embedding, an empty corpus, or no item clearing the similarity threshold
// all yield an empty context; generation proceeds with the bare prompt.
func (b *Builder) Build(ctx context.Context, prompt string) (Context, error) {
	published, err := b.corpus.ListPublished(ctx)
	if err != nil {
		return Context{}, fmt.Errorf("failed to read published corpus: %w", err)
	}
	if len(published) == 0 {
		return Context{}, nil
	}

	promptEmbedding, err := b.embedder.GenerateEmbedding(ctx, prompt)
	if err != nil || len(promptEmbedding) == 0 {
		logger.Warn("Prompt embedding unavailable, proceeding without context",
			zap.Error(err),
		)
		return Context{}, nil
	}

	var matches []ScoredItem
	if b.index != nil {
		matches, err = b.searchIndex(ctx, published, promptEmbedding)
		if err != nil {
			logger.Warn("Vector index search failed, falling back to corpus scan",
				zap.Error(err),
			)
			matches = b.scanCorpus(ctx, published, promptEmbedding)
		}
	} else {
		matches = b.scanCorpus(ctx, published, promptEmbedding)
	}

	if len(matches) == 0 {
		return Context{}, nil
	}

	logger.Debug("Similar approved answers found",
		zap.Int("count", len(matches)),
		zap.Float64("min_similarity", b.config.MinSimilarity),
		zap.Float64("top_score", matches[0].Score),
	)

	return Context{
		Text:  formatContext(matches),
		Items: matches,
	}, nil
}

func (b *Builder) scanCorpus(ctx context.Context, published []models.Item, promptEmbedding []float32) []ScoredItem {
	var matches []ScoredItem

	for _, item := range published {
		embedding := b.itemEmbedding(ctx, item.Prompt)
		score := similarity.Cosine(promptEmbedding, embedding)
		if score >= b.config.MinSimilarity {
			matches = append(matches, ScoredItem{Item: item, Score: score})
		}
	}

	// Descending by score; ties go to the earlier item.
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Item.CreatedAt.Before(matches[j].Item.CreatedAt)
	})

	if len(matches) > b.config.TopK {
		matches = matches[:b.config.TopK]
	}
	return matches
}

func (b *Builder) searchIndex(ctx context.Context, published []models.Item, promptEmbedding []float32) ([]ScoredItem, error) {
	hits, err := b.index.Search(ctx, promptEmbedding, b.config.TopK)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]models.Item, len(published))
	for _, item := range published {
		byID[item.ID] = item
	}

	var matches []ScoredItem
	for _, hit := range hits {
		item, ok := byID[hit.ItemID]
		if !ok {
			continue
		}
		if hit.Score >= b.config.MinSimilarity {
			matches = append(matches, ScoredItem{Item: item, Score: hit.Score})
		}
	}
	return matches, nil
}

// itemEmbedding returns the stored-prompt embedding, from cache when
// available. Any failure yields an empty vector, which scores 0 and drops
// the item from matching.
func (b *Builder) itemEmbedding(ctx context.Context, text string) []float32 {
	key := utils.CacheKey(text)

	if b.cache != nil {
		embedding, found, err := b.cache.GetEmbedding(ctx, key)
		if err != nil {
			logger.Warn("Embedding cache read failed", zap.Error(err))
		} else if found {
			return embedding
		}
	}

	embedding, err := b.embedder.GenerateEmbedding(ctx, text)
	if err != nil {
		logger.Warn("Failed to embed corpus prompt", zap.Error(err))
		return nil
	}

	if b.cache != nil {
		if err := b.cache.SetEmbedding(ctx, key, embedding); err != nil {
			logger.Warn("Embedding cache write failed", zap.Error(err))
		}
	}

	return embedding
}

func formatContext(items []ScoredItem) string {
	var builder strings.Builder
	builder.WriteString("The following are previously approved answers to similar questions:\n")

	for i, scored := range items {
		builder.WriteString(fmt.Sprintf("\n[Example %d]\nQuestion: %s\nApproved answer: %s\n",
			i+1,
			scored.Item.Prompt,
			scored.Item.Output,
		))
	}

	builder.WriteString("\nUse the approved answers above as reference. Maintain their style and quality while answering the new question.")

	return builder.String()
}
