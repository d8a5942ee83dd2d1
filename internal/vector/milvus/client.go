package milvus

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/hitl-agent/backend/internal/retrieval"
	"github.com/hitl-agent/backend/internal/similarity"
	"github.com/hitl-agent/backend/pkg/logger"
)

// Client indexes published-prompt embeddings. Vectors are normalized before
// insert and search, so inner-product scores equal cosine similarity and
// the retriever can apply its threshold unchanged.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

func NewClient(endpoint, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewGrpcClient(
		context.Background(),
		endpoint,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) EnsureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Published prompt embeddings",
		Fields: []*entity.Field{
			{
				Name:       "item_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			{
				Name:     "created_at",
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	err = m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.IP, 1024)
	if err != nil {
		return fmt.Errorf("failed to build index spec: %w", err)
	}
	err = m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = m.client.LoadCollection(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))

	return nil
}

// Insert adds one published item's prompt embedding. A zero-magnitude
// embedding is skipped; the item simply never matches.
func (m *Client) Insert(ctx context.Context, itemID string, embedding []float32, createdAtUnix int64) error {
	normalized := similarity.Normalize(embedding)
	if normalized == nil {
		logger.Warn("Skipping zero-magnitude embedding", zap.String("item_id", itemID))
		return nil
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("item_id", []string{itemID}),
		entity.NewColumnFloatVector("embedding", m.vectorDim, [][]float32{normalized}),
		entity.NewColumnInt64("created_at", []int64{createdAtUnix}),
	)
	if err != nil {
		return fmt.Errorf("failed to insert embedding: %w", err)
	}

	err = m.client.Flush(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Debug("Embedding indexed", zap.String("item_id", itemID))

	return nil
}

func (m *Client) Search(ctx context.Context, embedding []float32, topK int) ([]retrieval.IndexMatch, error) {
	normalized := similarity.Normalize(embedding)
	if normalized == nil {
		return nil, nil
	}

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		"",
		[]string{"item_id"},
		[]entity.Vector{entity.FloatVector(normalized)},
		"embedding",
		entity.IP,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	matches := make([]retrieval.IndexMatch, 0)
	for _, sr := range searchResult {
		idCol := sr.Fields.GetColumn("item_id")
		if idCol == nil {
			continue
		}
		for i := 0; i < sr.ResultCount; i++ {
			id, err := idCol.Get(i)
			if err != nil {
				continue
			}
			matches = append(matches, retrieval.IndexMatch{
				ItemID: id.(string),
				Score:  float64(sr.Scores[i]),
			})
		}
	}

	logger.Debug("Vector index searched",
		zap.Int("topK", topK),
		zap.Int("results", len(matches)),
	)

	return matches, nil
}
