package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/hitl-agent/backend/internal/api/handlers"
	"github.com/hitl-agent/backend/internal/cache/redis"
	"github.com/hitl-agent/backend/internal/classifier"
	"github.com/hitl-agent/backend/internal/llm"
	"github.com/hitl-agent/backend/internal/metrics"
	"github.com/hitl-agent/backend/internal/middleware/ratelimit"
	"github.com/hitl-agent/backend/internal/middleware/security"
	"github.com/hitl-agent/backend/internal/middleware/validation"
	"github.com/hitl-agent/backend/internal/pipeline"
	"github.com/hitl-agent/backend/internal/retrieval"
	"github.com/hitl-agent/backend/internal/review"
	"github.com/hitl-agent/backend/internal/storage/models"
	"github.com/hitl-agent/backend/internal/storage/sqlite"
	"github.com/hitl-agent/backend/internal/vector/milvus"
	"github.com/hitl-agent/backend/pkg/config"
	appLogger "github.com/hitl-agent/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting HITL Review API Server")

	store, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite store", zap.Error(err))
	}
	defer store.Close()

	err = store.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		cfg.LLM.TimeoutSec,
	)

	builder := retrieval.NewBuilder(llmClient, store, retrieval.Config{
		TopK:          cfg.Review.TopK,
		MinSimilarity: cfg.Review.MinSimilarity,
	})

	if cfg.Redis.Enabled {
		cache, err := redis.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			time.Duration(cfg.Redis.TTLHours)*time.Hour,
		)
		if err != nil {
			appLogger.Warn("Redis unavailable, embedding cache disabled", zap.Error(err))
		} else {
			defer cache.Close()
			builder.WithCache(cache)
		}
	}

	reviews := review.NewService(store)

	var vectorIndex *milvus.Client
	if cfg.Milvus.Enabled {
		vectorIndex, err = milvus.NewClient(
			cfg.Milvus.Endpoint,
			cfg.Milvus.CollectionName,
			cfg.Milvus.VectorDim,
		)
		if err != nil {
			appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
		}
		defer vectorIndex.Close()

		err = vectorIndex.EnsureCollection(context.Background())
		if err != nil {
			appLogger.Fatal("Failed to ensure collection", zap.Error(err))
		}

		builder.WithIndex(vectorIndex)

		// Every publication, gated or human-approved, lands in the index so
		// the next retrieval can find it.
		reviews.OnPublish(func(ctx context.Context, item *models.Item) {
			embedding, err := llmClient.GenerateEmbedding(ctx, item.Prompt)
			if err != nil {
				appLogger.Warn("Failed to embed published item",
					zap.String("item_id", item.ID),
					zap.Error(err),
				)
				return
			}
			if err := vectorIndex.Insert(ctx, item.ID, embedding, item.CreatedAt.Unix()); err != nil {
				appLogger.Warn("Failed to index published item",
					zap.String("item_id", item.ID),
					zap.Error(err),
				)
			}
		})
	}

	trainer := classifier.NewTrainer(store, cfg.Review.ModelPath)

	pipe := pipeline.NewPipeline(builder, llmClient, llmClient, reviews, trainer, pipeline.Config{
		ConfidenceThreshold:  cfg.Review.ConfidenceThreshold,
		PersistAutoPublished: cfg.Review.PersistAutoPublished,
	})

	metrics.Init()

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	allowOrigins := "*"
	if len(cfg.Server.AllowedOrigins) > 0 {
		allowOrigins = strings.Join(cfg.Server.AllowedOrigins, ", ")
	}

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Reviewer-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.Headers(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Development:    cfg.Server.Development,
	}))

	limiter := ratelimit.New(ratelimit.Config{
		SubmitPerMinute: cfg.Server.SubmitPerMinute,
		DecidePerMinute: cfg.Server.DecidePerMinute,
		Logger:          appLogger.GetLogger(),
	})
	defer limiter.Stop()
	app.Use(limiter.Middleware())

	app.Use(validation.Middleware(validation.Config{Logger: appLogger.GetLogger()}))

	submitHandler := handlers.NewSubmitHandler(pipe)
	reviewHandler := handlers.NewReviewHandler(store, reviews)
	retrainHandler := handlers.NewRetrainHandler(trainer, cfg.Review.MinExamples)
	wsHandler := handlers.NewWebSocketHandler(pipe)

	api := app.Group("/api/v1")

	api.Post("/submit", submitHandler.HandleSubmit)
	api.Get("/items/pending", reviewHandler.ListPending)
	api.Get("/items/published", reviewHandler.ListPublished)
	api.Post("/items/:id/decide", reviewHandler.HandleDecide)
	api.Post("/retrain", retrainHandler.HandleRetrain)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ready",
			"trained": trainer.Trained(),
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(wsHandler.HandleConnection))

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	go monitorQueues(monitorCtx, store, time.Duration(cfg.Review.MonitorIntervalSec)*time.Second)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}

// monitorQueues periodically samples queue depths for the gauges and flags a
// growing review backlog in the logs.
func monitorQueues(ctx context.Context, store *sqlite.Client, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pending, err := store.ListPending(ctx)
			if err != nil {
				appLogger.Warn("Queue monitor failed to list pending items", zap.Error(err))
				continue
			}
			published, err := store.ListPublished(ctx)
			if err != nil {
				appLogger.Warn("Queue monitor failed to list published items", zap.Error(err))
				continue
			}

			metrics.PendingItems.Set(float64(len(pending)))
			metrics.PublishedItems.Set(float64(len(published)))

			appLogger.Info("Queue depths",
				zap.Int("pending", len(pending)),
				zap.Int("published", len(published)),
			)
		}
	}
}
