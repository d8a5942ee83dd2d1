package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	SQLite  SQLiteConfig
	Redis   RedisConfig
	Milvus  MilvusConfig
	LLM     LLMConfig
	Review  ReviewConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     int
	WriteTimeout    int
	BodyLimit       int
	AllowedOrigins  []string
	Development     bool
	SubmitPerMinute int
	DecidePerMinute int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLHours int
}

type MilvusConfig struct {
	Enabled        bool
	Endpoint       string
	CollectionName string
	VectorDim      int
}

type LLMConfig struct {
	Provider       string
	Model          string
	APIKey         string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
	EmbeddingModel string
	EmbeddingDim   int
}

// ReviewConfig carries the routing and retrieval policy. The defaults mirror
// the observed production values; all of them are tunable per deployment.
type ReviewConfig struct {
	ConfidenceThreshold  float64
	TopK                 int
	MinSimilarity        float64
	MinExamples          int
	PersistAutoPublished bool
	ModelPath            string
	MonitorIntervalSec   int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/hitl-agent")

	viper.SetEnvPrefix("HITL_AGENT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 1048576)
	viper.SetDefault("server.allowedOrigins", []string{})
	viper.SetDefault("server.development", false)
	viper.SetDefault("server.submitPerMinute", 30)
	viper.SetDefault("server.decidePerMinute", 120)

	viper.SetDefault("sqlite.path", "./data/hitl.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttlHours", 168)

	viper.SetDefault("milvus.enabled", false)
	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "published_prompts")
	viper.SetDefault("milvus.vectorDim", 1536)

	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxTokens", 2048)
	viper.SetDefault("llm.timeoutSec", 60)
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-large")
	viper.SetDefault("llm.embeddingDim", 1536)

	viper.SetDefault("review.confidenceThreshold", 0.85)
	viper.SetDefault("review.topK", 3)
	viper.SetDefault("review.minSimilarity", 0.5)
	viper.SetDefault("review.minExamples", 3)
	viper.SetDefault("review.persistAutoPublished", true)
	viper.SetDefault("review.modelPath", "./data/classifier.json")
	viper.SetDefault("review.monitorIntervalSec", 60)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
