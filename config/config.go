package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the askdoc service
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Pinecone  PineconeConfig  `mapstructure:"pinecone"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Listen   string `mapstructure:"listen"`
	APIToken string `mapstructure:"api_token"`
}

// LLMConfig contains the language model provider settings
type LLMConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Temperature    float64       `mapstructure:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// PineconeConfig contains vector index backend settings
type PineconeConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	IndexName string        `mapstructure:"index_name"`
	Cloud     string        `mapstructure:"cloud"`
	Region    string        `mapstructure:"region"`
	Dimension int           `mapstructure:"dimension"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// RetrievalConfig contains chunking and similarity-search settings
type RetrievalConfig struct {
	ChunkSize           int     `mapstructure:"chunk_size"`
	ChunkOverlap        int     `mapstructure:"chunk_overlap"`
	TopK                int     `mapstructure:"top_k"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
}

// PipelineConfig contains question pipeline settings
type PipelineConfig struct {
	MaxConcurrentQuestions int           `mapstructure:"max_concurrent_questions"`
	MaxAgentIterations     int           `mapstructure:"max_agent_iterations"`
	CleanupCron            string        `mapstructure:"cleanup_cron"`
	DownloadTimeout        time.Duration `mapstructure:"download_timeout"`
}

// StorageConfig contains optional persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig controls the optional answer cache
type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// TelemetryConfig controls trace export
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// Configured reports whether a Postgres connection is configured at all.
func (p PostgresConfig) Configured() bool {
	return p.URL != "" || (p.Host != "" && p.DBName != "")
}

// DSN builds a Postgres connection string from the configured fields.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("askdoc")
	viper.SetConfigType("yaml")
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("ASKDOC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// Config file is optional; defaults plus env cover a full setup
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	overrideFromEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.listen", ":8080")

	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.embedding_model", "text-embedding-3-small")
	viper.SetDefault("llm.temperature", 0.1)
	viper.SetDefault("llm.max_tokens", 1024)
	viper.SetDefault("llm.timeout", "60s")

	viper.SetDefault("pinecone.index_name", "askdoc-index")
	viper.SetDefault("pinecone.cloud", "aws")
	viper.SetDefault("pinecone.region", "us-east-1")
	viper.SetDefault("pinecone.dimension", 1536)
	viper.SetDefault("pinecone.timeout", "30s")

	viper.SetDefault("retrieval.chunk_size", 1000)
	viper.SetDefault("retrieval.chunk_overlap", 200)
	viper.SetDefault("retrieval.top_k", 5)
	viper.SetDefault("retrieval.similarity_threshold", 0.7)

	viper.SetDefault("pipeline.max_concurrent_questions", 5)
	viper.SetDefault("pipeline.max_agent_iterations", 5)
	viper.SetDefault("pipeline.cleanup_cron", "0 * * * *")
	viper.SetDefault("pipeline.download_timeout", "60s")

	viper.SetDefault("storage.postgres.sslmode", "disable")
	viper.SetDefault("storage.redis.port", 6379)
	viper.SetDefault("storage.redis.db", 0)

	viper.SetDefault("cache.ttl", "1h")

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
}

// overrideFromEnv overrides configuration with well-known environment variables
func overrideFromEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		viper.Set("llm.api_key", v)
	}
	if v := os.Getenv("PINECONE_API_KEY"); v != "" {
		viper.Set("pinecone.api_key", v)
	}
	if v := os.Getenv("ASKDOC_API_TOKEN"); v != "" {
		viper.Set("server.api_token", v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		viper.Set("storage.postgres.url", v)
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		viper.Set("storage.redis.host", v)
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			viper.Set("storage.redis.port", p)
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		viper.Set("storage.redis.password", v)
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Retrieval.ChunkSize <= 0 {
		return fmt.Errorf("retrieval.chunk_size must be > 0")
	}
	if cfg.Retrieval.ChunkOverlap < 0 || cfg.Retrieval.ChunkOverlap >= cfg.Retrieval.ChunkSize {
		return fmt.Errorf("retrieval.chunk_overlap must be >= 0 and < chunk_size")
	}
	if cfg.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be > 0")
	}
	if cfg.Retrieval.SimilarityThreshold < 0 || cfg.Retrieval.SimilarityThreshold > 1 {
		return fmt.Errorf("retrieval.similarity_threshold must be within [0,1]")
	}
	if cfg.Pinecone.Dimension <= 0 {
		return fmt.Errorf("pinecone.dimension must be > 0")
	}
	if cfg.Pipeline.MaxAgentIterations <= 0 {
		return fmt.Errorf("pipeline.max_agent_iterations must be > 0")
	}
	if cfg.Pipeline.MaxConcurrentQuestions <= 0 {
		return fmt.Errorf("pipeline.max_concurrent_questions must be > 0")
	}
	return nil
}
