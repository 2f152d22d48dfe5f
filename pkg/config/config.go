package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	LLM       LLMConfig
	Embedding EmbeddingConfig
	Retrieval RetrievalConfig
	Zilliz    ZillizConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	Catalog   CatalogConfig
	Prompt    PromptConfig
	Pipeline  PipelineConfig
	Entities  EntitiesConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
	MaxQueryLen  int
	Development  bool
}

// LLMConfig selects the remote model used for intent mapping and repair.
// Provider is one of "openai", "anthropic", "gemini" or "none".
type LLMConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	MaxTokens   int
	TimeoutMS   int
}

type EmbeddingConfig struct {
	Provider    string
	Model       string
	APIKey      string
	Dim         int
	CacheTTL    int
	BatchSize   int
	Concurrency int
}

type RetrievalConfig struct {
	Backend   string
	TopK      int
	TimeoutMS int
}

type ZillizConfig struct {
	Endpoint         string
	APIKey           string
	CollectionPrefix string
}

type SQLiteConfig struct {
	Enabled bool
	Path    string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type CatalogConfig struct {
	Path string
}

type PromptConfig struct {
	Path string
}

type PipelineConfig struct {
	MaxAttempts        int
	BaseDelayMS        int
	MaxDelayMS         int
	FallbackCeiling    float64
	RepairAttempts     int
	LexicalWeight      float64
	SemanticWeight     float64
	WorkspaceThreshold float64
	Temperature        float64
	HintCandidates     int
}

type EntitiesConfig struct {
	NEREnabled     bool
	Locations      []string
	Products       []string
	CustomPatterns []string
}

type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func (c RetrievalConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func (c PipelineConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

func (c PipelineConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMS) * time.Millisecond
}

func Load() (*Config, error) {
	return LoadWith(viper.New())
}

// LoadWith reads configuration through the given viper instance so callers
// (the CLI, tests) can point it at an explicit file first.
func LoadWith(v *viper.Viper) (*Config, error) {
	// SetConfigName clears an explicit file, so search paths apply only
	// when none was given.
	if v.ConfigFileUsed() == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/intent-agent")
	}

	v.SetEnvPrefix("INTENT_AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings that would break pipeline invariants at runtime.
func (c *Config) Validate() error {
	p := c.Pipeline
	if p.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.maxAttempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.RepairAttempts < 0 {
		return fmt.Errorf("pipeline.repairAttempts must be >= 0, got %d", p.RepairAttempts)
	}
	if p.FallbackCeiling < 0 || p.FallbackCeiling > 1 {
		return fmt.Errorf("pipeline.fallbackCeiling must be within [0,1], got %v", p.FallbackCeiling)
	}
	if p.LexicalWeight < 0 || p.SemanticWeight < 0 || p.LexicalWeight+p.SemanticWeight == 0 {
		return fmt.Errorf("pipeline weights must be non-negative and not both zero")
	}
	if p.WorkspaceThreshold <= 0 || p.WorkspaceThreshold > 1 {
		return fmt.Errorf("pipeline.workspaceThreshold must be within (0,1], got %v", p.WorkspaceThreshold)
	}
	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("retrieval.topK must be >= 1, got %d", c.Retrieval.TopK)
	}
	switch c.Retrieval.Backend {
	case "memory", "milvus":
	default:
		return fmt.Errorf("unknown retrieval backend %q", c.Retrieval.Backend)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 60)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.maxQueryLen", 2000)
	v.SetDefault("server.development", false)

	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseURL", "")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.maxTokens", 1024)
	v.SetDefault("llm.timeoutMS", 15000)

	v.SetDefault("embedding.provider", "hash")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.apiKey", "")
	v.SetDefault("embedding.dim", 384)
	v.SetDefault("embedding.cacheTTL", 86400)
	v.SetDefault("embedding.batchSize", 32)
	v.SetDefault("embedding.concurrency", 4)

	v.SetDefault("retrieval.backend", "memory")
	v.SetDefault("retrieval.topK", 5)
	v.SetDefault("retrieval.timeoutMS", 3000)

	v.SetDefault("zilliz.endpoint", "localhost:19530")
	v.SetDefault("zilliz.apiKey", "")
	v.SetDefault("zilliz.collectionPrefix", "workspace_exemplars")

	v.SetDefault("sqlite.enabled", true)
	v.SetDefault("sqlite.path", "./data/intent_agent.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("catalog.path", "")
	v.SetDefault("prompt.path", "")

	v.SetDefault("pipeline.maxAttempts", 3)
	v.SetDefault("pipeline.baseDelayMS", 500)
	v.SetDefault("pipeline.maxDelayMS", 5000)
	v.SetDefault("pipeline.fallbackCeiling", 0.5)
	v.SetDefault("pipeline.repairAttempts", 2)
	v.SetDefault("pipeline.lexicalWeight", 0.5)
	v.SetDefault("pipeline.semanticWeight", 0.5)
	v.SetDefault("pipeline.workspaceThreshold", 0.75)
	v.SetDefault("pipeline.temperature", 0.1)
	v.SetDefault("pipeline.hintCandidates", 3)

	v.SetDefault("entities.nerEnabled", true)
	v.SetDefault("entities.locations", []string{})
	v.SetDefault("entities.products", []string{})
	v.SetDefault("entities.customPatterns", []string{})

	v.SetDefault("rateLimit.enabled", true)
	v.SetDefault("rateLimit.requestsPerSecond", 20.0)
	v.SetDefault("rateLimit.burst", 40)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
