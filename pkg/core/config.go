package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/oceanbase/memlearn-go/pkg/logging"
)

// Config contains the complete configuration for a memlearn client.
//
// It includes settings for:
//   - Vector store (memory persistence and nearest-neighbour search)
//   - Embedding provider (optional; without it reads use text matching)
//   - LLM provider (optional; classifies relationship types)
//   - Learning knobs (ranking, mining, scheduler, side channels)
//   - Logging
//
// Example:
//
//	config := &core.Config{
//	    Embedder: core.EmbedderConfig{
//	        Provider:   "openai",
//	        APIKey:     "sk-...",
//	        Model:      "text-embedding-3-small",
//	        Dimensions: 1536,
//	    },
//	    VectorStore: core.VectorStoreConfig{
//	        Provider: "sqlite",
//	        Config: map[string]interface{}{
//	            "db_path": "./memlearn.db",
//	        },
//	    },
//	}
type Config struct {
	// LLM contains LLM provider configuration (optional).
	LLM *LLMConfig `json:"llm,omitempty"`

	// Embedder contains embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder"`

	// VectorStore contains vector store configuration.
	VectorStore VectorStoreConfig `json:"vector_store"`

	// Learning contains the ranking and mining knobs.
	Learning LearningConfig `json:"learning"`

	// Logging configures the structured logger.
	Logging logging.Config `json:"logging"`
}

// LLMConfig contains configuration for the LLM provider.
//
// Supported providers: openai, qwen, deepseek, ollama. All of them are
// reached through the OpenAI-compatible chat API.
type LLMConfig struct {
	// Provider is the LLM provider name.
	Provider string `json:"provider"`

	// APIKey is the API key for the LLM provider.
	APIKey string `json:"api_key"`

	// Model is the model name to use (e.g., "gpt-4o-mini", "qwen-plus").
	Model string `json:"model"`

	// BaseURL is the base URL for the API (optional, uses provider default if empty).
	BaseURL string `json:"base_url,omitempty"`
}

// EmbedderConfig contains configuration for the embedding provider.
//
// Supported providers: openai, qwen. An empty provider disables embeddings
// and every read takes the text path.
type EmbedderConfig struct {
	// Provider is the embedding provider name.
	Provider string `json:"provider"`

	// APIKey is the API key for the embedding provider.
	APIKey string `json:"api_key"`

	// Model is the embedding model name.
	Model string `json:"model"`

	// BaseURL is the base URL for the API (optional, uses provider default if empty).
	BaseURL string `json:"base_url,omitempty"`

	// Dimensions is the dimension of the embedding vectors (e.g., 1536, 1024).
	Dimensions int `json:"dimensions,omitempty"`
}

// VectorStoreConfig contains configuration for the vector store.
//
// Supported providers: sqlite, postgres, oceanbase, memory.
type VectorStoreConfig struct {
	// Provider is the vector store provider name.
	Provider string `json:"provider"`

	// Config contains provider-specific configuration.
	// For SQLite: db_path, collection_name, embedding_model_dims
	// For OceanBase: host, port, user, password, db_name, collection_name, embedding_model_dims
	// For PostgreSQL: host, port, user, password, db_name, collection_name, embedding_model_dims, ssl_mode
	Config map[string]interface{} `json:"config"`
}

// LearningConfig contains the knobs of the learning layer. Zero values are
// replaced by the defaults listed on each field.
type LearningConfig struct {
	// OverfetchFactor multiplies the candidate pool before re-ranking. Default: 3
	OverfetchFactor int `json:"overfetch_factor,omitempty"`

	// DefaultLimit is the result count when a request leaves it unset. Default: 10
	DefaultLimit int `json:"default_limit,omitempty"`

	// MinCoAccessCount is the co-access count a pair needs before it is
	// suggested as a relationship. Default: 5
	MinCoAccessCount int `json:"min_co_access_count,omitempty"`

	// MinSequenceCount is the occurrence count of a sequence pattern. Default: 5
	MinSequenceCount int `json:"min_sequence_count,omitempty"`

	// MinBucketMemories is the memory count an hour or weekday bucket needs. Default: 3
	MinBucketMemories int `json:"min_bucket_memories,omitempty"`

	// DuplicateWindow is how many recent memories duplicate detection scans. Default: 500
	DuplicateWindow int `json:"duplicate_window,omitempty"`

	// DuplicateThreshold is the text similarity that flags a duplicate. Default: 0.85
	DuplicateThreshold float64 `json:"duplicate_threshold,omitempty"`

	// MergeThreshold is the similarity above which a group is suggested for merge. Default: 0.95
	MergeThreshold float64 `json:"merge_threshold,omitempty"`

	// AutoApplyThreshold is the confidence at which the scheduler persists
	// relationship suggestions. Default: 0.75
	AutoApplyThreshold float64 `json:"auto_apply_threshold,omitempty"`

	// SchedulerEnabled starts the periodic learning cycle with the client.
	SchedulerEnabled bool `json:"scheduler_enabled"`

	// SchedulerInterval is the learning cycle period. Default: 1h
	SchedulerInterval time.Duration `json:"scheduler_interval,omitempty"`

	// UsageQueueSize bounds the usage side channel. Default: 1024
	UsageQueueSize int `json:"usage_queue_size,omitempty"`

	// UsageWorkers is the number of usage writers. Default: 2
	UsageWorkers int `json:"usage_workers,omitempty"`

	// WeightsCacheTTL is how long cached learning weights stay fresh. Default: 5m
	WeightsCacheTTL time.Duration `json:"weights_cache_ttl,omitempty"`

	// ContextThreshold is the similarity floor of the prediction context pass. Default: 0.6
	ContextThreshold float64 `json:"context_threshold,omitempty"`

	// ContextCandidates is the candidate count of the prediction context pass. Default: 20
	ContextCandidates int `json:"context_candidates,omitempty"`

	// StaleAfterDays marks memories unread for this long as stale. Default: 90
	StaleAfterDays float64 `json:"stale_after_days,omitempty"`
}

// DefaultLearningConfig returns the learning knobs with every default set.
func DefaultLearningConfig() LearningConfig {
	return LearningConfig{
		OverfetchFactor:    3,
		DefaultLimit:       10,
		MinCoAccessCount:   5,
		MinSequenceCount:   5,
		MinBucketMemories:  3,
		DuplicateWindow:    500,
		DuplicateThreshold: 0.85,
		MergeThreshold:     0.95,
		AutoApplyThreshold: 0.75,
		SchedulerInterval:  time.Hour,
		UsageQueueSize:     1024,
		UsageWorkers:       2,
		WeightsCacheTTL:    5 * time.Minute,
		ContextThreshold:   0.6,
		ContextCandidates:  20,
		StaleAfterDays:     90,
	}
}

// withDefaults fills zero fields from DefaultLearningConfig.
func (l LearningConfig) withDefaults() LearningConfig {
	d := DefaultLearningConfig()
	if l.OverfetchFactor <= 0 {
		l.OverfetchFactor = d.OverfetchFactor
	}
	if l.DefaultLimit <= 0 {
		l.DefaultLimit = d.DefaultLimit
	}
	if l.MinCoAccessCount <= 0 {
		l.MinCoAccessCount = d.MinCoAccessCount
	}
	if l.MinSequenceCount <= 0 {
		l.MinSequenceCount = d.MinSequenceCount
	}
	if l.MinBucketMemories <= 0 {
		l.MinBucketMemories = d.MinBucketMemories
	}
	if l.DuplicateWindow <= 0 {
		l.DuplicateWindow = d.DuplicateWindow
	}
	if l.DuplicateThreshold <= 0 {
		l.DuplicateThreshold = d.DuplicateThreshold
	}
	if l.MergeThreshold <= 0 {
		l.MergeThreshold = d.MergeThreshold
	}
	if l.AutoApplyThreshold <= 0 {
		l.AutoApplyThreshold = d.AutoApplyThreshold
	}
	if l.SchedulerInterval <= 0 {
		l.SchedulerInterval = d.SchedulerInterval
	}
	if l.UsageQueueSize <= 0 {
		l.UsageQueueSize = d.UsageQueueSize
	}
	if l.UsageWorkers <= 0 {
		l.UsageWorkers = d.UsageWorkers
	}
	if l.WeightsCacheTTL <= 0 {
		l.WeightsCacheTTL = d.WeightsCacheTTL
	}
	if l.ContextThreshold <= 0 {
		l.ContextThreshold = d.ContextThreshold
	}
	if l.ContextCandidates <= 0 {
		l.ContextCandidates = d.ContextCandidates
	}
	if l.StaleAfterDays <= 0 {
		l.StaleAfterDays = d.StaleAfterDays
	}
	return l
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - DATABASE_PROVIDER (sqlite, oceanbase, postgres, memory)
//   - SQLITE_PATH, SQLITE_COLLECTION, SQLITE_EMBEDDING_MODEL_DIMS
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD, etc.
//   - OCEANBASE_HOST, OCEANBASE_PORT, OCEANBASE_USER, OCEANBASE_PASSWORD, etc.
//   - EMBEDDING_PROVIDER, EMBEDDING_API_KEY, EMBEDDING_MODEL, EMBEDDING_BASE_URL, EMBEDDING_DIMS
//   - LLM_PROVIDER, LLM_API_KEY, LLM_MODEL, LLM_BASE_URL (LLM is configured only when LLM_PROVIDER is set)
//   - LEARNING_SCHEDULER_ENABLED, LEARNING_SCHEDULER_INTERVAL,
//     LEARNING_DUPLICATE_WINDOW, LEARNING_AUTO_APPLY_THRESHOLD
//   - LOG_LEVEL, LOG_DEVELOPMENT
//
// Example:
//
//	config, err := core.LoadConfigFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadConfigFromEnv() (*Config, error) {
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	provider := getEnvOrDefault("DATABASE_PROVIDER", "sqlite")

	vectorStoreConfig := make(map[string]interface{})
	switch provider {
	case "oceanbase":
		port, _ := strconv.Atoi(getEnvOrDefault("OCEANBASE_PORT", "2881"))
		dims, _ := strconv.Atoi(getEnvOrDefault("OCEANBASE_EMBEDDING_MODEL_DIMS", "1536"))

		vectorStoreConfig = map[string]interface{}{
			"host":                 getEnvOrDefault("OCEANBASE_HOST", "127.0.0.1"),
			"port":                 port,
			"user":                 getEnvOrDefault("OCEANBASE_USER", "root@sys"),
			"password":             os.Getenv("OCEANBASE_PASSWORD"),
			"db_name":              getEnvOrDefault("OCEANBASE_DATABASE", "memlearn"),
			"collection_name":      getEnvOrDefault("OCEANBASE_COLLECTION", "memories"),
			"embedding_model_dims": dims,
		}
	case "sqlite":
		dims, _ := strconv.Atoi(getEnvOrDefault("SQLITE_EMBEDDING_MODEL_DIMS", "1536"))

		vectorStoreConfig = map[string]interface{}{
			"db_path":              getEnvOrDefault("SQLITE_PATH", "./memlearn.db"),
			"collection_name":      getEnvOrDefault("SQLITE_COLLECTION", "memories"),
			"embedding_model_dims": dims,
		}
	case "postgres":
		port, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
		dims, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_EMBEDDING_MODEL_DIMS", "1536"))

		vectorStoreConfig = map[string]interface{}{
			"host":                 getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":                 port,
			"user":                 getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password":             os.Getenv("POSTGRES_PASSWORD"),
			"db_name":              getEnvOrDefault("POSTGRES_DATABASE", "memlearn"),
			"collection_name":      getEnvOrDefault("POSTGRES_COLLECTION", "memories"),
			"embedding_model_dims": dims,
			"ssl_mode":             getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	}

	embedderProvider := os.Getenv("EMBEDDING_PROVIDER")
	embedderModel := os.Getenv("EMBEDDING_MODEL")
	embedderBaseURL := os.Getenv("EMBEDDING_BASE_URL")
	switch embedderProvider {
	case "qwen":
		if embedderBaseURL == "" {
			embedderBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
		}
		if embedderModel == "" {
			embedderModel = "text-embedding-v4"
		}
	case "openai":
		if embedderModel == "" {
			embedderModel = "text-embedding-3-small"
		}
	}
	embedderDims, _ := strconv.Atoi(os.Getenv("EMBEDDING_DIMS"))

	config := &Config{
		Embedder: EmbedderConfig{
			Provider:   embedderProvider,
			APIKey:     os.Getenv("EMBEDDING_API_KEY"),
			Model:      embedderModel,
			BaseURL:    embedderBaseURL,
			Dimensions: embedderDims,
		},
		VectorStore: VectorStoreConfig{
			Provider: provider,
			Config:   vectorStoreConfig,
		},
		Learning: DefaultLearningConfig(),
		Logging: logging.Config{
			Level:       getEnvOrDefault("LOG_LEVEL", "info"),
			Development: envBool("LOG_DEVELOPMENT", false),
		},
	}

	if llmProvider := os.Getenv("LLM_PROVIDER"); llmProvider != "" {
		llmBaseURL := os.Getenv("LLM_BASE_URL")
		var defaultModel string
		switch llmProvider {
		case "deepseek":
			if llmBaseURL == "" {
				llmBaseURL = "https://api.deepseek.com"
			}
			defaultModel = "deepseek-chat"
		case "qwen":
			if llmBaseURL == "" {
				llmBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
			}
			defaultModel = "qwen-plus"
		case "ollama":
			if llmBaseURL == "" {
				llmBaseURL = "http://localhost:11434/v1"
			}
			defaultModel = "llama3.1:8b"
		default:
			defaultModel = "gpt-4o-mini"
		}
		config.LLM = &LLMConfig{
			Provider: llmProvider,
			APIKey:   os.Getenv("LLM_API_KEY"),
			Model:    getEnvOrDefault("LLM_MODEL", defaultModel),
			BaseURL:  llmBaseURL,
		}
	}

	learning := &config.Learning
	learning.SchedulerEnabled = envBool("LEARNING_SCHEDULER_ENABLED", false)
	if v := os.Getenv("LEARNING_SCHEDULER_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, NewMemoryError("LoadConfigFromEnv", fmt.Errorf("%w: LEARNING_SCHEDULER_INTERVAL: %v", ErrInvalidConfig, err))
		}
		learning.SchedulerInterval = d
	}
	if v := os.Getenv("LEARNING_DUPLICATE_WINDOW"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, NewMemoryError("LoadConfigFromEnv", fmt.Errorf("%w: LEARNING_DUPLICATE_WINDOW: %v", ErrInvalidConfig, err))
		}
		learning.DuplicateWindow = n
	}
	if v := os.Getenv("LEARNING_AUTO_APPLY_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, NewMemoryError("LoadConfigFromEnv", fmt.Errorf("%w: LEARNING_AUTO_APPLY_THRESHOLD: %v", ErrInvalidConfig, err))
		}
		learning.AutoApplyThreshold = f
	}

	return config, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file. Durations in the
// learning section are given in nanoseconds.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	config := Config{Learning: DefaultLearningConfig()}
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	return &config, nil
}

// Validate validates the configuration.
//
// Checks that:
//   - The vector store provider is known
//   - An embedder, when named, is known and has an API key
//   - An LLM, when present, is known
//   - Learning thresholds lie in [0,1]
func (c *Config) Validate() error {
	switch c.VectorStore.Provider {
	case "sqlite", "postgres", "oceanbase", "memory":
	default:
		return NewMemoryError("Validate", fmt.Errorf("%w: unknown vector store provider %q", ErrInvalidConfig, c.VectorStore.Provider))
	}
	switch c.Embedder.Provider {
	case "":
	case "openai", "qwen":
		if c.Embedder.APIKey == "" {
			return NewMemoryError("Validate", fmt.Errorf("%w: embedder api key is required", ErrInvalidConfig))
		}
	default:
		return NewMemoryError("Validate", fmt.Errorf("%w: unknown embedder provider %q", ErrInvalidConfig, c.Embedder.Provider))
	}
	if c.LLM != nil {
		switch c.LLM.Provider {
		case "openai", "qwen", "deepseek", "ollama":
		default:
			return NewMemoryError("Validate", fmt.Errorf("%w: unknown llm provider %q", ErrInvalidConfig, c.LLM.Provider))
		}
	}
	l := c.Learning
	for name, v := range map[string]float64{
		"duplicate_threshold":  l.DuplicateThreshold,
		"merge_threshold":      l.MergeThreshold,
		"auto_apply_threshold": l.AutoApplyThreshold,
		"context_threshold":    l.ContextThreshold,
	} {
		if v < 0 || v > 1 {
			return NewMemoryError("Validate", fmt.Errorf("%w: %s %v outside [0,1]", ErrInvalidConfig, name, v))
		}
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return NewMemoryError("Validate", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}
	return nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envBool(key string, defaultValue bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
