package core

import (
	"fmt"
	"strconv"

	"github.com/oceanbase/memlearn-go/pkg/embedder"
	openaiEmbedder "github.com/oceanbase/memlearn-go/pkg/embedder/openai"
	"github.com/oceanbase/memlearn-go/pkg/llm"
	openaiLLM "github.com/oceanbase/memlearn-go/pkg/llm/openai"
	"github.com/oceanbase/memlearn-go/pkg/storage"
	"github.com/oceanbase/memlearn-go/pkg/storage/memstore"
	"github.com/oceanbase/memlearn-go/pkg/storage/oceanbase"
	postgresStore "github.com/oceanbase/memlearn-go/pkg/storage/postgres"
	sqliteStore "github.com/oceanbase/memlearn-go/pkg/storage/sqlite"
)

const qwenCompatibleBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

// initStorage opens the configured store. defaultDims applies when the
// provider config does not name embedding_model_dims.
func initStorage(cfg VectorStoreConfig, defaultDims int, memOpts ...memstore.Option) (storage.Store, error) {
	c := cfg.Config
	dims := configInt(c, "embedding_model_dims", defaultDims)
	switch cfg.Provider {
	case "oceanbase":
		return oceanbase.NewClient(&oceanbase.Config{
			Host:               configString(c, "host", "127.0.0.1"),
			Port:               configInt(c, "port", 2881),
			User:               configString(c, "user", "root@sys"),
			Password:           configString(c, "password", ""),
			DBName:             configString(c, "db_name", "memlearn"),
			CollectionName:     configString(c, "collection_name", "memories"),
			EmbeddingModelDims: dims,
		})
	case "sqlite":
		return sqliteStore.NewClient(&sqliteStore.Config{
			DBPath:             configString(c, "db_path", "./memlearn.db"),
			CollectionName:     configString(c, "collection_name", "memories"),
			EmbeddingModelDims: dims,
		})
	case "postgres":
		return postgresStore.NewClient(&postgresStore.Config{
			Host:               configString(c, "host", "localhost"),
			Port:               configInt(c, "port", 5432),
			User:               configString(c, "user", "postgres"),
			Password:           configString(c, "password", ""),
			DBName:             configString(c, "db_name", "memlearn"),
			CollectionName:     configString(c, "collection_name", "memories"),
			EmbeddingModelDims: dims,
			SSLMode:            configString(c, "ssl_mode", "disable"),
		})
	case "memory":
		return memstore.New(memOpts...)
	default:
		return nil, NewMemoryError("initStorage", fmt.Errorf("%w: unknown vector store provider %q", ErrInvalidConfig, cfg.Provider))
	}
}

// initLLM initializes the LLM provider. Every supported provider speaks the
// OpenAI-compatible chat API; they differ in base URL only.
func initLLM(cfg LLMConfig) (llm.Provider, error) {
	baseURL := cfg.BaseURL
	switch cfg.Provider {
	case "openai":
	case "qwen":
		if baseURL == "" {
			baseURL = qwenCompatibleBaseURL
		}
	case "deepseek":
		if baseURL == "" {
			baseURL = "https://api.deepseek.com"
		}
	case "ollama":
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
	default:
		return nil, NewMemoryError("initLLM", fmt.Errorf("%w: unknown llm provider %q", ErrInvalidConfig, cfg.Provider))
	}
	return openaiLLM.NewClient(&openaiLLM.Config{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: baseURL,
	})
}

// initEmbedder initializes the embedder provider. An empty provider means
// no embedder.
func initEmbedder(cfg EmbedderConfig) (embedder.Provider, error) {
	baseURL := cfg.BaseURL
	switch cfg.Provider {
	case "":
		return nil, nil
	case "openai":
	case "qwen":
		if baseURL == "" {
			baseURL = qwenCompatibleBaseURL
		}
	default:
		return nil, NewMemoryError("initEmbedder", fmt.Errorf("%w: unknown embedder provider %q", ErrInvalidConfig, cfg.Provider))
	}
	return openaiEmbedder.NewClient(&openaiEmbedder.Config{
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		BaseURL:    baseURL,
		Dimensions: cfg.Dimensions,
	})
}

// configString reads a string entry, tolerating values decoded from JSON.
func configString(c map[string]interface{}, key, def string) string {
	switch v := c[key].(type) {
	case string:
		if v != "" {
			return v
		}
	case fmt.Stringer:
		return v.String()
	}
	return def
}

// configInt reads an integer entry. JSON numbers arrive as float64 and env
// values may arrive as strings.
func configInt(c map[string]interface{}, key string, def int) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
