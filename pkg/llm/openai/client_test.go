package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memlearn-go/pkg/llm"
	llmopenai "github.com/oceanbase/memlearn-go/pkg/llm/openai"
)

func TestClient_GenerateWithMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)

		var req struct {
			Model    string        `json:"model"`
			Messages []llm.Message `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "deepseek-chat", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   req.Model,
			"choices": []map[string]interface{}{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]string{"role": "assistant", "content": "  caused_by \n"},
			}},
		})
	}))
	defer srv.Close()

	client, err := llmopenai.NewClient(&llmopenai.Config{APIKey: "k", Model: "deepseek-chat", BaseURL: srv.URL + "/v1/"})
	require.NoError(t, err)

	out, err := client.GenerateWithMessages(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "classify"},
		{Role: llm.RoleUser, Content: "A vs B"},
	}, llm.WithTemperature(0))
	require.NoError(t, err)
	assert.Equal(t, "caused_by", out)
}

func TestClient_GenerateSendsSystemInstruction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages  []llm.Message `json:"messages"`
			MaxTokens int           `json:"max_tokens"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []llm.Message{
			{Role: llm.RoleSystem, Content: "answer with one label"},
			{Role: llm.RoleUser, Content: "A vs B"},
		}, req.Messages)
		assert.Equal(t, llm.DefaultMaxTokens, req.MaxTokens)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "cmpl-2",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]interface{}{{
				"index":   0,
				"message": map[string]string{"role": "assistant", "content": "follows"},
			}},
		})
	}))
	defer srv.Close()

	client, err := llmopenai.NewClient(&llmopenai.Config{APIKey: "k", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	out, err := client.Generate(context.Background(), "A vs B", llm.WithSystem("answer with one label"))
	require.NoError(t, err)
	assert.Equal(t, "follows", out)
}

func TestClient_DefaultModel(t *testing.T) {
	client, err := llmopenai.NewClient(&llmopenai.Config{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, llmopenai.DefaultModel, client.Model())
}

func TestClient_NoMessages(t *testing.T) {
	client, err := llmopenai.NewClient(&llmopenai.Config{APIKey: "k"})
	require.NoError(t, err)
	_, err = client.GenerateWithMessages(context.Background(), nil)
	assert.Error(t, err)
}
