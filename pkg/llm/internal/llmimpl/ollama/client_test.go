package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sgi/pkg/llm"
	"sgi/pkg/llm/llmerrors"
	"sgi/pkg/tools"
)

func sampleTools() []tools.ToolDefinition {
	return []tools.ToolDefinition{{
		Name:        "search_stock",
		Description: "Recherche un article",
		InputSchema: tools.InputSchema{
			Type:     "object",
			Required: []string{"query"},
			Properties: map[string]tools.Property{
				"query": {Type: "string", Description: "Nom ou référence"},
				"limit": {Type: "integer"},
			},
		},
	}}
}

func TestConvertToolsToOllama(t *testing.T) {
	out, err := convertToolsToOllama(sampleTools())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "function", out[0].Type)
	assert.Equal(t, "search_stock", out[0].Function.Name)
	assert.Equal(t, []string{"query"}, out[0].Function.Parameters.Required)
}

func TestCompleteAgainstServer(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"model":"llama3","message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"search_stock","arguments":{"query":"ciment"}}}]},"done":true,"done_reason":"stop"}`+"\n")
	}))
	defer srv.Close()

	client, err := NewOllamaClientWithModel(srv.URL, "llama3", srv.Client())
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewSystemMessage("rules"), llm.NewUserMessage("ciment ?")},
		Tools:    sampleTools(),
	})
	require.NoError(t, err)
	assert.Equal(t, "tool_use", resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "ciment", resp.ToolCalls[0].Parameters["query"])
	assert.Equal(t, "call_0", resp.ToolCalls[0].ID)
	assert.Equal(t, "llama3", got["model"])
	assert.Equal(t, false, got["stream"])
}

func TestCompleteClassifiesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":"loading model"}`)
	}))
	defer srv.Close()

	client, err := NewOllamaClientWithModel(srv.URL, "llama3", srv.Client())
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), llm.CompletionRequest{Messages: []llm.CompletionMessage{llm.NewUserMessage("hi")}})
	require.Error(t, err)
	assert.True(t, llmerrors.IsRetryable(err))
}

func TestGetStopReason(t *testing.T) {
	assert.Equal(t, "incomplete", getStopReason(&api.ChatResponse{}))
	assert.Equal(t, "max_tokens", getStopReason(&api.ChatResponse{Done: true, DoneReason: "length"}))
	assert.Equal(t, "end_turn", getStopReason(&api.ChatResponse{Done: true}))
}
