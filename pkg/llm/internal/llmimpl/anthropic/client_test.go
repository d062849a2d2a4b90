package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sgi/pkg/llm"
	"sgi/pkg/llm/llmerrors"
	"sgi/pkg/tools"
)

func TestEnsureAlternation(t *testing.T) {
	system, msgs, err := ensureAlternation([]llm.CompletionMessage{
		llm.NewSystemMessage("rules"),
		llm.NewUserMessage("Combien de projets ?"),
		llm.NewAssistantMessage("Appel query_projects"),
		llm.NewUserMessage(`{"count":2}`),
		llm.NewUserMessage("Et les incidents ?"),
	})
	require.NoError(t, err)
	assert.Equal(t, "rules", system)
	require.Len(t, msgs, 3)
	assert.Equal(t, llm.RoleUser, msgs[2].Role)
	assert.Equal(t, "{\"count\":2}\n\nEt les incidents ?", msgs[2].Content)
}

func TestEnsureAlternationRejectsAssistantLast(t *testing.T) {
	_, _, err := ensureAlternation([]llm.CompletionMessage{
		llm.NewUserMessage("q"),
		llm.NewAssistantMessage("a"),
	})
	require.Error(t, err)

	_, _, err = ensureAlternation([]llm.CompletionMessage{llm.NewSystemMessage("only system")})
	require.Error(t, err)
}

func TestCompleteParsesToolUse(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[
				{"type":"text","text":"Je regarde."},
				{"type":"tool_use","id":"tu_1","name":"query_projects","input":{"status":"en_cours","count_only":true}}
			],
			"stop_reason":"tool_use",
			"usage":{"input_tokens":10,"output_tokens":5}
		}`)
	}))
	defer srv.Close()

	client := NewClaudeClientWithModel("key", "claude-test", srv.URL)
	resp, err := client.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewSystemMessage("rules"), llm.NewUserMessage("Combien ?")},
		Tools: []tools.ToolDefinition{{
			Name:        "query_projects",
			Description: "Liste les projets",
			InputSchema: tools.InputSchema{Type: "object", Properties: map[string]tools.Property{
				"status": {Type: "string", Enum: []string{"en_cours"}},
			}},
		}},
		MaxTokens: 256,
	})
	require.NoError(t, err)

	assert.Equal(t, "Je regarde.", resp.Content)
	assert.Equal(t, "tool_use", resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "query_projects", resp.ToolCalls[0].Name)
	assert.Equal(t, "en_cours", resp.ToolCalls[0].Parameters["status"])

	assert.Equal(t, "claude-test", body["model"])
	require.Len(t, body["tools"], 1)
	assert.NotNil(t, body["system"])
}

func TestCompleteClassifiesRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer srv.Close()

	client := NewClaudeClientWithModel("key", "claude-test", srv.URL)
	_, err := client.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage("hi")},
	})
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeRateLimit))
}
