package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct{ reply string }

//nolint:gocritic // matches interface
func (s stubClient) Complete(_ context.Context, _ CompletionRequest) (CompletionResponse, error) {
	return CompletionResponse{Content: s.reply}, nil
}

func (s stubClient) GetModelName() string { return "stub" }

func tagging(tag string, order *[]string) Middleware {
	return func(next LLMClient) LLMClient {
		return WrapClient(
			func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
				*order = append(*order, tag)
				return next.Complete(ctx, req)
			},
			next.GetModelName,
		)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	client := Chain(stubClient{reply: "ok"}, tagging("outer", &order), tagging("inner", &order))

	resp, err := client.Complete(context.Background(), CompletionRequest{Messages: []CompletionMessage{NewUserMessage("hi")}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, []string{"outer", "inner"}, order)
	assert.Equal(t, "stub", client.GetModelName())
}

func TestChainWithoutMiddleware(t *testing.T) {
	base := stubClient{reply: "x"}
	assert.Equal(t, base, Chain(base))
}

func TestMessageConstructors(t *testing.T) {
	assert.Equal(t, RoleSystem, NewSystemMessage("s").Role)
	assert.Equal(t, RoleUser, NewUserMessage("u").Role)
	assert.Equal(t, RoleAssistant, NewAssistantMessage("a").Role)
	assert.False(t, CompletionResponse{Content: "x"}.HasToolCalls())
	assert.True(t, CompletionResponse{ToolCalls: []ToolCall{{Name: "t"}}}.HasToolCalls())
}
