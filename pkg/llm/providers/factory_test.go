package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sgi/internal/mocks"
	"sgi/pkg/config"
	"sgi/pkg/llm"
	"sgi/pkg/llm/llmerrors"
	"sgi/pkg/metrics"
)

func TestNewRawSelectsProvider(t *testing.T) {
	for _, provider := range []string{config.ProviderAnthropic, config.ProviderOpenAI, config.ProviderGoogle, config.ProviderOllama} {
		client, err := NewRaw(config.LLMConfig{Provider: provider, Model: "m-" + provider, APIKey: "k"})
		require.NoError(t, err, provider)
		assert.Equal(t, "m-"+provider, client.GetModelName())
	}

	_, err := NewRaw(config.LLMConfig{Provider: "mistral"})
	require.Error(t, err)
}

func TestWrapRetriesEmptyReplies(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	mock.RespondWithSequence(
		mocks.Step{Response: mocks.TextResponse("")},
		mocks.Step{Response: mocks.TextResponse("Bonjour")},
	)

	client := Wrap(mock, config.LLMConfig{MaxAttempts: 2}, metrics.Nop())
	resp, err := client.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage("Salut")},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bonjour", resp.Content)
	assert.Equal(t, 2, mock.GetCompleteCallCount())
}

func TestWrapSurfacesServiceUnavailable(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	mock.FailCompleteWith(llmerrors.NewError(llmerrors.ErrorTypeTransient, "502"))

	client := Wrap(mock, config.LLMConfig{MaxAttempts: 2}, nil)
	_, err := client.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage("Salut")},
	})
	assert.True(t, llmerrors.IsServiceUnavailable(err))
}
