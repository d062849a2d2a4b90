// Package ollama adapts a local Ollama runtime to llm.LLMClient.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"sgi/pkg/llm"
	"sgi/pkg/llm/llmerrors"
	"sgi/pkg/tools"
)

// DefaultHost is used when no host is configured.
const DefaultHost = "http://localhost:11434"

// Client wraps the Ollama API client.
type Client struct {
	client *api.Client
	model  string
}

// NewOllamaClientWithModel creates a client for model served at hostURL.
func NewOllamaClientWithModel(hostURL, model string, httpClient *http.Client) (llm.LLMClient, error) {
	if hostURL == "" {
		hostURL = DefaultHost
	}
	parsed, err := url.Parse(hostURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", hostURL, err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{client: api.NewClient(parsed, httpClient), model: model}, nil
}

// Complete implements llm.LLMClient.
//
//nolint:gocritic // CompletionRequest passed by value to match the interface
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if len(in.Messages) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "message list cannot be empty")
	}
	messages := make([]api.Message, len(in.Messages))
	for i := range in.Messages {
		messages[i] = api.Message{Role: string(in.Messages[i].Role), Content: in.Messages[i].Content}
	}

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": maxTokens,
		},
	}
	if len(in.Tools) > 0 && in.ToolChoice != "none" {
		toolList, err := convertToolsToOllama(in.Tools)
		if err != nil {
			return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "tool conversion error")
		}
		req.Tools = toolList
	}

	var response api.ChatResponse
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}

	result := llm.CompletionResponse{
		Content:    response.Message.Content,
		StopReason: getStopReason(&response),
	}
	if len(response.Message.ToolCalls) > 0 {
		result.ToolCalls = convertToolCallsFromOllama(response.Message.ToolCalls)
		result.StopReason = "tool_use"
	}
	return result, nil
}

// GetModelName returns the model name.
func (o *Client) GetModelName() string {
	return o.model
}

// convertToolsToOllama goes through JSON: the api package models schemas
// with ordered maps that decode from the same wire shape we already emit.
func convertToolsToOllama(defs []tools.ToolDefinition) (api.Tools, error) {
	wire := make([]map[string]any, len(defs))
	for i := range defs {
		wire[i] = map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        defs[i].Name,
				"description": defs[i].Description,
				"parameters":  defs[i].InputSchema.JSONSchema(),
			},
		}
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}
	var out api.Tools
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func convertToolCallsFromOllama(calls []api.ToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	for i := range calls {
		call := &calls[i]
		args := map[string]any{}
		if raw, err := json.Marshal(&call.Function.Arguments); err == nil {
			_ = json.Unmarshal(raw, &args)
		}
		out[i] = llm.ToolCall{
			ID:         fmt.Sprintf("call_%d", i),
			Name:       call.Function.Name,
			Parameters: args,
		}
	}
	return out
}

func getStopReason(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}
	switch resp.DoneReason {
	case "length":
		return "max_tokens"
	case "", "stop":
		return "end_turn"
	default:
		return resp.DoneReason
	}
}

func classifyError(err error) *llmerrors.Error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return llmerrors.FromStatus(statusErr.StatusCode, err)
	}
	return llmerrors.FromMessage(err)
}
