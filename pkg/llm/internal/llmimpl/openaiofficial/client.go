// Package openaiofficial adapts the OpenAI Responses API to llm.LLMClient.
package openaiofficial

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"sgi/pkg/llm"
	"sgi/pkg/llm/llmerrors"
)

// OfficialClient wraps the official OpenAI Go client.
//
//nolint:govet // fieldalignment not critical
type OfficialClient struct {
	client openai.Client
	model  string
}

// NewOfficialClientWithModel creates a client for model. baseURL overrides
// the API host when set, which also covers OpenAI compatible gateways.
func NewOfficialClientWithModel(apiKey, model, baseURL string) llm.LLMClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OfficialClient{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// transcript flattens the conversation into instructions plus one input
// string, the way the Responses API accepts plain text.
func transcript(messages []llm.CompletionMessage) (instructions, input string) {
	var sys []string
	var b strings.Builder
	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			sys = append(sys, msg.Content)
		case llm.RoleAssistant:
			fmt.Fprintf(&b, "Assistant: %s\n\n", msg.Content)
		default:
			fmt.Fprintf(&b, "User: %s\n\n", msg.Content)
		}
	}
	return strings.Join(sys, "\n\n"), strings.TrimSpace(b.String())
}

// Complete implements llm.LLMClient.
//
//nolint:gocritic // CompletionRequest passed by value to match the interface
func (o *OfficialClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	instructions, input := transcript(in.Messages)
	if input == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "no user or assistant message to send")
	}

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(int64(maxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(input)},
		Temperature:     openai.Float(float64(in.Temperature)),
	}
	if instructions != "" {
		params.Instructions = openai.String(instructions)
	}

	if len(in.Tools) > 0 && in.ToolChoice != "none" {
		toolParams := make([]responses.ToolUnionParam, len(in.Tools))
		for i := range in.Tools {
			def := &in.Tools[i]
			toolParams[i] = responses.ToolUnionParam{
				OfFunction: &responses.FunctionToolParam{
					Name:        def.Name,
					Description: openai.String(def.Description),
					Parameters:  openai.FunctionParameters(def.InputSchema.JSONSchema()),
				},
			}
		}
		params.Tools = toolParams
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if resp == nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from OpenAI Responses API")
	}

	var calls []llm.ToolCall
	for i := range resp.Output {
		item := &resp.Output[i]
		if item.Type != "function_call" {
			continue
		}
		fn := item.AsFunctionCall()
		var args map[string]any
		if fn.Arguments != "" {
			if err := json.Unmarshal([]byte(fn.Arguments), &args); err != nil {
				// Unparseable arguments reach the validator as an empty map.
				args = map[string]any{}
			}
		}
		id := fn.CallID
		if id == "" {
			id = fn.ID
		}
		calls = append(calls, llm.ToolCall{ID: id, Name: fn.Name, Parameters: args})
	}

	stop := "end_turn"
	if len(calls) > 0 {
		stop = "tool_use"
	} else if resp.IncompleteDetails.Reason == "max_output_tokens" {
		stop = "max_tokens"
	}

	return llm.CompletionResponse{
		Content:    resp.OutputText(),
		ToolCalls:  calls,
		StopReason: stop,
	}, nil
}

// GetModelName returns the model name.
func (o *OfficialClient) GetModelName() string {
	return o.model
}

func classifyError(err error) *llmerrors.Error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return llmerrors.FromStatus(apiErr.StatusCode, err)
	}
	return llmerrors.FromMessage(err)
}
