package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"sgi/pkg/llm"
	"sgi/pkg/logx"
	"sgi/pkg/proto"
	"sgi/pkg/templates"
	"sgi/pkg/tools"
)

var prompts = templates.MustRenderer()

// flatCall is the text shape of a model tool call in the transcript.
type flatCall struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// converse answers question with the model, letting it call tools for at
// most MaxToolRounds rounds. The last round offers no tools.
func (o *Orchestrator) converse(ctx context.Context, in *proto.Inbound, question string) reply {
	logger := o.logger.WithIdentity(in.Identity)

	system, err := o.systemPrompt()
	if err != nil {
		logger.Error("🚨 failed to render system prompt: %v", err)
		return reply{out: proto.Outbound{Text: msgUnavailable}, path: PathDispatch, failed: true}
	}
	messages := []llm.CompletionMessage{llm.NewSystemMessage(system)}
	messages = append(messages, o.loadHistory(ctx, in)...)
	messages = append(messages, llm.NewUserMessage(question))

	var (
		all    []tools.CallResult
		answer string
		failed bool
	)
	for round := 0; ; round++ {
		final := round >= o.opts.MaxToolRounds
		req := llm.CompletionRequest{
			Messages:    messages,
			MaxTokens:   o.opts.MaxTokens,
			Temperature: o.opts.Temperature,
		}
		if !final {
			req.Tools = o.Dispatcher.Registry().Definitions()
			req.ToolChoice = "auto"
		}

		resp, err := o.LLM.Complete(ctx, req)
		if err != nil {
			logger.Warn("model call failed on round %d: %v", round+1, err)
			answer, failed = fallbackAnswer(all), true
			break
		}
		if final || !resp.HasToolCalls() {
			answer = strings.TrimSpace(resp.Content)
			break
		}

		calls := toCalls(resp.ToolCalls, round)
		logx.Debug(ctx, "orchestrator", "round %d: model requested %d tool call(s)", round+1, len(calls))
		results := o.Dispatcher.Dispatch(ctx, calls)
		all = append(all, results...)

		callText, err := flattenCalls(resp.Content, calls)
		if err != nil {
			logger.Error("🚨 failed to flatten tool calls: %v", err)
			answer, failed = fallbackAnswer(all), true
			break
		}
		resultText, err := renderResults(results, round+1 >= o.opts.MaxToolRounds)
		if err != nil {
			logger.Error("🚨 failed to render tool results: %v", err)
			answer, failed = fallbackAnswer(all), true
			break
		}
		messages = append(messages, llm.NewAssistantMessage(callText), llm.NewUserMessage(resultText))
	}

	if answer == "" {
		answer = fallbackAnswer(all)
		failed = failed || answer == msgUnavailable
	}
	if !failed {
		o.saveHistory(ctx, in, question, answer)
	}

	out, link := assemble(answer, all)
	return reply{out: out, link: link, path: PathDispatch, failed: failed}
}

func (o *Orchestrator) systemPrompt() (string, error) {
	return prompts.Render(templates.SystemTemplate, &templates.TemplateData{
		Today:             o.opts.Now().Format("2006-01-02"),
		ToolDocumentation: o.Dispatcher.Registry().GenerateToolDocumentation(),
		DashboardURL:      o.opts.DashboardURL,
		MaxToolRounds:     o.opts.MaxToolRounds,
	})
}

// toCalls converts model tool calls, numbering calls that came without id.
func toCalls(in []llm.ToolCall, round int) []tools.Call {
	calls := make([]tools.Call, len(in))
	for i, tc := range in {
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d_%d", round+1, i+1)
		}
		calls[i] = tools.Call{ID: id, Name: tc.Name, Args: tc.Parameters}
	}
	return calls
}

func flattenCalls(content string, calls []tools.Call) (string, error) {
	flat := make([]flatCall, len(calls))
	for i, c := range calls {
		flat[i] = flatCall{ID: c.ID, Name: c.Name, Parameters: c.Args}
	}
	raw, err := json.Marshal(flat)
	if err != nil {
		return "", fmt.Errorf("failed to encode tool calls: %w", err)
	}
	return prompts.RenderSimple(templates.ToolCallsTemplate, map[string]string{"Content": content, "Calls": string(raw)})
}

func renderResults(results []tools.CallResult, final bool) (string, error) {
	raw, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("failed to encode tool results: %w", err)
	}
	return prompts.Render(templates.ToolResultsTemplate, &templates.TemplateData{ToolResults: string(raw), FinalRound: final})
}

// fallbackAnswer is used when the model cannot produce an answer: the
// summaries of the successful tool calls, or a plain apology.
func fallbackAnswer(results []tools.CallResult) string {
	var parts []string
	for i := range results {
		if results[i].OK() && results[i].Result.Summary != "" {
			parts = append(parts, results[i].Result.Summary)
		}
	}
	if len(parts) == 0 {
		return msgUnavailable
	}
	return strings.Join(parts, "\n\n")
}
