package middleware

import (
	"context"
	"encoding/json"
	"time"

	"sgi/pkg/llm"
	"sgi/pkg/logx"
	"sgi/pkg/metrics"
	"sgi/pkg/utils"
)

// Metrics records duration, status and estimated token usage of every
// request. A nil counter estimates tokens from byte length.
func Metrics(recorder metrics.Recorder, counter *utils.TokenCounter) llm.Middleware {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				resp, err := next.Complete(ctx, req)
				elapsed := time.Since(start)

				model := next.GetModelName()
				status := metrics.StatusSuccess
				if err != nil {
					status = metrics.StatusError
				}

				prompt := 0
				for i := range req.Messages {
					prompt += counter.Count(req.Messages[i].Content)
				}
				completion := counter.Count(resp.Content)
				for i := range resp.ToolCalls {
					if raw, mErr := json.Marshal(resp.ToolCalls[i].Parameters); mErr == nil {
						completion += counter.Count(resp.ToolCalls[i].Name+string(raw))
					}
				}

				recorder.ObserveLLMRequest(model, status, prompt, completion, elapsed)
				logx.Debug(ctx, "llm", "%s %s in %s (prompt~%d completion~%d tools=%d)",
					model, status, elapsed.Round(time.Millisecond), prompt, completion, len(resp.ToolCalls))
				return resp, err
			},
			next.GetModelName,
		)
	}
}
