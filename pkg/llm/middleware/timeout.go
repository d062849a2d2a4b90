package middleware

import (
	"context"
	"time"

	"sgi/pkg/llm"
)

// Timeout bounds each request to d. A zero duration disables it.
func Timeout(d time.Duration) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		if d <= 0 {
			return next
		}
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				ctx, cancel := context.WithTimeout(ctx, d)
				defer cancel()
				return next.Complete(ctx, req)
			},
			next.GetModelName,
		)
	}
}
