package middleware

import (
	"context"

	"sgi/pkg/limiter"
	"sgi/pkg/llm"
	"sgi/pkg/llm/llmerrors"
	"sgi/pkg/utils"
)

// RateLimit refuses requests beyond the limiter's token or concurrency
// allowance. The reservation is the prompt estimate plus the completion cap.
func RateLimit(l *limiter.Limiter, counter *utils.TokenCounter) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				need := req.MaxTokens
				for i := range req.Messages {
					need += counter.Count(req.Messages[i].Content)
				}
				if err := l.Reserve(need); err != nil {
					return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeRateLimit, err, "local token budget spent")
				}
				release, err := l.Acquire()
				if err != nil {
					return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeRateLimit, err, "request slots exhausted")
				}
				defer release()
				return next.Complete(ctx, req)
			},
			next.GetModelName,
		)
	}
}
