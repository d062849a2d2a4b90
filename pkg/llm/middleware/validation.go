package middleware

import (
	"context"
	"strings"

	"sgi/pkg/llm"
	"sgi/pkg/llm/llmerrors"
)

// RejectEmpty turns a reply with neither text nor tool calls into an
// ErrorTypeEmptyResponse error so the retry layer can try again.
func RejectEmpty() llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				resp, err := next.Complete(ctx, req)
				if err != nil {
					return resp, err
				}
				if strings.TrimSpace(resp.Content) == "" && !resp.HasToolCalls() {
					return resp, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse,
						"model returned neither text nor tool calls (stop reason "+resp.StopReason+")")
				}
				return resp, nil
			},
			next.GetModelName,
		)
	}
}
