// Package utils holds small text helpers shared by the conversational
// components: token counting for history windows and accent folding for
// matching French input.
package utils

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter counts tokens with a GPT-4 style encoding. Counts for other
// providers are approximations, which is enough to bound a history window.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter builds a counter backed by the cl100k encoding.
func NewTokenCounter() (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	return &TokenCounter{codec: codec}, nil
}

// Count returns the token count of text, falling back to len/4 when the
// codec is unavailable or fails.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.codec == nil {
		return len(text) / 4
	}
	n, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// KeepWithinBudget returns the index of the first item to keep so that the
// suffix items[i:] fits within budget tokens. Newest items are at the end.
func (tc *TokenCounter) KeepWithinBudget(items []string, budget int) int {
	if budget <= 0 {
		return 0
	}
	used := 0
	for i := len(items) - 1; i >= 0; i-- {
		used += tc.Count(items[i])
		if used > budget {
			return i + 1
		}
	}
	return 0
}
