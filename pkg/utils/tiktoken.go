// Package utils provides tiktoken-based token counting utilities.
package utils

import (
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter measures text against model token budgets. Its zero value is
// usable and estimates from character count.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a new token counter for the specified model. Every
// model the service talks to uses the cl100k encoding, so unknown names get
// the GPT-4 codec.
func NewTokenCounter(model string) (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}

	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the number of tokens in the given text. Without a
// codec, or when encoding fails, it estimates at 4 characters per token.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc.codec == nil {
		return len(text) / 4
	}

	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}

	return count
}

// TruncateToTokenLimit cuts text down until it fits the limit. The cut lands
// on a line boundary when one exists nearby, so a trimmed script still ends
// with a complete statement.
func (tc *TokenCounter) TruncateToTokenLimit(text string, limit int) string {
	tokens := tc.CountTokens(text)
	if tokens <= limit {
		return text
	}

	// Proportional cut with a safety margin, then verify. Dense text can
	// still overshoot once, so tighten until it fits.
	cut := text
	for tokens > limit && len(cut) > 0 {
		ratio := float64(limit) / float64(tokens)
		keep := int(float64(len(cut)) * ratio * 0.9)
		if keep >= len(cut) {
			keep = len(cut) - 1
		}
		cut = cut[:keep]
		tokens = tc.CountTokens(cut)
	}

	// Back off to the previous line end unless that would discard most of
	// what survived.
	if idx := strings.LastIndexByte(cut, '\n'); idx > len(cut)/2 {
		cut = cut[:idx]
	}
	return cut
}
