package chunking

import (
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens with a model-aware BPE encoding, degrading
// to a character heuristic when the encoding is unavailable (offline
// workers without a cached BPE file).
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

func NewTokenCounter(model string) *TokenCounter {
	if model != "" {
		if enc, err := tiktoken.EncodingForModel(model); err == nil {
			return &TokenCounter{enc: enc}
		}
	}
	if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
		return &TokenCounter{enc: enc}
	}
	return &TokenCounter{}
}

func (c *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c.enc != nil {
		return len(c.enc.Encode(text, nil, nil))
	}
	// Rough BPE approximation: one token per word plus one per four
	// characters of word overflow.
	words := strings.Fields(text)
	tokens := len(words)
	for _, w := range words {
		if n := utf8.RuneCountInString(w); n > 6 {
			tokens += (n - 6) / 4
		}
	}
	return tokens
}

// Tail returns the suffix of text holding approximately n tokens, used
// to inject overlap from the prior chunk.
func (c *TokenCounter) Tail(text string, n int) string {
	if n <= 0 || text == "" {
		return ""
	}
	if c.enc != nil {
		ids := c.enc.Encode(text, nil, nil)
		if len(ids) <= n {
			return text
		}
		return c.enc.Decode(ids[len(ids)-n:])
	}
	words := strings.Fields(text)
	if len(words) <= n {
		return text
	}
	return strings.Join(words[len(words)-n:], " ")
}
