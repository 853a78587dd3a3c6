// Package truncate shortens oversized tool output to a token budget.
package truncate

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// bytesPerToken is the estimate used when no encoder is available.
const bytesPerToken = 4

var (
	encoderOnce sync.Once
	encoder     tokenizer.Codec
)

func codec() tokenizer.Codec {
	encoderOnce.Do(func() {
		enc, err := tokenizer.Get(tokenizer.O200kBase)
		if err == nil {
			encoder = enc
		}
	})
	return encoder
}

// Count returns the token count of text.
func Count(text string) int {
	enc := codec()
	if enc == nil {
		return estimate(text)
	}
	n, err := enc.Count(text)
	if err != nil {
		return estimate(text)
	}
	return n
}

// Text cuts text to at most maxTokens tokens and appends a marker naming
// how many tokens were dropped. maxTokens <= 0 disables truncation. The
// second return value reports whether anything was cut.
func Text(text string, maxTokens int) (string, bool) {
	if maxTokens <= 0 || text == "" {
		return text, false
	}

	enc := codec()
	if enc == nil {
		return byEstimate(text, maxTokens)
	}

	ids, _, err := enc.Encode(text)
	if err != nil {
		return byEstimate(text, maxTokens)
	}
	if len(ids) <= maxTokens {
		return text, false
	}

	head, err := enc.Decode(ids[:maxTokens])
	if err != nil {
		return byEstimate(text, maxTokens)
	}
	return head + marker(len(ids)-maxTokens), true
}

func byEstimate(text string, maxTokens int) (string, bool) {
	limit := maxTokens * bytesPerToken
	if len(text) <= limit {
		return text, false
	}
	// Step back to a UTF-8 boundary.
	cut := limit
	for cut > 0 && !isRuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + marker(estimate(text[cut:])), true
}

func estimate(text string) int {
	return (len(text) + bytesPerToken - 1) / bytesPerToken
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func marker(omitted int) string {
	return fmt.Sprintf("\n... [truncated: %d more tokens omitted]", omitted)
}
