package provider

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/linanwx/supportbot/logger"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

// EstimateTokens returns the cl100k token count of text. It falls back to a
// chars/4 heuristic when the codec is unavailable.
func EstimateTokens(text string) int {
	codecOnce.Do(func() {
		c, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			logger.Warn("tokenizer unavailable, using heuristic", "err", err)
			return
		}
		codec = c
	})
	if codec == nil {
		return (len(text) + 3) / 4
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return (len(text) + 3) / 4
	}
	return len(ids)
}
