package llm

import (
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"autopilot/internal/domain"
)

// perMessageOverhead approximates the role and separator tokens the chat
// format adds around each message.
const perMessageOverhead = 4

// TiktokenCounter counts tokens with the cl100k_base encoding. If the
// encoding cannot be loaded it estimates four characters per token.
type TiktokenCounter struct {
	once   sync.Once
	enc    *tiktoken.Tiktoken
	logger *slog.Logger
	load   func() (*tiktoken.Tiktoken, error)
}

var _ domain.TokenCounter = (*TiktokenCounter)(nil)

// NewTiktokenCounter creates a counter. The encoding loads on first use.
func NewTiktokenCounter(logger *slog.Logger) *TiktokenCounter {
	return &TiktokenCounter{
		logger: logger,
		load:   func() (*tiktoken.Tiktoken, error) { return tiktoken.GetEncoding("cl100k_base") },
	}
}

func (c *TiktokenCounter) encoding() *tiktoken.Tiktoken {
	c.once.Do(func() {
		enc, err := c.load()
		if err != nil {
			c.logger.Warn("tiktoken unavailable, estimating tokens", "error", err)
			return
		}
		c.enc = enc
	})
	return c.enc
}

// CountTokens implements domain.TokenCounter.
func (c *TiktokenCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if enc := c.encoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (utf8.RuneCountInString(text) + 3) / 4
}

// CountMessageTokens implements domain.TokenCounter.
func (c *TiktokenCounter) CountMessageTokens(msgs []domain.Message) int {
	total := 0
	for _, m := range msgs {
		total += perMessageOverhead + c.CountTokens(m.Content)
		for _, tc := range m.ToolCalls {
			total += c.CountTokens(tc.Name) + c.CountTokens(string(tc.Arguments))
		}
	}
	return total
}
