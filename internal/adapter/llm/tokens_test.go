package llm

import (
	"errors"
	"testing"

	"github.com/pkoukk/tiktoken-go"
	"github.com/stretchr/testify/assert"

	"autopilot/internal/domain"
	"autopilot/internal/infra/logger"
)

func offlineCounter() *TiktokenCounter {
	c := NewTiktokenCounter(logger.Discard())
	c.load = func() (*tiktoken.Tiktoken, error) { return nil, errors.New("offline") }
	return c
}

func TestTiktokenCounterFallbackEstimate(t *testing.T) {
	c := offlineCounter()
	assert.Equal(t, 0, c.CountTokens(""))
	assert.Equal(t, 1, c.CountTokens("abcd"))
	assert.Equal(t, 2, c.CountTokens("abcde"))
}

func TestCountMessageTokensAddsOverhead(t *testing.T) {
	c := offlineCounter()
	msgs := []domain.Message{
		{Role: domain.RoleUser, Content: "abcdefgh"},
		{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{Name: "kanban", Arguments: []byte(`{}`)}}},
	}
	// 4+2 for the first message, 4+2+1 for the tool call.
	assert.Equal(t, 13, c.CountMessageTokens(msgs))
}
