package domain

import "context"

// LLMProvider completes chat requests against one model backend.
type LLMProvider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name is the registry key, e.g. "openai" or "ollama".
	Name() string
}

// TokenCounter estimates prompt sizes for the context guard.
type TokenCounter interface {
	CountTokens(text string) int
	CountMessageTokens(msgs []Message) int
}
