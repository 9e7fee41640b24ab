package domain

import "time"

// Role constants for message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Image is an inline attachment carried by a message.
type Image struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"` // base64 without the data: prefix
}

// DataURI renders the image as a data URI accepted by vision models.
func (i Image) DataURI() string {
	mime := i.MimeType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + i.Data
}

// Message is one immutable entry in a conversation. The core only appends
// messages; compression deletes them, nothing edits them.
type Message struct {
	ID             string     `json:"id,omitempty"`
	ConversationID string     `json:"conversation_id,omitempty"`
	Role           string     `json:"role"`
	Content        string     `json:"content"`
	Name           string     `json:"name,omitempty"`
	ToolCalls      []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID     string     `json:"tool_call_id,omitempty"`
	Images         []Image    `json:"images,omitempty"`
	Sentiment      string     `json:"sentiment,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// HasImages reports whether the message carries image attachments.
func (m Message) HasImages() bool { return len(m.Images) > 0 }

// ChatRequest is sent to an LLM provider.
type ChatRequest struct {
	Model       string       `json:"model"`
	Messages    []Message    `json:"messages"`
	Tools       []ToolSchema `json:"tools,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature float64      `json:"temperature,omitempty"`
}

// ChatResponse is returned from an LLM provider.
type ChatResponse struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	Message   Message   `json:"message"`
	Usage     Usage     `json:"usage"`
	CreatedAt time.Time `json:"created_at"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
