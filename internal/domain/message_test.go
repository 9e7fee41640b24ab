package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageDataURI(t *testing.T) {
	img := Image{MimeType: "image/jpeg", Data: "AAAA"}
	assert.Equal(t, "data:image/jpeg;base64,AAAA", img.DataURI())

	img.MimeType = ""
	assert.Equal(t, "data:image/png;base64,AAAA", img.DataURI())
}

func TestMessageToolCallJSON(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		ToolCalls: []ToolCall{
			{ID: "call_1", Name: "kanban", Arguments: json.RawMessage(`{"action":"list"}`)},
		},
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var got Message
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got.ToolCalls, 1)
	assert.Equal(t, "kanban", got.ToolCalls[0].Name)
	assert.JSONEq(t, `{"action":"list"}`, string(got.ToolCalls[0].Arguments))
	assert.False(t, got.HasImages())
}
