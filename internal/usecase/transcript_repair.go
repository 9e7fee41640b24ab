package usecase

import (
	"slices"

	"autopilot/internal/domain"
)

// MissingToolResult is the content injected for a tool call that never
// produced a result.
const MissingToolResult = "[error] tool call did not produce a result"

// RepairTranscript fixes broken tool chains so providers accept the history:
//  1. Tool calls of an assistant message that are not answered before the
//     next non-tool message get a synthetic error result.
//  2. Tool results without a preceding matching call are dropped.
//
// Returns a new slice (does not modify the input).
func RepairTranscript(messages []domain.Message) []domain.Message {
	if len(messages) == 0 {
		return messages
	}

	result := make([]domain.Message, 0, len(messages))
	var pending []domain.ToolCall

	for _, msg := range messages {
		switch msg.Role {
		case domain.RoleAssistant:
			result = injectMissingResults(result, pending, msg.ConversationID)
			pending = pending[:0]
			for _, tc := range msg.ToolCalls {
				if tc.ID != "" {
					pending = append(pending, tc)
				}
			}
			result = append(result, msg)

		case domain.RoleTool:
			i := slices.IndexFunc(pending, func(tc domain.ToolCall) bool {
				return tc.ID == msg.ToolCallID
			})
			if msg.ToolCallID == "" || i < 0 {
				continue
			}
			pending = slices.Delete(pending, i, i+1)
			result = append(result, msg)

		default:
			result = injectMissingResults(result, pending, msg.ConversationID)
			pending = pending[:0]
			result = append(result, msg)
		}
	}

	return injectMissingResults(result, pending, "")
}

// injectMissingResults appends one error result per unanswered call, in call order.
func injectMissingResults(msgs []domain.Message, pending []domain.ToolCall, conversationID string) []domain.Message {
	for _, tc := range pending {
		msgs = append(msgs, domain.Message{
			ConversationID: conversationID,
			Role:           domain.RoleTool,
			Name:           tc.Name,
			ToolCallID:     tc.ID,
			Content:        MissingToolResult,
		})
	}
	return msgs
}
