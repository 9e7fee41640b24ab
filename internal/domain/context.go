package domain

import "context"

type ctxKey string

const (
	conversationCtxKey ctxKey = "conversation_id"
	jobCtxKey          ctxKey = "job_uuid"
)

// ContextWithConversationID tags ctx for logging and tracing. Tools never read
// it; they receive a ToolContext instead.
func ContextWithConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, conversationCtxKey, conversationID)
}

// ConversationIDFromContext returns the tagged conversation ID or "".
func ConversationIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(conversationCtxKey).(string); ok {
		return v
	}
	return ""
}

// ContextWithJobUUID tags ctx with the UUID of the job being run.
func ContextWithJobUUID(ctx context.Context, uuid string) context.Context {
	return context.WithValue(ctx, jobCtxKey, uuid)
}

// JobUUIDFromContext returns the running job's UUID or "".
func JobUUIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(jobCtxKey).(string); ok {
		return v
	}
	return ""
}
