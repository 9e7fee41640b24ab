package eventbus

import (
	"context"
	"log/slog"

	"autopilot/internal/domain"
)

// Follow streams the events of one conversation until ctx ends, then
// closes the channel. An empty conversationID follows every event.
func Follow(ctx context.Context, bus domain.EventBus, conversationID string) <-chan domain.Event {
	out := make(chan domain.Event, DefaultBuffer)
	unsub := bus.SubscribeAll(func(_ context.Context, e domain.Event) {
		if conversationID != "" && e.ConversationID != conversationID {
			return
		}
		select {
		case out <- e:
		case <-ctx.Done():
		}
	})
	go func() {
		<-ctx.Done()
		unsub()
		close(out)
	}()
	return out
}

// LogEvents writes every event to logger at debug level. It returns the
// unsubscribe func.
func LogEvents(bus domain.EventBus, logger *slog.Logger) func() {
	return bus.SubscribeAll(func(ctx context.Context, e domain.Event) {
		logger.DebugContext(ctx, "event",
			"type", string(e.Type),
			"conversation_id", e.ConversationID,
			"payload", string(e.Payload),
		)
	})
}
