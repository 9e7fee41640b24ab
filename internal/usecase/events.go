package usecase

import (
	"context"
	"encoding/json"
	"time"

	"autopilot/internal/domain"
)

// Publish emits an event when a bus is configured. Payload encoding errors
// drop the payload, not the event.
func Publish(ctx context.Context, bus domain.EventBus, typ domain.EventType, conversationID string, payload any) {
	if bus == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			raw = data
		}
	}
	bus.Publish(ctx, domain.Event{
		Type:           typ,
		Timestamp:      time.Now(),
		ConversationID: conversationID,
		Payload:        raw,
	})
}
