package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventCycleStarted      EventType = "cycle.started"
	EventCycleCompleted    EventType = "cycle.completed"
	EventModelCallFailed   EventType = "model.call.failed"
	EventCacheHit          EventType = "cache.hit"
	EventMessageAppended   EventType = "message.appended"
	EventToolCallStarted   EventType = "tool.call.started"
	EventToolCallCompleted EventType = "tool.call.completed"
	EventHealingApplied    EventType = "healing.applied"
	EventHealingExhausted  EventType = "healing.exhausted"
	EventHealingSwept      EventType = "healing.swept"
	EventTriageAssigned    EventType = "triage.assigned"
	EventTriageEvicted     EventType = "triage.evicted"
	EventMissionDispatched EventType = "mission.dispatched"
	EventMissionFailed     EventType = "mission.failed"
	EventCompressed        EventType = "context.compressed"
	EventBacklogUpdated    EventType = "backlog.updated"
	EventMissionScheduled  EventType = "mission.scheduled"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type           EventType       `json:"type"`
	Timestamp      time.Time       `json:"timestamp"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// EventHandler processes a single event.
type EventHandler func(ctx context.Context, event Event)

// EventBus is an in-process publish/subscribe bus.
type EventBus interface {
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for one event type and returns an unsubscribe func.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler for every event type.
	SubscribeAll(handler EventHandler) func()
	Close()
}
