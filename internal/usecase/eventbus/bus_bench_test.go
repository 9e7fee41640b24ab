package eventbus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"autopilot/internal/domain"
)

func benchBus() *Bus {
	return NewWithBuffer(slog.New(slog.NewTextHandler(io.Discard, nil)), 1<<16)
}

func BenchmarkEventBusPublish(b *testing.B) {
	bus := benchBus()
	ctx := context.Background()
	event := domain.Event{Type: domain.EventToolCallCompleted, Timestamp: time.Now(), ConversationID: "bench"}
	bus.Subscribe(domain.EventToolCallCompleted, func(_ context.Context, _ domain.Event) {})

	b.ReportAllocs()
	for b.Loop() {
		bus.Publish(ctx, event)
	}
	bus.Close()
}

func BenchmarkEventBusPublishNoSubscribers(b *testing.B) {
	bus := benchBus()
	ctx := context.Background()
	event := domain.Event{Type: domain.EventCycleStarted, Timestamp: time.Now()}

	b.ReportAllocs()
	for b.Loop() {
		bus.Publish(ctx, event)
	}
	bus.Close()
}

func BenchmarkEventBusPublishParallel(b *testing.B) {
	bus := benchBus()
	ctx := context.Background()
	event := domain.Event{Type: domain.EventMessageAppended, Timestamp: time.Now()}
	bus.SubscribeAll(func(_ context.Context, _ domain.Event) {})

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			bus.Publish(ctx, event)
		}
	})
	bus.Close()
}
