package usecase

import (
	"context"
	"fmt"
	"sync"
)

// ConversationLocker serializes reasoning cycles per conversation inside
// one process. Waiters give up when their context ends.
type ConversationLocker struct {
	mu    sync.Mutex
	locks map[string]*conversationMutex
}

// conversationMutex is a one-slot channel so acquisition can select on ctx.
type conversationMutex struct {
	slot     chan struct{}
	refCount int
}

// NewConversationLocker creates an empty locker.
func NewConversationLocker() *ConversationLocker {
	return &ConversationLocker{locks: make(map[string]*conversationMutex)}
}

// Lock blocks until the conversation is free or ctx is done. The returned
// unlock func must be called exactly once.
func (l *ConversationLocker) Lock(ctx context.Context, conversationID string) (unlock func(), err error) {
	l.mu.Lock()
	cm, ok := l.locks[conversationID]
	if !ok {
		cm = &conversationMutex{slot: make(chan struct{}, 1)}
		l.locks[conversationID] = cm
	}
	cm.refCount++
	l.mu.Unlock()

	select {
	case cm.slot <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-cm.slot
				l.release(conversationID, cm)
			})
		}, nil
	case <-ctx.Done():
		l.release(conversationID, cm)
		return nil, fmt.Errorf("conversation lock %s: %w", conversationID, ctx.Err())
	}
}

func (l *ConversationLocker) release(conversationID string, cm *conversationMutex) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cm.refCount--
	if cm.refCount == 0 {
		delete(l.locks, conversationID)
	}
}

// ActiveCount returns the number of conversations with held or pending locks.
func (l *ConversationLocker) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
