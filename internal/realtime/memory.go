package realtime

import (
	"context"
	"log"
	"sync"
)

const sessionBuffer = 64

// MemoryBroker keeps subscriptions in process.
type MemoryBroker struct {
	mu       sync.RWMutex
	sessions map[string]map[chan Message]struct{}
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{sessions: make(map[string]map[chan Message]struct{})}
}

// Publish delivers msg to every session of userID. A session whose buffer is
// full misses the message rather than stalling the publisher.
func (b *MemoryBroker) Publish(_ context.Context, userID string, msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.sessions[userID] {
		select {
		case ch <- msg:
		default:
			log.Printf("realtime: session buffer full for user %s, dropping %s", userID, msg.Type)
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, userID string) (<-chan Message, func(), error) {
	ch := make(chan Message, sessionBuffer)

	b.mu.Lock()
	if b.sessions[userID] == nil {
		b.sessions[userID] = make(map[chan Message]struct{})
	}
	b.sessions[userID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.sessions[userID], ch)
			if len(b.sessions[userID]) == 0 {
				delete(b.sessions, userID)
			}
			close(ch)
		})
	}
	return ch, cancel, nil
}

// Sessions returns the number of live sessions of userID.
func (b *MemoryBroker) Sessions(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions[userID])
}
