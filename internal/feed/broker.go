package feed

import (
	"context"
	"sync"
)

// Broker is an in-process pub/sub for change events, keyed by room ID.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

var _ Feed = (*Broker)(nil)

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[chan Event]struct{}),
	}
}

func (b *Broker) Subscribe(ctx context.Context, roomID string) (<-chan Event, error) {
	ch := make(chan Event, 16)
	b.mu.Lock()
	if b.subs[roomID] == nil {
		b.subs[roomID] = make(map[chan Event]struct{})
	}
	b.subs[roomID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(roomID, ch)
	}()
	return ch, nil
}

// unsubscribe removes ch and closes it. Closing happens under the write
// lock so Publish never sends on a closed channel.
func (b *Broker) unsubscribe(roomID string, ch chan Event) {
	b.mu.Lock()
	delete(b.subs[roomID], ch)
	if len(b.subs[roomID]) == 0 {
		delete(b.subs, roomID)
	}
	close(ch)
	b.mu.Unlock()
}

// Publish sends ev to all subscribers of its room.
func (b *Broker) Publish(_ context.Context, ev Event) error {
	b.mu.RLock()
	for ch := range b.subs[ev.RoomID] {
		select {
		case ch <- ev:
		default:
			// Drop if subscriber is slow.
		}
	}
	b.mu.RUnlock()
	return nil
}

// Subscribers returns the number of open subscriptions for roomID.
func (b *Broker) Subscribers(roomID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[roomID])
}
