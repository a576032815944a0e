package notifier

import (
	"context"
	"sync"

	"github.com/italolelis/zher/internal/transfer"
)

// Broadcaster fans events out to subscribers. Emit never blocks: a subscriber
// that falls behind loses progress events first, and for any other event the
// oldest queued event makes room.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan transfer.Event
	nextID int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan transfer.Event)}
}

// Subscribe registers a subscriber with the given queue size. The returned
// function unsubscribes and closes the channel.
func (b *Broadcaster) Subscribe(buffer int) (<-chan transfer.Event, func()) {
	ch := make(chan transfer.Event, max(buffer, 1))

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()

			close(ch)
		})
	}
}

func (b *Broadcaster) Emit(_ context.Context, ev transfer.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
			continue
		default:
		}

		if ev.Type == transfer.EventProgress {
			continue
		}

		select {
		case <-ch:
		default:
		}

		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns the number of active subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.subs)
}
