package orchestrator

import (
	"sync"

	"github.com/Zero-Robotics/krill/internal/runner"
)

// busQueueDepth bounds each subscriber's event queue (spec.md §5: "a
// fan-out channel: IPC subscribers each get a slow-consumer-tolerant queue
// (bounded; slow consumers are dropped and resubscribe)").
const busQueueDepth = 256

// bus fans out every runner state-change event to zero or more subscribers.
type bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan runner.Event
}

func newBus() *bus {
	return &bus{subs: make(map[int]chan runner.Event)}
}

// publish delivers ev to every subscriber without blocking; a subscriber
// whose queue is already full is dropped and must call subscribe again.
func (b *bus) publish(ev runner.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			close(ch)
			delete(b.subs, id)
		}
	}
}

// subscribe registers a new consumer and returns its id (for unsubscribe)
// and its receive-only event channel.
func (b *bus) subscribe() (int, <-chan runner.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan runner.Event, busQueueDepth)
	b.subs[id] = ch
	return id, ch
}

func (b *bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}
