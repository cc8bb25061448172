package hub

import (
	"sync"
	"time"
)

// EventType names a coordinator event.
type EventType string

const (
	EventRegistered    EventType = "door.registered"
	EventOpenRequested EventType = "door.open_requested"
	EventOpenDelivered EventType = "door.open_delivered"
	EventFrameRelayed  EventType = "frame.relayed"
	EventUnknownDoor   EventType = "door.unknown"
)

// Event is published to subscribers of the coordinator.
type Event struct {
	Type   EventType `json:"type"`
	DoorID int       `json:"doorId"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}

// broadcaster fans events out to subscribers without ever blocking the
// publisher; a subscriber whose buffer is full misses the event.
type broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan Event)}
}

func (b *broadcaster) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

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

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *broadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
