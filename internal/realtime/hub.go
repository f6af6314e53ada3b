// AngelaMos | 2026
// hub.go

package realtime

import (
	"context"
	"sync"

	"github.com/carterperez-dev/templates/credit-ledger/internal/core"
)

const defaultSubscriberBuffer = 32

// Hub fans events out to the subscribers of this process, keyed by topic.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]chan Event
	next   uint64
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{
		subs:   make(map[string]map[uint64]chan Event),
		buffer: buffer,
	}
}

// Subscribe registers a subscriber for topic. The returned channel is
// closed when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, topic string) <-chan Event {
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[uint64]chan Event)
	}
	h.subs[topic][id] = ch
	h.mu.Unlock()

	core.RealtimeSubscribers.Inc()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs[topic], id)
		if len(h.subs[topic]) == 0 {
			delete(h.subs, topic)
		}
		close(ch)
		h.mu.Unlock()
		core.RealtimeSubscribers.Dec()
	}()

	return ch
}

// Publish delivers evt to every subscriber of its topic and returns how many
// received it. A subscriber whose buffer is full loses its oldest buffered
// event, so the newest row always gets through.
func (h *Hub) Publish(evt Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, ch := range h.subs[evt.Topic] {
		if offer(ch, evt) {
			delivered++
		}
	}
	return delivered
}

const offerAttempts = 4

// offer sends evt without blocking, evicting buffered events to make room.
// It gives up only when concurrent publishers keep refilling the buffer.
func offer(ch chan Event, evt Event) bool {
	for range offerAttempts {
		select {
		case ch <- evt:
			return true
		default:
		}

		select {
		case <-ch:
		default:
		}
	}
	return false
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, topicSubs := range h.subs {
		n += len(topicSubs)
	}
	return n
}
