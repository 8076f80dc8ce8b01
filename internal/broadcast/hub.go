package broadcast

import (
	"context"
	"errors"
	"sync"
)

const (
	DefaultBufferSize       = 50
	DefaultSubscriberBuffer = 16
)

var ErrHubUnavailable = errors.New("hub_unavailable")

// Hub fans events out to in-process subscribers. Sends never block: a
// subscriber whose buffer is full misses the event.
type Hub struct {
	mu               sync.Mutex
	buffer           []Event
	subs             map[uint64]chan Event
	nextID           uint64
	bufferSize       int
	subscriberBuffer int
}

type Subscription struct {
	hub  *Hub
	id   uint64
	ch   chan Event
	once sync.Once
}

func NewHub() *Hub {
	return &Hub{
		subs:             make(map[uint64]chan Event),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

func (h *Hub) Name() string { return "hub" }

// Send implements Sink.
func (h *Hub) Send(_ context.Context, event Event) error {
	h.Publish(event)
	return nil
}

func (h *Hub) Publish(event Event) {
	if h == nil {
		return
	}

	h.mu.Lock()
	h.buffer = append(h.buffer, event)
	if len(h.buffer) > h.bufferSize {
		h.buffer = h.buffer[len(h.buffer)-h.bufferSize:]
	}
	subs := make([]chan Event, 0, len(h.subs))
	for _, ch := range h.subs {
		subs = append(subs, ch)
	}
	h.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe registers a subscriber and returns the recent backlog.
func (h *Hub) Subscribe() (*Subscription, []Event, error) {
	if h == nil {
		return nil, nil, ErrHubUnavailable
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan Event, h.subscriberBuffer)
	h.subs[id] = ch
	backlog := append([]Event(nil), h.buffer...)

	return &Subscription{hub: h, id: id, ch: ch}, backlog, nil
}

func (h *Hub) Subscribers() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

func (s *Subscription) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.id)
	})
}
