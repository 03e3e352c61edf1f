package services

import (
	"log/slog"
	"sync"
)

type EventType string

const (
	EventTypeStatus EventType = "status"
	EventTypeLog    EventType = "log"
)

// BroadcastChannel is the topic every event is mirrored to, so a single
// subscriber (the SSE firehose) can watch everything.
const BroadcastChannel = "*"

type Event struct {
	Topic     string
	Type      EventType
	Data      string // JSON payload or raw text
	Timestamp int64
}

type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[string][]chan Event // key: topic
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[string][]chan Event),
	}
}

// Subscribe returns a channel that receives events for a specific topic
func (b *EventBus) Subscribe(topic string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100) // Buffer to prevent blocking publisher
	b.subs[topic] = append(b.subs[topic], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subscribers := b.subs[topic]
		for i, sub := range subscribers {
			if sub == ch {
				close(ch)
				b.subs[topic] = append(subscribers[:i], subscribers[i+1:]...)
				break
			}
		}
		if len(b.subs[topic]) == 0 {
			delete(b.subs, topic)
		}
	}

	return ch, unsub
}

// Publish sends an event to all subscribers of the topic, and mirrors it to
// the broadcast channel.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.deliver(e.Topic, e)
	if e.Topic != BroadcastChannel {
		b.deliver(BroadcastChannel, e)
	}
}

func (b *EventBus) deliver(topic string, e Event) {
	for _, ch := range b.subs[topic] {
		select {
		case ch <- e:
		default:
			// If channel is full, drop event to prevent blocking application
			b.logger.Warn("event bus channel full, dropping event", "topic", topic)
		}
	}
}
