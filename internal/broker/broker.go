// Package broker fans lifecycle and message events out to the
// real-time subscribers of a single user. The broker is process-local:
// live session handles are pinned to this process, so events never need
// to cross an external bus.
package broker

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventStatusChange     EventType = "statusChange"
	EventPairingCodeReady EventType = "pairingCodeReady"
	EventMessageReceived  EventType = "messageReceived"
	EventMessageSent      EventType = "messageSent"
	EventErrorOccurred    EventType = "errorOccurred"
)

type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEvent marshals data into an event envelope. Marshal failures are
// logged and produce an empty data payload rather than losing the event.
func NewEvent(eventType EventType, data any) Event {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("type", string(eventType)).Msg("failed to marshal event data")
		raw = []byte("{}")
	}
	return Event{Type: eventType, Data: raw}
}

type Subscriber struct {
	UserID string
	Events chan Event
	Done   chan struct{}
}

type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Subscriber]bool
	closed      bool
}

func New() *Broker {
	return &Broker{
		subscribers: make(map[string]map[*Subscriber]bool),
	}
}

// Subscribe binds a new subscriber to userID. The caller must have
// authenticated the user before calling; the broker itself delivers to
// whatever binding it is given.
func (b *Broker) Subscribe(userID string) *Subscriber {
	sub := &Subscriber{
		UserID: userID,
		Events: make(chan Event, 100),
		Done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.Done)
		return sub
	}
	if b.subscribers[userID] == nil {
		b.subscribers[userID] = make(map[*Subscriber]bool)
	}
	b.subscribers[userID][sub] = true
	count := len(b.subscribers[userID])
	b.mu.Unlock()

	log.Info().
		Str("userId", userID).
		Int("subscriberCount", count).
		Msg("subscriber bound")

	return sub
}

func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.subscribers[sub.UserID]; ok && subs[sub] {
		delete(subs, sub)
		close(sub.Done)

		if len(subs) == 0 {
			delete(b.subscribers, sub.UserID)
		}

		log.Info().
			Str("userId", sub.UserID).
			Int("subscriberCount", len(subs)).
			Msg("subscriber unbound")
	}
}

// Publish delivers an event to every subscriber of userID. Delivery is
// fire-and-forget: a subscriber whose buffer is full misses the event.
// Callers publish a given user's events from a single goroutine (the
// owning handle), which preserves per-user ordering.
// The read lock is held across the loop so Unsubscribe cannot mutate
// the set mid-iteration; the sends never block, so this is safe.
func (b *Broker) Publish(userID string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers[userID] {
		select {
		case sub.Events <- event:
		default:
			log.Warn().
				Str("userId", userID).
				Str("type", string(event.Type)).
				Msg("subscriber event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, subs := range b.subscribers {
		for sub := range subs {
			close(sub.Done)
		}
	}
	b.subscribers = make(map[string]map[*Subscriber]bool)
}

func (b *Broker) SubscriberCount(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[userID])
}
