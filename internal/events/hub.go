package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// subscriberBuffer is how many events a slow subscriber may lag before events are dropped for it.
const subscriberBuffer = 32

// Hub fans events out to in-process subscribers of each session.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Event]struct{}
	closed map[string]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs:   make(map[string]map[chan Event]struct{}),
		closed: make(map[string]struct{}),
	}
}

// Subscribe registers a subscriber for sessionID. The returned cancel func
// unregisters it and closes the channel. Subscribing to a closed session returns
// an already closed channel.
func (h *Hub) Subscribe(sessionID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	if _, done := h.closed[sessionID]; done {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[chan Event]struct{})
		h.subs[sessionID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[sessionID]; ok {
				if _, ok := set[ch]; ok {
					delete(set, ch)
					close(ch)
				}
				if len(set) == 0 {
					delete(h.subs, sessionID)
				}
			}
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers e to the session's subscribers without blocking.
func (h *Hub) Publish(_ context.Context, e Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[e.SessionID] {
		select {
		case ch <- e:
		default:
			log.Warn().
				Str("session_id", e.SessionID).
				Str("type", string(e.Type)).
				Msg("Event subscriber is full, dropping event")
		}
	}
	return nil
}

// CloseSession closes every subscriber of sessionID and refuses later subscriptions to it.
// Session ids are never reused.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[sessionID] {
		close(ch)
	}
	delete(h.subs, sessionID)
	h.closed[sessionID] = struct{}{}
}

// Subscribers returns the subscriber count for sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}
