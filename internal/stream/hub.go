// Package stream fans message events out to per-session subscribers.
package stream

import (
	"errors"
	"sync"

	"streamchat/internal/reconcile"
)

// ErrSlowSubscriber is reported by a subscription that was dropped
// because its buffer filled; publishers never block on a subscriber.
var ErrSlowSubscriber = errors.New("subscriber too slow, dropped")

const defaultSubscriberBuffer = 64

// Hub is the in-process broadcast registry, one subscriber list per
// session. Events published for a session are delivered to every live
// subscription of that session and nobody else.
type Hub struct {
	mu     sync.Mutex
	subs   map[string][]*Subscription
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{
		subs:   make(map[string][]*Subscription),
		buffer: buffer,
	}
}

// Subscription is an owned handle on one session's event stream. The
// events channel closes when the stream ends, the subscription is
// cancelled, or the hub drops it; Err explains a non-clean close.
type Subscription struct {
	hub       *Hub
	sessionID string
	events    chan reconcile.Event

	mu     sync.Mutex
	err    error
	closed bool
}

func (s *Subscription) Events() <-chan reconcile.Event {
	return s.events
}

// Err returns the close reason. Valid after Events is drained.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cancel detaches the subscription and closes its events channel.
// Safe to call more than once.
func (s *Subscription) Cancel() {
	s.hub.remove(s.sessionID, s)
	s.close(nil)
}

func (s *Subscription) close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.events)
}

func (s *Subscription) deliver(ev reconcile.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

func (h *Hub) Subscribe(sessionID string) *Subscription {
	sub := &Subscription{
		hub:       h,
		sessionID: sessionID,
		events:    make(chan reconcile.Event, h.buffer),
	}
	h.mu.Lock()
	h.subs[sessionID] = append(h.subs[sessionID], sub)
	h.mu.Unlock()
	return sub
}

// Publish delivers an event to every subscriber of the session.
// Subscribers whose buffer is full are dropped with ErrSlowSubscriber.
func (h *Hub) Publish(sessionID string, ev reconcile.Event) {
	for _, sub := range h.snapshot(sessionID) {
		if !sub.deliver(ev) {
			h.remove(sessionID, sub)
			sub.close(ErrSlowSubscriber)
		}
	}
}

// Fail ends every subscription of the session with an error.
func (h *Hub) Fail(sessionID string, err error) {
	for _, sub := range h.detachAll(sessionID) {
		sub.close(err)
	}
}

// EndStream cleanly closes every subscription of the session.
func (h *Hub) EndStream(sessionID string) {
	for _, sub := range h.detachAll(sessionID) {
		sub.close(nil)
	}
}

func (h *Hub) snapshot(sessionID string) []*Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Subscription(nil), h.subs[sessionID]...)
}

func (h *Hub) detachAll(sessionID string) []*Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subs[sessionID]
	delete(h.subs, sessionID)
	return subs
}

func (h *Hub) remove(sessionID string, target *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subs[sessionID]
	for i, sub := range subs {
		if sub == target {
			h.subs[sessionID] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subs[sessionID]) == 0 {
		delete(h.subs, sessionID)
	}
}
