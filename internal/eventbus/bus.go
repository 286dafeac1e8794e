// Package eventbus fans topic-addressed events out to subscribed
// connections.
//
// Delivery is best effort: each matching subscriber gets a non-blocking
// enqueue, and a subscriber whose queue is full or closed simply misses
// that event. Nothing is persisted or replayed.
package eventbus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/steveyegge/coord/internal/types"
)

// pushEnvelope is the wire form of a server-pushed event.
type pushEnvelope struct {
	Event types.Event `json:"event"`
}

type subscription struct {
	sub      Subscriber
	patterns map[string]Pattern // keyed by wire form
}

// Bus holds the subscription table. It has its own lock so connections can
// be removed from their reader goroutines without taking the coordinator
// mutex.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscription
	logger *slog.Logger
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bus{subs: make(map[uint64]*subscription), logger: logger}
}

// Subscribe binds pattern to the subscriber's connection. Subscribing twice
// to the same pattern is a no-op.
func (b *Bus) Subscribe(sub Subscriber, pattern Pattern) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subs[sub.ID()]
	if !ok {
		s = &subscription{sub: sub, patterns: make(map[string]Pattern)}
		b.subs[sub.ID()] = s
	}
	s.patterns[pattern.String()] = pattern
}

// Unsubscribe removes one pattern from a connection. It reports whether the
// pattern was subscribed.
func (b *Bus) Unsubscribe(connID uint64, pattern Pattern) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subs[connID]
	if !ok {
		return false
	}
	key := pattern.String()
	if _, ok := s.patterns[key]; !ok {
		return false
	}
	delete(s.patterns, key)
	if len(s.patterns) == 0 {
		delete(b.subs, connID)
	}
	return true
}

// RemoveConnection drops every subscription held by connID.
func (b *Bus) RemoveConnection(connID uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, connID)
}

// Patterns returns the sorted wire-form patterns a connection holds.
func (b *Bus) Patterns(connID uint64) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.subs[connID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(s.patterns))
	for k := range s.patterns {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Count returns the total number of (connection, pattern) subscriptions.
func (b *Bus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, s := range b.subs {
		n += len(s.patterns)
	}
	return n
}

// Publish encodes the event once and delivers it to every connection with at
// least one matching pattern. A connection receives an event at most once
// even when several of its patterns match. It returns the number of
// successful enqueues.
func (b *Bus) Publish(topic string, payload json.RawMessage, now time.Time) (int, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	frame, err := json.Marshal(pushEnvelope{Event: types.Event{
		Topic:     topic,
		Payload:   payload,
		EmittedAt: now,
	}})
	if err != nil {
		return 0, fmt.Errorf("eventbus: encode %s: %w", topic, err)
	}

	b.mu.RLock()
	matched := make([]Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		for _, p := range s.patterns {
			if p.Match(topic) {
				matched = append(matched, s.sub)
				break
			}
		}
	}
	b.mu.RUnlock()

	delivered := 0
	for _, sub := range matched {
		if sub.Deliver(frame) {
			delivered++
		} else {
			b.logger.Debug("event dropped", "topic", topic, "conn", sub.ID())
		}
	}
	return delivered, nil
}
