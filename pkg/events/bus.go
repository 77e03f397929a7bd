package events

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ojobatch/ojo/pkg/models"
)

// Handler receives a published event. Synchronous handlers run inline on
// the publisher's goroutine; asynchronous handlers run on their own
// goroutine and never block publication.
type Handler func(ev models.ProgressEvent)

type subscription struct {
	id      string
	pattern string
	handler Handler
	async   bool
}

// Bus is the process-wide typed publish/subscribe bus.
//
// Publication never blocks the caller for longer than the slowest
// synchronous handler. A panicking handler is recovered and logged so one
// bad subscriber cannot take down a pipeline run.
type Bus struct {
	mu   sync.RWMutex
	subs []subscription
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a synchronous handler for the given type pattern.
// Patterns: exact type ("task.completed"), prefix ("adapter.*"), or "*".
// Returns a subscription id for Unsubscribe.
func (b *Bus) Subscribe(pattern string, h Handler) string {
	return b.add(pattern, h, false)
}

// SubscribeAsync registers a handler that runs on its own goroutine per event.
func (b *Bus) SubscribeAsync(pattern string, h Handler) string {
	return b.add(pattern, h, true)
}

func (b *Bus) add(pattern string, h Handler, async bool) string {
	id := uuid.New().String()
	b.mu.Lock()
	b.subs = append(b.subs, subscription{id: id, pattern: pattern, handler: h, async: async})
	b.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription by id. Unknown ids are ignored.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers the event to every matching subscriber. The timestamp
// is stamped here if the caller left it zero.
func (b *Bus) Publish(ev models.ProgressEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	matched := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if patternMatches(s.pattern, ev.Type) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range matched {
		if s.async {
			go b.deliver(s, ev)
		} else {
			b.deliver(s, ev)
		}
	}
}

func (b *Bus) deliver(s subscription, ev models.ProgressEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event handler panicked",
				"pattern", s.pattern, "event_type", ev.Type, "panic", r)
		}
	}()
	s.handler(ev)
}

func patternMatches(pattern, eventType string) bool {
	if pattern == Wildcard || pattern == eventType {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(eventType, prefix)
	}
	return false
}
