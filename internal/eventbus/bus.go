// Package eventbus implements the async pub/sub fan-out of AgentEvents
// (spec component C1). Producers never block: a bounded ring buffer retains
// recent history for late-joining subscribers, and each subscriber has its
// own bounded queue with drop-oldest backpressure.
package eventbus

import (
	"sync"

	"github.com/hivemindctl/hivemind/pkg/models"
)

const (
	// DefaultHistorySize is the default ring buffer capacity.
	DefaultHistorySize = 1000

	// DefaultHighWaterMark is the default per-subscriber queue bound before
	// the bus starts dropping the oldest undelivered events for that
	// subscriber.
	DefaultHighWaterMark = 256
)

// Filter decides whether a subscriber wants a given event. A nil filter
// matches every event (equivalent to SubscribeAll).
type Filter func(models.AgentEvent) bool

// Bus is a many-producer/many-consumer event bus with bounded history and
// per-subscriber backpressure. The zero value is not usable; construct with
// New.
type Bus struct {
	mu            sync.Mutex
	history       []models.AgentEvent
	historySize   int
	highWaterMark int
	subs          map[*Subscription]struct{}
}

// Config configures a Bus. Zero values fall back to the package defaults.
type Config struct {
	HistorySize   int `yaml:"history_size"`
	HighWaterMark int `yaml:"high_water_mark"`
}

// New creates a Bus ready to accept subscribers and emit events.
func New(cfg Config) *Bus {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.HighWaterMark <= 0 {
		cfg.HighWaterMark = DefaultHighWaterMark
	}
	return &Bus{
		historySize:   cfg.HistorySize,
		highWaterMark: cfg.HighWaterMark,
		subs:          make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a new subscriber that only receives events matching
// filter. Call Subscription.Events to consume, and Unsubscribe (or
// Subscription.Close) when done.
func (b *Bus) Subscribe(filter Filter) *Subscription {
	sub := newSubscription(b, filter, b.highWaterMark)
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// SubscribeAll registers a subscriber that receives every event, used by
// transport adapters fanning the bus out to external clients.
func (b *Bus) SubscribeAll() *Subscription {
	return b.Subscribe(nil)
}

// Unsubscribe removes a subscription so it no longer receives events. It is
// safe to call more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	_, ok := b.subs[sub]
	delete(b.subs, sub)
	b.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Emit dispatches an event to every matching subscriber and records it in
// the ring buffer. Emit never blocks: each subscriber has its own bounded
// queue, and a slow or stalled subscriber only drops its own events.
func (b *Bus) Emit(event models.AgentEvent) {
	b.mu.Lock()
	b.appendHistory(event)
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		if s.filter == nil || s.filter(event) {
			s.enqueue(event)
		}
	}
}

// History returns the last n emitted events in emission order (fewer if
// fewer than n have been emitted). n <= 0 returns the entire retained
// window.
func (b *Bus) History(n int) []models.AgentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > len(b.history) {
		n = len(b.history)
	}
	out := make([]models.AgentEvent, n)
	copy(out, b.history[len(b.history)-n:])
	return out
}

func (b *Bus) appendHistory(event models.AgentEvent) {
	b.history = append(b.history, event)
	if len(b.history) > b.historySize {
		b.history = append([]models.AgentEvent(nil), b.history[len(b.history)-b.historySize:]...)
	}
}
