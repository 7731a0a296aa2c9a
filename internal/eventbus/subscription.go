package eventbus

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hivemindctl/hivemind/pkg/models"
)

// EventDropped is the synthetic event type enqueued for a subscriber when
// its queue exceeded the high-water mark and the bus had to drop the
// oldest undelivered events to make room.
const EventDropped models.EventType = "Dropped"

// Subscription represents one subscriber's view of the bus: a filtered,
// bounded queue of events drained via Events.
type Subscription struct {
	id     string
	bus    *Bus
	filter Filter

	mu           sync.Mutex
	cond         *sync.Cond
	buf          []models.AgentEvent
	highWater    int
	droppedBatch int
	closed       bool
	out          chan models.AgentEvent
	once         sync.Once
}

func newSubscription(bus *Bus, filter Filter, highWater int) *Subscription {
	s := &Subscription{
		id:        uuid.NewString(),
		bus:       bus,
		filter:    filter,
		highWater: highWater,
		out:       make(chan models.AgentEvent),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.forward()
	return s
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() string { return s.id }

// Events returns the channel subscribers read delivered events from. The
// channel is closed once the subscription is unsubscribed/closed and its
// backlog has been drained.
func (s *Subscription) Events() <-chan models.AgentEvent {
	return s.out
}

// Close unsubscribes from the bus. Safe to call multiple times.
func (s *Subscription) Close() {
	s.bus.Unsubscribe(s)
}

// close is invoked by Bus.Unsubscribe to stop the forwarding goroutine once
// the backlog drains.
func (s *Subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// enqueue appends an event to the subscriber's bounded queue. If the queue
// is at capacity, the oldest events are evicted and replaced by a single
// coalesced "dropped(n)" marker so the bus never blocks the producer.
func (s *Subscription) enqueue(e models.AgentEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.buf) >= s.highWater {
		evict := len(s.buf) - s.highWater + 1
		s.buf = s.buf[evict:]
		s.droppedBatch += evict
	}
	if s.droppedBatch > 0 {
		s.buf = append(s.buf, droppedEvent(s.droppedBatch))
		s.droppedBatch = 0
	}
	s.buf = append(s.buf, e)
	s.mu.Unlock()
	s.cond.Signal()
}

// forward drains the internal queue into the consumer-facing channel. Only
// this goroutine ever blocks on a slow consumer; Emit itself never does.
func (s *Subscription) forward() {
	defer close(s.out)
	for {
		s.mu.Lock()
		for len(s.buf) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.buf) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		e := s.buf[0]
		s.buf = s.buf[1:]
		s.mu.Unlock()

		s.out <- e
	}
}

func droppedEvent(n int) models.AgentEvent {
	return models.AgentEvent{
		Type:      EventDropped,
		Timestamp: time.Now(),
		Data:      []byte(`{"dropped":` + strconv.Itoa(n) + `}`),
	}
}
