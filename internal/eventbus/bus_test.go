package eventbus_test

import (
	"testing"
	"time"

	"github.com/hivemindctl/hivemind/internal/eventbus"
	"github.com/hivemindctl/hivemind/pkg/models"
)

func drain(t *testing.T, sub *eventbus.Subscription, n int) []models.AgentEvent {
	t.Helper()
	var out []models.AgentEvent
	for len(out) < n {
		select {
		case e := <-sub.Events():
			out = append(out, e)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %d events, got %d", n, len(out))
		}
	}
	return out
}

func TestSubscribeAllReceivesEveryEvent(t *testing.T) {
	bus := eventbus.New(eventbus.Config{})
	sub := bus.SubscribeAll()
	defer sub.Close()

	bus.Emit(models.AgentEvent{Type: models.EventAgentThinking, AgentID: "a1"})
	bus.Emit(models.AgentEvent{Type: models.EventResponseComplete, AgentID: "a1"})

	events := drain(t, sub, 2)
	if events[0].Type != models.EventAgentThinking {
		t.Errorf("event 0 = %s, want %s", events[0].Type, models.EventAgentThinking)
	}
	if events[1].Type != models.EventResponseComplete {
		t.Errorf("event 1 = %s, want %s", events[1].Type, models.EventResponseComplete)
	}
}

func TestSubscribeFilter(t *testing.T) {
	bus := eventbus.New(eventbus.Config{})
	sub := bus.Subscribe(func(e models.AgentEvent) bool {
		return e.AgentID == "worker-1"
	})
	defer sub.Close()

	bus.Emit(models.AgentEvent{Type: models.EventStateChange, AgentID: "worker-2"})
	bus.Emit(models.AgentEvent{Type: models.EventStateChange, AgentID: "worker-1"})

	events := drain(t, sub, 1)
	if len(events) != 1 || events[0].AgentID != "worker-1" {
		t.Fatalf("got %+v, want exactly one event from worker-1", events)
	}
}

func TestHistoryRetainsBoundedWindow(t *testing.T) {
	bus := eventbus.New(eventbus.Config{HistorySize: 3})
	for i := 0; i < 5; i++ {
		bus.Emit(models.AgentEvent{Type: models.EventAgentThinking, AgentID: "a"})
	}
	if got := len(bus.History(0)); got != 3 {
		t.Fatalf("History(0) len = %d, want 3", got)
	}
}

func TestBackpressureDropsOldestAndCoalescesMarker(t *testing.T) {
	bus := eventbus.New(eventbus.Config{HighWaterMark: 2})
	sub := bus.Subscribe(nil)
	defer sub.Close()

	// Emit far more than the high-water mark before the subscriber ever
	// drains; the bus must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			bus.Emit(models.AgentEvent{Type: models.EventResponseChunk, AgentID: "a"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a slow subscriber")
	}

	var sawDropped bool
	deadline := time.After(2 * time.Second)
loop:
	for i := 0; i < 10; i++ {
		select {
		case e := <-sub.Events():
			if e.Type == eventbus.EventDropped {
				sawDropped = true
			}
		case <-deadline:
			break loop
		}
	}
	if !sawDropped {
		t.Error("expected a coalesced dropped(n) event")
	}
}

func TestUnsubscribeClosesEventsChannel(t *testing.T) {
	bus := eventbus.New(eventbus.Config{})
	sub := bus.SubscribeAll()
	sub.Close()

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatal("Events channel delivered a value after Close instead of closing")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Events channel was not closed after Close")
	}
}
