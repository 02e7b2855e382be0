package events

import (
	"testing"
)

func TestHubPublishSubscribe(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	h.Publish(HealthStatus, HealthStatusEvent{From: "Healthy", To: "Unreachable", Ts: 1})

	select {
	case ev := <-ch:
		if ev.Name != HealthStatus {
			t.Fatalf("expected event %q, got %q", HealthStatus, ev.Name)
		}
		payload, err := DecodeAs[HealthStatusEvent](ev)
		if err != nil {
			t.Fatalf("failed to decode payload: %v", err)
		}
		if payload.To != "Unreachable" {
			t.Fatalf("unexpected payload: %+v", payload)
		}
	default:
		t.Fatalf("expected a buffered event")
	}
}

func TestHubSlowSubscriberDropped(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	// Overfill the subscriber buffer; publishes must not block.
	for i := 0; i < 100; i++ {
		h.Publish(JobCompleted, JobEvent{Attempts: i})
	}

	if got := len(ch); got != cap(ch) {
		t.Fatalf("expected full buffer of %d events, got %d", cap(ch), got)
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	h.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after unsubscribe")
	}

	// Double unsubscribe must not panic.
	h.Unsubscribe(ch)

	// Publishing with no subscribers is a no-op.
	h.Publish(JobFailed, JobEvent{})
}

func TestNilHubPublish(t *testing.T) {
	var h *EventHub
	h.Publish(JobFailed, JobEvent{}) // must not panic
}
