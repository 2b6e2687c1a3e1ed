package subscriber

import (
	"testing"

	"rerun-core/internal/storeevent"
)

func oneEvent() []storeevent.Event {
	return []storeevent.Event{{EventID: storeevent.NextEventID()}}
}

func TestPublishDeliversInRegistrationOrder(t *testing.T) {
	b := New(nil)
	var order []int
	b.Register(Func(func(events []storeevent.Event) { order = append(order, 1) }))
	b.Register(Func(func(events []storeevent.Event) { order = append(order, 2) }))
	b.Register(Func(func(events []storeevent.Event) { order = append(order, 3) }))

	b.Publish(oneEvent())

	want := []int{1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestPublishEmptyBatchDoesNotDeliver(t *testing.T) {
	b := New(nil)
	called := false
	b.Register(Func(func(events []storeevent.Event) { called = true }))

	b.Publish(nil)

	if called {
		t.Fatal("Publish with no events should not invoke any subscriber")
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	b := New(nil)
	calls := 0
	h := b.Register(Func(func(events []storeevent.Event) { calls++ }))

	b.Publish(oneEvent())
	b.Unregister(h)
	b.Publish(oneEvent())

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestUnregisterUnknownHandleIsNoOp(t *testing.T) {
	b := New(nil)
	b.Unregister(Handle(999))
}

func TestPanickingSubscriberDoesNotStopOthers(t *testing.T) {
	b := New(nil)
	secondCalled := false
	b.Register(Func(func(events []storeevent.Event) { panic("boom") }))
	b.Register(Func(func(events []storeevent.Event) { secondCalled = true }))

	b.Publish(oneEvent())

	if !secondCalled {
		t.Fatal("a panicking subscriber should not prevent delivery to the next one")
	}
}
