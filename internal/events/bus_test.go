package events

import "testing"

// TestBusSince verifies incremental event reads by sequence.
func TestBusSince(t *testing.T) {
	bus := NewBus(3)
	bus.Publish(Event{Type: TypeStatus, Message: "1"})
	bus.Publish(Event{Type: TypeStatus, Message: "2"})
	bus.Publish(Event{Type: TypeStatus, Message: "3"})

	events := bus.Since(1)
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].Seq != 2 || events[1].Seq != 3 {
		t.Fatalf("unexpected seqs: %+v", events)
	}
}

// TestBusCapsHistory verifies buffer limit trimming behavior.
func TestBusCapsHistory(t *testing.T) {
	bus := NewBus(2)
	bus.Publish(Event{Message: "1"})
	bus.Publish(Event{Message: "2"})
	bus.Publish(Event{Message: "3"})

	events := bus.Since(0)
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].Message != "2" || events[1].Message != "3" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

// TestBusSinceJobFilters verifies per-job incremental reads.
func TestBusSinceJobFilters(t *testing.T) {
	bus := NewBus(10)
	bus.Publish(Event{JobID: "a", Message: "a1"})
	bus.Publish(Event{JobID: "b", Message: "b1"})
	bus.Publish(Event{JobID: "a", Message: "a2"})

	events := bus.SinceJob("a", 0)
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].Message != "a1" || events[1].Message != "a2" {
		t.Fatalf("unexpected events: %+v", events)
	}

	if got := bus.SinceJob("a", events[0].Seq); len(got) != 1 || got[0].Message != "a2" {
		t.Fatalf("incremental job read = %+v, want a2 only", got)
	}
}
