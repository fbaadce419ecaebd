package observer

import (
	"testing"
	"time"
)

func TestDrainReturnsEventsInOrder(t *testing.T) {
	q := NewQueue()
	q.StatusSyncing()
	q.StatusConnected(3)
	q.ChannelInfoDraw()

	events := q.Drain()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Kind != StatusSyncing {
		t.Fatalf("expected StatusSyncing first, got %v", events[0].Kind)
	}
	if events[1].Kind != StatusConnected || events[1].NChannels != 3 {
		t.Fatalf("expected StatusConnected(3), got %+v", events[1])
	}
	if events[2].Kind != ChannelInfoDraw {
		t.Fatalf("expected ChannelInfoDraw, got %v", events[2].Kind)
	}
}

func TestDrainEmptyReturnsNil(t *testing.T) {
	q := NewQueue()
	if events := q.Drain(); events != nil {
		t.Fatalf("expected nil, got %v", events)
	}
}

func TestDrainClearsQueue(t *testing.T) {
	q := NewQueue()
	q.StatusFailed()
	_ = q.Drain()
	if events := q.Drain(); events != nil {
		t.Fatalf("expected queue to be empty after drain, got %v", events)
	}
}

func TestWaitBlocksUntilEventPushed(t *testing.T) {
	q := NewQueue()
	done := make(chan []Event, 1)
	go func() {
		done <- q.Wait()
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before any event was pushed")
	case <-time.After(20 * time.Millisecond):
	}

	q.AppendText(map[uint8]string{0: "hi"})

	select {
	case events := <-done:
		if len(events) != 1 || events[0].Kind != AppendText {
			t.Fatalf("unexpected events: %+v", events)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after event was pushed")
	}
}
