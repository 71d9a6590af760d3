package supervisor

import (
	"testing"

	"github.com/switchyard-dev/switchyard/internal/models"
	"github.com/switchyard-dev/switchyard/internal/sequencer"
)

func TestEventFlusher_CoalescesChunks(t *testing.T) {
	db := testDB(t)
	f := newEventFlusher(db, "s-1")

	f.Write([]byte("first "))
	f.Write([]byte("second"))
	if err := f.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	events, err := sequencer.Read(db, "s-1", sequencer.ReadOpts{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Type != models.EventOutputChunk || ev.Direction != models.DirAgent {
		t.Errorf("event = %s/%s", ev.Direction, ev.Type)
	}
	if ev.Payload != `{"text":"first second"}` {
		t.Errorf("payload = %q", ev.Payload)
	}
}

func TestEventFlusher_EmptyFlushIsNoop(t *testing.T) {
	db := testDB(t)
	f := newEventFlusher(db, "s-1")

	if err := f.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	events, _ := sequencer.Read(db, "s-1", sequencer.ReadOpts{})
	if len(events) != 0 {
		t.Errorf("got %d events, want 0", len(events))
	}
}

func TestEventFlusher_CloseFlushesRemainder(t *testing.T) {
	db := testDB(t)
	f := newEventFlusher(db, "s-1")

	f.Write([]byte("tail"))
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	events, _ := sequencer.Read(db, "s-1", sequencer.ReadOpts{})
	if len(events) != 1 {
		t.Errorf("got %d events, want 1", len(events))
	}
}
