package feed

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if !ok {
			t.Fatal("feed channel closed")
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("no event within a second")
	}
	return Event{}
}

func TestInMemoryFanout(t *testing.T) {
	f := NewInMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch1, err := f.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	ch2, err := f.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	want := Event{Type: EventUpdate, Table: "kids_checkins", Key: "r1", Payload: json.RawMessage(`{"id":"r1"}`)}
	if err := f.Publish(ctx, want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for _, ch := range []<-chan Event{ch1, ch2} {
		got := recv(t, ch)
		if got.Type != want.Type || got.Key != want.Key || string(got.Payload) != string(want.Payload) {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	}
}

func TestInMemoryUnsubscribeOnCancel(t *testing.T) {
	f := NewInMemory()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := f.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	cancel()

	// Drain until the teardown goroutine closes the channel.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel never closed after cancel")
		}
	}
}

func TestInMemoryPublishWithoutSubscribers(t *testing.T) {
	f := NewInMemory()
	if err := f.Publish(context.Background(), Event{Type: EventInsert, Table: "kids_checkins"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}
