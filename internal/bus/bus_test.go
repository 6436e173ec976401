package bus

import (
	"testing"
	"time"
)

func TestPublishReachesSubscribers(t *testing.T) {
	b := New()
	defer b.Close()

	ch1, cancel1 := b.Subscribe(KidsUpdated)
	defer cancel1()
	ch2, cancel2 := b.Subscribe(KidsUpdated)
	defer cancel2()

	b.Publish(KidsUpdated)

	for i, ch := range []<-chan Signal{ch1, ch2} {
		select {
		case sig := <-ch:
			if sig != KidsUpdated {
				t.Fatalf("subscriber %d: got %q", i, sig)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d never received the signal", i)
		}
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	b := New()
	defer b.Close()

	ch, cancel := b.Subscribe(KidsUpdated)
	cancel()
	cancel() // safe to call twice

	b.Publish(KidsUpdated)

	if _, ok := <-ch; ok {
		t.Fatal("cancelled subscriber still receives signals")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New()
	defer b.Close()

	_, cancel := b.Subscribe(KidsUpdated)
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Far more publishes than the subscriber buffer holds; nobody reads.
		for i := 0; i < 100; i++ {
			b.Publish(KidsUpdated)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestCloseDropsLaterPublishes(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe(KidsUpdated)
	defer cancel()

	b.Close()
	b.Publish(KidsUpdated)

	if _, ok := <-ch; ok {
		t.Fatal("publish after Close delivered a signal")
	}
}
