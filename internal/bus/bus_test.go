package bus

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestBus(bufSize int) *Bus {
	return &Bus{
		subs:    make(map[string]*Subscription),
		bufSize: bufSize,
	}
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	b := New()
	s1 := b.Subscribe()
	s2 := b.Subscribe()

	n := b.Broadcast([]byte("tick"))
	if n != 2 {
		t.Fatalf("Broadcast reached %d subscribers, want 2", n)
	}
	for _, s := range []*Subscription{s1, s2} {
		select {
		case got := <-s.Updates:
			if string(got) != "tick" {
				t.Fatalf("got %q, want %q", got, "tick")
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber never received the update")
		}
	}
}

func TestBroadcastWithNoSubscribers(t *testing.T) {
	b := New()
	if n := b.Broadcast([]byte("tick")); n != 0 {
		t.Fatalf("Broadcast reached %d subscribers, want 0", n)
	}
}

func TestPerSubscriberOrdering(t *testing.T) {
	b := New()
	sub := b.Subscribe()

	for i := 0; i < 100; i++ {
		b.Broadcast([]byte(fmt.Sprintf("u%03d", i)))
	}
	for i := 0; i < 100; i++ {
		got := string(<-sub.Updates)
		want := fmt.Sprintf("u%03d", i)
		if got != want {
			t.Fatalf("update %d: got %q, want %q", i, got, want)
		}
	}
}

// A consumer that stops reading loses its oldest updates but always sees a
// gap-free suffix ending at the newest broadcast.
func TestSlowConsumerDropsOldest(t *testing.T) {
	b := newTestBus(4)
	sub := b.Subscribe()

	for i := 0; i < 10; i++ {
		b.Broadcast([]byte(fmt.Sprintf("u%d", i)))
	}
	if b.Dropped() != 6 {
		t.Fatalf("dropped %d updates, want 6", b.Dropped())
	}
	for i := 6; i < 10; i++ {
		got := string(<-sub.Updates)
		want := fmt.Sprintf("u%d", i)
		if got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

func TestSlowConsumerDoesNotStallPeers(t *testing.T) {
	b := newTestBus(2)
	slow := b.Subscribe()
	fast := b.Subscribe()
	_ = slow // never read

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			b.Broadcast([]byte(fmt.Sprintf("u%d", i)))
		}
		close(done)
	}()

	read := 0
	for read < 2 {
		select {
		case <-fast.Updates:
			read++
		case <-time.After(time.Second):
			t.Fatal("fast subscriber starved behind a slow peer")
		}
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	b.Unsubscribe(sub.ID)

	if _, ok := <-sub.Updates; ok {
		t.Fatal("expected closed channel after Unsubscribe")
	}
	if b.SubscriberCount() != 0 {
		t.Fatalf("subscriber count %d, want 0", b.SubscriberCount())
	}

	// Idempotent.
	b.Unsubscribe(sub.ID)

	if n := b.Broadcast([]byte("tick")); n != 0 {
		t.Fatalf("Broadcast reached %d subscribers after unsubscribe, want 0", n)
	}
}

func TestConcurrentPublishersKeepFIFO(t *testing.T) {
	b := New()
	sub := b.Subscribe()

	const publishers = 8
	const perPublisher = 50
	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				b.Broadcast([]byte("tick"))
			}
		}()
	}
	wg.Wait()

	total := publishers * perPublisher
	for i := 0; i < total; i++ {
		select {
		case <-sub.Updates:
		case <-time.After(time.Second):
			t.Fatalf("received %d of %d broadcast updates", i, total)
		}
	}
}
