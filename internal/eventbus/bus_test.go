package eventbus

import (
	"sync"
	"testing"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: BatchDone, BatchID: "batch:1", Sent: 2})
	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		if e.Type != BatchDone || e.BatchID != "batch:1" || e.Sent != 2 || e.Time.IsZero() {
			t.Fatalf("event = %+v", e)
		}
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: ChatMigrated, ChatID: 1})
	b.Publish(Event{Type: ChatMigrated, ChatID: 2})
	if e := <-ch; e.ChatID != 1 {
		t.Fatalf("first event = %+v", e)
	}
	select {
	case e := <-ch:
		t.Fatalf("second event should be dropped, got %+v", e)
	default:
	}
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(0)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel still open after unsubscribe")
	}
	b.Publish(Event{Type: BatchQueued})
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		_, unsub := b.Subscribe(4)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish(Event{Type: BatchDone})
			}
		}()
		go func() {
			defer wg.Done()
			unsub()
		}()
	}
	wg.Wait()
}

func TestNopBus(t *testing.T) {
	t.Parallel()
	var b Bus = Nop{}
	b.Publish(Event{Type: BatchDone})
	ch, unsub := b.Subscribe(1)
	defer unsub()
	if _, ok := <-ch; ok {
		t.Fatal("Nop subscription should be closed")
	}
}
