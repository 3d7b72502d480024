package event

import (
	"context"
	"testing"
	"time"
)

func TestDispatcher_Deliver(t *testing.T) {
	d := NewDispatcher(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go d.Run(ctx)

	ch, unsubscribe := d.Subscribe(4)
	defer unsubscribe()

	d.Publish(Event{Seq: 1, Type: TypeBuy, Payload: Buy{AskQuantity: 4}})

	select {
	case ev := <-ch:
		if ev.Seq != 1 || ev.Type != TypeBuy {
			t.Errorf("Expected seq 1 BUY, got %d %s", ev.Seq, ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("Event was not delivered")
	}

	if d.LastSeq() != 1 {
		t.Errorf("Expected last seq 1, got %d", d.LastSeq())
	}
}

func TestDispatcher_SlowSubscriberDoesNotBlock(t *testing.T) {
	d := NewDispatcher(10)
	_, unsubscribe := d.Subscribe(1)
	defer unsubscribe()

	// Deliver synchronously; the second event overflows the subscriber buffer
	d.deliver(Event{Seq: 1})
	d.deliver(Event{Seq: 2})

	if d.Dropped() != 1 {
		t.Errorf("Expected 1 dropped delivery, got %d", d.Dropped())
	}
}

func TestDispatcher_FullInboxDrops(t *testing.T) {
	d := NewDispatcher(1)

	d.Publish(Event{Seq: 1})
	d.Publish(Event{Seq: 2})

	if d.Dropped() != 1 {
		t.Errorf("Expected 1 dropped publish, got %d", d.Dropped())
	}
}

func TestDispatcher_UnsubscribeClosesChannel(t *testing.T) {
	d := NewDispatcher(1)
	ch, unsubscribe := d.Subscribe(1)
	unsubscribe()
	unsubscribe() // idempotent

	if _, ok := <-ch; ok {
		t.Error("Expected channel to be closed")
	}
}
