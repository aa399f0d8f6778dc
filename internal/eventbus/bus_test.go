package eventbus

import (
	"testing"
	"time"
)

func TestSubscribe_ReceivesPublishedEvent(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	b.Publish(Event{Kind: KindDone, ConversationKey: "c1"})

	select {
	case evt := <-sub.Events:
		if evt.Kind != KindDone || evt.ConversationKey != "c1" {
			t.Errorf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublish_FanOutToMultipleSubscribers(t *testing.T) {
	b := New()
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer sub1.Unsubscribe()
	defer sub2.Unsubscribe()

	b.Publish(Event{Kind: KindTurnStarted})

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case <-sub.Events:
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestPublish_NeverBlocksOnFullSubscriber(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize*2; i++ {
			b.Publish(Event{Kind: KindAssistantDelta})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	sub.Unsubscribe()
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers after unsubscribe, got %d", b.SubscriberCount())
	}
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Kind: KindDone})
}
