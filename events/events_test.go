package events

import (
	"testing"
	"time"

	"github.com/mezonai/sidechainnode/versionedkv"
)

func TestEventBusPublishAndUnsubscribe(t *testing.T) {
	eventBus := NewEventBus()

	id, ch := eventBus.Subscribe()
	if count := eventBus.GetTotalSubscriptions(); count != 1 {
		t.Errorf("expected 1 subscriber, got %d", count)
	}

	blockID := versionedkv.Version{1}
	event := NewSemanticallySuccessfulModifier(blockID)

	go eventBus.Publish(event)

	select {
	case received := <-ch:
		if received.Type() != EventSemanticallySuccessfulModifier {
			t.Errorf("expected %s, got %s", EventSemanticallySuccessfulModifier, received.Type())
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	if !eventBus.Unsubscribe(id) {
		t.Fatal("expected unsubscribe to succeed")
	}
	if count := eventBus.GetTotalSubscriptions(); count != 0 {
		t.Errorf("expected 0 subscribers after unsubscribe, got %d", count)
	}
}

func TestEventBusMultipleSubscribersReceiveSameEvent(t *testing.T) {
	eventBus := NewEventBus()

	id1, ch1 := eventBus.Subscribe()
	id2, ch2 := eventBus.Subscribe()

	event := NewRollbackFailed(versionedkv.Version{2}, nil)
	eventBus.Publish(event)

	for _, ch := range []chan SidechainEvent{ch1, ch2} {
		select {
		case received := <-ch:
			if received.Type() != EventRollbackFailed {
				t.Errorf("expected %s, got %s", EventRollbackFailed, received.Type())
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
	}

	eventBus.Unsubscribe(id1)
	eventBus.Unsubscribe(id2)
	if count := eventBus.GetTotalSubscriptions(); count != 0 {
		t.Errorf("expected 0 subscribers after unsubscribe, got %d", count)
	}
}

func TestEventBusUnsubscribeUnknownIDFails(t *testing.T) {
	eventBus := NewEventBus()
	if eventBus.Unsubscribe(SubscriberID("nonexistent")) {
		t.Fatal("expected unsubscribe of unknown id to fail")
	}
}
