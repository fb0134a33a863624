package server

import (
	"context"
	"testing"
	"time"
)

func TestRealtimeDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "user-1")
	defer cleanup()

	dispatcher.AlarmCreated("user-1")

	select {
	case received := <-stream:
		if received.EventType != RealtimeEventAlarm {
			t.Fatalf("expected event type %s, got %s", RealtimeEventAlarm, received.EventType)
		}
		if received.UserID != "user-1" {
			t.Fatalf("expected user-1, got %s", received.UserID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message within deadline")
	}
}

func TestRealtimeDispatcherIsolatedByUser(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otherCtx, otherCancel := context.WithCancel(context.Background())
	defer otherCancel()

	userStream, cleanup := dispatcher.Subscribe(ctx, "user-2")
	defer cleanup()

	otherStream, otherCleanup := dispatcher.Subscribe(otherCtx, "user-3")
	defer otherCleanup()

	dispatcher.AlarmCreated("user-3")

	select {
	case <-userStream:
		t.Fatal("did not expect realtime message for unrelated user")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case msg := <-otherStream:
		if msg.UserID != "user-3" {
			t.Fatalf("expected user-3, received %s", msg.UserID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message for subscribed user")
	}
}

func TestRealtimeDispatcherUnsubscribeOnContextCancel(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	stream, cleanup := dispatcher.Subscribe(ctx, "user-4")
	defer cleanup()

	cancel()
	// Cleanup runs asynchronously off the context; give it a moment.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		dispatcher.mu.RLock()
		_, present := dispatcher.subscribers["user-4"]
		dispatcher.mu.RUnlock()
		if !present {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	dispatcher.AlarmCreated("user-4")
	select {
	case _, open := <-stream:
		if open {
			t.Fatal("did not expect a message after unsubscribe")
		}
	default:
	}
}

func TestRealtimeDispatcherIgnoresEmptyPublish(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	dispatcher.Publish(RealtimeMessage{})
	dispatcher.AlarmCreated("")
}
