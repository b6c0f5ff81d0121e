package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubscribeAndEmit(t *testing.T) {
	eb := NewEventBus()
	defer eb.Stop()

	received := make(chan Event, 1)
	eb.Subscribe(EventResetOrdered, "test", func(ctx context.Context, ev Event) error {
		received <- ev
		return nil
	})

	eb.Emit(context.Background(), Event{
		Type:    EventResetOrdered,
		Source:  "test",
		Payload: NoticePayload{From: 3},
	})

	select {
	case ev := <-received:
		p, ok := ev.Payload.(NoticePayload)
		if !ok || p.From != 3 {
			t.Errorf("unexpected payload: %#v", ev.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never invoked")
	}
}

func TestEmitSyncPropagatesFirstError(t *testing.T) {
	eb := NewEventBus()
	defer eb.Stop()

	boom := errors.New("boom")
	eb.Subscribe(EventShutdown, "failing", func(ctx context.Context, ev Event) error {
		return boom
	})

	if err := eb.EmitSync(context.Background(), Event{Type: EventShutdown}); !errors.Is(err, boom) {
		t.Errorf("EmitSync error = %v, want %v", err, boom)
	}
}

func TestUnsubscribe(t *testing.T) {
	eb := NewEventBus()
	defer eb.Stop()

	var calls atomic.Int32
	eb.Subscribe(EventAnchorChanged, "gone", func(ctx context.Context, ev Event) error {
		calls.Add(1)
		return nil
	})
	eb.Unsubscribe(EventAnchorChanged, "gone")

	if n := eb.HandlerCount(EventAnchorChanged); n != 0 {
		t.Fatalf("handler count after unsubscribe = %d", n)
	}
	if err := eb.EmitSync(context.Background(), Event{Type: EventAnchorChanged}); err != nil {
		t.Fatalf("EmitSync: %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("unsubscribed handler was invoked")
	}
}

func TestPanickingHandlerDoesNotPoisonOthers(t *testing.T) {
	eb := NewEventBus()
	defer eb.Stop()

	eb.Subscribe(EventCorrectionIssued, "panicky", func(ctx context.Context, ev Event) error {
		panic("handler bug")
	})
	var survived atomic.Bool
	eb.Subscribe(EventCorrectionIssued, "steady", func(ctx context.Context, ev Event) error {
		survived.Store(true)
		return nil
	})

	if err := eb.EmitSync(context.Background(), Event{Type: EventCorrectionIssued}); err != nil {
		t.Fatalf("EmitSync: %v", err)
	}
	if !survived.Load() {
		t.Error("second handler did not run")
	}
}

func TestEmitAfterStopIsDropped(t *testing.T) {
	eb := NewEventBus()

	var calls atomic.Int32
	eb.Subscribe(EventRelayConnected, "late", func(ctx context.Context, ev Event) error {
		calls.Add(1)
		return nil
	})
	eb.Stop()

	eb.Emit(context.Background(), Event{Type: EventRelayConnected})
	if err := eb.EmitSync(context.Background(), Event{Type: EventRelayConnected}); err != nil {
		t.Fatalf("EmitSync after stop: %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("handler invoked after Stop")
	}

	select {
	case <-eb.StopCh():
	default:
		t.Error("StopCh not closed after Stop")
	}
}
