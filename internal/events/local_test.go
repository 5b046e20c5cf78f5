package events_test

import (
	"context"
	"testing"

	"padu/internal/events"
)

func TestNew_RejectsUnknownType(t *testing.T) {
	if _, err := events.New(events.Type("dom.custom"), nil); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestLocal_DeliversInOrderToMatchingType(t *testing.T) {
	bus := events.NewLocal()
	ctx := context.Background()

	var got []string
	_, _ = bus.Subscribe(events.ReviewsUpdated, func(ev events.Event) {
		var p events.ReviewsUpdatedPayload
		if err := ev.Decode(&p); err != nil {
			t.Errorf("decode: %v", err)
		}
		got = append(got, "first:"+p.Source)
	})
	unsub, _ := bus.Subscribe(events.ReviewsUpdated, func(events.Event) { got = append(got, "second") })
	_, _ = bus.Subscribe(events.OpenAuthModal, func(events.Event) { got = append(got, "modal") })

	if err := events.Emit(ctx, bus, events.ReviewsUpdated, events.ReviewsUpdatedPayload{Count: 3, Source: "csv"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(got) != 2 || got[0] != "first:csv" || got[1] != "second" {
		t.Fatalf("unexpected deliveries %v", got)
	}

	unsub()
	got = nil
	_ = events.Emit(ctx, bus, events.ReviewsUpdated, events.ReviewsUpdatedPayload{Source: "clear"})
	if len(got) != 1 {
		t.Fatalf("unsubscribed handler still called: %v", got)
	}
}

func TestLocal_Closed(t *testing.T) {
	bus := events.NewLocal()
	_ = bus.Close()
	if err := events.Emit(context.Background(), bus, events.FiltersChanged, nil); err == nil {
		t.Fatalf("expected error after close")
	}
	if _, err := bus.Subscribe(events.FiltersChanged, func(events.Event) {}); err == nil {
		t.Fatalf("expected subscribe error after close")
	}
}

func TestEmit_NilPublisher(t *testing.T) {
	if err := events.Emit(context.Background(), nil, events.FiltersChanged, nil); err != nil {
		t.Fatalf("nil publisher should be a no-op: %v", err)
	}
}
