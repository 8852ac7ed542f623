package events

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"queue_dashboard_backend/platform/logger"
)

type pinged struct {
	BaseEvent
	n int
}

func (pinged) EventName() string { return "test.pinged" }

type ponged struct{ BaseEvent }

func (ponged) EventName() string { return "test.ponged" }

func TestPublishRunsHandlersInOrder(t *testing.T) {
	bus := NewInMemoryBus(logger.NewWithWriter("production", &bytes.Buffer{}))
	var mu sync.Mutex
	var got []string
	record := func(tag string) Handler {
		return HandlerFunc(func(_ context.Context, e Event) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, tag)
			return nil
		})
	}
	bus.Subscribe("test.pinged", record("first"))
	bus.Subscribe("test.pinged", record("second"))

	bus.Publish(context.Background(), pinged{n: 1})
	bus.Wait()

	if strings.Join(got, ",") != "first,second" {
		t.Fatalf("unexpected handler order %v", got)
	}
}

func TestPublishSyncJoinsErrorsAndRecoversPanics(t *testing.T) {
	bus := NewInMemoryBus(logger.NewWithWriter("production", &bytes.Buffer{}))
	boom := errors.New("boom")
	bus.Subscribe("test.pinged", HandlerFunc(func(context.Context, Event) error { return boom }))
	bus.Subscribe("test.pinged", HandlerFunc(func(context.Context, Event) error { panic("bad handler") }))

	err := bus.PublishSync(context.Background(), pinged{})
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "bad handler") {
		t.Fatalf("expected joined errors, got %v", err)
	}
}

func TestPublishWithoutHandlersIsNoop(t *testing.T) {
	bus := NewInMemoryBus(nil)
	bus.Publish(context.Background(), pinged{})
	bus.Wait()
	if err := bus.PublishSync(context.Background(), pinged{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := NewInMemoryBus(nil)
	var names []string
	SubscribeAll(bus, HandlerFunc(func(_ context.Context, e Event) error {
		names = append(names, e.EventName())
		return nil
	}), pinged{}, ponged{})

	_ = bus.PublishSync(context.Background(), pinged{})
	_ = bus.PublishSync(context.Background(), ponged{})

	if strings.Join(names, ",") != "test.pinged,test.ponged" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestNewBaseEventAtNormalizesToUTC(t *testing.T) {
	local := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	if got := NewBaseEventAt(local).OccurredAt(); got.Location() != time.UTC || !got.Equal(local) {
		t.Fatalf("unexpected timestamp %v", got)
	}
}
