package sse

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"queue_dashboard_backend/internal/dashboard/domain"
	"queue_dashboard_backend/internal/events"
	"queue_dashboard_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

func testLogger() *logger.Logger {
	return logger.NewWithWriter("production", &bytes.Buffer{})
}

// readEvent returns the next "event:" name and its data line.
func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var name, data string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("stream ended: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimPrefix(line, "event:")
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimPrefix(line, "data:")
		case line == "" && name != "":
			return name, data
		}
	}
}

func TestHandlerStreamsCurrentAndLaterSnapshots(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := New(testLogger())
	current := &domain.Snapshot{Version: 1, Queues: []domain.Queue{{ID: "Q1"}}}

	router := gin.New()
	router.GET("/stream", svc.Handler(func() *domain.Snapshot { return current }))
	server := httptest.NewServer(router)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	if name, _ := readEvent(t, reader); name != "connected" {
		t.Fatalf("expected connected event, got %s", name)
	}
	name, data := readEvent(t, reader)
	if name != string(EventSnapshot) || !strings.Contains(data, `"Q1"`) {
		t.Fatalf("expected initial snapshot, got %s %s", name, data)
	}

	deadline := time.Now().Add(2 * time.Second)
	for svc.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	svc.BroadcastSnapshot(&domain.Snapshot{Version: 2, Queues: []domain.Queue{{ID: "Q2"}}})
	name, data = readEvent(t, reader)
	if name != string(EventSnapshot) || !strings.Contains(data, `"Q2"`) || !strings.Contains(data, `"version":2`) {
		t.Fatalf("expected snapshot v2, got %s %s", name, data)
	}
}

func TestBroadcastSnapshotSkipsStaleVersions(t *testing.T) {
	svc := New(testLogger())
	cl := &client{events: make(chan Event, 4)}
	svc.addClient(cl)

	svc.BroadcastSnapshot(&domain.Snapshot{Version: 3})
	svc.BroadcastSnapshot(&domain.Snapshot{Version: 2})
	svc.BroadcastSnapshot(&domain.Snapshot{Version: 4})

	if len(cl.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(cl.events))
	}
	if e := <-cl.events; e.Version != 3 {
		t.Fatalf("expected v3 first, got %d", e.Version)
	}
	if e := <-cl.events; e.Version != 4 {
		t.Fatalf("expected v4 second, got %d", e.Version)
	}
}

func TestBroadcastDropsWhenBufferFull(t *testing.T) {
	svc := New(testLogger())
	cl := &client{events: make(chan Event, 1)}
	svc.addClient(cl)

	svc.Broadcast(Event{Type: EventConversationStarted})
	svc.Broadcast(Event{Type: EventConversationEnded})

	if len(cl.events) != 1 || (<-cl.events).Type != EventConversationStarted {
		t.Fatal("expected the second event to be dropped")
	}
}

func TestRegisterHandlersForwardsBusEvents(t *testing.T) {
	log := testLogger()
	svc := New(log)
	bus := events.NewInMemoryBus(log)
	svc.RegisterHandlers(bus)
	cl := &client{events: make(chan Event, 4)}
	svc.addClient(cl)

	ctx := context.Background()
	if err := bus.PublishSync(ctx, events.ConversationFlagged{ConversationID: "C1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := bus.PublishSync(ctx, events.SnapshotUpdated{Snapshot: &domain.Snapshot{Version: 1}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if e := <-cl.events; e.Type != EventConversationFlagged {
		t.Fatalf("expected flagged event, got %s", e.Type)
	}
	if e := <-cl.events; e.Type != EventSnapshot || e.Version != 1 {
		t.Fatalf("expected snapshot v1, got %+v", e)
	}
}

func TestCloseThenRemoveDoesNotPanic(t *testing.T) {
	svc := New(testLogger())
	cl := &client{events: make(chan Event, 1)}
	svc.addClient(cl)

	svc.Close()
	svc.removeClient(cl)

	if _, ok := <-cl.events; ok {
		t.Fatal("expected closed channel")
	}
}
