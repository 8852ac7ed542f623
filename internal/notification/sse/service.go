// Package sse streams dashboard snapshots and conversation events to
// browsers over Server-Sent Events.
package sse

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"queue_dashboard_backend/internal/dashboard/domain"
	"queue_dashboard_backend/internal/events"
	"queue_dashboard_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// EventType represents different types of SSE events
type EventType string

const (
	EventSnapshot            EventType = "snapshot"
	EventConversationStarted EventType = "conversation_started"
	EventConversationEnded   EventType = "conversation_ended"
	EventConversationFlagged EventType = "conversation_flagged"
)

const clientBufferSize = 32

// Event represents an SSE event payload
type Event struct {
	Type    EventType   `json:"type"`
	Version uint64      `json:"version,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// client represents a connected SSE client
type client struct {
	id     uuid.UUID
	events chan Event
}

// Service manages SSE connections and event broadcasting
type Service struct {
	log *logger.Logger

	mu          sync.RWMutex
	clients     map[uuid.UUID]*client
	lastVersion uint64
}

// New creates a new SSE service
func New(log *logger.Logger) *Service {
	return &Service{
		log:     log,
		clients: make(map[uuid.UUID]*client),
	}
}

// RegisterHandlers forwards dashboard domain events to connected clients.
func (s *Service) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.SnapshotUpdated{}.EventName(), events.HandlerFunc(func(_ context.Context, e events.Event) error {
		if ev, ok := e.(events.SnapshotUpdated); ok {
			s.BroadcastSnapshot(ev.Snapshot)
		}
		return nil
	}))
	events.SubscribeAll(bus, events.HandlerFunc(s.forward),
		events.ConversationStarted{},
		events.ConversationEnded{},
		events.ConversationFlagged{},
	)
}

func (s *Service) forward(_ context.Context, e events.Event) error {
	var t EventType
	switch e.(type) {
	case events.ConversationStarted:
		t = EventConversationStarted
	case events.ConversationEnded:
		t = EventConversationEnded
	case events.ConversationFlagged:
		t = EventConversationFlagged
	default:
		return nil
	}
	s.Broadcast(Event{Type: t, Data: e})
	return nil
}

// BroadcastSnapshot sends snap to every client unless a newer snapshot has
// already been sent. Bus delivery is asynchronous, so versions can arrive out
// of order.
func (s *Service) BroadcastSnapshot(snap *domain.Snapshot) {
	if snap == nil {
		return
	}
	s.mu.Lock()
	if snap.Version <= s.lastVersion {
		s.mu.Unlock()
		return
	}
	s.lastVersion = snap.Version
	s.mu.Unlock()

	s.Broadcast(Event{Type: EventSnapshot, Version: snap.Version, Data: snap})
}

// Broadcast sends an event to every connected client. Clients whose buffer
// is full miss the event.
func (s *Service) Broadcast(event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.clients {
		select {
		case c.events <- event:
		default:
			s.log.Warn("SSE: event buffer full", "client_id", c.id, "type", event.Type)
		}
	}
}

// ClientCount returns the number of connected clients.
func (s *Service) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Service) addClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c
}

// removeClient unregisters a client connection. Safe to call after Close.
func (s *Service) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c.id]; !ok {
		return
	}
	delete(s.clients, c.id)
	close(c.events)
}

// Handler returns a Gin handler for SSE connections. Each client first
// receives the current snapshot, then every later update.
func (s *Service) Handler(current func() *domain.Snapshot) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)

		cl := &client{
			id:     uuid.New(),
			events: make(chan Event, clientBufferSize),
		}
		s.addClient(cl)
		defer s.removeClient(cl)

		c.SSEvent("connected", gin.H{"clientId": cl.id})
		if snap := current(); snap != nil {
			s.write(c, Event{Type: EventSnapshot, Version: snap.Version, Data: snap})
		}
		c.Writer.Flush()
		s.log.Debug("SSE: client connected", "client_id", cl.id)

		clientGone := c.Request.Context().Done()
		for {
			select {
			case <-clientGone:
				s.log.Debug("SSE: client disconnected", "client_id", cl.id)
				return
			case event, ok := <-cl.events:
				if !ok {
					return
				}
				s.write(c, event)
				c.Writer.Flush()
			}
		}
	}
}

func (s *Service) write(c *gin.Context, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		s.log.Error("SSE: encode event", "type", event.Type, "error", err)
		return
	}
	c.SSEvent(string(event.Type), string(data))
}

// Close disconnects every client.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, c := range s.clients {
		close(c.events)
		delete(s.clients, id)
	}
}
