// Package events defines the dashboard's domain events. The bus itself
// lives in platform/events and is aliased here so modules import one package.
package events

import (
	"time"

	"queue_dashboard_backend/internal/dashboard/domain"
	"queue_dashboard_backend/platform/events"
	"queue_dashboard_backend/platform/logger"
)

type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

var (
	NewBaseEventAt = events.NewBaseEventAt
	SubscribeAll   = events.SubscribeAll
)

// NewInMemoryBus creates the process-local bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return events.NewInMemoryBus(log)
}

// End reasons carried by ConversationEnded.
const (
	EndReasonParticipantsTerminated = "participants_terminated"
	EndReasonSessionEnded           = "session_ended"
)

// =============================================================================
// Dashboard Domain Events
// =============================================================================

// ConversationStarted is published when a call is added to a queue.
type ConversationStarted struct {
	BaseEvent
	QueueID        string    `json:"queueId"`
	ConversationID string    `json:"conversationId"`
	AgentName      string    `json:"agentName"`
	StartTime      time.Time `json:"startTime"`
}

func (e ConversationStarted) EventName() string { return "dashboard.conversation.started" }

// ConversationEnded is published when a call is removed from the dashboard.
type ConversationEnded struct {
	BaseEvent
	QueueID        string `json:"queueId"`
	ConversationID string `json:"conversationId"`
	Reason         string `json:"reason"`
}

func (e ConversationEnded) EventName() string { return "dashboard.conversation.ended" }

// ConversationFlagged is published once, when a call's standing turns bad.
type ConversationFlagged struct {
	BaseEvent
	QueueID        string `json:"queueId"`
	ConversationID string `json:"conversationId"`
	AgentName      string `json:"agentName"`
}

func (e ConversationFlagged) EventName() string { return "dashboard.conversation.flagged" }

// SnapshotUpdated is published after every committed state transition.
type SnapshotUpdated struct {
	BaseEvent
	Snapshot *domain.Snapshot `json:"snapshot"`
}

func (e SnapshotUpdated) EventName() string { return "dashboard.snapshot.updated" }
