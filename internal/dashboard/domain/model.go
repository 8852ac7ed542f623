// Package domain holds the dashboard data model and the pure rules that
// operate on it: participant ordering, transcript analysis, topic naming
// and notification payload decoding.
package domain

import (
	"slices"
	"time"
)

// Standing is a conversation's health indicator.
type Standing string

const (
	StandingGood Standing = "Good Standing"
	StandingBad  Standing = "Bad Standing"
)

// Speaker identifies who produced a transcript fragment.
type Speaker string

const (
	SpeakerAgent    Speaker = "AGENT"
	SpeakerCustomer Speaker = "CUSTOMER"
)

// Agent is the display data of the user handling a conversation.
type Agent struct {
	Name     string `json:"agentName"`
	ImageURI string `json:"imageUri,omitempty"`
}

// Interaction is one transcript fragment attributed to a speaker. Immutable once created.
type Interaction struct {
	Speaker    Speaker   `json:"speaker"`
	Timestamp  time.Time `json:"timestamp"`
	Transcript string    `json:"transcript"`
}

// Conversation is an active call in a queue.
// Interactions are ordered newest first.
type Conversation struct {
	ID            string        `json:"conversationId"`
	AssignedAgent Agent         `json:"assignedAgent"`
	StartTime     time.Time     `json:"startTime"`
	Status        string        `json:"status,omitempty"`
	Interactions  []Interaction `json:"interactions"`
	Standing      Standing      `json:"standing"`
}

// HasStartTime reports whether the start time has been observed.
func (c Conversation) HasStartTime() bool {
	return !c.StartTime.IsZero()
}

// Queue is a routing queue and its active conversations.
// ConversationIDs and Conversations always hold the same membership.
type Queue struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	ActiveUsers     int            `json:"activeUsers"`
	OnQueueUsers    int            `json:"onQueueUsers"`
	ConversationIDs []string       `json:"conversationIds"`
	Conversations   []Conversation `json:"conversations"`
}

// HasConversation reports whether the conversation id is a member of the queue.
func (q Queue) HasConversation(conversationID string) bool {
	return slices.Contains(q.ConversationIDs, conversationID)
}

// Conversation returns the conversation record with the given id.
func (q Queue) Conversation(conversationID string) (Conversation, bool) {
	for _, c := range q.Conversations {
		if c.ID == conversationID {
			return c, true
		}
	}
	return Conversation{}, false
}

// WithConversation returns a copy of the queue with c appended to both lists.
// The receiver's slices are never written.
func (q Queue) WithConversation(c Conversation) Queue {
	ids := make([]string, 0, len(q.ConversationIDs)+1)
	ids = append(ids, q.ConversationIDs...)
	q.ConversationIDs = append(ids, c.ID)

	convs := make([]Conversation, 0, len(q.Conversations)+1)
	convs = append(convs, q.Conversations...)
	q.Conversations = append(convs, c)
	return q
}

// WithoutConversation returns a copy of the queue with the conversation removed
// from both lists, and whether anything was removed.
func (q Queue) WithoutConversation(conversationID string) (Queue, bool) {
	if !q.HasConversation(conversationID) {
		if _, ok := q.Conversation(conversationID); !ok {
			return q, false
		}
	}

	ids := make([]string, 0, len(q.ConversationIDs))
	for _, id := range q.ConversationIDs {
		if id != conversationID {
			ids = append(ids, id)
		}
	}
	convs := make([]Conversation, 0, len(q.Conversations))
	for _, c := range q.Conversations {
		if c.ID != conversationID {
			convs = append(convs, c)
		}
	}
	q.ConversationIDs = ids
	q.Conversations = convs
	return q, true
}

// WithReplacedConversation returns a copy of the queue with the matching
// conversation record swapped for c.
func (q Queue) WithReplacedConversation(c Conversation) Queue {
	convs := make([]Conversation, len(q.Conversations))
	for i, existing := range q.Conversations {
		if existing.ID == c.ID {
			convs[i] = c
			continue
		}
		convs[i] = existing
	}
	q.Conversations = convs
	return q
}

// Snapshot is the complete state handed to the presentation layer.
// A new Snapshot is allocated for every committed transition; readers must
// treat it as immutable and may detect change by pointer or Version.
type Snapshot struct {
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
	Queues    []Queue   `json:"queues"`
}

// Queue returns the queue with the given id.
func (s *Snapshot) Queue(queueID string) (Queue, bool) {
	if s == nil {
		return Queue{}, false
	}
	for _, q := range s.Queues {
		if q.ID == queueID {
			return q, true
		}
	}
	return Queue{}, false
}

// QueueOf returns the index of the queue that owns the conversation.
func (s *Snapshot) QueueOf(conversationID string) (int, bool) {
	if s == nil {
		return -1, false
	}
	for i, q := range s.Queues {
		if q.HasConversation(conversationID) {
			return i, true
		}
	}
	return -1, false
}
