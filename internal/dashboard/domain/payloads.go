package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"queue_dashboard_backend/platform/apperr"
	"queue_dashboard_backend/platform/validator"
)

// SessionEnded is the transcription status reported when the call ends.
const SessionEnded = "SESSION_ENDED"

// Notification is a validated event payload. It is one of
// QueueLifecycleEvent or TranscriptEvent.
type Notification interface {
	Topic() string
	ConversationKey() string
	notification()
}

// QueueLifecycleEvent reports the participant state of a call in a queue.
type QueueLifecycleEvent struct {
	QueueID           string        `validate:"required"`
	ConversationID    string        `validate:"required"`
	ConversationStart time.Time
	Participants      []Participant `validate:"dive"`
}

func (e QueueLifecycleEvent) Topic() string           { return QueueConversationsTopic(e.QueueID) }
func (e QueueLifecycleEvent) ConversationKey() string { return e.ConversationID }
func (QueueLifecycleEvent) notification()             {}

// TranscriptEvent carries a batch of transcript fragments for one conversation.
type TranscriptEvent struct {
	ConversationID   string `validate:"required"`
	EventTime        time.Time
	SessionStartTime time.Time
	Status           string
	Fragments        []TranscriptFragment
}

func (e TranscriptEvent) Topic() string           { return TranscriptionTopic(e.ConversationID) }
func (e TranscriptEvent) ConversationKey() string { return e.ConversationID }
func (TranscriptEvent) notification()             {}

// SessionEnded reports whether the transcription session has finished.
func (e TranscriptEvent) SessionEnded() bool {
	return e.Status == SessionEnded
}

type wireQueueConversation struct {
	ID                string                 `json:"id"`
	ConversationStart *time.Time             `json:"conversationStart,omitempty"`
	RecordingState    string                 `json:"recordingState,omitempty"`
	Participants      []wireQueueParticipant `json:"participants"`
}

type wireQueueParticipant struct {
	ID            string     `json:"id"`
	ConnectedTime *time.Time `json:"connectedTime,omitempty"`
	EndTime       *time.Time `json:"endTime,omitempty"`
	State         string     `json:"state"`
	Purpose       string     `json:"purpose"`
	User          *struct {
		ID string `json:"id"`
	} `json:"user,omitempty"`
}

type wireTranscription struct {
	EventTime                time.Time            `json:"eventTime"`
	OrganizationID           string               `json:"organizationId"`
	ConversationID           string               `json:"conversationId"`
	CommunicationID          string               `json:"communicationId"`
	SessionStartTimeMs       int64                `json:"sessionStartTimeMs"`
	TranscriptionStartTimeMs int64                `json:"transcriptionStartTimeMs"`
	Transcripts              []TranscriptFragment `json:"transcripts"`
	Status                   *struct {
		OffsetMs int64  `json:"offsetMs"`
		Status   string `json:"status"`
	} `json:"status,omitempty"`
}

// Decoder turns raw notification bodies into validated Notifications.
type Decoder struct {
	val *validator.Validator
}

// NewDecoder creates a decoder using the shared validator.
func NewDecoder(val *validator.Validator) *Decoder {
	if val == nil {
		val = validator.New()
	}
	return &Decoder{val: val}
}

// Decode parses the event body delivered on topic. The topic decides the
// payload kind. Malformed bodies yield an apperr.KindValidation error.
func (d *Decoder) Decode(topic string, body json.RawMessage) (Notification, error) {
	kind, id := ParseTopic(topic)
	switch kind {
	case TopicQueueConversations:
		return d.decodeQueueLifecycle(id, body)
	case TopicTranscription:
		return d.decodeTranscript(id, body)
	default:
		return nil, apperr.Validation(fmt.Sprintf("unrecognized topic %q", topic)).WithOp("decode")
	}
}

func (d *Decoder) decodeQueueLifecycle(queueID string, body json.RawMessage) (Notification, error) {
	var wire wireQueueConversation
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid queue conversation payload", err).WithOp("decode")
	}

	event := QueueLifecycleEvent{
		QueueID:        queueID,
		ConversationID: wire.ID,
		Participants:   make([]Participant, 0, len(wire.Participants)),
	}
	if wire.ConversationStart != nil {
		event.ConversationStart = *wire.ConversationStart
	}
	for _, p := range wire.Participants {
		participant := Participant{
			ID:            p.ID,
			Purpose:       p.Purpose,
			State:         p.State,
			ConnectedTime: p.ConnectedTime,
			EndTime:       p.EndTime,
		}
		if p.User != nil {
			participant.UserID = p.User.ID
		}
		event.Participants = append(event.Participants, participant)
	}

	if err := d.val.Struct(event); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "queue conversation payload failed validation", err).
			WithOp("decode").
			WithDetails(validator.Fields(err))
	}
	return event, nil
}

func (d *Decoder) decodeTranscript(conversationID string, body json.RawMessage) (Notification, error) {
	var wire wireTranscription
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid transcription payload", err).WithOp("decode")
	}
	if wire.ConversationID != "" && wire.ConversationID != conversationID {
		return nil, apperr.Validation(fmt.Sprintf("transcription for %s delivered on topic of %s", wire.ConversationID, conversationID)).WithOp("decode")
	}

	event := TranscriptEvent{
		ConversationID: conversationID,
		EventTime:      wire.EventTime,
		Fragments:      wire.Transcripts,
	}
	if wire.SessionStartTimeMs > 0 {
		event.SessionStartTime = time.UnixMilli(wire.SessionStartTimeMs).UTC()
	}
	if wire.Status != nil {
		event.Status = wire.Status.Status
	}

	if err := d.val.Struct(event); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "transcription payload failed validation", err).
			WithOp("decode").
			WithDetails(validator.Fields(err))
	}
	return event, nil
}
