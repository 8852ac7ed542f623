package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"queue_dashboard_backend/platform/apperr"
)

func TestParseTopic(t *testing.T) {
	cases := []struct {
		topic string
		kind  TopicKind
		id    string
	}{
		{QueueConversationsTopic("q1"), TopicQueueConversations, "q1"},
		{TranscriptionTopic("c1"), TopicTranscription, "c1"},
		{"v2.routing.queues..conversations.calls", TopicUnknown, ""},
		{"v2.users.u1.presence", TopicUnknown, ""},
		{"channel.metadata", TopicUnknown, ""},
	}

	for _, tc := range cases {
		kind, id := ParseTopic(tc.topic)
		if kind != tc.kind || id != tc.id {
			t.Fatalf("%s: expected (%d, %q), got (%d, %q)", tc.topic, tc.kind, tc.id, kind, id)
		}
	}
}

func TestDecodeQueueLifecycle(t *testing.T) {
	body := json.RawMessage(`{
		"id": "c1",
		"participants": [
			{"id": "p1", "purpose": "customer", "state": "connected", "connectedTime": "2024-03-01T10:00:05Z"},
			{"id": "p2", "purpose": "agent", "state": "connected", "connectedTime": "2024-03-01T10:00:09Z", "user": {"id": "u1"}}
		]
	}`)

	n, err := NewDecoder(nil).Decode(QueueConversationsTopic("q1"), body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	event, ok := n.(QueueLifecycleEvent)
	if !ok {
		t.Fatalf("expected QueueLifecycleEvent, got %T", n)
	}
	if event.QueueID != "q1" || event.ConversationID != "c1" {
		t.Fatalf("unexpected ids: %+v", event)
	}
	if len(event.Participants) != 2 || event.Participants[1].UserID != "u1" {
		t.Fatalf("unexpected participants: %+v", event.Participants)
	}
	if event.Topic() != QueueConversationsTopic("q1") {
		t.Fatalf("unexpected topic %s", event.Topic())
	}
}

func TestDecodeQueueLifecycleRequiresConversationID(t *testing.T) {
	_, err := NewDecoder(nil).Decode(QueueConversationsTopic("q1"), json.RawMessage(`{"participants": []}`))
	if apperr.GetKind(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *apperr.Error, got %T", err)
	}
	fields, _ := appErr.Details.([]string)
	if len(fields) != 1 || fields[0] != "QueueLifecycleEvent.ConversationID: required" {
		t.Fatalf("unexpected field details: %v", appErr.Details)
	}
}

func TestDecodeTranscript(t *testing.T) {
	body := json.RawMessage(`{
		"eventTime": "2024-03-01T10:01:00Z",
		"conversationId": "c1",
		"sessionStartTimeMs": 1709287200000,
		"transcripts": [
			{"utteranceId": "x", "isFinal": true, "channel": "INTERNAL", "alternatives": [{"transcript": "hello"}]}
		]
	}`)

	n, err := NewDecoder(nil).Decode(TranscriptionTopic("c1"), body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	event, ok := n.(TranscriptEvent)
	if !ok {
		t.Fatalf("expected TranscriptEvent, got %T", n)
	}
	if want := time.UnixMilli(1709287200000).UTC(); !event.SessionStartTime.Equal(want) {
		t.Fatalf("expected session start %v, got %v", want, event.SessionStartTime)
	}
	if len(event.Fragments) != 1 || event.Fragments[0].Speaker() != SpeakerAgent {
		t.Fatalf("unexpected fragments: %+v", event.Fragments)
	}
	if event.SessionEnded() {
		t.Fatal("expected session to be running")
	}
}

func TestDecodeTranscriptSessionEnded(t *testing.T) {
	body := json.RawMessage(`{"conversationId": "c1", "status": {"offsetMs": 10, "status": "SESSION_ENDED"}}`)

	n, err := NewDecoder(nil).Decode(TranscriptionTopic("c1"), body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !n.(TranscriptEvent).SessionEnded() {
		t.Fatal("expected session ended")
	}
}

func TestDecodeRejectsMismatchedConversation(t *testing.T) {
	_, err := NewDecoder(nil).Decode(TranscriptionTopic("c1"), json.RawMessage(`{"conversationId": "c2"}`))
	if apperr.GetKind(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDecodeRejectsMalformedBodies(t *testing.T) {
	decoder := NewDecoder(nil)
	if _, err := decoder.Decode(TranscriptionTopic("c1"), json.RawMessage(`{"transcripts": "nope"}`)); err == nil {
		t.Fatal("expected error for wrong field type")
	}
	if _, err := decoder.Decode("v2.users.u1.presence", json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected error for unknown topic")
	}
}
