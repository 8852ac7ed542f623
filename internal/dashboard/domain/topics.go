package domain

import "strings"

// TopicKind classifies a notification topic.
type TopicKind int

const (
	TopicUnknown TopicKind = iota
	TopicQueueConversations
	TopicTranscription
)

const (
	queueTopicPrefix         = "v2.routing.queues."
	queueTopicSuffix         = ".conversations.calls"
	conversationTopicPrefix  = "v2.conversations."
	transcriptionTopicSuffix = ".transcription"
)

// QueueConversationsTopic is the lifecycle topic for a queue's calls.
func QueueConversationsTopic(queueID string) string {
	return queueTopicPrefix + queueID + queueTopicSuffix
}

// TranscriptionTopic is the transcript topic for a conversation.
func TranscriptionTopic(conversationID string) string {
	return conversationTopicPrefix + conversationID + transcriptionTopicSuffix
}

// ParseTopic extracts the kind and the embedded queue or conversation id.
func ParseTopic(topic string) (TopicKind, string) {
	switch {
	case strings.HasPrefix(topic, queueTopicPrefix) && strings.HasSuffix(topic, queueTopicSuffix):
		id := strings.TrimSuffix(strings.TrimPrefix(topic, queueTopicPrefix), queueTopicSuffix)
		if id != "" && !strings.Contains(id, ".") {
			return TopicQueueConversations, id
		}
	case strings.HasPrefix(topic, conversationTopicPrefix) && strings.HasSuffix(topic, transcriptionTopicSuffix):
		id := strings.TrimSuffix(strings.TrimPrefix(topic, conversationTopicPrefix), transcriptionTopicSuffix)
		if id != "" && !strings.Contains(id, ".") {
			return TopicTranscription, id
		}
	}
	return TopicUnknown, ""
}
