package domain

import (
	"strings"
	"time"
)

// MediaTypeVoice is the analytics media type of phone calls.
const MediaTypeVoice = "voice"

// ActiveConversation is a conversation found by the startup analytics query.
// MediaType is taken from the first session of the first participant.
type ActiveConversation struct {
	ID           string
	Start        time.Time
	MediaType    string
	Participants []Participant
}

// IsVoice reports whether the conversation is a phone call.
func (a ActiveConversation) IsVoice() bool {
	return strings.EqualFold(a.MediaType, MediaTypeVoice)
}
