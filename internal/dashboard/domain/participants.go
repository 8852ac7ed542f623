package domain

import (
	"sort"
	"strings"
	"time"
)

// Participant is one party to a call as reported by queue conversation events
// and by the analytics query.
type Participant struct {
	ID            string     `json:"id,omitempty"`
	Purpose       string     `json:"purpose"`
	State         string     `json:"state,omitempty"`
	UserID        string     `json:"userId,omitempty"`
	ConnectedTime *time.Time `json:"connectedTime,omitempty"`
	EndTime       *time.Time `json:"endTime,omitempty"`
}

const (
	purposeAgent      = "agent"
	stateTerminated   = "terminated"
	stateDisconnected = "disconnected"
)

// IsAgent reports whether the participant's purpose is agent.
func (p Participant) IsAgent() bool {
	return strings.EqualFold(strings.TrimSpace(p.Purpose), purposeAgent)
}

// IsTerminated reports whether the participant has left the call.
func (p Participant) IsTerminated() bool {
	state := strings.ToLower(strings.TrimSpace(p.State))
	return state == stateTerminated || state == stateDisconnected
}

// AgentParticipant returns the first participant whose purpose is agent.
func AgentParticipant(participants []Participant) (Participant, bool) {
	for _, p := range participants {
		if p.IsAgent() {
			return p, true
		}
	}
	return Participant{}, false
}

// TerminatedCount counts participants in the terminated or disconnected state.
func TerminatedCount(participants []Participant) int {
	count := 0
	for _, p := range participants {
		if p.IsTerminated() {
			count++
		}
	}
	return count
}

// AllTerminated reports whether a non-empty participant list has fully ended.
func AllTerminated(participants []Participant) bool {
	return len(participants) > 0 && TerminatedCount(participants) == len(participants)
}

// ConnectedOrder returns the participants that have a connection time,
// stably sorted by that time ascending.
func ConnectedOrder(participants []Participant) []Participant {
	connected := make([]Participant, 0, len(participants))
	for _, p := range participants {
		if p.ConnectedTime != nil && !p.ConnectedTime.IsZero() {
			connected = append(connected, p)
		}
	}
	sort.SliceStable(connected, func(i, j int) bool {
		return connected[i].ConnectedTime.Before(*connected[j].ConnectedTime)
	})
	return connected
}

// CanonicalStartTime is the earliest connection time among the participants.
// ok is false when nobody has connected yet.
func CanonicalStartTime(participants []Participant) (start time.Time, ok bool) {
	ordered := ConnectedOrder(participants)
	if len(ordered) == 0 {
		return time.Time{}, false
	}
	return *ordered[0].ConnectedTime, true
}
