package domain

import (
	"testing"
	"time"
)

func at(sec int) *time.Time {
	t := time.Date(2024, 3, 1, 10, 0, sec, 0, time.UTC)
	return &t
}

func TestConnectedOrderSortsAscendingAndSkipsUnconnected(t *testing.T) {
	participants := []Participant{
		{ID: "late", ConnectedTime: at(30)},
		{ID: "never"},
		{ID: "early", ConnectedTime: at(5)},
		{ID: "mid", ConnectedTime: at(10)},
	}

	ordered := ConnectedOrder(participants)
	if len(ordered) != 3 {
		t.Fatalf("expected 3 connected participants, got %d", len(ordered))
	}
	want := []string{"early", "mid", "late"}
	for i, p := range ordered {
		if p.ID != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], p.ID)
		}
	}
}

func TestConnectedOrderIsStableForEqualTimes(t *testing.T) {
	participants := []Participant{
		{ID: "first", ConnectedTime: at(5)},
		{ID: "second", ConnectedTime: at(5)},
	}

	ordered := ConnectedOrder(participants)
	if ordered[0].ID != "first" || ordered[1].ID != "second" {
		t.Fatalf("expected input order for ties, got %s, %s", ordered[0].ID, ordered[1].ID)
	}
}

func TestCanonicalStartTimeIgnoresInputOrder(t *testing.T) {
	a := []Participant{{ConnectedTime: at(20)}, {ConnectedTime: at(7)}}
	b := []Participant{{ConnectedTime: at(7)}, {ConnectedTime: at(20)}}

	startA, okA := CanonicalStartTime(a)
	startB, okB := CanonicalStartTime(b)
	if !okA || !okB {
		t.Fatal("expected a start time for both orderings")
	}
	if !startA.Equal(startB) || !startA.Equal(*at(7)) {
		t.Fatalf("expected earliest connection time, got %v and %v", startA, startB)
	}
}

func TestCanonicalStartTimeWithoutConnections(t *testing.T) {
	if _, ok := CanonicalStartTime([]Participant{{ID: "ringing"}}); ok {
		t.Fatal("expected no start time when nobody connected")
	}
}

func TestAllTerminated(t *testing.T) {
	cases := []struct {
		name         string
		participants []Participant
		want         bool
	}{
		{name: "empty", participants: nil, want: false},
		{name: "one connected", participants: []Participant{{State: "terminated"}, {State: "connected"}}, want: false},
		{name: "mixed end states", participants: []Participant{{State: "terminated"}, {State: "Disconnected"}}, want: true},
		{name: "all terminated", participants: []Participant{{State: "TERMINATED"}}, want: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := AllTerminated(tc.participants); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestAgentParticipantPicksFirstAgent(t *testing.T) {
	participants := []Participant{
		{ID: "c", Purpose: "customer"},
		{ID: "a1", Purpose: "Agent", UserID: "u1"},
		{ID: "a2", Purpose: "agent", UserID: "u2"},
	}

	agent, ok := AgentParticipant(participants)
	if !ok || agent.UserID != "u1" {
		t.Fatalf("expected first agent u1, got %+v (ok=%v)", agent, ok)
	}
	if _, ok := AgentParticipant(participants[:1]); ok {
		t.Fatal("expected no agent among customers only")
	}
}
