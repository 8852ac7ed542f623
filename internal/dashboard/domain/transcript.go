package domain

import (
	"strings"
	"time"

	"queue_dashboard_backend/platform/sanitize"
)

const channelInternal = "internal"

// DefaultFlaggedTerms are filler words that mark agent speech as poor.
var DefaultFlaggedTerms = []string{"um", "uh", "mm"}

// Word is a single recognized word inside a transcript alternative.
type Word struct {
	Confidence float64 `json:"confidence"`
	OffsetMs   int64   `json:"offsetMs"`
	DurationMs int64   `json:"durationMs"`
	Word       string  `json:"word"`
}

// Alternative is one recognition hypothesis; the first is the best.
type Alternative struct {
	OffsetMs   int64  `json:"offsetMs"`
	DurationMs int64  `json:"durationMs"`
	Transcript string `json:"transcript"`
	Words      []Word `json:"words,omitempty"`
}

// TranscriptFragment is one utterance delivered on the transcription topic.
type TranscriptFragment struct {
	UtteranceID  string        `json:"utteranceId"`
	IsFinal      bool          `json:"isFinal"`
	Channel      string        `json:"channel"`
	Alternatives []Alternative `json:"alternatives"`
	EngineID     string        `json:"engineId,omitempty"`
	Dialect      string        `json:"dialect,omitempty"`
}

// BestTranscript returns the text of the first alternative.
func (f TranscriptFragment) BestTranscript() string {
	if len(f.Alternatives) == 0 {
		return ""
	}
	return f.Alternatives[0].Transcript
}

// Speaker maps the channel label to a role: internal is the agent.
func (f TranscriptFragment) Speaker() Speaker {
	if strings.EqualFold(strings.TrimSpace(f.Channel), channelInternal) {
		return SpeakerAgent
	}
	return SpeakerCustomer
}

// Analysis is the outcome of one transcript batch.
type Analysis struct {
	Interactions []Interaction
	FlipsToBad   bool
}

// Analyzer decides speaker roles and standing for transcript batches.
// It holds only the fixed term list and is safe for concurrent use.
type Analyzer struct {
	terms []string
}

// NewAnalyzer builds an analyzer over the given flagged terms. Matching is
// case-insensitive; blank terms are ignored.
func NewAnalyzer(terms []string) Analyzer {
	lowered := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" {
			lowered = append(lowered, term)
		}
	}
	return Analyzer{terms: lowered}
}

// Terms returns the normalized flagged terms.
func (a Analyzer) Terms() []string {
	out := make([]string, len(a.terms))
	copy(out, a.terms)
	return out
}

// Analyze converts the batch into interactions stamped with at, preserving
// batch order, and reports whether any agent fragment contains a flagged term.
func (a Analyzer) Analyze(fragments []TranscriptFragment, at time.Time) Analysis {
	result := Analysis{Interactions: make([]Interaction, 0, len(fragments))}
	for _, f := range fragments {
		result.Interactions = append(result.Interactions, Interaction{
			Speaker:    f.Speaker(),
			Timestamp:  at,
			Transcript: sanitize.Text(f.BestTranscript()),
		})
		if !result.FlipsToBad && a.Flagged(f) {
			result.FlipsToBad = true
		}
	}
	return result
}

// Flagged reports whether an agent fragment's best alternative contains a flagged term.
func (a Analyzer) Flagged(f TranscriptFragment) bool {
	if f.Speaker() != SpeakerAgent {
		return false
	}
	text := strings.ToLower(f.BestTranscript())
	for _, term := range a.terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

// NextStanding applies a batch outcome to the current standing. Bad is terminal.
func NextStanding(current Standing, flipsToBad bool) Standing {
	if current == StandingBad || flipsToBad {
		return StandingBad
	}
	return StandingGood
}
