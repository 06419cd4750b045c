// Package session owns the call lifecycle: the per-call state machine, the
// turn pipeline, and the registry of live calls.
package session

import (
	"github.com/menalkhan12/ist-voice-agent/internal/dialog"
	"github.com/menalkhan12/ist-voice-agent/internal/metrics"
)

// Outcome classifies how a turn was resolved.
type Outcome string

const (
	OutcomeAnswered       Outcome = "answered"
	OutcomeEscalated      Outcome = "escalated"
	OutcomeEndCall        Outcome = "end-call"
	OutcomeLanguageSwitch Outcome = "language-switch"
	OutcomeError          Outcome = "error"
)

// Turn is the result of processing one caller utterance.
type Turn struct {
	Index      int                  `json:"index"`
	Transcript string               `json:"transcript"`
	Answer     string               `json:"answer"`
	Audio      []byte               `json:"-"`
	Outcome    Outcome              `json:"outcome"`
	Language   dialog.Language      `json:"language"`
	EndOfCall  bool                 `json:"end_of_call"`
	Timings    metrics.StageTimings `json:"timings"`
}

// Phase is the session state machine position.
type Phase int

const (
	PhaseAwaitingLanguage Phase = iota
	PhaseActive
	PhaseAwaitingPhone
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingLanguage:
		return "awaiting-language"
	case PhaseActive:
		return "active"
	case PhaseAwaitingPhone:
		return "awaiting-phone"
	case PhaseTerminated:
		return "terminated"
	}
	return "unknown"
}
