// Package metrics accumulates per-turn latency and confidence stats. The
// in-memory per-session log feeds the reporting collaborator; Prometheus
// mirrors feed the /metrics endpoint.
package metrics

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// StageTimings carries the measured latency of each pipeline stage.
type StageTimings struct {
	Transcription time.Duration `json:"transcription"`
	Retrieval     time.Duration `json:"retrieval"`
	Completion    time.Duration `json:"completion"`
	Synthesis     time.Duration `json:"synthesis"`
	Total         time.Duration `json:"total"`
}

// Entry is one recorded turn. Entries are 1:1 with session turns.
type Entry struct {
	Outcome       string
	Timings       StageTimings
	Confidence    float64
	HasConfidence bool
	At            time.Time
}

// SummaryStats aggregates a session (or all sessions) for reporting.
type SummaryStats struct {
	Turns          int           `json:"turns"`
	Answered       int           `json:"answered"`
	Escalated      int           `json:"escalated"`
	EndCall        int           `json:"end_call"`
	LanguageSwitch int           `json:"language_switch"`
	Errors         int           `json:"errors"`
	SuccessRate    float64       `json:"success_rate"`
	AvgTranscribe  time.Duration `json:"avg_transcription"`
	AvgRetrieval   time.Duration `json:"avg_retrieval"`
	AvgCompletion  time.Duration `json:"avg_completion"`
	AvgSynthesis   time.Duration `json:"avg_synthesis"`
	AvgTotal       time.Duration `json:"avg_total"`
	AvgConfidence  float64       `json:"avg_confidence"`
}

// Recorder keeps a per-session log of entries. Each session worker only
// appends to its own log; the mutex exists so reporting can take snapshot
// copies without racing the live call path.
type Recorder struct {
	mu       sync.Mutex
	sessions map[string][]Entry
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{sessions: make(map[string][]Entry)}
}

// Record appends one entry for the session. It never blocks the call path:
// any internal failure is swallowed and logged.
func (r *Recorder) Record(sessionID string, e Entry) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("session_id", sessionID).Msg("metrics record failed")
		}
	}()
	if e.At.IsZero() {
		e.At = time.Now()
	}
	r.mu.Lock()
	r.sessions[sessionID] = append(r.sessions[sessionID], e)
	r.mu.Unlock()

	observeTurn(e)
}

// snapshot copies a session's entries so summarization never holds the lock
// while iterating.
func (r *Recorder) snapshot(sessionID string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	src := r.sessions[sessionID]
	out := make([]Entry, len(src))
	copy(out, src)
	return out
}

// Summarize computes averages, counts and success rate for one session.
func (r *Recorder) Summarize(sessionID string) SummaryStats {
	return summarize(r.snapshot(sessionID))
}

// Aggregate summarizes every recorded session together, for the reporting
// collaborator.
func (r *Recorder) Aggregate() SummaryStats {
	r.mu.Lock()
	all := make([]Entry, 0, 64)
	for _, entries := range r.sessions {
		all = append(all, entries...)
	}
	r.mu.Unlock()
	return summarize(all)
}

// Forget drops a session's entries once its final record has been handed to
// persistence.
func (r *Recorder) Forget(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}

// Count returns the number of entries recorded for a session.
func (r *Recorder) Count(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions[sessionID])
}

func summarize(entries []Entry) SummaryStats {
	s := SummaryStats{Turns: len(entries)}
	if s.Turns == 0 {
		return s
	}
	var tTr, tRe, tCo, tSy, tTo time.Duration
	var confSum float64
	confN := 0
	for _, e := range entries {
		switch e.Outcome {
		case "answered":
			s.Answered++
		case "escalated":
			s.Escalated++
		case "end-call":
			s.EndCall++
		case "language-switch":
			s.LanguageSwitch++
		case "error":
			s.Errors++
		}
		tTr += e.Timings.Transcription
		tRe += e.Timings.Retrieval
		tCo += e.Timings.Completion
		tSy += e.Timings.Synthesis
		tTo += e.Timings.Total
		if e.HasConfidence {
			confSum += e.Confidence
			confN++
		}
	}
	n := time.Duration(s.Turns)
	s.AvgTranscribe = tTr / n
	s.AvgRetrieval = tRe / n
	s.AvgCompletion = tCo / n
	s.AvgSynthesis = tSy / n
	s.AvgTotal = tTo / n
	// Success rate counts turns resolved without error or escalation.
	s.SuccessRate = float64(s.Turns-s.Errors-s.Escalated) / float64(s.Turns)
	if confN > 0 {
		s.AvgConfidence = confSum / float64(confN)
	}
	return s
}
