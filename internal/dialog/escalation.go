package dialog

import (
	"strings"

	"github.com/menalkhan12/ist-voice-agent/internal/knowledge"
)

// EscalationTracker decides when a query is unanswerable and must be handed
// to a human. The minimum relevance threshold is configuration, not a
// hard-coded constant.
type EscalationTracker struct {
	minRelevance float64
}

// NewEscalationTracker builds a tracker with the given relevance floor.
func NewEscalationTracker(minRelevance float64) *EscalationTracker {
	return &EscalationTracker{minRelevance: minRelevance}
}

// ShouldEscalateRetrieval reports whether retrieval produced nothing worth
// composing an answer from: empty results, or no result above the floor.
func (t *EscalationTracker) ShouldEscalateRetrieval(res knowledge.RetrievalResult) bool {
	for _, r := range res {
		if r.Score >= t.minRelevance {
			return false
		}
	}
	return true
}

// ShouldEscalateCompletion reports whether the composition outcome warrants
// escalation: a provider failure, an empty answer, or the designated
// not-found sentinel.
func (t *EscalationTracker) ShouldEscalateCompletion(answer string, err error) bool {
	if err != nil {
		return true
	}
	trimmed := strings.TrimSpace(answer)
	if trimmed == "" {
		return true
	}
	return strings.Contains(Normalize(trimmed), Normalize(NotFoundSentinel))
}
