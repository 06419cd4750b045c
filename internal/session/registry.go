package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/menalkhan12/ist-voice-agent/internal/metrics"
	"github.com/menalkhan12/ist-voice-agent/internal/store"
)

var (
	// ErrNotFound reports an unknown or already-finished call id.
	ErrNotFound = errors.New("session not found")
	// ErrCapacity reports that the registry is at its session limit.
	ErrCapacity = errors.New("session capacity reached")
)

// Registry tracks live sessions by call id and finalizes them when they
// end: the call record goes to the archiver, the per-session metrics are
// summarized and released.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	pipeline    *Pipeline
	recorder    *metrics.Recorder
	archiver    store.Archiver
	idleTimeout time.Duration
	maxSessions int
}

// NewRegistry builds the registry. archiver may be nil.
func NewRegistry(pipeline *Pipeline, recorder *metrics.Recorder, archiver store.Archiver, idleTimeout time.Duration, maxSessions int) *Registry {
	return &Registry{
		sessions:    make(map[string]*Session),
		pipeline:    pipeline,
		recorder:    recorder,
		archiver:    archiver,
		idleTimeout: idleTimeout,
		maxSessions: maxSessions,
	}
}

// Create starts a new session and returns it. The caller plays
// Session.Opening to the caller.
func (r *Registry) Create() (*Session, error) {
	return r.CreateWithID(uuid.NewString())
}

// CreateWithID starts a session under an externally supplied id, such as a
// telephony provider's call SID. The id must be unused.
func (r *Registry) CreateWithID(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sessions) >= r.maxSessions {
		return nil, ErrCapacity
	}
	if _, exists := r.sessions[id]; exists {
		return nil, errors.New("session id already in use")
	}
	s := newSession(id, r.pipeline, r.recorder, r.idleTimeout, r.finalize)
	r.sessions[id] = s
	metrics.ActiveSessions.Inc()
	log.Info().Str("session_id", id).Int("active", len(r.sessions)).Msg("session started")
	return s, nil
}

// Get returns the live session for id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Terminate ends a session from the server side.
func (r *Registry) Terminate(id string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	s.Close()
	return nil
}

// Summary returns the metrics summary for a live session.
func (r *Registry) Summary(id string) (metrics.SummaryStats, error) {
	if _, err := r.Get(id); err != nil {
		return metrics.SummaryStats{}, err
	}
	return r.recorder.Summarize(id), nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown closes every live session and waits for their workers.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	open := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		open = append(open, s)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, s := range open {
			s.Close()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("registry shutdown timed out")
	}
}

// finalize runs on the session worker when a call ends. It hands the call
// record to the archiver, logs the summary, and releases the session.
func (r *Registry) finalize(s *Session) {
	summary := r.recorder.Summarize(s.ID)
	log.Info().
		Str("session_id", s.ID).
		Int("turns", summary.Turns).
		Float64("success_rate", summary.SuccessRate).
		Dur("avg_total", summary.AvgTotal).
		Msg("session summary")

	if r.archiver != nil {
		turns := make([]store.TurnRecord, len(s.turns))
		for i, t := range s.turns {
			turns[i] = store.TurnRecord{
				Index:     t.Index,
				UserText:  t.Transcript,
				AgentText: t.Answer,
				Outcome:   string(t.Outcome),
				Timings:   t.Timings,
			}
		}
		rec := store.CallRecord{
			CallID:      s.ID,
			StartedAt:   s.StartedAt,
			EndedAt:     s.endedAt,
			Turns:       turns,
			Escalated:   s.escalated,
			PhoneNumber: s.phone,
			EndReason:   s.endReason,
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := r.archiver.Archive(ctx, rec); err != nil {
			log.Error().Err(err).Str("session_id", s.ID).Msg("call record archive failed")
		}
		cancel()
	}

	r.recorder.Forget(s.ID)
	r.mu.Lock()
	delete(r.sessions, s.ID)
	r.mu.Unlock()
	metrics.ActiveSessions.Dec()
}
