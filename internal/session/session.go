package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/menalkhan12/ist-voice-agent/internal/dialog"
	"github.com/menalkhan12/ist-voice-agent/internal/gateway"
	"github.com/menalkhan12/ist-voice-agent/internal/metrics"
)

// ErrSessionClosed reports a turn submitted after the call ended.
var ErrSessionClosed = errors.New("session closed")

type turnRequest struct {
	ctx   context.Context
	audio []byte
	text  string
	resp  chan Turn
}

// Session is one live call. A dedicated worker goroutine owns all
// conversational state and consumes turn requests strictly in order, so
// concurrent submissions for the same call serialize instead of racing.
type Session struct {
	ID        string
	StartedAt time.Time

	pipeline    *Pipeline
	recorder    *metrics.Recorder
	idleTimeout time.Duration
	onFinish    func(*Session)

	reqCh     chan turnRequest
	closeCh   chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once

	// Worker-owned state. Touched only by the worker goroutine and, after
	// doneCh closes, by the finish callback path.
	phase          Phase
	lang           dialog.Language
	history        []gateway.Exchange
	turns          []Turn
	turnIndex      int
	escalated      bool
	phone          string
	phoneAttempts  int
	lastConfidence float64
	hasConfidence  bool
	endedAt        time.Time
	endReason      string
}

func newSession(id string, pipeline *Pipeline, recorder *metrics.Recorder, idleTimeout time.Duration, onFinish func(*Session)) *Session {
	s := &Session{
		ID:          id,
		StartedAt:   time.Now(),
		pipeline:    pipeline,
		recorder:    recorder,
		idleTimeout: idleTimeout,
		onFinish:    onFinish,
		reqCh:       make(chan turnRequest),
		closeCh:     make(chan struct{}),
		doneCh:      make(chan struct{}),
		phase:       PhaseAwaitingLanguage,
		lang:        dialog.LangUnknown,
	}
	go s.run()
	return s
}

// Opening returns the greeting and language prompt played when the call
// connects. Synthesis is best effort.
func (s *Session) Opening(ctx context.Context) (string, []byte) {
	text := dialog.Greeting() + " " + dialog.AskLanguage()
	if s.pipeline.tts == nil {
		return text, nil
	}
	sctx, cancel := context.WithTimeout(ctx, s.pipeline.cfg.SynthesisTimeout)
	defer cancel()
	audio, err := s.pipeline.tts.Synthesize(sctx, text, dialog.LangEnglish.Hint())
	if err != nil {
		log.Warn().Err(err).Str("session_id", s.ID).Msg("greeting synthesis failed")
		return text, nil
	}
	return text, audio
}

// Submit processes one speech segment and blocks until its turn completes.
func (s *Session) Submit(ctx context.Context, audio []byte) (Turn, error) {
	return s.submit(turnRequest{ctx: ctx, audio: audio, resp: make(chan Turn, 1)})
}

// SubmitText processes an utterance that is already text, bypassing
// transcription. The telephony webhook path and tests use it.
func (s *Session) SubmitText(ctx context.Context, text string) (Turn, error) {
	return s.submit(turnRequest{ctx: ctx, text: text, resp: make(chan Turn, 1)})
}

func (s *Session) submit(req turnRequest) (Turn, error) {
	select {
	case s.reqCh <- req:
	case <-s.doneCh:
		return Turn{}, ErrSessionClosed
	case <-req.ctx.Done():
		return Turn{}, req.ctx.Err()
	}
	// The worker always replies on the buffered channel once it accepts a
	// request.
	select {
	case turn := <-req.resp:
		return turn, nil
	case <-req.ctx.Done():
		return Turn{}, req.ctx.Err()
	}
}

// Close ends the call from the server side and waits for the worker to
// finish.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.closeCh) })
	<-s.doneCh
}

// Done is closed once the session has terminated.
func (s *Session) Done() <-chan struct{} { return s.doneCh }

func (s *Session) run() {
	defer close(s.doneCh)
	idle := time.NewTimer(s.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case req := <-s.reqCh:
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			turn := s.pipeline.processTurn(req.ctx, s, req.audio, req.text)
			s.appendTurn(turn)
			s.recordTurn(turn)
			req.resp <- turn
			if turn.EndOfCall {
				s.finish("caller ended call")
				return
			}
			idle.Reset(s.idleTimeout)
		case <-idle.C:
			s.finish("idle timeout")
			return
		case <-s.closeCh:
			s.finish("terminated")
			return
		}
	}
}

// appendTurn commits the turn to the session's ordered history, which the
// final call record is built from. Audio is not retained.
func (s *Session) appendTurn(turn Turn) {
	turn.Audio = nil
	s.turns = append(s.turns, turn)
}

func (s *Session) recordTurn(turn Turn) {
	s.recorder.Record(s.ID, metrics.Entry{
		Outcome:       string(turn.Outcome),
		Timings:       turn.Timings,
		Confidence:    s.lastConfidence,
		HasConfidence: s.hasConfidence,
	})
	s.lastConfidence, s.hasConfidence = 0, false
}

func (s *Session) finish(reason string) {
	s.phase = PhaseTerminated
	s.endedAt = time.Now()
	s.endReason = reason
	log.Info().
		Str("session_id", s.ID).
		Str("reason", reason).
		Int("turns", s.turnIndex).
		Bool("escalated", s.escalated).
		Msg("session ended")
	if s.onFinish != nil {
		s.onFinish(s)
	}
}

// recentHistory returns up to window prior exchanges, oldest first.
func (s *Session) recentHistory(window int) []gateway.Exchange {
	if len(s.history) <= window {
		return s.history
	}
	return s.history[len(s.history)-window:]
}

func (s *Session) pushHistory(ex gateway.Exchange, window int) {
	s.history = append(s.history, ex)
	if window > 0 && len(s.history) > window {
		s.history = s.history[len(s.history)-window:]
	}
}
