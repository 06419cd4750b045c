package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/menalkhan12/ist-voice-agent/internal/dialog"
	"github.com/menalkhan12/ist-voice-agent/internal/gateway"
	"github.com/menalkhan12/ist-voice-agent/internal/knowledge"
)

// Transcriber turns a speech segment into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, languageHint string) (gateway.Transcription, error)
}

// Retriever finds knowledge passages for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) knowledge.RetrievalResult
}

// Completer composes a grounded answer from passages and history.
type Completer interface {
	Complete(ctx context.Context, query string, passages []string, history []gateway.Exchange, languageHint string) (string, error)
}

// Synthesizer renders answer text to audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, languageHint string) ([]byte, error)
}

// PipelineConfig tunes the turn pipeline.
type PipelineConfig struct {
	TopK             int
	HistoryWindow    int
	SynthesisTimeout time.Duration
}

// Pipeline wires the gateways and dialog policies into the turn sequence.
// One Pipeline is shared by every session; all per-call state lives on the
// Session.
type Pipeline struct {
	stt        Transcriber
	retriever  Retriever
	llm        Completer
	tts        Synthesizer
	router     *dialog.Router
	endCall    *dialog.EndCallDetector
	escalation *dialog.EscalationTracker
	cfg        PipelineConfig
}

// NewPipeline builds the shared pipeline.
func NewPipeline(stt Transcriber, retriever Retriever, llm Completer, tts Synthesizer, escalation *dialog.EscalationTracker, cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		stt:        stt,
		retriever:  retriever,
		llm:        llm,
		tts:        tts,
		router:     dialog.NewRouter(),
		endCall:    dialog.NewEndCallDetector(),
		escalation: escalation,
		cfg:        cfg,
	}
}

// processTurn runs one utterance through the pipeline, mutating the
// session's conversational state. Only the session worker calls it, so no
// locking is needed here.
func (p *Pipeline) processTurn(ctx context.Context, s *Session, audio []byte, text string) Turn {
	start := time.Now()
	turn := Turn{Index: s.turnIndex, Language: s.lang}
	s.turnIndex++

	transcript := text
	if transcript == "" {
		tStt := time.Now()
		tr, err := p.stt.Transcribe(ctx, audio, s.lang.Hint())
		turn.Timings.Transcription = time.Since(tStt)
		if err != nil {
			if !errors.Is(err, gateway.ErrNoSpeech) {
				log.Warn().Err(err).Str("session_id", s.ID).Msg("transcription failed")
			}
			return p.finishTurn(ctx, s, turn, dialog.Apology(s.lang), OutcomeError, start)
		}
		transcript = tr.Text
		s.lastConfidence, s.hasConfidence = tr.Confidence, tr.HasConfidence
	}
	turn.Transcript = transcript

	if !dialog.Meaningful(transcript) {
		return p.finishTurn(ctx, s, turn, dialog.Apology(s.lang), OutcomeError, start)
	}

	// Termination wins over everything else, including phone capture.
	if p.endCall.IsEndCall(transcript, s.lang) {
		turn.EndOfCall = true
		s.phase = PhaseTerminated
		return p.finishTurn(ctx, s, turn, dialog.Closing(s.lang), OutcomeEndCall, start)
	}

	if lang, ok := p.router.DetectSwitch(transcript); ok {
		s.lang = lang
		turn.Language = lang
		if s.phase == PhaseAwaitingLanguage {
			s.phase = PhaseActive
		}
		return p.finishTurn(ctx, s, turn, dialog.Acknowledgment(lang), OutcomeLanguageSwitch, start)
	}
	if s.phase == PhaseAwaitingLanguage {
		// No explicit choice: default to English and answer the utterance.
		s.lang = dialog.LangEnglish
		turn.Language = s.lang
		s.phase = PhaseActive
	}

	if s.phase == PhaseAwaitingPhone {
		return p.capturePhone(ctx, s, turn, transcript, start)
	}

	tRet := time.Now()
	results := p.retriever.Retrieve(ctx, transcript, p.cfg.TopK)
	turn.Timings.Retrieval = time.Since(tRet)

	if p.escalation.ShouldEscalateRetrieval(results) {
		return p.escalate(ctx, s, turn, start)
	}

	passages := make([]string, 0, len(results))
	for _, r := range results {
		passages = append(passages, fmt.Sprintf("%s\n%s", r.Document.Title, r.Document.Text))
	}

	tLLM := time.Now()
	answer, err := p.llm.Complete(ctx, transcript, passages, s.recentHistory(p.cfg.HistoryWindow), s.lang.Hint())
	turn.Timings.Completion = time.Since(tLLM)
	if err != nil {
		log.Warn().Err(err).Str("session_id", s.ID).Msg("completion failed")
	}
	if p.escalation.ShouldEscalateCompletion(answer, err) {
		return p.escalate(ctx, s, turn, start)
	}

	s.pushHistory(gateway.Exchange{Query: transcript, Answer: answer}, p.cfg.HistoryWindow)
	return p.finishTurn(ctx, s, turn, answer, OutcomeAnswered, start)
}

// escalate marks the session escalated and asks for a callback number.
func (p *Pipeline) escalate(ctx context.Context, s *Session, turn Turn, start time.Time) Turn {
	s.escalated = true
	s.phase = PhaseAwaitingPhone
	s.phoneAttempts = 0
	return p.finishTurn(ctx, s, turn, dialog.EscalationPrompt(s.lang), OutcomeEscalated, start)
}

// capturePhone handles the turn after an escalation prompt. One reprompt is
// allowed; after that the session returns to normal answering.
func (p *Pipeline) capturePhone(ctx context.Context, s *Session, turn Turn, transcript string, start time.Time) Turn {
	if phone, ok := dialog.ParsePhoneNumber(transcript); ok {
		s.phone = phone
		s.phase = PhaseActive
		return p.finishTurn(ctx, s, turn, dialog.PhoneCaptured(s.lang), OutcomeEscalated, start)
	}
	s.phoneAttempts++
	if s.phoneAttempts < 2 {
		return p.finishTurn(ctx, s, turn, dialog.PhoneReprompt(s.lang), OutcomeEscalated, start)
	}
	s.phase = PhaseActive
	return p.finishTurn(ctx, s, turn, dialog.PhoneSkipped(s.lang), OutcomeEscalated, start)
}

// finishTurn synthesizes the reply (best effort) and stamps timings.
func (p *Pipeline) finishTurn(ctx context.Context, s *Session, turn Turn, answer string, outcome Outcome, start time.Time) Turn {
	turn.Answer = answer
	turn.Outcome = outcome

	if p.tts != nil && answer != "" {
		sctx, cancel := context.WithTimeout(ctx, p.cfg.SynthesisTimeout)
		tTTS := time.Now()
		audio, err := p.tts.Synthesize(sctx, answer, s.lang.Hint())
		cancel()
		turn.Timings.Synthesis = time.Since(tTTS)
		if err != nil {
			// The caller still gets the answer text.
			log.Warn().Err(err).Str("session_id", s.ID).Msg("synthesis failed")
		} else {
			turn.Audio = audio
		}
	}

	turn.Timings.Total = time.Since(start)
	return turn
}
