package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/menalkhan12/ist-voice-agent/internal/dialog"
	"github.com/menalkhan12/ist-voice-agent/internal/gateway"
	"github.com/menalkhan12/ist-voice-agent/internal/knowledge"
	"github.com/menalkhan12/ist-voice-agent/internal/metrics"
	"github.com/menalkhan12/ist-voice-agent/internal/store"
)

type fakeSTT struct {
	text  string
	err   error
	delay time.Duration
}

func (f *fakeSTT) Transcribe(ctx context.Context, audio []byte, languageHint string) (gateway.Transcription, error) {
	time.Sleep(f.delay)
	if f.err != nil {
		return gateway.Transcription{}, f.err
	}
	return gateway.Transcription{Text: f.text, Confidence: 0.9, HasConfidence: true}, nil
}

type fakeRetriever struct {
	results knowledge.RetrievalResult
	delay   time.Duration
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, topK int) knowledge.RetrievalResult {
	time.Sleep(f.delay)
	return f.results
}

type fakeLLM struct {
	mu          sync.Mutex
	answer      string
	err         error
	delay       time.Duration
	lastHistory []gateway.Exchange
}

func (f *fakeLLM) Complete(ctx context.Context, query string, passages []string, history []gateway.Exchange, languageHint string) (string, error) {
	time.Sleep(f.delay)
	f.mu.Lock()
	f.lastHistory = append([]gateway.Exchange(nil), history...)
	f.mu.Unlock()
	return f.answer, f.err
}

type fakeTTS struct {
	audio []byte
	err   error
	delay time.Duration
}

func (f *fakeTTS) Synthesize(ctx context.Context, text, languageHint string) ([]byte, error) {
	time.Sleep(f.delay)
	return f.audio, f.err
}

type fakeArchiver struct {
	mu   sync.Mutex
	recs []store.CallRecord
}

func (f *fakeArchiver) Archive(ctx context.Context, rec store.CallRecord) error {
	f.mu.Lock()
	f.recs = append(f.recs, rec)
	f.mu.Unlock()
	return nil
}

func (f *fakeArchiver) last(t *testing.T) store.CallRecord {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.recs) == 0 {
		t.Fatal("no call record archived")
	}
	return f.recs[len(f.recs)-1]
}

type testEnv struct {
	registry *Registry
	stt      *fakeSTT
	llm      *fakeLLM
	archiver *fakeArchiver
	recorder *metrics.Recorder
}

func relevantResults() knowledge.RetrievalResult {
	doc := &knowledge.Document{Title: "Admissions", Text: "Applications close on July 15."}
	return knowledge.RetrievalResult{{Document: doc, Score: 0.6}}
}

func newTestEnv(t *testing.T, results knowledge.RetrievalResult) *testEnv {
	t.Helper()
	stt := &fakeSTT{text: "hello"}
	llm := &fakeLLM{answer: "Applications close on July 15."}
	arch := &fakeArchiver{}
	pipeline := NewPipeline(stt, &fakeRetriever{results: results}, llm,
		&fakeTTS{audio: []byte("pcm")}, dialog.NewEscalationTracker(0.1),
		PipelineConfig{TopK: 3, HistoryWindow: 3, SynthesisTimeout: time.Second})
	rec := metrics.NewRecorder()
	reg := NewRegistry(pipeline, rec, arch, time.Minute, 4)
	return &testEnv{registry: reg, stt: stt, llm: llm, archiver: arch, recorder: rec}
}

func mustCreate(t *testing.T, env *testEnv) *Session {
	t.Helper()
	s, err := env.registry.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return s
}

func mustTurn(t *testing.T, s *Session, text string) Turn {
	t.Helper()
	turn, err := s.SubmitText(context.Background(), text)
	if err != nil {
		t.Fatalf("SubmitText(%q): %v", text, err)
	}
	return turn
}

func TestLanguageChoiceOnFirstTurn(t *testing.T) {
	env := newTestEnv(t, relevantResults())
	s := mustCreate(t, env)
	defer s.Close()

	turn := mustTurn(t, s, "Urdu")
	if turn.Outcome != OutcomeLanguageSwitch || turn.Language != dialog.LangUrdu {
		t.Fatalf("turn = %+v, want urdu language-switch", turn)
	}
}

func TestFirstQueryDefaultsToEnglish(t *testing.T) {
	env := newTestEnv(t, relevantResults())
	s := mustCreate(t, env)
	defer s.Close()

	turn := mustTurn(t, s, "When do applications close?")
	if turn.Outcome != OutcomeAnswered {
		t.Fatalf("outcome = %q, want answered", turn.Outcome)
	}
	if turn.Language != dialog.LangEnglish {
		t.Fatalf("language = %q, want english default", turn.Language)
	}
	if turn.Answer != "Applications close on July 15." {
		t.Fatalf("answer = %q", turn.Answer)
	}
	if len(turn.Audio) == 0 {
		t.Fatal("answered turn should carry synthesized audio")
	}
}

func TestHistoryCarriesAcrossTurns(t *testing.T) {
	env := newTestEnv(t, relevantResults())
	s := mustCreate(t, env)
	defer s.Close()

	mustTurn(t, s, "When do applications close?")
	mustTurn(t, s, "And the fee?")

	env.llm.mu.Lock()
	defer env.llm.mu.Unlock()
	if len(env.llm.lastHistory) != 1 || env.llm.lastHistory[0].Query != "When do applications close?" {
		t.Fatalf("history = %+v, want prior exchange", env.llm.lastHistory)
	}
}

func TestMidCallLanguageSwitch(t *testing.T) {
	env := newTestEnv(t, relevantResults())
	s := mustCreate(t, env)
	defer s.Close()

	mustTurn(t, s, "When do applications close?")
	turn := mustTurn(t, s, "can we switch to Urdu")
	if turn.Outcome != OutcomeLanguageSwitch || turn.Language != dialog.LangUrdu {
		t.Fatalf("turn = %+v, want urdu switch", turn)
	}
}

func TestEscalationAndPhoneCapture(t *testing.T) {
	env := newTestEnv(t, nil) // retrieval finds nothing
	s := mustCreate(t, env)

	turn := mustTurn(t, s, "Do you offer scholarships for table tennis?")
	if turn.Outcome != OutcomeEscalated {
		t.Fatalf("outcome = %q, want escalated", turn.Outcome)
	}
	if !strings.Contains(strings.ToLower(turn.Answer), "phone number") {
		t.Fatalf("escalation prompt must ask for a phone number, got %q", turn.Answer)
	}

	turn = mustTurn(t, s, "my number is 0300 1234567")
	if turn.Outcome != OutcomeEscalated {
		t.Fatalf("outcome = %q, want escalated", turn.Outcome)
	}

	mustTurn(t, s, "goodbye")
	rec := env.archiver.last(t)
	if !rec.Escalated || rec.PhoneNumber != "03001234567" {
		t.Fatalf("record = %+v, want escalated with captured phone", rec)
	}
}

func TestPhoneRepromptThenSkip(t *testing.T) {
	env := newTestEnv(t, nil)
	s := mustCreate(t, env)

	mustTurn(t, s, "Do you have a quidditch team?")
	first := mustTurn(t, s, "I would rather not say")
	second := mustTurn(t, s, "still no number for you")
	if first.Answer == second.Answer {
		t.Fatal("second failure should move on, not reprompt again")
	}

	mustTurn(t, s, "goodbye")
	rec := env.archiver.last(t)
	if !rec.Escalated || rec.PhoneNumber != "" {
		t.Fatalf("record = %+v, want escalated without phone", rec)
	}
}

func TestEndCallWinsDuringPhoneCapture(t *testing.T) {
	env := newTestEnv(t, nil)
	s := mustCreate(t, env)

	mustTurn(t, s, "Do you have a quidditch team?")
	turn := mustTurn(t, s, "goodbye")
	if turn.Outcome != OutcomeEndCall || !turn.EndOfCall {
		t.Fatalf("turn = %+v, want end-call", turn)
	}
}

func TestEndCallTerminatesSession(t *testing.T) {
	env := newTestEnv(t, relevantResults())
	s := mustCreate(t, env)

	turn := mustTurn(t, s, "that's all, thank you")
	if turn.Outcome != OutcomeEndCall || !turn.EndOfCall {
		t.Fatalf("turn = %+v, want end-call", turn)
	}

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not terminate after end-call")
	}
	if _, err := s.SubmitText(context.Background(), "hello?"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("err = %v, want ErrSessionClosed", err)
	}
	if rec := env.archiver.last(t); len(rec.Turns) != 1 {
		t.Fatalf("record turns = %d, want 1", len(rec.Turns))
	}
	if env.registry.Len() != 0 {
		t.Fatalf("registry still holds %d sessions", env.registry.Len())
	}
}

func TestArchivedRecordCarriesTurnContent(t *testing.T) {
	env := newTestEnv(t, relevantResults())
	s := mustCreate(t, env)

	mustTurn(t, s, "When do applications close?")
	mustTurn(t, s, "goodbye")
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not terminate")
	}

	rec := env.archiver.last(t)
	if len(rec.Turns) != 2 {
		t.Fatalf("record turns = %d, want 2", len(rec.Turns))
	}
	first := rec.Turns[0]
	if first.UserText != "When do applications close?" {
		t.Fatalf("user text = %q", first.UserText)
	}
	if first.AgentText != "Applications close on July 15." {
		t.Fatalf("agent text = %q", first.AgentText)
	}
	if first.Outcome != string(OutcomeAnswered) || first.Timings.Total <= 0 {
		t.Fatalf("first turn = %+v, want answered with timings", first)
	}
	if last := rec.Turns[1]; last.Outcome != string(OutcomeEndCall) || last.Index != 1 {
		t.Fatalf("last turn = %+v, want end-call at index 1", last)
	}
}

func TestCompletionFailureEscalates(t *testing.T) {
	env := newTestEnv(t, relevantResults())
	env.llm.err = errors.New("provider down")
	env.llm.answer = ""
	s := mustCreate(t, env)
	defer s.Close()

	turn := mustTurn(t, s, "When do applications close?")
	if turn.Outcome != OutcomeEscalated {
		t.Fatalf("outcome = %q, want escalated on completion failure", turn.Outcome)
	}
}

func TestSentinelAnswerEscalates(t *testing.T) {
	env := newTestEnv(t, relevantResults())
	env.llm.answer = dialog.NotFoundSentinel
	s := mustCreate(t, env)
	defer s.Close()

	turn := mustTurn(t, s, "Who is the dean's favorite poet?")
	if turn.Outcome != OutcomeEscalated {
		t.Fatalf("outcome = %q, want escalated on sentinel answer", turn.Outcome)
	}
}

func TestTranscriptionFailureApologizes(t *testing.T) {
	env := newTestEnv(t, relevantResults())
	env.stt.err = &gateway.TranscriptionError{Provider: "groq", Err: errors.New("boom")}
	s := mustCreate(t, env)
	defer s.Close()

	turn, err := s.Submit(context.Background(), []byte("pcm"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if turn.Outcome != OutcomeError || turn.Answer == "" {
		t.Fatalf("turn = %+v, want spoken apology with error outcome", turn)
	}
	// The session survives a failed turn.
	if _, err := s.SubmitText(context.Background(), "When do applications close?"); err != nil {
		t.Fatalf("session should still accept turns: %v", err)
	}
}

func TestFillerUtteranceReprompts(t *testing.T) {
	env := newTestEnv(t, relevantResults())
	s := mustCreate(t, env)
	defer s.Close()

	turn := mustTurn(t, s, "uh")
	if turn.Outcome != OutcomeError || turn.Answer == "" {
		t.Fatalf("turn = %+v, want reprompt for filler", turn)
	}
}

func TestSynthesisFailureStillAnswers(t *testing.T) {
	stt := &fakeSTT{text: "hello"}
	llm := &fakeLLM{answer: "Applications close on July 15."}
	pipeline := NewPipeline(stt, &fakeRetriever{results: relevantResults()}, llm,
		&fakeTTS{err: errors.New("tts down")}, dialog.NewEscalationTracker(0.1),
		PipelineConfig{TopK: 3, HistoryWindow: 3, SynthesisTimeout: time.Second})
	reg := NewRegistry(pipeline, metrics.NewRecorder(), nil, time.Minute, 4)
	s, err := reg.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.Close()

	turn := mustTurn(t, s, "When do applications close?")
	if turn.Outcome != OutcomeAnswered || turn.Audio != nil {
		t.Fatalf("turn = %+v, want answered with no audio", turn)
	}
}

func TestIdleTimeoutEndsSession(t *testing.T) {
	env := newTestEnv(t, relevantResults())
	pipeline := env.registry.pipeline
	reg := NewRegistry(pipeline, metrics.NewRecorder(), env.archiver, 30*time.Millisecond, 4)
	s, err := reg.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not time out")
	}
	if rec := env.archiver.last(t); rec.EndReason != "idle timeout" {
		t.Fatalf("end reason = %q, want idle timeout", rec.EndReason)
	}
}

func TestRegistryCapacity(t *testing.T) {
	env := newTestEnv(t, relevantResults())
	reg := NewRegistry(env.registry.pipeline, metrics.NewRecorder(), nil, time.Minute, 1)

	s1, err := reg.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := reg.Create(); !errors.Is(err, ErrCapacity) {
		t.Fatalf("err = %v, want ErrCapacity", err)
	}

	s1.Close()
	if _, err := reg.Create(); err != nil {
		t.Fatalf("Create after close: %v", err)
	}
}

func TestTerminateRemovesSession(t *testing.T) {
	env := newTestEnv(t, relevantResults())
	s := mustCreate(t, env)

	if err := env.registry.Terminate(s.ID); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if _, err := env.registry.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if rec := env.archiver.last(t); rec.EndReason != "terminated" {
		t.Fatalf("end reason = %q, want terminated", rec.EndReason)
	}
}

func TestMetricsEntriesMatchTurns(t *testing.T) {
	stt := &fakeSTT{text: "When do applications close?", delay: time.Millisecond}
	llm := &fakeLLM{answer: "Applications close on July 15.", delay: time.Millisecond}
	rec := metrics.NewRecorder()
	pipeline := NewPipeline(stt, &fakeRetriever{results: relevantResults(), delay: time.Millisecond}, llm,
		&fakeTTS{audio: []byte("pcm"), delay: time.Millisecond}, dialog.NewEscalationTracker(0.1),
		PipelineConfig{TopK: 3, HistoryWindow: 3, SynthesisTimeout: time.Second})
	reg := NewRegistry(pipeline, rec, nil, time.Minute, 4)
	s, err := reg.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.Close()

	turn, err := s.Submit(context.Background(), []byte("pcm"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if turn.Outcome != OutcomeAnswered {
		t.Fatalf("outcome = %q, want answered", turn.Outcome)
	}
	mustTurn(t, s, "switch to Urdu")

	if got := rec.Count(s.ID); got != 2 {
		t.Fatalf("recorded entries = %d, want one per turn", got)
	}
	sum := rec.Summarize(s.ID)
	if sum.Turns != 2 || sum.Answered != 1 || sum.LanguageSwitch != 1 {
		t.Fatalf("summary = %+v, want one answered and one language-switch", sum)
	}
	if sum.AvgTranscribe <= 0 || sum.AvgRetrieval <= 0 || sum.AvgCompletion <= 0 || sum.AvgSynthesis <= 0 {
		t.Fatalf("summary = %+v, want every stage latency populated", sum)
	}
	if sum.AvgTotal <= 0 {
		t.Fatalf("avg total = %v, want positive", sum.AvgTotal)
	}
	if sum.AvgConfidence != 0.9 {
		t.Fatalf("avg confidence = %v, want 0.9", sum.AvgConfidence)
	}
}
