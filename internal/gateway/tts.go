package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
	"github.com/rs/zerolog/log"
)

// SpeechSynthesizer renders answer text to linear16 PCM at 48 kHz. Deepgram
// is the primary engine with a per-language voice; ElevenLabs is an
// optional fallback when Deepgram fails or returns no audio.
type SpeechSynthesizer struct {
	apiKey       string
	voiceEnglish string
	voiceUrdu    string
	sampleRate   int
	encoding     string
	timeout      time.Duration
	fallback     *ElevenLabsTTS
}

// NewSpeechSynthesizer builds the synthesizer. fallback may be nil.
func NewSpeechSynthesizer(apiKey, voiceEnglish, voiceUrdu string, timeout time.Duration, fallback *ElevenLabsTTS) *SpeechSynthesizer {
	if voiceEnglish == "" {
		voiceEnglish = "aura-2-thalia-en"
	}
	if voiceUrdu == "" {
		voiceUrdu = voiceEnglish
	}
	return &SpeechSynthesizer{
		apiKey:       apiKey,
		voiceEnglish: voiceEnglish,
		voiceUrdu:    voiceUrdu,
		sampleRate:   48000,
		encoding:     "linear16",
		timeout:      timeout,
		fallback:     fallback,
	}
}

// Synthesize renders text in the voice matching languageHint ("ur" selects
// the Urdu voice). The audio is collected into one buffer so the caller can
// hand a complete utterance to playback.
func (s *SpeechSynthesizer) Synthesize(ctx context.Context, text, languageHint string) ([]byte, error) {
	if text == "" {
		return nil, nil
	}
	audio, err := s.deepgramSynthesize(ctx, text, languageHint)
	if err == nil && len(audio) > 0 {
		return audio, nil
	}
	if err != nil {
		log.Warn().Err(err).Msg("deepgram synthesis failed")
	}
	if s.fallback != nil {
		audio, ferr := s.fallback.Synthesize(ctx, text)
		if ferr != nil {
			return nil, &SynthesisError{Provider: "elevenlabs", Err: ferr}
		}
		return audio, nil
	}
	if err != nil {
		return nil, &SynthesisError{Provider: "deepgram", Err: err}
	}
	return nil, &SynthesisError{Provider: "deepgram", Err: fmt.Errorf("no audio produced")}
}

func (s *SpeechSynthesizer) deepgramSynthesize(ctx context.Context, text, languageHint string) ([]byte, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("api key missing")
	}
	voice := s.voiceEnglish
	if languageHint == "ur" {
		voice = s.voiceUrdu
	}

	options := &clientinterfaces.WSSpeakOptions{
		Model:      voice,
		Encoding:   s.encoding,
		SampleRate: s.sampleRate,
	}

	var (
		mu           sync.Mutex
		buf          bytes.Buffer
		lastRecvUnix int64
		seenAudio    int32
	)
	cb := &speakCollector{onBinary: func(data []byte) error {
		if len(data) == 0 {
			return nil
		}
		atomic.StoreInt64(&lastRecvUnix, time.Now().UnixNano())
		atomic.StoreInt32(&seenAudio, 1)
		mu.Lock()
		buf.Write(data)
		mu.Unlock()
		return nil
	}}

	dg, err := speak.NewWSUsingCallback(ctx, s.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		return nil, fmt.Errorf("create ws client: %w", err)
	}

	stopped := false
	stopClient := func() {
		if !stopped {
			stopped = true
			dg.Stop()
		}
	}
	defer stopClient()

	if ok := dg.Connect(); !ok {
		return nil, fmt.Errorf("connect failed")
	}
	if err := dg.SpeakWithText(text); err != nil {
		return nil, fmt.Errorf("speak text: %w", err)
	}
	if err := dg.Flush(); err != nil {
		log.Warn().Err(err).Msg("deepgram flush error")
	}

	// The stream has no explicit end-of-utterance marker; the utterance is
	// considered complete once audio has arrived and then gone quiet.
	idleWindow := 400 * time.Millisecond
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(s.timeout)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if atomic.LoadInt32(&seenAudio) == 1 {
				last := time.Unix(0, atomic.LoadInt64(&lastRecvUnix))
				if time.Since(last) > idleWindow {
					stopClient()
					mu.Lock()
					defer mu.Unlock()
					return buf.Bytes(), nil
				}
			}
			if time.Now().After(deadline) {
				stopClient()
				mu.Lock()
				defer mu.Unlock()
				if buf.Len() == 0 {
					return nil, fmt.Errorf("timed out with no audio")
				}
				return buf.Bytes(), nil
			}
		}
	}
}

type speakCollector struct{ onBinary func([]byte) error }

func (s *speakCollector) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCollector) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCollector) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCollector) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCollector) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCollector) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCollector) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (s *speakCollector) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCollector) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}

// ElevenLabsTTS is the HTTP fallback synthesis engine.
type ElevenLabsTTS struct {
	HTTPClient *http.Client
	APIKey     string
	VoiceID    string
	BaseURL    string
}

// NewElevenLabsTTS builds the fallback client, or returns nil when it is
// not configured.
func NewElevenLabsTTS(apiKey, voiceID string, timeout time.Duration) *ElevenLabsTTS {
	if apiKey == "" || voiceID == "" {
		return nil
	}
	return &ElevenLabsTTS{
		HTTPClient: &http.Client{Timeout: timeout},
		APIKey:     apiKey,
		VoiceID:    voiceID,
		BaseURL:    "https://api.elevenlabs.io",
	}
}

// Synthesize renders text as pcm_48000 through the streaming endpoint and
// collects the whole body.
func (e *ElevenLabsTTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	endpoint := e.BaseURL + "/v1/text-to-speech/" + e.VoiceID + "/stream?output_format=pcm_48000"
	body := map[string]any{
		"model_id": "eleven_flash_v2_5",
		"text":     text,
		"voice_settings": map[string]any{
			"stability":        0.4,
			"similarity_boost": 0.7,
		},
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}
	return io.ReadAll(resp.Body)
}
