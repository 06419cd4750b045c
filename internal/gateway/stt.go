package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Transcription is the result of one speech-to-text call.
type Transcription struct {
	Text          string
	Confidence    float64
	HasConfidence bool
}

// GroqSTT transcribes a speech segment through the Groq-hosted Whisper API.
type GroqSTT struct {
	HTTPClient *http.Client
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries int
	Backoff    time.Duration
}

// NewGroqSTT builds the transcription client.
func NewGroqSTT(apiKey, baseURL, model string, maxRetries int, backoffInterval, timeout time.Duration) *GroqSTT {
	if baseURL == "" {
		baseURL = "https://api.groq.com/openai/v1"
	}
	return &GroqSTT{
		HTTPClient: &http.Client{Timeout: timeout},
		APIKey:     apiKey,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Model:      model,
		MaxRetries: maxRetries,
		Backoff:    backoffInterval,
	}
}

type whisperSegment struct {
	Text       string  `json:"text"`
	AvgLogprob float64 `json:"avg_logprob"`
}

type whisperResponse struct {
	Text     string           `json:"text"`
	Segments []whisperSegment `json:"segments"`
}

// Transcribe sends the audio segment and returns the cleaned transcript.
// languageHint is a BCP-47 primary tag ("en", "ur") or empty for
// auto-detect. Transient provider failures are retried; a transcript with
// no usable text returns ErrNoSpeech.
func (g *GroqSTT) Transcribe(ctx context.Context, audio []byte, languageHint string) (Transcription, error) {
	if g.APIKey == "" {
		return Transcription{}, &TranscriptionError{Provider: "groq", Err: fmt.Errorf("api key missing")}
	}
	if len(audio) == 0 {
		return Transcription{}, ErrNoSpeech
	}

	var wr whisperResponse
	op := func() error {
		resp, status, err := g.post(ctx, audio, languageHint)
		if err != nil {
			if status != 0 && !retryableStatus(status) {
				return backoff.Permanent(&TranscriptionError{Provider: "groq", Status: status, Err: err})
			}
			return &TranscriptionError{Provider: "groq", Status: status, Err: err}
		}
		wr = resp
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(g.Backoff), uint64(g.MaxRetries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		var te *TranscriptionError
		if errors.As(err, &te) {
			return Transcription{}, te
		}
		return Transcription{}, &TranscriptionError{Provider: "groq", Err: err}
	}

	text := fixCommonMishearings(strings.TrimSpace(wr.Text))
	if text == "" {
		return Transcription{}, ErrNoSpeech
	}
	out := Transcription{Text: text}
	if conf, ok := segmentConfidence(wr.Segments); ok {
		out.Confidence = conf
		out.HasConfidence = true
	}
	return out, nil
}

func (g *GroqSTT) post(ctx context.Context, audio []byte, languageHint string) (whisperResponse, int, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "segment.wav")
	if err != nil {
		return whisperResponse{}, 0, err
	}
	if _, err := fw.Write(audio); err != nil {
		return whisperResponse{}, 0, err
	}
	_ = mw.WriteField("model", g.Model)
	_ = mw.WriteField("response_format", "verbose_json")
	if languageHint != "" {
		_ = mw.WriteField("language", languageHint)
	}
	if err := mw.Close(); err != nil {
		return whisperResponse{}, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return whisperResponse{}, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+g.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return whisperResponse{}, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return whisperResponse{}, resp.StatusCode, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}
	var wr whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return whisperResponse{}, 0, fmt.Errorf("decode response: %w", err)
	}
	return wr, resp.StatusCode, nil
}

// segmentConfidence converts per-segment average log probabilities into a
// single 0..1 score.
func segmentConfidence(segs []whisperSegment) (float64, bool) {
	if len(segs) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, s := range segs {
		sum += math.Exp(s.AvgLogprob)
	}
	conf := sum / float64(len(segs))
	if conf > 1 {
		conf = 1
	}
	return conf, true
}

// mishearings lists recurring Whisper mistakes on admissions vocabulary,
// applied in order against the lowercased transcript.
var mishearings = []struct{ wrong, right string }{
	{"free structures", "fee structures"},
	{"free structure", "fee structure"},
	{"three structure", "fee structure"},
	{"emissions", "admissions"},
	{"emission", "admission"},
	{"i s t", "IST"},
	{"is t university", "IST university"},
}

func fixCommonMishearings(text string) string {
	for _, m := range mishearings {
		lower := strings.ToLower(text)
		if idx := strings.Index(lower, m.wrong); idx >= 0 {
			text = text[:idx] + m.right + text[idx+len(m.wrong):]
			log.Debug().Str("from", m.wrong).Str("to", m.right).Msg("transcript fix-up applied")
		}
	}
	return text
}
