// Package telephony bridges Twilio voice webhooks onto call sessions. Each
// Twilio call maps to one session keyed by its CallSid; the conversation
// runs as a Say/Record loop.
package telephony

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/twilio/twilio-go/twiml"

	"github.com/menalkhan12/ist-voice-agent/internal/session"
)

// Config carries the Twilio project credentials.
type Config struct {
	AccountSID string
	AuthToken  string
}

// Service handles the Twilio webhook routes.
type Service struct {
	config     Config
	registry   *session.Registry
	httpClient *http.Client
}

// New builds the webhook service.
func New(config Config, registry *session.Registry) *Service {
	return &Service{
		config:     config,
		registry:   registry,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// RegisterRoutes attaches the webhook handlers, all behind signature
// validation.
func (s *Service) RegisterRoutes(e *echo.Echo) {
	e.POST("/twilio/voice", s.handleVoice, s.authMiddleware)
	e.POST("/twilio/turn", s.handleTurn, s.authMiddleware)
	e.POST("/twilio/status", s.handleStatus, s.authMiddleware)
}

func (s *Service) handleVoice(c echo.Context) error {
	params := c.Get("twilioParams").(map[string]string)
	callSID := params["CallSid"]
	from := params["From"]
	log.Info().Str("call_sid", callSID).Str("from", from).Msg("incoming call")

	sess, err := s.registry.CreateWithID(callSID)
	if err != nil {
		log.Warn().Err(err).Str("call_sid", callSID).Msg("cannot accept call")
		return s.respond(c,
			&twiml.VoiceSay{Message: "We are sorry, all our lines are busy right now. Please call again later."},
			&twiml.VoiceHangup{})
	}

	greeting, _ := sess.Opening(c.Request().Context())
	return s.respond(c,
		&twiml.VoiceSay{Message: greeting},
		s.recordVerb())
}

func (s *Service) handleTurn(c echo.Context) error {
	params := c.Get("twilioParams").(map[string]string)
	callSID := params["CallSid"]

	sess, err := s.registry.Get(callSID)
	if err != nil {
		return s.respond(c, &twiml.VoiceHangup{})
	}

	recordingURL := params["RecordingUrl"]
	if recordingURL == "" {
		// Timed out without speech; listen again.
		return s.respond(c, s.recordVerb())
	}

	audio, err := s.fetchRecording(c.Request().Context(), recordingURL)
	if err != nil {
		log.Warn().Err(err).Str("call_sid", callSID).Msg("recording download failed")
		return s.respond(c,
			&twiml.VoiceSay{Message: "Sorry, I didn't catch that. Please repeat your question."},
			s.recordVerb())
	}

	turn, err := sess.Submit(c.Request().Context(), audio)
	if err != nil {
		return s.respond(c, &twiml.VoiceHangup{})
	}

	if turn.EndOfCall {
		return s.respond(c,
			&twiml.VoiceSay{Message: turn.Answer},
			&twiml.VoiceHangup{})
	}
	return s.respond(c,
		&twiml.VoiceSay{Message: turn.Answer},
		s.recordVerb())
}

func (s *Service) handleStatus(c echo.Context) error {
	params := c.Get("twilioParams").(map[string]string)
	callSID := params["CallSid"]
	status := params["CallStatus"]

	switch status {
	case "completed", "failed", "busy", "no-answer", "canceled":
		if err := s.registry.Terminate(callSID); err == nil {
			log.Info().Str("call_sid", callSID).Str("status", status).Msg("call closed by status callback")
		}
	}
	return c.String(http.StatusOK, "OK")
}

// recordVerb listens for the caller's next utterance.
func (s *Service) recordVerb() *twiml.VoiceRecord {
	return &twiml.VoiceRecord{
		Action:    "/twilio/turn",
		Method:    "POST",
		MaxLength: "30",
		Timeout:   "4",
		PlayBeep:  "false",
		Trim:      "trim-silence",
	}
}

func (s *Service) respond(c echo.Context, elements ...twiml.Element) error {
	response, err := twiml.Voice(elements)
	if err != nil {
		return c.String(http.StatusInternalServerError, "failed to build TwiML")
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/xml")
	return c.String(http.StatusOK, response)
}

// fetchRecording downloads the turn's WAV audio from Twilio.
func (s *Service) fetchRecording(ctx context.Context, recordingURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, recordingURL+".wav", nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(s.config.AccountSID, s.config.AuthToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download recording: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
