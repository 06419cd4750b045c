package httpserver

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/menalkhan12/ist-voice-agent/internal/session"
)

type createCallResponse struct {
	CallID   string `json:"call_id"`
	Greeting string `json:"greeting"`
	Audio    string `json:"audio,omitempty"`
}

type turnRequest struct {
	Text  string `json:"text,omitempty"`
	Audio string `json:"audio,omitempty"` // base64 PCM segment
}

type turnResponse struct {
	session.Turn
	Audio string `json:"audio,omitempty"`
}

func (s *Server) createCall(c echo.Context) error {
	sess, err := s.deps.Registry.Create()
	if err != nil {
		if errors.Is(err, session.ErrCapacity) {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "at capacity, try again later"})
		}
		return err
	}
	greeting, audio := sess.Opening(c.Request().Context())
	resp := createCallResponse{CallID: sess.ID, Greeting: greeting}
	if len(audio) > 0 {
		resp.Audio = base64.StdEncoding.EncodeToString(audio)
	}
	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) submitTurn(c echo.Context) error {
	sess, err := s.deps.Registry.Get(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown call"})
	}

	var req turnRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid body"})
	}
	if req.Text == "" && req.Audio == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "text or audio required"})
	}

	var turn session.Turn
	if req.Text != "" {
		turn, err = sess.SubmitText(c.Request().Context(), req.Text)
	} else {
		var pcm []byte
		pcm, err = base64.StdEncoding.DecodeString(req.Audio)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "audio is not valid base64"})
		}
		turn, err = sess.Submit(c.Request().Context(), pcm)
	}
	if err != nil {
		if errors.Is(err, session.ErrSessionClosed) {
			return c.JSON(http.StatusGone, map[string]string{"error": "call has ended"})
		}
		return err
	}

	resp := turnResponse{Turn: turn}
	if len(turn.Audio) > 0 {
		resp.Audio = base64.StdEncoding.EncodeToString(turn.Audio)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) callSummary(c echo.Context) error {
	summary, err := s.deps.Registry.Summary(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown call"})
	}
	return c.JSON(http.StatusOK, summary)
}

func (s *Server) endCall(c echo.Context) error {
	if err := s.deps.Registry.Terminate(c.Param("id")); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown call"})
	}
	return c.NoContent(http.StatusNoContent)
}
