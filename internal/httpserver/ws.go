package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/menalkhan12/ist-voice-agent/internal/audio"
	"github.com/menalkhan12/ist-voice-agent/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser demo clients connect from arbitrary origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsTurnEvent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript,omitempty"`
	Answer     string `json:"answer,omitempty"`
	Outcome    string `json:"outcome,omitempty"`
	EndOfCall  bool   `json:"end_of_call,omitempty"`
}

// audioStream ingests the caller's PCM over a WebSocket. Binary messages
// are raw 16-bit little-endian mono PCM; the endpointer cuts them into
// utterances which run through the turn pipeline. Each turn is answered
// with one JSON event followed by the synthesized reply as binary frames.
func (s *Server) audioStream(c echo.Context) error {
	sess, err := s.deps.Registry.Get(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown call"})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ep := audio.NewEndpointer(s.deps.AudioConfig)
	ctx := c.Request().Context()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("session_id", sess.ID).Msg("audio stream closed")
			}
			// A trailing utterance may still be buffered.
			if seg, ok := ep.Flush(); ok {
				s.runSegment(ctx, conn, sess, seg)
			}
			return nil
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		for _, seg := range ep.Push(data) {
			if done := s.runSegment(ctx, conn, sess, seg); done {
				return nil
			}
		}
	}
}

// runSegment processes one utterance and writes the reply. It returns true
// once the call has ended.
func (s *Server) runSegment(ctx context.Context, conn *websocket.Conn, sess *session.Session, seg []byte) bool {
	turn, err := sess.Submit(ctx, seg)
	if err != nil {
		if !errors.Is(err, session.ErrSessionClosed) {
			log.Warn().Err(err).Str("session_id", sess.ID).Msg("turn failed on audio stream")
		}
		return true
	}

	event, _ := json.Marshal(wsTurnEvent{
		Type:       "turn",
		Transcript: turn.Transcript,
		Answer:     turn.Answer,
		Outcome:    string(turn.Outcome),
		EndOfCall:  turn.EndOfCall,
	})
	if err := conn.WriteMessage(websocket.TextMessage, event); err != nil {
		return true
	}
	if len(turn.Audio) > 0 {
		if err := conn.WriteMessage(websocket.BinaryMessage, turn.Audio); err != nil {
			return true
		}
	}
	if turn.EndOfCall {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "call ended"))
		return true
	}
	return false
}
