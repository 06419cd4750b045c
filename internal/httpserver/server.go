// Package httpserver exposes the call API: session lifecycle, turn
// submission over JSON or a WebSocket audio stream, health and metrics.
package httpserver

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/menalkhan12/ist-voice-agent/internal/audio"
	"github.com/menalkhan12/ist-voice-agent/internal/knowledge"
	"github.com/menalkhan12/ist-voice-agent/internal/session"
)

// Deps are the collaborators the server exposes over HTTP.
type Deps struct {
	Registry    *session.Registry
	Knowledge   *knowledge.Store
	AudioConfig audio.Config
	// Providers reports which external gateways are configured, surfaced by
	// the health endpoint.
	Providers map[string]bool
}

// Server is the HTTP front of the agent.
type Server struct {
	echo *echo.Echo
	addr string
	deps Deps
}

// New builds the server with routes registered. Extra route groups, such as
// the telephony webhooks, register through Echo().
func New(addr string, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{echo: e, addr: addr, deps: deps}

	e.GET("/healthz", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	api.POST("/calls", s.createCall)
	api.POST("/calls/:id/turns", s.submitTurn)
	api.GET("/calls/:id/summary", s.callSummary)
	api.DELETE("/calls/:id", s.endCall)
	api.GET("/calls/:id/audio", s.audioStream)

	return s
}

// Echo exposes the router so webhook handlers can attach their routes.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	err := s.echo.Start(s.addr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	status := map[string]any{
		"status":           "ok",
		"knowledge_loaded": s.deps.Knowledge.Loaded(),
		"documents":        s.deps.Knowledge.Len(),
		"active_sessions":  s.deps.Registry.Len(),
	}
	if len(s.deps.Providers) > 0 {
		status["providers"] = s.deps.Providers
	}
	if !s.deps.Knowledge.Loaded() {
		status["status"] = "degraded"
	}
	return c.JSON(http.StatusOK, status)
}
