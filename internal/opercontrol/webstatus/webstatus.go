// Package webstatus is the oper control channel's companion read-only
// HTTP surface (SPEC_FULL.md's DOMAIN STACK mapping for
// labstack/echo/v4): the same uptime/counts/per-service stats spec
// §4.9's "status"/"stats"/"service" commands expose over DCC, mirrored
// as JSON for monitoring. Grounded on the teacher's echoprom package
// (its own /metrics-over-echo mounting idiom) generalized from metrics
// specifically to a small read-only JSON status API.
package webstatus

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cycoslave/ratbox-services-sub000/internal/opercontrol"
)

// Server wraps an echo instance exposing /status and /stats.
type Server struct {
	echo       *echo.Echo
	start      time.Time
	controller *opercontrol.Controller
	providers  func() []opercontrol.StatsProvider
}

// New builds a Server. providers is called per-request so newly
// registered subsystems show up without restarting the HTTP surface.
func New(controller *opercontrol.Controller, providers func() []opercontrol.StatsProvider) *Server {
	s := &Server{echo: echo.New(), start: time.Now(), controller: controller, providers: providers}
	s.echo.HideBanner = true
	s.echo.GET("/status", s.handleStatus)
	s.echo.GET("/stats", s.handleStats)
	s.echo.GET("/stats/:service", s.handleStatsOne)
	return s
}

// Handler returns the http.Handler to mount (or serve standalone).
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"uptime_seconds": time.Since(s.start).Seconds(),
	})
}

func (s *Server) handleStats(c echo.Context) error {
	out := make(map[string]map[string]string)
	for _, p := range s.providers() {
		out[p.Name()] = p.Stats()
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleStatsOne(c echo.Context) error {
	name := c.Param("service")
	for _, p := range s.providers() {
		if p.Name() == name {
			return c.JSON(http.StatusOK, p.Stats())
		}
	}
	return c.NoContent(http.StatusNotFound)
}
