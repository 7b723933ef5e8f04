// Package server exposes the HTTP surface: the overlay page and its two
// websockets, the control panel API, health probes, and metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/WolfwithSword/TwitchChatDND/internal/bus"
	"github.com/WolfwithSword/TwitchChatDND/internal/config"
	"github.com/WolfwithSword/TwitchChatDND/internal/domain"
	"github.com/WolfwithSword/TwitchChatDND/internal/overlay"
	"github.com/WolfwithSword/TwitchChatDND/internal/session"
)

// sessionControl is the slice of the chat controller the panel API drives.
type sessionControl interface {
	OpenSession(ctx context.Context)
	StartSession(ctx context.Context, partySize int) bool
	EndSession()
}

// HealthCheck is a named readiness check.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	session    *session.Manager
	control    sessionControl
	members    domain.MemberStore
	hub        *overlay.Hub
	events     *bus.Registry
	lookupUser func(ctx context.Context, login string) (pfpURL string, err error)

	healthChecks []HealthCheck
	startTime    time.Time
}

// NewServer wires routes against the given collaborators. lookupUser fetches
// an avatar when the panel adds a member who has never chatted.
func NewServer(cfg *config.Config, mgr *session.Manager, control sessionControl, members domain.MemberStore, hub *overlay.Hub, events *bus.Registry, lookupUser func(ctx context.Context, login string) (string, error), healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:         e,
		config:       cfg,
		session:      mgr,
		control:      control,
		members:      members,
		hub:          hub,
		events:       events,
		lookupUser:   lookupUser,
		healthChecks: healthChecks,
		startTime:    time.Now(),
	}
	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	port := s.config.GetInt(config.SectionServer, "port")
	slog.Info("Starting server", "port", port)
	if err := s.echo.Start(fmt.Sprintf(":%d", port)); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
