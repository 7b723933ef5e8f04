package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/WolfwithSword/TwitchChatDND/internal/overlay"
)

// The overlay runs as a browser source on the same host, so origin checks
// stay permissive.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (s *Server) handleOverlaySocket(c echo.Context) error {
	return s.serveSocket(c, overlay.KindControl)
}

func (s *Server) handleAudioSocket(c echo.Context) error {
	return s.serveSocket(c, overlay.KindAudio)
}

func (s *Server) serveSocket(c echo.Context, kind overlay.ClientKind) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		slog.Warn("Failed to upgrade websocket", "kind", kind, "error", err)
		return nil
	}

	if err := s.hub.Register(kind, conn); err != nil {
		_ = conn.Close()
		return nil
	}

	go s.readUntilClosed(kind, conn)
	return nil
}

// readUntilClosed drains incoming frames so pong handling works and detects
// the client going away. Overlay clients never send application data.
func (s *Server) readUntilClosed(kind overlay.ClientKind, conn *websocket.Conn) {
	defer s.hub.Unregister(kind, conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
