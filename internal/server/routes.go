package server

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/WolfwithSword/TwitchChatDND/web"
)

func (s *Server) registerRoutes() {
	s.echo.Use(RequestIDMiddleware())
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	s.echo.Use(ErrorHandlingMiddleware())

	s.echo.FileFS("/overlay", "static/overlay.html", web.StaticFiles)
	s.echo.StaticFS("/static", echo.MustSubFS(web.StaticFiles, "static"))

	s.echo.GET("/ws/overlay", s.handleOverlaySocket)
	s.echo.GET("/ws/tts", s.handleAudioSocket)

	s.registerHealthRoutes()
	s.registerPanelRoutes()

	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if id, ok := c.Get("requestID").(string); ok {
				attrs = append(attrs, "request_id", id)
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.Info("Request", attrs...)
			return nil
		},
	})
}
