package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"audio-transcriber/internal/events"
	"audio-transcriber/internal/pipeline"
	"audio-transcriber/internal/store"
)

// Server is the HTTP surface. It translates requests into pipeline
// submissions and storage reads; no pipeline logic lives here.
type Server struct {
	echo     *echo.Echo
	pipeline *pipeline.Pipeline
	jobs     *store.JobStore
	blobs    *store.BlobStore
	bus      *events.Bus
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New wires routes and middleware around the pipeline and stores.
func New(
	p *pipeline.Pipeline,
	jobs *store.JobStore,
	blobs *store.BlobStore,
	bus *events.Bus,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
			)
			return nil
		},
	}))
	e.Use(middleware.BodyLimit("512M"))

	s := &Server{
		echo:     e,
		pipeline: p,
		jobs:     jobs,
		blobs:    blobs,
		bus:      bus,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	e.POST("/jobs", s.submitJob)
	e.GET("/jobs/:id", s.getJob)
	e.GET("/jobs/:id/transcript", s.getTranscript)
	e.GET("/jobs/:id/audio", s.getAudio)
	e.GET("/jobs/:id/events", s.streamEvents)
	e.GET("/health", s.health)

	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
