// Package api provides the REST management surface for the forwarding
// engine. It exposes health, stats, and answer-cache inspection endpoints
// via a Gin-based HTTP server; everything else (zone management, domain
// filtering, clustering) is out of scope for a pure forwarder.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jroosing/kdnsfwd/internal/api/handlers"
	"github.com/jroosing/kdnsfwd/internal/api/middleware"
	"github.com/jroosing/kdnsfwd/internal/config"
)

// Server is the management REST API server.
//
// Security note: do not expose the API to untrusted networks without
// authentication.
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	engine     *gin.Engine
	httpServer *http.Server
}

// New builds a management server. cache and stats may be nil: the GET
// endpoints then report empty/zero data, and DELETE /cache answers 503.
func New(cfg *config.Config, cache handlers.CacheInspector, stats handlers.StatsSource, logger *slog.Logger) *Server {
	if cfg == nil {
		panic("api.New: cfg is nil")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.SlogRequestLogger(logger))

	h := handlers.New(cfg, cache, stats, logger)
	RegisterRoutes(engine, h, cfg)

	addr := net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{cfg: cfg, logger: logger, engine: engine, httpServer: httpServer}
}

func (s *Server) Addr() string {
	if s.httpServer == nil {
		return ""
	}
	return s.httpServer.Addr
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
