// Package api provides the admin/introspection REST API described by
// SPEC_FULL.md's supplemented features: health, runtime statistics, and the
// currently compiled routing rule summary, over a Gin-based HTTP server.
// Grounded on the teacher's internal/api/server.go, repurposed from zone
// and custom-DNS management onto DoH-forwarder introspection.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jroosing/loadants/internal/api/handlers"
	"github.com/jroosing/loadants/internal/api/middleware"
	"github.com/jroosing/loadants/internal/config"
	"github.com/jroosing/loadants/internal/handler"
	"github.com/jroosing/loadants/internal/metrics"
	"github.com/jroosing/loadants/internal/remoterule"
	"github.com/jroosing/loadants/internal/store"
	"github.com/jroosing/loadants/internal/upstream"
)

// Server is the admin REST API server.
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	engine     *gin.Engine
	httpServer *http.Server
}

// New builds a Server wired to the running core handler, metrics registry,
// rule-load-history store, remote rule loader, and upstream manager. Any of
// st, loader, met, up may be nil; the corresponding endpoints degrade
// gracefully (see handlers.Handler).
func New(cfg *config.Config, core *handler.Handler, met *metrics.Registry, st *store.Store, loader *remoterule.Loader, up *upstream.Manager, logger *slog.Logger) *Server {
	if cfg == nil {
		panic("api.New: cfg is nil")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.SlogRequestLogger(logger))

	h := handlers.New(core, met, st, loader, up, logger)
	RegisterRoutes(engine, h, cfg, met)

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
