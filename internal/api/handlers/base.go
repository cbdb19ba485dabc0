// Package handlers implements the admin REST API endpoint handlers.
//
// @title LoadAnts Admin API
// @version 1.0
// @description REST API for introspecting a running DoH forwarder: health,
// @description runtime statistics, and the currently compiled routing rules.
//
// @contact.name LoadAnts
//
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
//
// @host localhost:8081
// @BasePath /api/v1
//
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
package handlers

import (
	"log/slog"
	"time"

	"github.com/jroosing/loadants/internal/handler"
	"github.com/jroosing/loadants/internal/metrics"
	"github.com/jroosing/loadants/internal/remoterule"
	"github.com/jroosing/loadants/internal/store"
	"github.com/jroosing/loadants/internal/upstream"
)

// Handler contains the dependencies admin API endpoints introspect. All
// fields are read-only references into the live server; the handler never
// mutates them except by delegating to Loader.RefreshOnce.
type Handler struct {
	logger    *slog.Logger
	startTime time.Time

	core   *handler.Handler
	met    *metrics.Registry
	store  *store.Store
	loader *remoterule.Loader
	up     *upstream.Manager
}

// New creates a new admin API Handler. store, loader, up and met may be
// nil: a nil store omits the load history from GET /rules, a nil loader
// makes POST /rules/reload answer 503, and a nil up leaves the upstream
// group list empty. met is held but not read by any endpoint.
func New(core *handler.Handler, met *metrics.Registry, st *store.Store, loader *remoterule.Loader, up *upstream.Manager, logger *slog.Logger) *Handler {
	return &Handler{
		core:      core,
		met:       met,
		store:     st,
		loader:    loader,
		up:        up,
		logger:    logger,
		startTime: time.Now(),
	}
}
