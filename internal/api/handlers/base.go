// Package handlers implements the REST API endpoint handlers for the
// forwarding engine's management surface.
//
// @title fwdcore Management API
// @version 1.0
// @description REST API for inspecting the forwarding engine's answer cache and runtime stats.
//
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
//
// @host localhost:8080
// @BasePath /api/v1
//
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
package handlers

import (
	"log/slog"
	"time"

	"github.com/jroosing/kdnsfwd/internal/api/models"
	"github.com/jroosing/kdnsfwd/internal/config"
)

// CacheInspector is the subset of the answer cache the management API
// needs. cmd/fwdcore satisfies it with a small adapter over
// *fwdcache.Cache; declaring it here keeps this package decoupled from
// the cache's internal locking.
type CacheInspector interface {
	Snapshot() []models.CacheEntry
	DeleteAll()
}

// StatsSource is the subset of the forwarder's counters the management
// API reports.
type StatsSource interface {
	Snapshot() models.ForwarderStats
}

// Handler contains dependencies for API handlers.
type Handler struct {
	cfg       *config.Config
	logger    *slog.Logger
	startTime time.Time
	cache     CacheInspector
	stats     StatsSource
}

// New creates a new Handler with the given configuration and runtime
// collaborators. cache and stats may be nil.
func New(cfg *config.Config, cache CacheInspector, stats StatsSource, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		logger:    logger,
		startTime: time.Now(),
		cache:     cache,
		stats:     stats,
	}
}
