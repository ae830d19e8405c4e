// Package server assembles the HTTP surface: the gin engine, shared
// middleware, the health and system endpoints, and the route groups
// every module registers for itself. Module and event bus wiring
// happens in main before the server is built; this package only
// arranges what already exists.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/medley-tv/medley/internal/config"
	"github.com/medley-tv/medley/internal/events"
	"github.com/medley-tv/medley/internal/logger"
	"github.com/medley-tv/medley/internal/modules/modulemanager"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Server owns the HTTP listener and the assembled gin engine.
type Server struct {
	cfg      *config.Config
	db       *gorm.DB
	eventBus events.EventBus
	router   *gin.Engine
	httpSrv  *http.Server
	started  time.Time
}

// New builds the engine: middleware, system routes, then every module
// route group. Modules must already be loaded; route registration is
// the last wiring step before ListenAndServe.
func New(cfg *config.Config, db *gorm.DB, eventBus events.EventBus) *Server {
	if !strings.EqualFold(cfg.Logging.Level, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())
	router.Use(errorLogger())
	if cfg.Server.EnableCORS {
		router.Use(corsMiddleware())
	}
	if len(cfg.Server.TrustedProxies) > 0 {
		if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
			logger.Warn("invalid trusted proxies, keeping gin defaults: %v", err)
		}
	}

	s := &Server{
		cfg:      cfg,
		db:       db,
		eventBus: eventBus,
		router:   router,
		started:  time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/api/health", s.handleHealth)

	system := s.router.Group("/api/v1/system")
	system.GET("/status", s.handleStatus)
	system.GET("/modules", s.handleModules)

	eventroutes := s.router.Group("/api/v1/events")
	eventroutes.GET("", s.handleRecentEvents)
	eventroutes.GET("/stats", s.handleEventStats)
	eventroutes.GET("/ws", s.handleEventSocket)

	modulemanager.RegisterRoutes(s.router)
}

// Router exposes the engine, mainly for httptest.
func (s *Server) Router() *gin.Engine { return s.router }

// Run serves HTTP until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpSrv = &http.Server{
		Addr:           addr,
		Handler:        s.router,
		ReadTimeout:    s.cfg.Server.ReadTimeout,
		WriteTimeout:   s.cfg.Server.WriteTimeout,
		MaxHeaderBytes: s.cfg.Server.MaxHeaderBytes,
	}
	logger.Info("🚀 HTTP server listening on %s", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// handleHealth is the liveness probe: database reachable, event bus
// running. Degraded states still answer 200 so orchestrators do not
// restart a server that is limping but serving.
func (s *Server) handleHealth(c *gin.Context) {
	checks := gin.H{}
	status := "healthy"
	code := http.StatusOK

	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			checks["database"] = err.Error()
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not configured"
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	if s.eventBus != nil {
		if err := s.eventBus.Health(); err != nil {
			checks["event_bus"] = err.Error()
			if status == "healthy" {
				status = "degraded"
			}
		} else {
			checks["event_bus"] = "ok"
		}
	} else {
		checks["event_bus"] = "not running"
		if status == "healthy" {
			status = "degraded"
		}
	}

	c.JSON(code, gin.H{
		"status":    status,
		"version":   Version,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":           "medley",
		"version":        Version,
		"started_at":     s.started.UTC(),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"modules":        len(modulemanager.ListModules()),
	})
}

// moduleStatus is one row of the module health report.
type moduleStatus struct {
	ID     string                      `json:"id"`
	Name   string                      `json:"name"`
	Core   bool                        `json:"core"`
	Health *modulemanager.HealthStatus `json:"health,omitempty"`
}

// handleModules reports every registered module with its health, for
// modules that expose one. Health checks share a single short deadline
// so one stuck module cannot hang the report.
func (s *Server) handleModules(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	modules := modulemanager.ListModules()
	out := make([]moduleStatus, 0, len(modules))
	for _, mod := range modules {
		row := moduleStatus{
			ID:   mod.ID(),
			Name: mod.Name(),
			Core: mod.Core(),
		}
		if checker, ok := mod.(modulemanager.HealthChecker); ok {
			health := checker.HealthCheck(ctx)
			row.Health = &health
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	c.JSON(http.StatusOK, gin.H{"modules": out, "total": len(out)})
}

func (s *Server) handleRecentEvents(c *gin.Context) {
	if s.eventBus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event bus not running"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	recent := s.eventBus.GetRecentEvents(limit)
	c.JSON(http.StatusOK, gin.H{"events": recent, "count": len(recent)})
}

func (s *Server) handleEventStats(c *gin.Context) {
	if s.eventBus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event bus not running"})
		return
	}
	c.JSON(http.StatusOK, s.eventBus.GetStats())
}
