// Package pluginmodule hosts external metadata agent plugins. Each
// plugin is a directory holding a plugin.cue manifest and an executable
// built against the SDK; the host launches the binary as a child
// process and speaks to it over the go-plugin net/rpc transport. Agents
// register into the metadata parts registry at startup and enrich items
// during scans alongside the built-in sources.
package pluginmodule

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/medley-tv/medley/internal/config"
	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/events"
	"github.com/medley-tv/medley/internal/logger"
	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
	"github.com/medley-tv/medley/internal/modules/modulemanager"
	"github.com/medley-tv/medley/internal/services"
	"github.com/medley-tv/medley/internal/types"
)

func init() {
	Register()
}

const (
	ModuleID   = "system.plugins"
	ModuleName = "Plugins"
)

// Module wires the plugin host into the module system.
type Module struct {
	db       *gorm.DB
	eventBus events.EventBus
	host     *Host
	manager  *Manager
}

func NewModule(db *gorm.DB, eventBus events.EventBus) *Module {
	return &Module{db: db, eventBus: eventBus}
}

// Register registers the module with the global registry.
func Register() {
	modulemanager.Register(NewModule(database.GetDB(), events.GetGlobalEventBus()))
}

func (m *Module) ID() string   { return ModuleID }
func (m *Module) Name() string { return ModuleName }
func (m *Module) Core() bool   { return false }

// Migrate creates the plugin registry table.
func (m *Module) Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&database.Plugin{})
}

// Init discovers plugins and registers their agents. Registration must
// happen here: the parts registry freezes after every module has
// initialized, and a hosted agent that misses the window can never
// enrich anything. Launching the processes waits until PostInit.
func (m *Module) Init() error {
	cfg := config.Get()
	if !cfg.Plugins.Enabled {
		logger.Info("plugin host disabled by configuration")
		return nil
	}
	if m.db == nil {
		m.db = database.GetDB()
	}
	if m.eventBus == nil {
		m.eventBus = events.GetGlobalEventBus()
	}

	m.host = NewHost(cfg.Plugins.PluginDir, cfg.Plugins.MaxExecutionTime)
	m.manager = NewManager(m.db, m.host, m.eventBus)

	manifests, err := m.host.Discover()
	if err != nil {
		// A broken plugin dir costs the plugins, not the server.
		logger.Error("plugin discovery failed: %v", err)
		manifests = nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.manager.Sync(ctx, manifests); err != nil {
		logger.Error("plugin sync failed: %v", err)
	}
	for _, manifest := range manifests {
		if err := parts.Default.RegisterAgent(newHostedAgent(m.host, manifest)); err != nil {
			logger.Error("register agent %s: %v", manifest.ID, err)
		}
	}

	services.RegisterService(services.ServicePlugins, services.PluginService(m.manager))
	return nil
}

// PostInit launches the enabled plugin processes. By now every module
// is up, so a slow plugin start delays nothing but itself.
func (m *Module) PostInit() error {
	if m.manager == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	m.manager.StartEnabled(ctx)
	return nil
}

// Shutdown kills every plugin process.
func (m *Module) Shutdown(ctx context.Context) error {
	if m.host != nil {
		m.host.StopAll()
	}
	return nil
}

// HealthCheck reports degraded when an enabled plugin is not running.
func (m *Module) HealthCheck(ctx context.Context) modulemanager.HealthStatus {
	status := modulemanager.HealthStatus{
		Status:      modulemanager.HealthStateHealthy,
		LastChecked: time.Now(),
	}
	if m.manager == nil {
		status.Message = "plugin host disabled"
		return status
	}
	plugins, err := m.manager.ListPlugins(ctx)
	if err != nil {
		status.Status = modulemanager.HealthStateUnknown
		status.Message = err.Error()
		return status
	}
	running := 0
	stalled := 0
	for _, p := range plugins {
		if p.Running {
			running++
		} else if p.Enabled {
			stalled++
		}
	}
	status.Details = map[string]interface{}{
		"installed": len(plugins),
		"running":   running,
	}
	if stalled > 0 {
		status.Status = modulemanager.HealthStateDegraded
		status.Message = "enabled plugins not running"
	}
	return status
}

// RegisterRoutes mounts the plugin admin endpoints.
func (m *Module) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/api/v1/plugins")
	group.GET("", m.handleList)
	group.POST("/:id/enable", m.handleEnable)
	group.POST("/:id/disable", m.handleDisable)
}

func (m *Module) handleList(c *gin.Context) {
	if m.manager == nil {
		respondDisabled(c)
		return
	}
	plugins, err := m.manager.ListPlugins(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plugins": plugins, "count": len(plugins)})
}

func (m *Module) handleEnable(c *gin.Context) {
	if m.manager == nil {
		respondDisabled(c)
		return
	}
	if err := m.manager.EnablePlugin(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": StatusEnabled})
}

func (m *Module) handleDisable(c *gin.Context) {
	if m.manager == nil {
		respondDisabled(c)
		return
	}
	if err := m.manager.DisablePlugin(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": StatusDisabled})
}

func respondDisabled(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"error": "plugin host is disabled",
		"code":  types.ErrorCodePluginFailed,
	})
}

func respondError(c *gin.Context, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, gin.H{"error": appErr.Message, "code": appErr.Code})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
