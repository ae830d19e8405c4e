// Package scannermodule owns library scanning: the staged pipeline in
// the scanner subpackage plus the manager that runs one pipeline per
// section, checkpoints progress, and resumes interrupted scans at boot.
package scannermodule

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/medley-tv/medley/internal/config"
	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/events"
	"github.com/medley-tv/medley/internal/logger"
	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
	"github.com/medley-tv/medley/internal/modules/modulemanager"
	"github.com/medley-tv/medley/internal/modules/scannermodule/scanner"
	"github.com/medley-tv/medley/internal/services"
)

func init() {
	Register()
}

const (
	ModuleID   = "system.scanner"
	ModuleName = "Scanner"
)

// Module wires the scan manager into the module system.
type Module struct {
	db       *gorm.DB
	eventBus events.EventBus
	manager  *scanner.Manager
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
func (m *Module) Core() bool   { return true }

// Migrate creates the scan bookkeeping tables.
func (m *Module) Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&database.LibraryScan{},
		&database.ScanSeenPath{},
	)
}

// Init builds the manager and publishes the scanner service.
func (m *Module) Init() error {
	if m.db == nil {
		m.db = database.GetDB()
	}
	if m.eventBus == nil {
		m.eventBus = events.GetGlobalEventBus()
	}
	m.manager = scanner.NewManager(database.NewStore(m.db), parts.Default, config.Get(), m.eventBus)
	services.RegisterService(services.ServiceScanner, services.ScannerService(m.manager))
	return nil
}

// PostInit injects the asset service, which initializes after us, and
// relaunches scans a previous process left behind.
func (m *Module) PostInit() error {
	if assets, err := services.GetService[services.AssetService](services.ServiceAsset); err == nil {
		m.manager.SetAssetService(assets)
	} else {
		logger.Warn("scanner running without asset service; artwork ingestion disabled")
	}
	return m.manager.ResumeInterrupted(context.Background())
}

// Shutdown drains live scans so their checkpoints land before exit.
func (m *Module) Shutdown(ctx context.Context) error {
	if m.manager != nil {
		m.manager.Shutdown()
	}
	return nil
}

// Manager exposes the scan manager to other modules.
func (m *Module) Manager() *scanner.Manager { return m.manager }

// RegisterRoutes mounts the scan control endpoints. Starting a scan
// lives on the library routes; everything addressed by scan ID is here.
func (m *Module) RegisterRoutes(router *gin.Engine) {
	scans := router.Group("/api/v1/scans")
	scans.GET("/:id", m.handleStatus)
	scans.POST("/:id/pause", m.handlePause)
	scans.POST("/:id/resume", m.handleResume)
	scans.POST("/:id/cancel", m.handleCancel)
}

func (m *Module) handleStatus(c *gin.Context) {
	snap, err := m.manager.GetScanStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "scan not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (m *Module) handlePause(c *gin.Context) {
	if err := m.manager.PauseScan(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, scanner.ErrScanNotActive) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "pausing"})
}

func (m *Module) handleResume(c *gin.Context) {
	snap, err := m.manager.ResumeScan(c.Request.Context(), c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			status = http.StatusNotFound
		case errors.Is(err, scanner.ErrScanActive):
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, snap)
}

func (m *Module) handleCancel(c *gin.Context) {
	if err := m.manager.CancelScan(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "scan not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}
