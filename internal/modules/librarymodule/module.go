// Package librarymodule owns library sections: the CRUD surface over
// sections and their root locations, the scan-start endpoint, and the
// filesystem watcher that turns changes under a root into incremental
// scans.
package librarymodule

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
	"github.com/medley-tv/medley/internal/modules/modulemanager"
	"github.com/medley-tv/medley/internal/services"
	"github.com/medley-tv/medley/internal/types"
)

func init() {
	Register()
}

const (
	ModuleID   = "system.libraries"
	ModuleName = "Libraries"
)

// Module wires the library manager and watcher into the module system.
type Module struct {
	db       *gorm.DB
	eventBus events.EventBus
	manager  *Manager
	watcher  *Watcher
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

// Migrate creates the section tables.
func (m *Module) Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&database.LibrarySection{},
		&database.SectionLocation{},
	)
}

// Init builds the manager and publishes the library service.
func (m *Module) Init() error {
	if m.db == nil {
		m.db = database.GetDB()
	}
	if m.eventBus == nil {
		m.eventBus = events.GetGlobalEventBus()
	}
	store := database.NewStore(m.db)
	m.manager = NewManager(store, m.eventBus)

	cfg := config.Get()
	if cfg.Scanner.WatcherEnabled {
		m.watcher = NewWatcher(store, m.eventBus, cfg.Scanner.WatcherDebounce, m.manager.queueScan)
		m.manager.SetWatcher(m.watcher)
	}

	services.RegisterService(services.ServiceLibrary, services.LibraryService(m.manager))
	return nil
}

// PostInit injects the scanner and job services, which initialize after
// us, and starts the watcher over the existing sections.
func (m *Module) PostInit() error {
	if scanner, err := services.GetService[services.ScannerService](services.ServiceScanner); err == nil {
		m.manager.SetScannerService(scanner)
	} else {
		logger.Warn("library module running without scanner service; scan endpoints disabled")
	}
	if jobs, err := services.GetService[services.JobService](services.ServiceJobs); err == nil {
		m.manager.SetJobService(jobs)
	}
	if m.watcher != nil {
		if err := m.watcher.Start(); err != nil {
			// A failed watcher degrades to schedule-only scanning.
			logger.Error("library watcher disabled: %v", err)
			m.manager.SetWatcher(nil)
			m.watcher = nil
		}
	}
	return nil
}

// Shutdown stops the watcher.
func (m *Module) Shutdown(ctx context.Context) error {
	if m.watcher != nil {
		m.watcher.Stop()
	}
	return nil
}

// Manager exposes the library manager to other modules.
func (m *Module) Manager() *Manager { return m.manager }

// sectionRequest is the create/update payload. Locations come in as
// plain root paths; order in the list is the section's location order.
type sectionRequest struct {
	Name                       string   `json:"name"`
	Type                       string   `json:"type"`
	Language                   string   `json:"language"`
	AgentOrder                 string   `json:"agent_order"`
	EpisodeSortOrder           string   `json:"episode_sort_order"`
	HideSingleSeason           bool     `json:"hide_single_season"`
	PreferredAudioLanguages    string   `json:"preferred_audio_languages"`
	PreferredSubtitleLanguages string   `json:"preferred_subtitle_languages"`
	Locations                  []string `json:"locations"`
}

func (r *sectionRequest) apply(section *database.LibrarySection) {
	section.Name = r.Name
	section.Type = r.Type
	section.Language = r.Language
	section.AgentOrder = r.AgentOrder
	section.EpisodeSortOrder = r.EpisodeSortOrder
	section.HideSingleSeason = r.HideSingleSeason
	section.PreferredAudioLanguages = r.PreferredAudioLanguages
	section.PreferredSubtitleLanguages = r.PreferredSubtitleLanguages
	section.Locations = make([]database.SectionLocation, 0, len(r.Locations))
	for _, root := range r.Locations {
		section.Locations = append(section.Locations, database.SectionLocation{RootPath: root})
	}
}

// RegisterRoutes mounts the library endpoints. Scan control by scan ID
// lives on the scanner routes; starting one is a library operation.
func (m *Module) RegisterRoutes(router *gin.Engine) {
	libraries := router.Group("/api/v1/libraries")
	libraries.GET("", m.handleList)
	libraries.POST("", m.handleCreate)
	libraries.GET("/:id", m.handleGet)
	libraries.PUT("/:id", m.handleUpdate)
	libraries.DELETE("/:id", m.handleDelete)
	libraries.POST("/:id/scan", m.handleStartScan)
	libraries.GET("/:id/scans", m.handleListScans)
}

func (m *Module) handleList(c *gin.Context) {
	sections, err := m.manager.ListSections(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"libraries": sections, "count": len(sections)})
}

func (m *Module) handleGet(c *gin.Context) {
	section, err := m.manager.GetSection(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, section)
}

func (m *Module) handleCreate(c *gin.Context) {
	var req sectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "code": types.ErrorCodeValidation})
		return
	}
	var section database.LibrarySection
	req.apply(&section)
	if err := m.manager.CreateSection(c.Request.Context(), &section); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, section)
}

func (m *Module) handleUpdate(c *gin.Context) {
	var req sectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "code": types.ErrorCodeValidation})
		return
	}
	section := database.LibrarySection{ID: c.Param("id")}
	req.apply(&section)
	if err := m.manager.UpdateSection(c.Request.Context(), &section); err != nil {
		respondError(c, err)
		return
	}
	updated, err := m.manager.GetSection(c.Request.Context(), section.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (m *Module) handleDelete(c *gin.Context) {
	if err := m.manager.DeleteSection(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (m *Module) handleStartScan(c *gin.Context) {
	snap, err := m.manager.StartScan(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, snap)
}

func (m *Module) handleListScans(c *gin.Context) {
	scans, err := m.manager.ListScans(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scans": scans, "count": len(scans)})
}

func respondError(c *gin.Context, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, gin.H{"error": appErr.Message, "code": appErr.Code})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
