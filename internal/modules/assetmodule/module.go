// Package assetmodule stores artwork: images arriving from sidecars,
// embedded tags, and remote providers are normalized to WebP, placed in
// the sharded media tree, and served back by item and kind.
package assetmodule

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/medley-tv/medley/internal/config"
	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/events"
	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
	"github.com/medley-tv/medley/internal/modules/modulemanager"
	"github.com/medley-tv/medley/internal/services"
)

func init() {
	Register()
}

const (
	ModuleID   = "system.assets"
	ModuleName = "Assets"
)

// Module wires the asset manager into the module system.
type Module struct {
	db       *gorm.DB
	eventBus events.EventBus
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
func (m *Module) Core() bool   { return true }

// Migrate creates the asset table.
func (m *Module) Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&database.MediaAsset{})
}

// Init builds the manager and publishes the asset service.
func (m *Module) Init() error {
	if m.db == nil {
		m.db = database.GetDB()
	}
	if m.eventBus == nil {
		m.eventBus = events.GetGlobalEventBus()
	}
	m.manager = NewManager(database.NewStore(m.db), parts.Default, m.eventBus, config.Get().Assets)
	services.RegisterService(services.ServiceAsset, services.AssetService(m.manager))
	return nil
}

// Manager exposes the asset manager to other modules.
func (m *Module) Manager() *Manager { return m.manager }

// RegisterRoutes mounts the image serving endpoint.
func (m *Module) RegisterRoutes(router *gin.Engine) {
	assets := router.Group("/api/v1/assets")
	assets.GET("/image/:itemID/:kind", m.handleImage)
}

// handleImage serves the stored artwork of an item, with ETag reuse so
// unchanged images cost a 304.
func (m *Module) handleImage(c *gin.Context) {
	itemID := c.Param("itemID")
	kind := c.Param("kind")

	reader, asset, err := m.manager.OpenAsset(c.Request.Context(), itemID, kind)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no such image"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer reader.Close()

	etag := `"` + asset.Hash + `"`
	if match := c.GetHeader("If-None-Match"); match == etag {
		c.Status(http.StatusNotModified)
		return
	}
	c.Header("ETag", etag)
	c.Header("Cache-Control", "public, max-age=86400")
	c.Header("Content-Length", strconv.FormatInt(asset.SizeBytes, 10))
	if asset.PlaceholderHash != "" {
		c.Header("X-Placeholder-Hash", asset.PlaceholderHash)
	}
	c.DataFromReader(http.StatusOK, asset.SizeBytes, "image/webp", reader, nil)
}
