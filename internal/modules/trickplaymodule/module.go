// Package trickplaymodule builds and serves the thumbnail indexes
// behind timeline scrubbing. Indexes are BIF files in the sharded
// media tree; generation samples one frame per interval with ffmpeg
// and runs as a background job after scans.
package trickplaymodule

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/medley-tv/medley/internal/config"
	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/events"
	"github.com/medley-tv/medley/internal/ffmpeg"
	"github.com/medley-tv/medley/internal/logger"
	"github.com/medley-tv/medley/internal/modules/modulemanager"
	"github.com/medley-tv/medley/internal/modules/trickplaymodule/bif"
	"github.com/medley-tv/medley/internal/services"
	"github.com/medley-tv/medley/internal/types"
)

func init() {
	Register()
}

const (
	ModuleID   = "system.trickplay"
	ModuleName = "Trickplay"
)

// Module wires the trickplay manager into the module system.
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

// Migrate is a no-op; indexes live on disk, not in tables.
func (m *Module) Migrate(db *gorm.DB) error {
	return nil
}

// Init builds the manager and publishes the trickplay service.
func (m *Module) Init() error {
	if m.db == nil {
		m.db = database.GetDB()
	}
	if m.eventBus == nil {
		m.eventBus = events.GetGlobalEventBus()
	}
	cfg := config.Get()
	m.manager = NewManager(
		database.NewStore(m.db),
		bif.NewStore(cfg.Assets.MediaDir),
		m.eventBus,
		ffmpeg.New(),
		cfg.Transcode,
	)
	services.RegisterService(services.ServiceTrickplay, services.TrickplayService(m.manager))
	return nil
}

// PostInit wires the job queue, which initializes alongside us, and
// queues index builds whenever a scan lands.
func (m *Module) PostInit() error {
	jobs, err := services.GetService[services.JobService](services.ServiceJobs)
	if err != nil {
		logger.Warn("trickplay running without job queue; indexes build only on explicit request")
		return nil
	}
	filter := events.EventFilter{Types: []events.EventType{events.EventScanCompleted}}
	_, err = m.eventBus.Subscribe(context.Background(), filter, func(event events.Event) error {
		if sectionID, ok := event.Data["library_id"].(string); ok && sectionID != "" {
			m.manager.QueueMissing(context.Background(), sectionID, jobs)
		}
		return nil
	})
	return err
}

// Manager exposes the trickplay manager to other modules.
func (m *Module) Manager() *Manager { return m.manager }

// RegisterRoutes mounts the index and single-thumbnail routes. They
// share the /part/:id prefix with the playback module, so the param
// name must stay :id.
func (m *Module) RegisterRoutes(router *gin.Engine) {
	part := router.Group("/api/v1/playback/part/:id")
	part.GET("/trickplay.bif", m.handleIndex)
	part.GET("/trickplay/:frame", m.handleFrame)
}

// handleIndex serves a part's whole BIF file; scrubbing UIs that want
// the full strip fetch this once and index it client-side.
func (m *Module) handleIndex(c *gin.Context) {
	metadataItemID, partIndex, ok := m.resolvePart(c)
	if !ok {
		return
	}
	path := m.manager.IndexPath(metadataItemID, partIndex)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no thumbnail index for part"})
		return
	}
	c.Header("Cache-Control", "public, max-age=3600")
	c.Header("Content-Type", "application/octet-stream")
	c.File(path)
}

// handleFrame serves one thumbnail, addressed as "<index>.jpg".
func (m *Module) handleFrame(c *gin.Context) {
	name, found := strings.CutSuffix(c.Param("frame"), ".jpg")
	frameIndex, err := strconv.Atoi(name)
	if !found || err != nil || frameIndex < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "frame must look like 12.jpg"})
		return
	}

	metadataItemID, partIndex, ok := m.resolvePart(c)
	if !ok {
		return
	}
	img, timestampMs, err := m.manager.ReadFrame(c.Request.Context(), metadataItemID, partIndex, frameIndex)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=3600")
	c.Header("X-Timestamp-Ms", strconv.FormatInt(timestampMs, 10))
	c.Data(http.StatusOK, "image/jpeg", img)
}

// resolvePart maps the part id in the URL onto the index key: the
// owning metadata item plus the part's position within its media item.
func (m *Module) resolvePart(c *gin.Context) (metadataItemID string, partIndex int, ok bool) {
	store := m.manager.store
	part, err := store.GetPart(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "part not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return "", 0, false
	}
	media, err := store.GetMediaItem(c.Request.Context(), part.MediaItemID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return "", 0, false
	}
	return media.MetadataItemID, part.PartIndex, true
}

func respondError(c *gin.Context, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, gin.H{"error": appErr.Message, "code": appErr.Code})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
