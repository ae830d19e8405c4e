// Package playbackmodule answers the playback question: given an item
// and what the client can decode, serve the file raw, remux it, or
// transcode it. It owns playback sessions, the keyframe seek engine,
// and the direct file route; the transcode module serves the remux and
// DASH routes the decisions point at.
package playbackmodule

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
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
	"github.com/medley-tv/medley/internal/modules/playbackmodule/core"
	"github.com/medley-tv/medley/internal/services"
	"github.com/medley-tv/medley/internal/types"
	"github.com/medley-tv/medley/internal/utils"
)

func init() {
	Register()
}

const (
	ModuleID   = "system.playback"
	ModuleName = "Playback"
)

// Module wires the playback manager into the module system.
type Module struct {
	db       *gorm.DB
	eventBus events.EventBus
	manager  *core.Manager
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

// Migrate creates the session tables.
func (m *Module) Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&database.PlaybackSession{},
		&database.ClientProfile{},
	)
}

// Init builds the manager and publishes the playback service.
func (m *Module) Init() error {
	if m.db == nil {
		m.db = database.GetDB()
	}
	if m.eventBus == nil {
		m.eventBus = events.GetGlobalEventBus()
	}
	m.manager = core.NewManager(database.NewStore(m.db), config.Get(), m.eventBus, ffmpeg.New())
	services.RegisterService(services.ServicePlayback, services.PlaybackService(m.manager))
	return nil
}

// PostInit injects the services playback depends on. Both are optional:
// without the transcoder only direct play and remux decisions succeed,
// without playlists every item ends with action=stop.
func (m *Module) PostInit() error {
	if transcode, err := services.GetService[services.TranscodeService](services.ServiceTranscode); err == nil {
		m.manager.SetTranscodeService(transcode)
	} else {
		logger.Warn("playback running without transcode service; transcode decisions will fail")
	}
	if playlist, err := services.GetService[services.PlaylistService](services.ServicePlaylist); err == nil {
		m.manager.SetPlaylistService(playlist)
	}
	return nil
}

// Shutdown drains in-flight session requests.
func (m *Module) Shutdown(ctx context.Context) error {
	if m.manager != nil {
		m.manager.Shutdown()
	}
	return nil
}

// Manager exposes the playback manager to other modules.
func (m *Module) Manager() *core.Manager { return m.manager }

// RegisterRoutes mounts the decision, session and direct-file routes.
// The remux and DASH routes under the same part prefix belong to the
// transcode module.
func (m *Module) RegisterRoutes(router *gin.Engine) {
	playback := router.Group("/api/v1/playback")
	playback.POST("/decide", m.handleDecide)
	playback.POST("/heartbeat", m.handleHeartbeat)
	playback.GET("/sessions/:id", m.handleGetSession)
	playback.DELETE("/sessions/:id", m.handleStopSession)

	part := playback.Group("/part/:id")
	part.GET("/file", m.handleDirectFile)
	part.HEAD("/file", m.handleDirectFile)
	part.GET("/seek", m.handleSeek)
}

func (m *Module) handleDecide(c *gin.Context) {
	var req types.DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid decide request: " + err.Error()})
		return
	}
	resp, err := m.manager.Decide(c.Request.Context(), &req)
	if err != nil {
		c.JSON(decideStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleHeartbeat is the decide mutation restricted to live sessions:
// status updates, progress, ended and stopped all arrive here.
func (m *Module) handleHeartbeat(c *gin.Context) {
	var req types.DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid heartbeat: " + err.Error()})
		return
	}
	if req.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "playbackSessionId required"})
		return
	}
	if req.Status == "" {
		req.Status = "playing"
	}
	resp, err := m.manager.Decide(c.Request.Context(), &req)
	if err != nil {
		c.JSON(decideStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (m *Module) handleGetSession(c *gin.Context) {
	session, err := m.manager.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, core.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, session)
}

func (m *Module) handleStopSession(c *gin.Context) {
	if err := m.manager.StopSession(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, core.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

// handleDirectFile serves the raw part with range support. Direct play
// seeks are plain range requests, no server cooperation needed.
func (m *Module) handleDirectFile(c *gin.Context) {
	store := database.NewStore(m.db)
	part, err := store.GetPart(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "part not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ext := strings.TrimPrefix(filepath.Ext(part.File), ".")
	if err := utils.ServeFileWithRange(c.Writer, c.Request, part.File, utils.GetMediaContentType(ext)); err != nil {
		logger.Warn("direct play of part %s: %v", part.ID, err)
	}
}

func (m *Module) handleSeek(c *gin.Context) {
	targetMs, err := strconv.ParseInt(c.DefaultQuery("targetMs", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid targetMs"})
		return
	}
	result, err := m.manager.SeekToKeyframe(c.Request.Context(), c.Param("id"), targetMs)
	if err != nil {
		if errors.Is(err, core.ErrPartNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "part not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// decideStatus maps decision errors onto HTTP statuses.
func decideStatus(err error) int {
	switch {
	case errors.Is(err, core.ErrSessionNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrNoMedia):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrItemRequired),
		errors.Is(err, core.ErrClientRequired),
		errors.Is(err, core.ErrSessionRequired):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
