// Package playlistmodule owns play queues. A generator derives a
// deterministic ordering from its seed, persists it in chunks, and
// moves a server-side cursor so every client of a session agrees on
// what plays next.
package playlistmodule

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/medley-tv/medley/internal/config"
	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/events"
	"github.com/medley-tv/medley/internal/modules/modulemanager"
	"github.com/medley-tv/medley/internal/services"
	"github.com/medley-tv/medley/internal/types"
)

func init() {
	Register()
}

const (
	ModuleID   = "system.playlists"
	ModuleName = "Playlists"
)

// Module wires the playlist manager into the module system.
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

// Migrate creates the generator tables.
func (m *Module) Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&database.PlaylistGenerator{},
		&database.PlaylistGeneratorItem{},
	)
}

// Init builds the manager and publishes the playlist service the
// playback engine consults at end-of-item.
func (m *Module) Init() error {
	if m.db == nil {
		m.db = database.GetDB()
	}
	if m.eventBus == nil {
		m.eventBus = events.GetGlobalEventBus()
	}
	m.manager = NewManager(database.NewStore(m.db), config.Get(), m.eventBus)
	services.RegisterService(services.ServicePlaylist, services.PlaylistService(m.manager))
	return nil
}

// Shutdown stops the generator reaper.
func (m *Module) Shutdown(ctx context.Context) error {
	if m.manager != nil {
		m.manager.Shutdown()
	}
	return nil
}

// RegisterRoutes mounts the queue management routes.
func (m *Module) RegisterRoutes(router *gin.Engine) {
	playlists := router.Group("/api/v1/playlists")
	playlists.POST("", m.handleCreate)
	playlists.GET("/:id/chunk", m.handleChunk)
	playlists.POST("/:id/jump", m.handleJump)
	playlists.POST("/:id/next", m.handleNext)
	playlists.DELETE("/:id", m.handleDelete)
}

// createPlaylistRequest carries the seed plus the generator options.
type createPlaylistRequest struct {
	Seed      types.PlaylistSeed `json:"seed"`
	SessionID string             `json:"sessionId"`
	Shuffle   bool               `json:"shuffle"`
	Repeat    bool               `json:"repeat"`
	ChunkSize int                `json:"chunkSize"`
}

func (m *Module) handleCreate(c *gin.Context) {
	var req createPlaylistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid playlist request: " + err.Error()})
		return
	}
	chunk, err := m.manager.Create(c.Request.Context(), req.Seed, services.CreateGeneratorOptions{
		SessionID: req.SessionID,
		Shuffle:   req.Shuffle,
		Repeat:    req.Repeat,
		ChunkSize: req.ChunkSize,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, chunk)
}

func (m *Module) handleChunk(c *gin.Context) {
	start, err := strconv.Atoi(c.DefaultQuery("start", "0"))
	if err != nil || start < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	chunk, err := m.manager.Chunk(c.Request.Context(), c.Param("id"), start, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, chunk)
}

func (m *Module) handleJump(c *gin.Context) {
	var req struct {
		Index int `json:"index"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid jump request: " + err.Error()})
		return
	}
	if err := m.manager.JumpTo(c.Request.Context(), c.Param("id"), req.Index); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (m *Module) handleNext(c *gin.Context) {
	entry, err := m.manager.Next(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if entry == nil {
		c.JSON(http.StatusOK, gin.H{"exhausted": true})
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (m *Module) handleDelete(c *gin.Context) {
	if err := m.manager.DeleteGenerator(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func respondError(c *gin.Context, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, gin.H{"error": appErr.Message, "code": appErr.Code})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
