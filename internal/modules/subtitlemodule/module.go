package subtitlemodule

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/ffmpeg"
	"github.com/medley-tv/medley/internal/modules/modulemanager"
	"github.com/medley-tv/medley/internal/services"
	"github.com/medley-tv/medley/internal/types"
)

func init() {
	Register()
}

const (
	ModuleID   = "system.subtitles"
	ModuleName = "Subtitles"
)

// Module wires the subtitle manager into the module system.
type Module struct {
	db      *gorm.DB
	manager *Manager
}

func NewModule(db *gorm.DB) *Module {
	return &Module{db: db}
}

// Register registers the module with the global registry.
func Register() {
	modulemanager.Register(NewModule(database.GetDB()))
}

func (m *Module) ID() string   { return ModuleID }
func (m *Module) Name() string { return ModuleName }
func (m *Module) Core() bool   { return true }

// Migrate is a no-op; subtitle state lives in the media stream tables
// owned by the media module.
func (m *Module) Migrate(db *gorm.DB) error {
	return nil
}

// Init builds the manager and publishes the subtitle service.
func (m *Module) Init() error {
	if m.db == nil {
		m.db = database.GetDB()
	}
	m.manager = NewManager(database.NewStore(m.db), ffmpeg.New())
	services.RegisterService(services.ServiceSubtitle, services.SubtitleService(m.manager))
	return nil
}

// Manager exposes the subtitle manager to other modules.
func (m *Module) Manager() *Manager { return m.manager }

// RegisterRoutes mounts the stream delivery route. It shares the
// /part/:id prefix with the playback module, so the param name must
// stay :id.
func (m *Module) RegisterRoutes(router *gin.Engine) {
	part := router.Group("/api/v1/playback/part/:id")
	part.GET("/subtitles/:stream", m.handleStream)
}

// handleStream serves one subtitle stream, addressed as
// "<streamIndex>.<format>" with an optional ?startTicks=&endTicks=
// window for mid-stream joins.
func (m *Module) handleStream(c *gin.Context) {
	idxStr, format, found := strings.Cut(c.Param("stream"), ".")
	streamIndex, err := strconv.Atoi(idxStr)
	if !found || err != nil || streamIndex < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subtitle path must look like 2.vtt"})
		return
	}
	if _, ok := formatByName(format); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown subtitle format %q", format)})
		return
	}
	startTicks, err := tickParam(c, "startTicks")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	endTicks, err := tickParam(c, "endTicks")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rc, err := m.manager.ExtractEmbedded(c.Request.Context(), c.Param("id"), streamIndex, format)
	if err != nil {
		respondError(c, err)
		return
	}
	defer rc.Close()

	var body io.Reader = rc
	if startTicks != nil || endTicks != nil {
		body, err = m.manager.Convert(c.Request.Context(), rc, format, format, startTicks, endTicks)
		if err != nil {
			respondError(c, err)
			return
		}
	}
	c.DataFromReader(http.StatusOK, -1, subtitleMIME(format), body, nil)
}

func tickParam(c *gin.Context, name string) (*int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return nil, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return &v, nil
}

func subtitleMIME(format string) string {
	switch strings.ToLower(format) {
	case "vtt", "webvtt":
		return "text/vtt; charset=utf-8"
	case "srt", "subrip":
		return "application/x-subrip"
	case "ass", "ssa":
		return "text/x-ssa"
	case "ttml":
		return "application/ttml+xml"
	case "smi", "sami":
		return "application/x-sami"
	default:
		return "text/plain; charset=utf-8"
	}
}

func respondError(c *gin.Context, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, gin.H{"error": appErr.Message, "code": appErr.Code})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
