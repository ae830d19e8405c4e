// Package transcodemodule runs the ffmpeg side of playback: DASH
// transcode jobs supervised by a single reconciler, request-scoped
// remux streams, and the seek-reload manifest routes. At most one job
// runs per session and part; jobs whose session stops pinging are
// reaped and their output directories removed with them.
package transcodemodule

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/medley-tv/medley/internal/config"
	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/events"
	"github.com/medley-tv/medley/internal/ffmpeg"
	"github.com/medley-tv/medley/internal/logger"
	"github.com/medley-tv/medley/internal/modules/modulemanager"
	"github.com/medley-tv/medley/internal/services"
	"github.com/medley-tv/medley/internal/types"
	"github.com/medley-tv/medley/internal/utils"
)

func init() {
	Register()
}

const (
	ModuleID   = "system.transcode"
	ModuleName = "Transcode"
)

// Module wires the transcode supervisor into the module system.
type Module struct {
	db       *gorm.DB
	eventBus events.EventBus
	cfg      *config.Config
	manager  *Manager
	ffmpeg   *ffmpeg.Client

	// Optional, injected after init: used to floor seeks onto the
	// cached keyframe index.
	playback services.PlaybackService
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

// Migrate creates the transcode job table.
func (m *Module) Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&database.TranscodeJob{})
}

// Init sweeps leftovers from the previous run, verifies hardware
// encoding, and publishes the transcode service.
func (m *Module) Init() error {
	if m.db == nil {
		m.db = database.GetDB()
	}
	if m.eventBus == nil {
		m.eventBus = events.GetGlobalEventBus()
	}
	m.cfg = config.Get()
	m.ffmpeg = ffmpeg.New()
	if err := os.MkdirAll(m.cfg.Transcode.OutputDir, 0o755); err != nil {
		return fmt.Errorf("creating transcode output root: %w", err)
	}
	m.manager = NewManager(database.NewStore(m.db), m.cfg, m.eventBus, m.ffmpeg)
	m.manager.SweepOrphans(context.Background())
	m.manager.VerifyHardware(context.Background())
	services.RegisterService(services.ServiceTranscode, services.TranscodeService(m.manager))
	return nil
}

// PostInit picks up the playback service for keyframe-aligned seeks.
func (m *Module) PostInit() error {
	if playback, err := services.GetService[services.PlaybackService](services.ServicePlayback); err == nil {
		m.playback = playback
	}
	return nil
}

// Shutdown kills every running job.
func (m *Module) Shutdown(ctx context.Context) error {
	if m.manager != nil {
		m.manager.Shutdown()
	}
	return nil
}

// Manager exposes the supervisor to other modules.
func (m *Module) Manager() *Manager { return m.manager }

// RegisterRoutes mounts the remux and DASH streaming routes. They
// share the /part/:id prefix with the playback module, so the param
// name must stay :id.
func (m *Module) RegisterRoutes(router *gin.Engine) {
	part := router.Group("/api/v1/playback/part/:id")
	part.GET("/remux-seek.mp4", m.handleRemux("mp4"))
	part.GET("/remux-seek.mkv", m.handleRemux("mkv"))
	part.GET("/remux-seek.webm", m.handleRemux("webm"))
	part.GET("/remux-seek.ts", m.handleRemux("ts"))
	part.GET("/dash/manifest.mpd", m.handleManifest)
	part.GET("/dash/:segment", m.handleSegment)
	part.GET("/dash-seek/manifest.mpd", m.handleDashSeek)
}

// handleRemux streams a container rewrite of the part. The ffmpeg
// process lives exactly as long as the request: client gone, remux
// killed.
func (m *Module) handleRemux(container string) gin.HandlerFunc {
	return func(c *gin.Context) {
		part, ok := m.loadPart(c)
		if !ok {
			return
		}
		seekMs, err := strconv.ParseInt(c.DefaultQuery("seekMs", "0"), 10, 64)
		if err != nil || seekMs < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid seekMs"})
			return
		}

		cmd := exec.Command(m.ffmpeg.FFmpegPath(), remuxArgs(part.File, seekMs, container)...)
		ffmpeg.SetProcessGroup(cmd)
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		tail := &tailBuffer{limit: 2048}
		cmd.Stderr = tail
		if err := cmd.Start(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "starting remux: " + err.Error()})
			return
		}
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-c.Request.Context().Done():
				_ = ffmpeg.KillProcessGroup(cmd)
			case <-done:
			}
		}()

		logger.Info("▶️ remux part %s as %s seek=%dms", part.ID, container, seekMs)
		c.Header("Content-Type", utils.GetMediaContentType(container))
		c.Header("Cache-Control", "no-cache")
		c.Status(http.StatusOK)
		if _, err := io.Copy(c.Writer, stdout); err != nil {
			logger.Debug("remux of part %s ended early: %v", part.ID, err)
		}
		if err := cmd.Wait(); err != nil && c.Request.Context().Err() == nil {
			logger.Warn("remux of part %s: %v (%s)", part.ID, err, strings.TrimSpace(tail.String()))
		}
	}
}

// handleManifest serves the DASH manifest of the part's newest job,
// waiting out the ffmpeg startup window when the job just launched.
func (m *Module) handleManifest(c *gin.Context) {
	job, ok := m.findJob(c)
	if !ok {
		return
	}
	m.serveManifest(c, job, -1)
}

// handleDashSeek restarts the part's transcode from a keyframe at or
// before the requested position and serves the fresh manifest. The
// actual start offset goes back in X-Dash-Start-Time-Ms, rounded down
// to a segment boundary so the player's timeline math lines up.
func (m *Module) handleDashSeek(c *gin.Context) {
	seekMs, err := strconv.ParseInt(c.DefaultQuery("seekMs", "0"), 10, 64)
	if err != nil || seekMs < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid seekMs"})
		return
	}
	job, ok := m.findJob(c)
	if !ok {
		return
	}

	partID := c.Param("id")
	floorMs := seekMs
	if m.playback != nil {
		if res, err := m.playback.SeekToKeyframe(c.Request.Context(), partID, seekMs); err == nil {
			floorMs = res.SeekTimeMs
		}
	}

	target := types.TranscodeTarget{
		Container:        job.Container,
		VideoCodec:       job.VideoCodec,
		AudioCodec:       job.AudioCodec,
		VideoBitrateKbps: job.VideoBitrateKbps,
		AudioBitrateKbps: job.AudioBitrateKbps,
		Width:            job.Width,
		Height:           job.Height,
		AudioChannels:    job.AudioChannels,
		SeekMs:           floorMs,
		ToneMapping:      job.ToneMapping,
	}
	fresh, err := m.manager.Start(c.Request.Context(), job.SessionID, partID, target)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	segMs := int64(m.manager.segmentSeconds()) * 1000
	m.serveManifest(c, fresh, floorMs-floorMs%segMs)
}

// handleSegment serves one DASH segment from the job's output dir.
func (m *Module) handleSegment(c *gin.Context) {
	name := c.Param("segment")
	if name != filepath.Base(name) || strings.Contains(name, "..") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad segment name"})
		return
	}
	job, ok := m.findJob(c)
	if !ok {
		return
	}
	path := filepath.Join(job.OutputDir, name)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "segment not found"})
		return
	}
	if strings.HasSuffix(name, ".m4s") {
		c.Header("Content-Type", "video/iso.segment")
	}
	c.Header("Cache-Control", "no-cache")
	c.File(path)
}

func (m *Module) serveManifest(c *gin.Context, job *database.TranscodeJob, startMs int64) {
	manifest := filepath.Join(job.OutputDir, "manifest.mpd")
	if !m.waitForFile(c.Request.Context(), manifest) {
		c.JSON(http.StatusNotFound, gin.H{"error": "manifest not ready"})
		return
	}
	if startMs >= 0 {
		c.Header("X-Dash-Start-Time-Ms", strconv.FormatInt(startMs, 10))
	}
	c.Header("Content-Type", "application/dash+xml")
	c.Header("Cache-Control", "no-cache")
	c.File(manifest)
}

// waitForFile polls for ffmpeg's first manifest write. The launch
// timeout bounds the wait.
func (m *Module) waitForFile(ctx context.Context, path string) bool {
	deadline := time.Now().Add(m.cfg.Transcode.LaunchTimeout)
	for {
		if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (m *Module) loadPart(c *gin.Context) (*database.MediaPart, bool) {
	part, err := database.NewStore(m.db).GetPart(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "part not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return nil, false
	}
	return part, true
}

// findJob resolves the newest job for the part. Stream URLs carry only
// the part id; when two sessions transcode the same part the newest
// job wins.
func (m *Module) findJob(c *gin.Context) (*database.TranscodeJob, bool) {
	job, err := database.NewStore(m.db).FindJobForPart(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no transcode job for part"})
		return nil, false
	}
	return job, true
}
