// Package jobmodule owns background work: an asynq queue over redis for
// trickplay, artwork, metadata refresh and scan tasks, cron schedules
// for periodic scans and nightly cleanup, and an inline bounded pool
// when redis is not configured.
package jobmodule

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"github.com/medley-tv/medley/internal/config"
	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/logger"
	"github.com/medley-tv/medley/internal/modules/modulemanager"
	"github.com/medley-tv/medley/internal/services"
)

func init() {
	Register()
}

const (
	ModuleID   = "system.jobs"
	ModuleName = "Jobs"
)

// Module wires the job manager into the module system.
type Module struct {
	db       *gorm.DB
	manager  *Manager
	startErr error
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

// Migrate is a no-op; job state lives in redis, not the database.
func (m *Module) Migrate(db *gorm.DB) error { return nil }

// Init builds the manager and publishes the job service.
func (m *Module) Init() error {
	if m.db == nil {
		m.db = database.GetDB()
	}
	m.manager = NewManager(database.NewStore(m.db), config.Get())
	services.RegisterService(services.ServiceJobs, services.JobService(m.manager))
	return nil
}

// PostInit injects the worker targets, which initialize alongside us,
// and starts the queue and schedules.
func (m *Module) PostInit() error {
	if scanner, err := services.GetService[services.ScannerService](services.ServiceScanner); err == nil {
		m.manager.SetScannerService(scanner)
	}
	if trickplay, err := services.GetService[services.TrickplayService](services.ServiceTrickplay); err == nil {
		m.manager.SetTrickplayService(trickplay)
	}
	if assets, err := services.GetService[services.AssetService](services.ServiceAsset); err == nil {
		m.manager.SetAssetService(assets)
	}
	if metadata, err := services.GetService[services.MetadataService](services.ServiceMetadata); err == nil {
		m.manager.SetMetadataService(metadata)
	}
	if err := m.manager.Start(); err != nil {
		// A dead redis should not take the whole server down with it.
		logger.Error("job queue unavailable, background work disabled: %v", err)
		m.startErr = err
	}
	return nil
}

// HealthCheck reports broker reachability. Inline mode has no external
// dependency and always passes.
func (m *Module) HealthCheck(ctx context.Context) modulemanager.HealthStatus {
	status := modulemanager.HealthStatus{
		Status:      modulemanager.HealthStateHealthy,
		LastChecked: time.Now(),
	}
	if m.manager == nil {
		status.Status = modulemanager.HealthStateUnknown
		status.Message = "job manager not initialized"
		return status
	}
	if m.startErr != nil {
		status.Status = modulemanager.HealthStateDegraded
		status.Message = "background work disabled: " + m.startErr.Error()
		return status
	}
	if err := m.manager.PingBroker(ctx); err != nil {
		status.Status = modulemanager.HealthStateUnhealthy
		status.Message = "redis: " + err.Error()
	}
	return status
}

// Shutdown drains workers and stops the schedules.
func (m *Module) Shutdown(ctx context.Context) error {
	if m.manager != nil {
		m.manager.Shutdown()
	}
	return nil
}

// Manager exposes the job manager to other modules.
func (m *Module) Manager() *Manager { return m.manager }

// RegisterRoutes mounts the queue introspection endpoint.
func (m *Module) RegisterRoutes(router *gin.Engine) {
	jobs := router.Group("/api/v1/jobs")
	jobs.GET("/stats", m.handleStats)
}

func (m *Module) handleStats(c *gin.Context) {
	stats, err := m.manager.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// QueueStat is one queue's live counters.
type QueueStat struct {
	Queue   string `json:"queue"`
	Size    int    `json:"size"`
	Pending int    `json:"pending"`
	Active  int    `json:"active"`
	Retry   int    `json:"retry"`
}

// Stats describes the queue backend and its load.
type Stats struct {
	Mode     string      `json:"mode"` // redis or inline
	InFlight int         `json:"in_flight,omitempty"`
	Queues   []QueueStat `json:"queues,omitempty"`
}

// Stats reports per-queue counters, or the in-flight count in inline
// mode.
func (m *Manager) Stats() (*Stats, error) {
	if m.client == nil {
		return &Stats{Mode: "inline", InFlight: m.inline.active()}, nil
	}
	inspector := asynq.NewInspector(m.redisOpt)
	defer inspector.Close()

	stats := &Stats{Mode: "redis"}
	for _, q := range []string{queueCritical, queueDefault, queueLow} {
		info, err := inspector.GetQueueInfo(q)
		if err != nil {
			// Queues do not exist until their first task lands.
			continue
		}
		stats.Queues = append(stats.Queues, QueueStat{
			Queue:   q,
			Size:    info.Size,
			Pending: info.Pending,
			Active:  info.Active,
			Retry:   info.Retry,
		})
	}
	return stats, nil
}
