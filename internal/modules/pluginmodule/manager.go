package pluginmodule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/events"
	"github.com/medley-tv/medley/internal/logger"
	"github.com/medley-tv/medley/internal/types"
)

// Plugin row statuses.
const (
	StatusEnabled  = "enabled"
	StatusDisabled = "disabled"
	StatusError    = "error"
)

// Manager reconciles discovered plugins against their database rows and
// drives the host from the enable/disable surface. The row is the
// durable intent; the host is what is actually running.
type Manager struct {
	db       *gorm.DB
	host     *Host
	eventBus events.EventBus
}

func NewManager(db *gorm.DB, host *Host, eventBus events.EventBus) *Manager {
	return &Manager{db: db, host: host, eventBus: eventBus}
}

// Sync upserts a row for every discovered manifest. New plugins install
// enabled; known plugins keep their stored status so a disable survives
// restarts and upgrades.
func (m *Manager) Sync(ctx context.Context, manifests []*Manifest) error {
	for _, manifest := range manifests {
		data, err := json.Marshal(manifest)
		if err != nil {
			return fmt.Errorf("encode manifest %s: %w", manifest.ID, err)
		}

		var row database.Plugin
		err = m.db.WithContext(ctx).Where("plugin_id = ?", manifest.ID).First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = database.Plugin{
				PluginID:     manifest.ID,
				Name:         manifest.Name,
				Version:      manifest.Version,
				Description:  manifest.Description,
				Author:       manifest.Author,
				Type:         manifest.Type,
				Status:       StatusEnabled,
				InstallPath:  m.host.Dir(manifest.ID),
				ManifestData: string(data),
				InstalledAt:  time.Now(),
			}
			if err := m.db.WithContext(ctx).Create(&row).Error; err != nil {
				return fmt.Errorf("install plugin %s: %w", manifest.ID, err)
			}
			logger.Info("installed plugin %s %s", manifest.ID, manifest.Version)
		case err != nil:
			return fmt.Errorf("load plugin row %s: %w", manifest.ID, err)
		default:
			updated := row.Name != manifest.Name ||
				row.Version != manifest.Version ||
				row.Description != manifest.Description ||
				row.Author != manifest.Author ||
				row.ManifestData != string(data)
			if updated {
				row.Name = manifest.Name
				row.Version = manifest.Version
				row.Description = manifest.Description
				row.Author = manifest.Author
				row.ManifestData = string(data)
				if err := m.db.WithContext(ctx).Save(&row).Error; err != nil {
					return fmt.Errorf("update plugin row %s: %w", manifest.ID, err)
				}
			}
		}
	}
	return nil
}

// StartEnabled launches every plugin whose row says enabled. A launch
// failure marks the row errored and moves on; one broken plugin never
// blocks the rest.
func (m *Manager) StartEnabled(ctx context.Context) {
	var rows []database.Plugin
	if err := m.db.WithContext(ctx).Where("status = ?", StatusEnabled).Find(&rows).Error; err != nil {
		logger.Error("list enabled plugins: %v", err)
		return
	}
	for i := range rows {
		row := &rows[i]
		if m.host.Manifest(row.PluginID) == nil {
			continue
		}
		if err := m.host.Launch(row.PluginID); err != nil {
			logger.Error("start plugin %s: %v", row.PluginID, err)
			m.markError(ctx, row, err)
			continue
		}
		if row.ErrorMessage != "" {
			row.ErrorMessage = ""
			if err := m.db.WithContext(ctx).Save(row).Error; err != nil {
				logger.Warn("clear plugin error for %s: %v", row.PluginID, err)
			}
		}
		m.publish(events.EventPluginLoaded, row.PluginID, "Plugin Loaded")
	}
}

// ListPlugins reports every installed plugin with its live run state.
func (m *Manager) ListPlugins(ctx context.Context) ([]types.PluginStatus, error) {
	var rows []database.Plugin
	if err := m.db.WithContext(ctx).Order("plugin_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list plugins: %w", err)
	}
	now := time.Now()
	out := make([]types.PluginStatus, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		out = append(out, types.PluginStatus{
			ID:        row.PluginID,
			Name:      row.Name,
			Version:   row.Version,
			Type:      row.Type,
			Enabled:   row.Status == StatusEnabled,
			Running:   m.host.Running(row.PluginID),
			LastError: row.ErrorMessage,
			CheckedAt: now,
		})
	}
	return out, nil
}

// EnablePlugin launches the plugin and records the enabled state. A
// failed launch leaves the row errored so the failure is visible on the
// plugin list.
func (m *Manager) EnablePlugin(ctx context.Context, pluginID string) error {
	row, err := m.row(ctx, pluginID)
	if err != nil {
		return err
	}
	if m.host.Manifest(pluginID) == nil {
		return types.NewPluginError(pluginID, types.ErrorCodePluginFailed,
			"plugin directory is gone; reinstall and restart", nil)
	}
	if err := m.host.Launch(pluginID); err != nil {
		m.markError(ctx, row, err)
		return types.NewPluginError(pluginID, types.ErrorCodePluginFailed, err.Error(), err)
	}
	now := time.Now()
	row.Status = StatusEnabled
	row.EnabledAt = &now
	row.ErrorMessage = ""
	if err := m.db.WithContext(ctx).Save(row).Error; err != nil {
		return fmt.Errorf("save plugin %s: %w", pluginID, err)
	}
	m.publish(events.EventPluginLoaded, pluginID, "Plugin Loaded")
	return nil
}

// DisablePlugin stops the plugin's process and records the disabled
// state. The agent registration stays; it just stops contributing.
func (m *Manager) DisablePlugin(ctx context.Context, pluginID string) error {
	row, err := m.row(ctx, pluginID)
	if err != nil {
		return err
	}
	m.host.Stop(pluginID)
	row.Status = StatusDisabled
	row.ErrorMessage = ""
	if err := m.db.WithContext(ctx).Save(row).Error; err != nil {
		return fmt.Errorf("save plugin %s: %w", pluginID, err)
	}
	m.publish(events.EventPluginUnloaded, pluginID, "Plugin Unloaded")
	return nil
}

func (m *Manager) row(ctx context.Context, pluginID string) (*database.Plugin, error) {
	var row database.Plugin
	err := m.db.WithContext(ctx).Where("plugin_id = ?", pluginID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewAppError(types.ErrorCodePluginNotFound, "plugin not found: "+pluginID, http.StatusNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load plugin %s: %w", pluginID, err)
	}
	return &row, nil
}

func (m *Manager) markError(ctx context.Context, row *database.Plugin, cause error) {
	row.Status = StatusError
	row.ErrorMessage = cause.Error()
	if err := m.db.WithContext(ctx).Save(row).Error; err != nil {
		logger.Warn("record plugin error for %s: %v", row.PluginID, err)
	}
	m.publish(events.EventPluginError, row.PluginID, "Plugin Error")
}

func (m *Manager) publish(eventType events.EventType, pluginID, title string) {
	if m.eventBus == nil {
		return
	}
	m.eventBus.PublishAsync(events.Event{
		ID:        fmt.Sprintf("%s-%s", eventType, pluginID),
		Type:      eventType,
		Source:    "module:plugins",
		Title:     title,
		Data:      map[string]interface{}{"plugin_id": pluginID},
		Priority:  events.PriorityNormal,
		Timestamp: time.Now(),
	})
}
