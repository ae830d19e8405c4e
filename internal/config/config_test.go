package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, "en", cfg.Library.PreferredMetadataLanguage)
	assert.Equal(t, "SeasonEpisode", cfg.Library.EpisodeSortOrder)
	assert.Equal(t, 20, cfg.Playback.PlaylistChunkSize)
	assert.Equal(t, 3, cfg.Playback.ExpiryDays)
	assert.Equal(t, 60*time.Second, cfg.Transcode.HeartbeatTimeout)
	assert.Equal(t, 10*time.Second, cfg.Transcode.LaunchTimeout)
	assert.Equal(t, 500, cfg.Scanner.CheckpointItems)
	assert.Equal(t, 30*time.Second, cfg.Scanner.CheckpointInterval)
	assert.Equal(t, 200, cfg.Scanner.SeenPathBatchSize)
	assert.False(t, cfg.Jobs.Enabled)
}

func TestConfigManager_LoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "medley.yaml")

	yamlContent := `
server:
  port: 9090
library:
  preferred_metadata_language: de
  episode_sort_order: AirDate
playback:
  playlist_chunk_size: 50
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0644))

	cm := NewConfigManager()
	require.NoError(t, cm.LoadConfig(path))

	cfg := cm.GetConfig()
	assert.Equal(t, 9090, cfg.Server.Port, "file value should survive env/default overlay")
	assert.Equal(t, "de", cfg.Library.PreferredMetadataLanguage)
	assert.Equal(t, "AirDate", cfg.Library.EpisodeSortOrder)
	assert.Equal(t, 50, cfg.Playback.PlaylistChunkSize)

	// Untouched values keep defaults
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, 200, cfg.Scanner.SeenPathBatchSize)
}

func TestConfigManager_EnvOverride(t *testing.T) {
	t.Setenv("MEDLEY_PORT", "7070")
	t.Setenv("MEDLEY_SUBTITLE_LANGUAGES", "ger, eng ,jpn")

	cm := NewConfigManager()
	require.NoError(t, cm.LoadConfig(""))

	cfg := cm.GetConfig()
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, []string{"ger", "eng", "jpn"}, cfg.Library.PreferredSubtitleLanguages)
}

func TestConfigManager_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = -1 }},
		{"bad db type", func(c *Config) { c.Database.Type = "oracle" }},
		{"bad episode order", func(c *Config) { c.Library.EpisodeSortOrder = "Alphabetical" }},
		{"bad chunk size", func(c *Config) { c.Playback.PlaylistChunkSize = 0 }},
		{"bad expiry", func(c *Config) { c.Playback.ExpiryDays = 0 }},
	}

	cm := NewConfigManager()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cm.validateConfig(cfg))
		})
	}

	assert.NoError(t, cm.validateConfig(DefaultConfig()))
}

func TestConfigManager_DerivedPaths(t *testing.T) {
	cm := NewConfigManager()
	cfg := DefaultConfig()
	cfg.Database.DataDir = "/srv/medley"

	cm.applyDerivedConfig(cfg)

	assert.Equal(t, "/srv/medley/medley.db", cfg.Database.DatabasePath)
	assert.Equal(t, "/srv/medley/media", cfg.Assets.MediaDir)
	assert.Equal(t, "/srv/medley/transcode", cfg.Transcode.OutputDir)
	assert.GreaterOrEqual(t, cfg.Scanner.WorkerCount, 4, "worker floor is 4")
}

func TestConfigManager_Watchers(t *testing.T) {
	cm := NewConfigManager()

	changed := make(chan struct{}, 1)
	cm.AddWatcher(func(oldConfig, newConfig *Config) {
		changed <- struct{}{}
	})

	require.NoError(t, cm.LoadConfig(""))

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher was not notified of config change")
	}
}
