package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server" json:"server"`

	// Database configuration
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Library defaults (per-section settings override these)
	Library LibraryConfig `yaml:"library" json:"library"`

	// Scanner configuration
	Scanner ScannerConfig `yaml:"scanner" json:"scanner"`

	// Playback configuration
	Playback PlaybackConfig `yaml:"playback" json:"playback"`

	// Transcode configuration
	Transcode TranscodeConfig `yaml:"transcode" json:"transcode"`

	// Asset management configuration
	Assets AssetConfig `yaml:"assets" json:"assets"`

	// Background job configuration
	Jobs JobsConfig `yaml:"jobs" json:"jobs"`

	// Plugin configuration
	Plugins PluginConfig `yaml:"plugins" json:"plugins"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Performance configuration
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host           string        `yaml:"host" json:"host" env:"MEDLEY_HOST" default:"0.0.0.0"`
	Port           int           `yaml:"port" json:"port" env:"MEDLEY_PORT" default:"8080"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout" env:"MEDLEY_READ_TIMEOUT" default:"30s"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout" env:"MEDLEY_WRITE_TIMEOUT" default:"30s"`
	MaxHeaderBytes int           `yaml:"max_header_bytes" json:"max_header_bytes" env:"MEDLEY_MAX_HEADER_BYTES" default:"1048576"`
	EnableCORS     bool          `yaml:"enable_cors" json:"enable_cors" env:"MEDLEY_ENABLE_CORS" default:"true"`
	TrustedProxies []string      `yaml:"trusted_proxies" json:"trusted_proxies" env:"MEDLEY_TRUSTED_PROXIES"`
}

// DatabaseConfig holds database configuration for sqlite and postgres
type DatabaseConfig struct {
	Type            string        `yaml:"type" json:"type" env:"DATABASE_TYPE" default:"sqlite"`
	URL             string        `yaml:"url" json:"url" env:"DATABASE_URL"`
	Host            string        `yaml:"host" json:"host" env:"POSTGRES_HOST" default:"localhost"`
	Port            int           `yaml:"port" json:"port" env:"POSTGRES_PORT" default:"5432"`
	Username        string        `yaml:"username" json:"username" env:"POSTGRES_USER" default:"medley"`
	Password        string        `yaml:"password" json:"password" env:"POSTGRES_PASSWORD"`
	Database        string        `yaml:"database" json:"database" env:"POSTGRES_DB" default:"medley"`
	DataDir         string        `yaml:"data_dir" json:"data_dir" env:"MEDLEY_DATA_DIR" default:"/app/medley-data"`
	DatabasePath    string        `yaml:"database_path" json:"database_path" env:"MEDLEY_DATABASE_PATH"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" env:"DB_MAX_OPEN_CONNS" default:"100"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" default:"20"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME" default:"2h"`
	QueryTimeout    time.Duration `yaml:"query_timeout" json:"query_timeout" env:"DB_QUERY_TIMEOUT" default:"15s"`
	LogQueries      bool          `yaml:"log_queries" json:"log_queries" env:"DB_LOG_QUERIES" default:"false"`
}

// LibraryConfig holds system-wide library defaults. Each library section can
// override these through its own settings row.
type LibraryConfig struct {
	PreferredMetadataLanguage        string   `yaml:"preferred_metadata_language" json:"preferred_metadata_language" env:"MEDLEY_METADATA_LANGUAGE" default:"en"`
	MetadataAgentOrder               []string `yaml:"metadata_agent_order" json:"metadata_agent_order" env:"MEDLEY_AGENT_ORDER"`
	PreferredAudioLanguages          []string `yaml:"preferred_audio_languages" json:"preferred_audio_languages" env:"MEDLEY_AUDIO_LANGUAGES"`
	PreferredSubtitleLanguages       []string `yaml:"preferred_subtitle_languages" json:"preferred_subtitle_languages" env:"MEDLEY_SUBTITLE_LANGUAGES"`
	EpisodeSortOrder                 string   `yaml:"episode_sort_order" json:"episode_sort_order" env:"MEDLEY_EPISODE_SORT_ORDER" default:"SeasonEpisode"`
	HideSeasonsForSingleSeasonSeries bool     `yaml:"hide_seasons_for_single_season_series" json:"hide_seasons_for_single_season_series" env:"MEDLEY_HIDE_SINGLE_SEASONS" default:"false"`
	SoftDeleteGraceDays              int      `yaml:"soft_delete_grace_days" json:"soft_delete_grace_days" env:"MEDLEY_SOFT_DELETE_GRACE_DAYS" default:"7"`
}

// ScannerConfig holds scan pipeline configuration
type ScannerConfig struct {
	WorkerCount        int           `yaml:"worker_count" json:"worker_count" env:"MEDLEY_SCAN_WORKERS" default:"0"`
	ChannelBufferSize  int           `yaml:"channel_buffer_size" json:"channel_buffer_size" env:"MEDLEY_SCAN_BUFFER" default:"64"`
	SeenPathBatchSize  int           `yaml:"seen_path_batch_size" json:"seen_path_batch_size" env:"MEDLEY_SEEN_PATH_BATCH" default:"200"`
	CheckpointItems    int           `yaml:"checkpoint_items" json:"checkpoint_items" env:"MEDLEY_CHECKPOINT_ITEMS" default:"500"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval" json:"checkpoint_interval" env:"MEDLEY_CHECKPOINT_INTERVAL" default:"30s"`
	AgentTimeout       time.Duration `yaml:"agent_timeout" json:"agent_timeout" env:"MEDLEY_AGENT_TIMEOUT" default:"30s"`
	AutoScanEnabled    bool          `yaml:"auto_scan_enabled" json:"auto_scan_enabled" env:"MEDLEY_AUTO_SCAN" default:"false"`
	ScanSchedule       string        `yaml:"scan_schedule" json:"scan_schedule" env:"MEDLEY_SCAN_SCHEDULE" default:"0 3 * * *"`
	WatcherEnabled     bool          `yaml:"watcher_enabled" json:"watcher_enabled" env:"MEDLEY_WATCHER" default:"true"`
	WatcherDebounce    time.Duration `yaml:"watcher_debounce" json:"watcher_debounce" env:"MEDLEY_WATCHER_DEBOUNCE" default:"500ms"`
}

// PlaybackConfig holds playback session configuration
type PlaybackConfig struct {
	ExpiryDays           int           `yaml:"expiry_days" json:"expiry_days" env:"MEDLEY_PLAYBACK_EXPIRY_DAYS" default:"3"`
	PlaylistChunkSize    int           `yaml:"playlist_chunk_size" json:"playlist_chunk_size" env:"MEDLEY_PLAYLIST_CHUNK_SIZE" default:"20"`
	SessionCleanupPeriod time.Duration `yaml:"session_cleanup_period" json:"session_cleanup_period" env:"MEDLEY_SESSION_CLEANUP" default:"5m"`
	EndSuppressionWindow time.Duration `yaml:"end_suppression_window" json:"end_suppression_window" env:"MEDLEY_END_SUPPRESSION" default:"5s"`
}

// TranscodeConfig holds FFmpeg and transcode supervisor configuration
type TranscodeConfig struct {
	FFmpegPath              string        `yaml:"ffmpeg_path" json:"ffmpeg_path" env:"MEDLEY_FFMPEG_PATH" default:"ffmpeg"`
	FFprobePath             string        `yaml:"ffprobe_path" json:"ffprobe_path" env:"MEDLEY_FFPROBE_PATH" default:"ffprobe"`
	OutputDir               string        `yaml:"output_dir" json:"output_dir" env:"MEDLEY_TRANSCODE_DIR"`
	LaunchTimeout           time.Duration `yaml:"launch_timeout" json:"launch_timeout" env:"MEDLEY_FFMPEG_LAUNCH_TIMEOUT" default:"10s"`
	HeartbeatTimeout        time.Duration `yaml:"heartbeat_timeout" json:"heartbeat_timeout" env:"MEDLEY_TRANSCODE_HEARTBEAT" default:"60s"`
	SegmentDuration         time.Duration `yaml:"segment_duration" json:"segment_duration" env:"MEDLEY_SEGMENT_DURATION" default:"4s"`
	UseHardwareAcceleration bool          `yaml:"use_hardware_acceleration" json:"use_hardware_acceleration" env:"MEDLEY_HWACCEL" default:"false"`
	EnableToneMapping       bool          `yaml:"enable_tone_mapping" json:"enable_tone_mapping" env:"MEDLEY_TONE_MAPPING" default:"false"`
	TrickplayInterval       time.Duration `yaml:"trickplay_interval" json:"trickplay_interval" env:"MEDLEY_TRICKPLAY_INTERVAL" default:"10s"`
	TrickplayWidth          int           `yaml:"trickplay_width" json:"trickplay_width" env:"MEDLEY_TRICKPLAY_WIDTH" default:"320"`
}

// AssetConfig holds artwork storage configuration
type AssetConfig struct {
	MediaDir       string        `yaml:"media_dir" json:"media_dir" env:"MEDLEY_MEDIA_DIR"`
	MaxFileSize    int64         `yaml:"max_file_size" json:"max_file_size" env:"MEDLEY_MAX_ASSET_SIZE" default:"52428800"`
	DefaultQuality int           `yaml:"default_quality" json:"default_quality" env:"MEDLEY_ASSET_QUALITY" default:"90"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout" json:"fetch_timeout" env:"MEDLEY_ASSET_FETCH_TIMEOUT" default:"30s"`
}

// JobsConfig holds asynq/redis background job configuration
type JobsConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled" env:"MEDLEY_JOBS_ENABLED" default:"false"`
	RedisAddr     string `yaml:"redis_addr" json:"redis_addr" env:"MEDLEY_REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `yaml:"redis_password" json:"redis_password" env:"MEDLEY_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db" env:"MEDLEY_REDIS_DB" default:"0"`
	Concurrency   int    `yaml:"concurrency" json:"concurrency" env:"MEDLEY_JOBS_CONCURRENCY" default:"4"`
}

// PluginConfig holds external agent plugin configuration
type PluginConfig struct {
	PluginDir        string        `yaml:"plugin_dir" json:"plugin_dir" env:"MEDLEY_PLUGIN_DIR" default:"./data/plugins"`
	Enabled          bool          `yaml:"enabled" json:"enabled" env:"MEDLEY_PLUGINS_ENABLED" default:"true"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" json:"max_execution_time" env:"MEDLEY_PLUGIN_MAX_EXEC_TIME" default:"30s"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"MEDLEY_LOG_LEVEL" default:"info"`
	Format string `yaml:"format" json:"format" env:"MEDLEY_LOG_FORMAT" default:"json"`
	Output string `yaml:"output" json:"output" env:"MEDLEY_LOG_OUTPUT" default:"stdout"`
}

// PerformanceConfig holds resource thresholds for adaptive throttling
type PerformanceConfig struct {
	MaxConcurrentScans       int     `yaml:"max_concurrent_scans" json:"max_concurrent_scans" env:"MEDLEY_MAX_CONCURRENT_SCANS" default:"2"`
	MemoryThreshold          float64 `yaml:"memory_threshold" json:"memory_threshold" env:"MEDLEY_MEMORY_THRESHOLD" default:"85.0"`
	CPUThreshold             float64 `yaml:"cpu_threshold" json:"cpu_threshold" env:"MEDLEY_CPU_THRESHOLD" default:"80.0"`
	EnableAdaptiveThrottling bool    `yaml:"enable_adaptive_throttling" json:"enable_adaptive_throttling" env:"MEDLEY_ADAPTIVE_THROTTLING" default:"true"`
}

// ConfigManager manages application configuration with hot-reload support
type ConfigManager struct {
	config     *Config
	configPath string
	watchers   []ConfigWatcher
	mu         sync.RWMutex
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(oldConfig, newConfig *Config)

var (
	globalConfigManager *ConfigManager
	configOnce          sync.Once
)

// GetConfigManager returns the global configuration manager instance
func GetConfigManager() *ConfigManager {
	configOnce.Do(func() {
		globalConfigManager = NewConfigManager()
	})
	return globalConfigManager
}

// NewConfigManager creates a new configuration manager
func NewConfigManager() *ConfigManager {
	return &ConfigManager{
		config:   DefaultConfig(),
		watchers: make([]ConfigWatcher, 0),
	}
}

// DefaultConfig returns the default application configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			MaxHeaderBytes: 1 << 20, // 1MB
			EnableCORS:     true,
			TrustedProxies: []string{},
		},
		Database: DatabaseConfig{
			Type:            "sqlite",
			DataDir:         "/app/medley-data",
			MaxOpenConns:    100,
			MaxIdleConns:    20,
			ConnMaxLifetime: 2 * time.Hour,
			QueryTimeout:    15 * time.Second,
			LogQueries:      false,
		},
		Library: LibraryConfig{
			PreferredMetadataLanguage:        "en",
			MetadataAgentOrder:               []string{},
			PreferredAudioLanguages:          []string{"eng"},
			PreferredSubtitleLanguages:       []string{"eng"},
			EpisodeSortOrder:                 "SeasonEpisode",
			HideSeasonsForSingleSeasonSeries: false,
			SoftDeleteGraceDays:              7,
		},
		Scanner: ScannerConfig{
			WorkerCount:        0, // Auto-detect
			ChannelBufferSize:  64,
			SeenPathBatchSize:  200,
			CheckpointItems:    500,
			CheckpointInterval: 30 * time.Second,
			AgentTimeout:       30 * time.Second,
			AutoScanEnabled:    false,
			ScanSchedule:       "0 3 * * *",
			WatcherEnabled:     true,
			WatcherDebounce:    500 * time.Millisecond,
		},
		Playback: PlaybackConfig{
			ExpiryDays:           3,
			PlaylistChunkSize:    20,
			SessionCleanupPeriod: 5 * time.Minute,
			EndSuppressionWindow: 5 * time.Second,
		},
		Transcode: TranscodeConfig{
			FFmpegPath:              "ffmpeg",
			FFprobePath:             "ffprobe",
			LaunchTimeout:           10 * time.Second,
			HeartbeatTimeout:        60 * time.Second,
			SegmentDuration:         4 * time.Second,
			UseHardwareAcceleration: false,
			EnableToneMapping:       false,
			TrickplayInterval:       10 * time.Second,
			TrickplayWidth:          320,
		},
		Assets: AssetConfig{
			MaxFileSize:    50 * 1024 * 1024, // 50MB
			DefaultQuality: 90,
			FetchTimeout:   30 * time.Second,
		},
		Jobs: JobsConfig{
			Enabled:     false,
			RedisAddr:   "localhost:6379",
			RedisDB:     0,
			Concurrency: 4,
		},
		Plugins: PluginConfig{
			PluginDir:        "./data/plugins",
			Enabled:          true,
			MaxExecutionTime: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Performance: PerformanceConfig{
			MaxConcurrentScans:       2,
			MemoryThreshold:          85.0,
			CPUThreshold:             80.0,
			EnableAdaptiveThrottling: true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func (cm *ConfigManager) LoadConfig(configPath string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	oldConfig := *cm.config
	cm.configPath = configPath

	// Start with default configuration
	newConfig := DefaultConfig()

	// Load from file if it exists
	if configPath != "" && fileExists(configPath) {
		if err := cm.loadFromFile(configPath, newConfig); err != nil {
			return fmt.Errorf("failed to load config from file: %w", err)
		}
		log.Printf("✅ Configuration loaded from file: %s", configPath)
	}

	// Override with environment variables
	if err := cm.loadFromEnv(newConfig); err != nil {
		return fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Validate configuration
	if err := cm.validateConfig(newConfig); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// Apply derived configurations
	cm.applyDerivedConfig(newConfig)

	cm.config = newConfig

	// Notify watchers of config change
	for _, watcher := range cm.watchers {
		go watcher(&oldConfig, newConfig)
	}

	return nil
}

// GetConfig returns the current configuration (thread-safe)
func (cm *ConfigManager) GetConfig() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	// Return a copy to prevent external modifications
	configCopy := *cm.config
	return &configCopy
}

// AddWatcher adds a configuration change watcher
func (cm *ConfigManager) AddWatcher(watcher ConfigWatcher) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.watchers = append(cm.watchers, watcher)
}

// SaveConfig saves the current configuration to file
func (cm *ConfigManager) SaveConfig() error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.configPath == "" {
		return fmt.Errorf("no config path set")
	}

	return cm.saveToFile(cm.configPath, cm.config)
}

// Helper methods

func (cm *ConfigManager) loadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	case ".json":
		return json.Unmarshal(data, config)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
}

func (cm *ConfigManager) saveToFile(path string, config *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	var data []byte
	var err error

	switch ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	case ".json":
		data, err = json.MarshalIndent(config, "", "  ")
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func (cm *ConfigManager) loadFromEnv(config *Config) error {
	return loadStructFromEnv(reflect.ValueOf(config).Elem())
}

func loadStructFromEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		// Handle nested structs recursively
		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		defaultTag := fieldType.Tag.Get("default")

		envValue := os.Getenv(envTag)
		if envValue == "" && defaultTag != "" && field.IsZero() {
			envValue = defaultTag
		}

		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s: %w", fieldType.Name, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(intVal)
		}
	case reflect.Float32, reflect.Float64:
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatVal)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			values := strings.Split(value, ",")
			for i, v := range values {
				values[i] = strings.TrimSpace(v)
			}
			field.Set(reflect.ValueOf(values))
		} else if field.Type().Elem().Kind() == reflect.Int {
			stringValues := strings.Split(value, ",")
			intValues := make([]int, len(stringValues))
			for i, v := range stringValues {
				intVal, err := strconv.Atoi(strings.TrimSpace(v))
				if err != nil {
					return err
				}
				intValues[i] = intVal
			}
			field.Set(reflect.ValueOf(intValues))
		}
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}

func (cm *ConfigManager) validateConfig(config *Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.Type != "sqlite" && config.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", config.Database.Type)
	}

	switch config.Library.EpisodeSortOrder {
	case "AirDate", "SeasonEpisode", "Production":
	default:
		return fmt.Errorf("invalid episode sort order: %s", config.Library.EpisodeSortOrder)
	}

	if config.Scanner.WorkerCount < 0 {
		return fmt.Errorf("invalid worker count: %d", config.Scanner.WorkerCount)
	}

	if config.Playback.PlaylistChunkSize < 1 {
		return fmt.Errorf("invalid playlist chunk size: %d", config.Playback.PlaylistChunkSize)
	}

	if config.Playback.ExpiryDays < 1 {
		return fmt.Errorf("invalid playback expiry days: %d", config.Playback.ExpiryDays)
	}

	return nil
}

func (cm *ConfigManager) applyDerivedConfig(config *Config) {
	// Set derived database path if not explicitly set
	if config.Database.DatabasePath == "" && config.Database.Type == "sqlite" {
		config.Database.DatabasePath = filepath.Join(config.Database.DataDir, "medley.db")
	}

	// Set derived media dir (artwork + trickplay tree) if not explicitly set
	if config.Assets.MediaDir == "" {
		config.Assets.MediaDir = filepath.Join(config.Database.DataDir, "media")
	}

	// Set derived transcode output dir if not explicitly set
	if config.Transcode.OutputDir == "" {
		config.Transcode.OutputDir = filepath.Join(config.Database.DataDir, "transcode")
	}

	// Auto-detect worker count if not set: 2x CPU with a floor of 4
	if config.Scanner.WorkerCount == 0 {
		config.Scanner.WorkerCount = max(4, 2*runtime.NumCPU())
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Global convenience functions

// Get returns the current global configuration
func Get() *Config {
	return GetConfigManager().GetConfig()
}

// Load loads configuration from the specified path
func Load(configPath string) error {
	return GetConfigManager().LoadConfig(configPath)
}

// AddWatcher adds a global configuration watcher
func AddWatcher(watcher ConfigWatcher) {
	GetConfigManager().AddWatcher(watcher)
}

// Save saves the current configuration
func Save() error {
	return GetConfigManager().SaveConfig()
}
