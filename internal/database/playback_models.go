package database

import (
	"time"
)

// SessionState tracks what a playback session is currently doing
type SessionState string

const (
	SessionStatePlaying   SessionState = "playing"
	SessionStatePaused    SessionState = "paused"
	SessionStateBuffering SessionState = "buffering"
	SessionStateStopped   SessionState = "stopped"
)

// JobStatus is the transcode job state machine
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusFailed    JobStatus = "failed"
)

// =============================================================================
// PLAYBACK SESSION TABLES
// =============================================================================

// PlaybackSession is one client's playback of one item. Sessions expire
// when heartbeats stop; the reaper deletes them past ExpiresAt.
type PlaybackSession struct {
	ID       string `gorm:"type:varchar(36);primaryKey" json:"id"`
	ClientID string `gorm:"not null;index" json:"client_id"`

	MetadataItemID string  `gorm:"type:varchar(36);index" json:"metadata_item_id"`
	MediaPartID    *string `gorm:"type:varchar(36)" json:"media_part_id,omitempty"`
	GeneratorID    *string `gorm:"type:varchar(36);index" json:"generator_id,omitempty"`

	State      SessionState `gorm:"type:text;default:'playing'" json:"state"`
	PlayheadMs int64        `gorm:"default:0" json:"playhead_ms"`
	Decision   string       `json:"decision,omitempty"` // direct_play, direct_stream, transcode

	CapabilityProfile string `gorm:"type:text" json:"capability_profile"` // JSON snapshot of the client declaration
	ProfileVersion    int64  `gorm:"default:0" json:"profile_version"`

	LastHeartbeatAt time.Time `gorm:"index" json:"last_heartbeat_at"`
	ExpiresAt       time.Time `gorm:"index" json:"expires_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ClientProfile caches the last capability profile a client declared,
// with its monotonic version, so decisions can flag stale clients.
type ClientProfile struct {
	ClientID  string    `gorm:"primaryKey" json:"client_id"`
	Version   int64     `gorm:"not null;default:0" json:"version"`
	Profile   string    `gorm:"type:text" json:"profile"` // JSON capability declaration
	UpdatedAt time.Time `json:"updated_at"`
}

// =============================================================================
// PLAYLIST GENERATOR TABLES
// =============================================================================

// PlaylistGenerator materializes a deterministic play order from a seed.
// ShuffleState is opaque and persisted so reopened shuffles are stable.
type PlaylistGenerator struct {
	ID        string  `gorm:"type:varchar(36);primaryKey" json:"id"`
	SessionID *string `gorm:"type:varchar(36);index" json:"session_id,omitempty"`

	SeedJSON     string `gorm:"type:text;not null" json:"seed_json"`
	Cursor       int    `gorm:"default:0" json:"cursor"`
	Repeat       bool   `gorm:"default:false" json:"repeat"`
	Shuffle      bool   `gorm:"default:false" json:"shuffle"`
	ShuffleState string `json:"shuffle_state,omitempty"`
	ChunkSize    int    `gorm:"default:20" json:"chunk_size"`
	TotalCount   int    `gorm:"default:0" json:"total_count"`

	ExpiresAt    time.Time `gorm:"index" json:"expires_at"`
	LastAccessAt time.Time `json:"last_access_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PlaylistGeneratorItem is one materialized playlist position
type PlaylistGeneratorItem struct {
	ID          string `gorm:"type:varchar(36);primaryKey" json:"id"`
	GeneratorID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_generator_items_position" json:"generator_id"`
	SortOrder   int    `gorm:"not null;uniqueIndex:idx_generator_items_position" json:"sort_order"`

	MetadataItemID string  `gorm:"type:varchar(36);not null" json:"metadata_item_id"`
	MediaItemID    *string `gorm:"type:varchar(36)" json:"media_item_id,omitempty"`
	MediaPartID    *string `gorm:"type:varchar(36)" json:"media_part_id,omitempty"`

	Served bool   `gorm:"default:false" json:"served"` // True once a session actually played it
	Cohort string `json:"cohort,omitempty"`            // Opaque grouping tag respected by shuffle

	CreatedAt time.Time `json:"created_at"`
}

// =============================================================================
// TRANSCODE JOB TABLE
// =============================================================================

// TranscodeJob is one FFmpeg run bound to a session and a media part.
// Pending -> Running -> (Completed | Cancelled | Failed).
type TranscodeJob struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	SessionID   string    `gorm:"type:varchar(36);not null;index" json:"session_id"`
	MediaPartID string    `gorm:"type:varchar(36);not null;index" json:"media_part_id"`
	Status      JobStatus `gorm:"type:text;not null;default:'pending';index" json:"status"`

	// Effective transcode target
	Container        string `json:"container"` // dash, mp4, mkv
	VideoCodec       string `json:"video_codec"`
	AudioCodec       string `json:"audio_codec"`
	VideoBitrateKbps int    `json:"video_bitrate_kbps"`
	AudioBitrateKbps int    `json:"audio_bitrate_kbps"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	AudioChannels    int    `json:"audio_channels"`
	HardwareAccel    bool   `json:"hardware_accel"`
	ToneMapping      bool   `json:"tone_mapping"`

	SeekMs    int64  `gorm:"default:0" json:"seek_ms"` // Stream start offset for seek reloads
	OutputDir string `json:"output_dir"`
	PID       int    `gorm:"default:0" json:"pid"`

	Progress     float64 `gorm:"default:0" json:"progress"` // 0.0-100.0
	SpeedX       float64 `gorm:"default:0" json:"speed_x"`  // Encode speed relative to realtime
	ErrorMessage string  `json:"error_message,omitempty"`

	LastPingAt  time.Time  `gorm:"index" json:"last_ping_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsTerminal reports whether the job has reached a final state
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusCancelled || s == JobStatusFailed
}
