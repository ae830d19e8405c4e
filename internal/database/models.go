package database

import (
	"database/sql/driver"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ItemKind enumerates every metadata item type Medley can persist.
// A persisted item's kind never changes.
type ItemKind string

const (
	KindMovie             ItemKind = "movie"
	KindShow              ItemKind = "show"
	KindSeason            ItemKind = "season"
	KindEpisode           ItemKind = "episode"
	KindAlbumReleaseGroup ItemKind = "album_release_group"
	KindAlbumRelease      ItemKind = "album_release"
	KindAlbumMedium       ItemKind = "album_medium"
	KindTrack             ItemKind = "track"
	KindRecording         ItemKind = "recording"
	KindAudioWork         ItemKind = "audio_work"
	KindPhoto             ItemKind = "photo"
	KindPhotoAlbum        ItemKind = "photo_album"
	KindPicture           ItemKind = "picture"
	KindPictureSet        ItemKind = "picture_set"
	KindBookSeries        ItemKind = "book_series"
	KindEdition           ItemKind = "edition"
	KindEditionItem       ItemKind = "edition_item"
	KindLiteraryWork      ItemKind = "literary_work"
	KindGame              ItemKind = "game"
	KindGameRelease       ItemKind = "game_release"
	KindPerson            ItemKind = "person"
	KindGroup             ItemKind = "group"
	KindCollection        ItemKind = "collection"
	KindPlaylist          ItemKind = "playlist"
	KindTrailer           ItemKind = "trailer"
	KindClip              ItemKind = "clip"
	KindBehindTheScenes   ItemKind = "behind_the_scenes"
	KindDeletedScene      ItemKind = "deleted_scene"
	KindFeaturette        ItemKind = "featurette"
	KindInterview         ItemKind = "interview"
	KindScene             ItemKind = "scene"
	KindShortForm         ItemKind = "short_form"
	KindExtraOther        ItemKind = "extra_other"
	KindOptimizedVersion  ItemKind = "optimized_version"
)

// kindOrdinals assigns each kind a stable numeric identity used in
// dedup cache keys and external references. Never renumber.
var kindOrdinals = map[ItemKind]int{
	KindMovie:             1,
	KindShow:              2,
	KindSeason:            3,
	KindEpisode:           4,
	KindAlbumReleaseGroup: 5,
	KindAlbumRelease:      6,
	KindAlbumMedium:       7,
	KindTrack:             8,
	KindRecording:         9,
	KindAudioWork:         10,
	KindPhoto:             11,
	KindPhotoAlbum:        12,
	KindPicture:           13,
	KindPictureSet:        14,
	KindBookSeries:        15,
	KindEdition:           16,
	KindEditionItem:       17,
	KindLiteraryWork:      18,
	KindGame:              19,
	KindGameRelease:       20,
	KindPerson:            21,
	KindGroup:             22,
	KindCollection:        23,
	KindPlaylist:          24,
	KindTrailer:           25,
	KindClip:              26,
	KindBehindTheScenes:   27,
	KindDeletedScene:      28,
	KindFeaturette:        29,
	KindInterview:         30,
	KindScene:             31,
	KindShortForm:         32,
	KindExtraOther:        33,
	KindOptimizedVersion:  34,
}

// Ordinal returns the stable numeric identity of the kind, or 0 when unknown.
func (k ItemKind) Ordinal() int {
	return kindOrdinals[k]
}

// IsExtra reports whether the kind is a supplementary item that must
// reference an owner through a typed relation.
func (k ItemKind) IsExtra() bool {
	switch k {
	case KindTrailer, KindClip, KindBehindTheScenes, KindDeletedScene,
		KindFeaturette, KindInterview, KindScene, KindShortForm, KindExtraOther:
		return true
	}
	return false
}

// IsTelevision reports whether the kind belongs to the TV hierarchy.
func (k ItemKind) IsTelevision() bool {
	return k == KindShow || k == KindSeason || k == KindEpisode
}

func (k ItemKind) Value() (driver.Value, error) {
	return string(k), nil
}

func (k *ItemKind) Scan(value interface{}) error {
	if value == nil {
		*k = ""
		return nil
	}
	switch s := value.(type) {
	case string:
		*k = ItemKind(s)
	case []byte:
		*k = ItemKind(s)
	default:
		return fmt.Errorf("cannot scan %T into ItemKind", value)
	}
	return nil
}

// RelationType names a typed edge between two metadata items
type RelationType string

const (
	RelationTrailerPromotes    RelationType = "TrailerPromotesMetadata"
	RelationClipSupplements    RelationType = "ClipSupplementsMetadata"
	RelationPersonContributes  RelationType = "PersonContributesToMetadata"
	RelationGroupContributes   RelationType = "GroupContributesToMetadata"
	RelationCollectionContains RelationType = "CollectionContainsMetadata"
)

// StreamType distinguishes elementary streams within a media part
type StreamType string

const (
	StreamTypeVideo    StreamType = "video"
	StreamTypeAudio    StreamType = "audio"
	StreamTypeSubtitle StreamType = "subtitle"
)

// Library section types
const (
	LibraryTypeMovie   = "movie"
	LibraryTypeTV      = "tv"
	LibraryTypeMusic   = "music"
	LibraryTypePhoto   = "photo"
	LibraryTypePicture = "picture"
	LibraryTypeBook    = "book"
	LibraryTypeGame    = "game"
)

// ScanStatus tracks the lifecycle of a library scan
type ScanStatus string

const (
	ScanStatusQueued    ScanStatus = "queued"
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusPaused    ScanStatus = "paused"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusFailed    ScanStatus = "failed"
	ScanStatusCancelled ScanStatus = "cancelled"
)

// =============================================================================
// LIBRARY TABLES
// =============================================================================

// LibrarySection is a top-level library scope (Movies, TV, Music, ...)
// with its ordered root locations and per-section agent settings.
type LibrarySection struct {
	ID   string `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name string `gorm:"not null" json:"name"`
	Type string `gorm:"not null;index" json:"type"` // movie, tv, music, photo, picture, book, game

	Language                   string `gorm:"default:'en'" json:"language"` // Preferred metadata language (BCP-47)
	AgentOrder                 string `gorm:"type:text" json:"agent_order"` // JSON array of agent ids, overrides registry priority
	EpisodeSortOrder           string `json:"episode_sort_order"`           // AirDate, SeasonEpisode, Production
	HideSingleSeason           bool   `json:"hide_single_season"`           // Hide seasons for single-season series
	PreferredAudioLanguages    string `gorm:"type:text" json:"preferred_audio_languages"`
	PreferredSubtitleLanguages string `gorm:"type:text" json:"preferred_subtitle_languages"`

	Locations []SectionLocation `gorm:"foreignKey:LibrarySectionID" json:"locations,omitempty"`

	ScannedAt *time.Time `json:"scanned_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// SectionLocation is one root directory of a library section
type SectionLocation struct {
	ID               string `gorm:"type:varchar(36);primaryKey" json:"id"`
	LibrarySectionID string `gorm:"type:varchar(36);not null;index" json:"library_section_id"`
	RootPath         string `gorm:"not null" json:"root_path"`
	ListIndex        int    `gorm:"default:0" json:"list_index"`   // Position among the section's roots
	Available        bool   `gorm:"default:true" json:"available"` // False when the mount is missing

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// =============================================================================
// SCAN TABLES
// =============================================================================

// LibraryScan is one scan run over a section, with the resume cursor
// that makes the pipeline restartable after a crash.
type LibraryScan struct {
	ID               string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	LibrarySectionID string     `gorm:"type:varchar(36);not null;index" json:"library_section_id"`
	Status           ScanStatus `gorm:"type:text;not null;default:'queued';index" json:"status"`

	// Resume cursor. CheckpointVersion increments atomically with every
	// checkpoint write; writers holding an older version must abandon.
	CurrentStage      string     `json:"current_stage"` // directory_traversal, change_detection, ...
	ResumeCursor      string     `json:"resume_cursor"` // Stage-local cursor, a path for traversal
	CheckpointVersion int64      `gorm:"default:0" json:"checkpoint_version"`
	CheckpointAt      *time.Time `json:"checkpoint_at,omitempty"`

	ItemsSeen      int64  `gorm:"default:0" json:"items_seen"`
	ItemsProcessed int64  `gorm:"default:0" json:"items_processed"`
	ItemsUnchanged int64  `gorm:"default:0" json:"items_unchanged"`
	ErrorCount     int    `gorm:"default:0" json:"error_count"`
	ErrorMessage   string `json:"error_message,omitempty"`
	StatusMessage  string `json:"status_message,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	PausedAt    *time.Time `json:"paused_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ScanSeenPath records a path observed by a scan. The set is diffed
// against the library's known paths at reconcile time to find orphans.
type ScanSeenPath struct {
	ScanID    string    `gorm:"type:varchar(36);primaryKey" json:"scan_id"`
	FilePath  string    `gorm:"primaryKey" json:"file_path"`
	CreatedAt time.Time `json:"created_at"`
}

// =============================================================================
// METADATA TABLES
// =============================================================================

// MetadataItem is the central metadata node. Items form a tree through
// ParentID; physical files hang off MediaItem/MediaPart/MediaStream.
// The core navigates by id only, never by loaded object graphs.
type MetadataItem struct {
	ID               string   `gorm:"type:varchar(36);primaryKey" json:"id"`
	LibrarySectionID string   `gorm:"type:varchar(36);not null;index" json:"library_section_id"`
	ParentID         *string  `gorm:"type:varchar(36);index" json:"parent_id,omitempty"`
	Kind             ItemKind `gorm:"type:text;not null;index" json:"kind"`

	Title         string `gorm:"index" json:"title"`
	SortTitle     string `json:"sort_title"`
	OriginalTitle string `json:"original_title"`
	Summary       string `gorm:"type:text" json:"summary"`
	Tagline       string `json:"tagline"`

	ContentRating    string `json:"content_rating"`
	ContentRatingAge int    `json:"content_rating_age"` // Resolved minimum viewer age

	ReleaseDate *time.Time `json:"release_date"`
	Year        int        `gorm:"index" json:"year"` // Always recomputed from ReleaseDate when that is set

	ItemIndex     *int `json:"index,omitempty"`          // Position under the parent
	AbsoluteIndex *int `json:"absolute_index,omitempty"` // e.g. absolute episode numbering

	DurationMs int64 `json:"duration_ms"`

	// Artwork URIs with perceptual placeholder hashes
	ThumbURI   string `json:"thumb_uri"`
	ThumbHash  string `json:"thumb_hash"`
	ArtURI     string `json:"art_uri"`
	ArtHash    string `json:"art_hash"`
	BannerURI  string `json:"banner_uri"`
	BannerHash string `json:"banner_hash"`

	LockedFields string `gorm:"type:text" json:"locked_fields"` // JSON array of fields immune to refresh
	ExtraFields  string `gorm:"type:text" json:"extra_fields"`  // JSON object of admin-defined fields

	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ExternalIdentifier binds a metadata item to a provider-namespaced id,
// e.g. (musicbrainz_recording, d64f...). One value per provider per item.
type ExternalIdentifier struct {
	ID             string `gorm:"type:varchar(36);primaryKey" json:"id"`
	MetadataItemID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_external_ids_item_provider" json:"metadata_item_id"`
	Provider       string `gorm:"not null;uniqueIndex:idx_external_ids_item_provider;index:idx_external_ids_lookup" json:"provider"`
	Value          string `gorm:"not null;index:idx_external_ids_lookup" json:"value"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Reserved identity providers. Remote providers (imdb, tmdb, musicbrainz...)
// use their own names; these internal ones carry identities the scanner
// derives itself.
const (
	// ExternalProviderPath is the filesystem origin of an item. Parent
	// linking, extras relations and scan resume resolve through it.
	ExternalProviderPath = "path"

	// ExternalProviderSeason and ExternalProviderMedium key synthesized
	// containers as "<parentItemID>:<number>" so a folder-backed container
	// and a hint-synthesized one converge on the same row.
	ExternalProviderSeason = "season"
	ExternalProviderMedium = "medium"

	// ExternalProviderName identifies people and groups that carry no
	// provider id, by normalized name.
	ExternalProviderName = "name"
)

// MetadataRelation is a typed directed edge between two items, e.g. a
// trailer promoting its movie or a person credited on an episode.
type MetadataRelation struct {
	ID         string       `gorm:"type:varchar(36);primaryKey" json:"id"`
	FromItemID string       `gorm:"type:varchar(36);not null;index" json:"from_item_id"`
	ToItemID   string       `gorm:"type:varchar(36);not null;index" json:"to_item_id"`
	Type       RelationType `gorm:"type:text;not null;index" json:"type"`

	Role      string `json:"role,omitempty"` // actor, director, writer, ...
	As        string `json:"as,omitempty"`   // Character name for cast credits
	SortOrder int    `gorm:"default:0" json:"sort_order"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TagEdge attaches a genre or free-form tag to a metadata item.
// The unique index gives collection merges set-union semantics.
type TagEdge struct {
	ID             string `gorm:"type:varchar(36);primaryKey" json:"id"`
	MetadataItemID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_tag_edges_item_type_value" json:"metadata_item_id"`
	Type           string `gorm:"not null;uniqueIndex:idx_tag_edges_item_type_value" json:"type"` // genre, tag, label, mood
	Value          string `gorm:"not null;uniqueIndex:idx_tag_edges_item_type_value" json:"value"`

	CreatedAt time.Time `json:"created_at"`
}

// Tag edge types
const (
	TagTypeGenre = "genre"
	TagTypeTag   = "tag"
	TagTypeLabel = "label"
	TagTypeMood  = "mood"
)

// =============================================================================
// MEDIA TABLES
// =============================================================================

// MediaItem is one playable rendition of a metadata item with the
// aggregated technical summary used by the playback decision engine.
type MediaItem struct {
	ID               string `gorm:"type:varchar(36);primaryKey" json:"id"`
	MetadataItemID   string `gorm:"type:varchar(36);not null;index" json:"metadata_item_id"`
	LibrarySectionID string `gorm:"type:varchar(36);not null;index" json:"library_section_id"`

	Container     string  `json:"container"` // mkv, mp4, flac, ...
	VideoCodec    string  `json:"video_codec"`
	VideoProfile  string  `json:"video_profile"`
	AudioCodec    string  `json:"audio_codec"`
	AudioChannels int     `json:"audio_channels"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	AspectRatio   float64 `json:"aspect_ratio"`
	FrameRate     float64 `json:"frame_rate"`
	BitrateKbps   int     `json:"bitrate_kbps"`
	BitDepth      int     `json:"bit_depth"`
	HDRFormat     string  `json:"hdr_format"` // HDR10, DV, HLG, empty for SDR
	DurationMs    int64   `json:"duration_ms"`

	FileSizeBytes int64 `json:"file_size_bytes"` // Sum of part sizes, 0 when unknown
	IsDisc        bool  `json:"is_disc"`         // VIDEO_TS or BDMV structure

	Parts []MediaPart `gorm:"foreignKey:MediaItemID" json:"parts,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MediaPart is one physical file of a media item
type MediaPart struct {
	ID          string `gorm:"type:varchar(36);primaryKey" json:"id"`
	MediaItemID string `gorm:"type:varchar(36);not null;index" json:"media_item_id"`
	PartIndex   int    `gorm:"default:0" json:"part_index"` // Order within the media item (cd1, cd2, ...)

	Directory  string    `json:"directory"`
	File       string    `gorm:"not null;uniqueIndex" json:"file"` // Absolute path
	SizeBytes  int64     `gorm:"not null" json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
	Hash       string    `gorm:"index" json:"hash"`
	DurationMs int64     `json:"duration_ms"`

	// Keyframe timestamps in ms as a JSON array, built lazily by ffprobe
	// on the first seek against this part
	Keyframes string `gorm:"type:text" json:"keyframes,omitempty"`

	Streams []MediaStream `gorm:"foreignKey:MediaPartID" json:"streams,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MediaStream describes one elementary stream inside a part.
// External sidecar subtitles are subtitle streams with IsExternal set
// and File pointing at the sidecar path.
type MediaStream struct {
	ID          string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	MediaPartID string     `gorm:"type:varchar(36);not null;index" json:"media_part_id"`
	StreamType  StreamType `gorm:"type:text;not null;index" json:"stream_type"`
	StreamIndex int        `json:"stream_index"` // FFmpeg ordinal within the part

	Codec    string `json:"codec"`
	Language string `json:"language"`
	Title    string `json:"title,omitempty"`
	Profile  string `json:"profile,omitempty"`
	Level    int    `json:"level,omitempty"` // Codec level as reported by ffprobe (41 = 4.1)

	// Video
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	FrameRate      float64 `json:"frame_rate,omitempty"`
	BitDepth       int     `json:"bit_depth,omitempty"`
	PixelFormat    string  `json:"pixel_format,omitempty"`
	ColorSpace     string  `json:"color_space,omitempty"`
	ColorPrimaries string  `json:"color_primaries,omitempty"`
	ColorTransfer  string  `json:"color_transfer,omitempty"`
	HDRFormat      string  `json:"hdr_format,omitempty"`

	// Audio
	Channels   int `json:"channels,omitempty"`
	SampleRate int `json:"sample_rate,omitempty"`

	BitrateKbps int  `json:"bitrate_kbps,omitempty"`
	IsDefault   bool `gorm:"default:false" json:"is_default"`
	IsForced    bool `gorm:"default:false" json:"is_forced"`

	IsExternal bool   `gorm:"default:false" json:"is_external"`
	File       string `json:"file,omitempty"` // Sidecar path for external streams

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// =============================================================================
// ASSET TABLE
// =============================================================================

// MediaAsset is a stored artwork blob for a metadata item, addressed by
// content hash under the sharded media tree.
type MediaAsset struct {
	ID             string `gorm:"type:varchar(36);primaryKey" json:"id"`
	MetadataItemID string `gorm:"type:varchar(36);not null;index" json:"metadata_item_id"`
	Kind           string `gorm:"not null;index" json:"kind"`   // thumb, art, banner
	Source         string `gorm:"not null;index" json:"source"` // local, embedded, remote, plugin
	PluginID       string `gorm:"index" json:"plugin_id,omitempty"`

	Path            string `gorm:"not null" json:"path"` // On-disk location in the media tree
	Format          string `json:"format"`               // webp, jpg, png
	Width           int    `gorm:"default:0" json:"width"`
	Height          int    `gorm:"default:0" json:"height"`
	SizeBytes       int64  `gorm:"default:0" json:"size_bytes"`
	Hash            string `gorm:"index" json:"hash"` // Content hash of the stored bytes
	PlaceholderHash string `json:"placeholder_hash"`  // Perceptual placeholder for progressive loading
	Language        string `json:"language,omitempty"`
	SortOrder       int    `gorm:"default:0" json:"sort_order"`
	Preferred       bool   `gorm:"default:false" json:"preferred"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Asset kinds
const (
	AssetKindThumb  = "thumb"
	AssetKindArt    = "art"
	AssetKindBanner = "banner"
)

// Asset sources
const (
	AssetSourceLocal    = "local"
	AssetSourceEmbedded = "embedded"
	AssetSourceRemote   = "remote"
	AssetSourcePlugin   = "plugin"
)

// =============================================================================
// PLUGIN TABLE
// =============================================================================

// Plugin represents an installed metadata agent plugin
type Plugin struct {
	ID           uint32     `gorm:"primaryKey" json:"id"`
	PluginID     string     `gorm:"uniqueIndex;not null" json:"plugin_id"`
	Name         string     `gorm:"not null" json:"name"`
	Version      string     `gorm:"not null" json:"version"`
	Description  string     `json:"description"`
	Author       string     `json:"author"`
	Type         string     `gorm:"not null" json:"type"`                      // metadata_agent
	Status       string     `gorm:"not null;default:'disabled'" json:"status"` // enabled, disabled, error
	InstallPath  string     `gorm:"not null" json:"install_path"`
	ManifestData string     `gorm:"type:text" json:"manifest_data"` // JSON-encoded manifest
	ErrorMessage string     `json:"error_message,omitempty"`
	InstalledAt  time.Time  `json:"installed_at"`
	EnabledAt    *time.Time `json:"enabled_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
