package services

import (
	"context"
	"io"

	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/types"
)

// Service names as registered by each module during Init
const (
	ServiceLibrary   = "library"
	ServiceScanner   = "scanner"
	ServiceMetadata  = "metadata"
	ServiceAsset     = "asset"
	ServicePlayback  = "playback"
	ServiceTranscode = "transcode"
	ServiceTrickplay = "trickplay"
	ServiceSubtitle  = "subtitle"
	ServicePlaylist  = "playlist"
	ServiceJobs      = "jobs"
	ServicePlugins   = "plugins"
)

// LibraryService manages library sections and their locations
type LibraryService interface {
	GetSection(ctx context.Context, id string) (*database.LibrarySection, error)
	ListSections(ctx context.Context) ([]database.LibrarySection, error)
	CreateSection(ctx context.Context, section *database.LibrarySection) error
	UpdateSection(ctx context.Context, section *database.LibrarySection) error
	DeleteSection(ctx context.Context, id string) error
}

// ScannerService drives the staged scan pipeline
type ScannerService interface {
	// StartScan begins a fresh scan of a section. At most one scan per
	// section may be active.
	StartScan(ctx context.Context, sectionID string) (*types.ScanStatusSnapshot, error)

	// PauseScan checkpoints and halts a running scan
	PauseScan(ctx context.Context, scanID string) error

	// ResumeScan continues a paused or interrupted scan from its last
	// checkpoint
	ResumeScan(ctx context.Context, scanID string) (*types.ScanStatusSnapshot, error)

	// CancelScan aborts a scan; its seen-path set is discarded
	CancelScan(ctx context.Context, scanID string) error

	GetScanStatus(ctx context.Context, scanID string) (*types.ScanStatusSnapshot, error)
	ListScans(ctx context.Context, sectionID string) ([]types.ScanStatusSnapshot, error)
}

// MetadataService exposes the merged item graph
type MetadataService interface {
	GetItem(ctx context.Context, id string) (*database.MetadataItem, error)
	ListChildren(ctx context.Context, parentID string) ([]database.MetadataItem, error)
	ListItemsBySection(ctx context.Context, sectionID string, kinds []database.ItemKind) ([]database.MetadataItem, error)

	// RefreshItem re-runs remote agents for one item outside a scan
	RefreshItem(ctx context.Context, itemID string) error
}

// SaveImageRequest carries one artwork payload into the asset store
type SaveImageRequest struct {
	MetadataItemID string
	Kind           string // thumb, art, banner
	Source         string // local, embedded, remote, plugin
	PluginID       string
	Language       string
	SortOrder      int
	Data           []byte
	Format         string // Detected when empty
}

// AssetService owns artwork storage and lookup
type AssetService interface {
	// SaveImage converts, hashes and stores an image, returning the
	// asset row. Saving identical bytes twice is a no-op returning the
	// existing asset.
	SaveImage(ctx context.Context, req *SaveImageRequest) (*database.MediaAsset, error)

	// OpenAsset returns a reader over the preferred stored asset of a
	// kind for an item
	OpenAsset(ctx context.Context, metadataItemID, kind string) (io.ReadCloser, *database.MediaAsset, error)

	// ResolveURI turns a medley://image/... URI into a servable path
	ResolveURI(ctx context.Context, uri string) (string, error)

	// FetchArtwork pulls remote artwork for an item from the registered
	// image providers, filling only the kinds the item lacks
	FetchArtwork(ctx context.Context, metadataItemID string) error

	// RemoveAssets deletes all stored artwork of an item
	RemoveAssets(ctx context.Context, metadataItemID string) error
}

// PlaybackService is the decision engine and session lifecycle
type PlaybackService interface {
	// Decide answers the playback mutation: it opens or advances a
	// session and returns the action plus stream plan
	Decide(ctx context.Context, req *types.DecideRequest) (*types.DecideResponse, error)

	// SeekToKeyframe maps a target position to the nearest keyframe at
	// or before it
	SeekToKeyframe(ctx context.Context, partID string, targetMs int64) (*types.SeekResult, error)

	GetSession(ctx context.Context, sessionID string) (*database.PlaybackSession, error)
	StopSession(ctx context.Context, sessionID string) error
}

// TranscodeService supervises FFmpeg jobs
type TranscodeService interface {
	// Start launches a job for a session and part; a running job for
	// the same pair with different targets is cancelled first
	Start(ctx context.Context, sessionID, partID string, target types.TranscodeTarget) (*database.TranscodeJob, error)

	Cancel(ctx context.Context, jobID string) error

	// CancelSession cancels every job a session owns
	CancelSession(ctx context.Context, sessionID string) error

	GetJob(ctx context.Context, jobID string) (*database.TranscodeJob, error)

	// NotifyHeartbeat feeds session liveness into the supervisor so
	// healthy jobs are not reaped
	NotifyHeartbeat(sessionID string)
}

// TrickplayService serves and builds BIF thumbnail indexes
type TrickplayService interface {
	GetInfo(ctx context.Context, metadataItemID string, partIndex int) (*types.TrickplayInfo, error)

	// ReadFrame returns one JPEG payload and its timestamp without
	// loading the whole index
	ReadFrame(ctx context.Context, metadataItemID string, partIndex, frameIndex int) ([]byte, int64, error)

	// Generate builds and stores the index for a part, replacing any
	// earlier one
	Generate(ctx context.Context, partID string) error
}

// SubtitleService converts between text subtitle formats
type SubtitleService interface {
	// Convert reads cues in fromFormat and writes toFormat, optionally
	// windowed to [startTicks, endTicks] with cue times rebased to zero
	Convert(ctx context.Context, src io.Reader, fromFormat, toFormat string, startTicks, endTicks *int64) (io.Reader, error)

	// RequiresExtraction reports whether a codec is image-based and
	// needs FFmpeg extraction instead of text conversion
	RequiresExtraction(codec string) bool

	// ExtractEmbedded pulls one embedded subtitle stream out of a part
	// into the target text format
	ExtractEmbedded(ctx context.Context, partID string, streamIndex int, targetFormat string) (io.ReadCloser, error)
}

// CreateGeneratorOptions tunes a new playlist generator
type CreateGeneratorOptions struct {
	SessionID string // Owning playback session, optional
	Shuffle   bool
	Repeat    bool
	ChunkSize int // 0 means the default
}

// PlaylistService owns generators and what-plays-next
type PlaylistService interface {
	// Create builds a generator from a seed and returns its first chunk
	Create(ctx context.Context, seed types.PlaylistSeed, opts CreateGeneratorOptions) (*types.PlaylistChunk, error)

	// Chunk materializes and returns a window of the ordering
	Chunk(ctx context.Context, generatorID string, startIndex, limit int) (*types.PlaylistChunk, error)

	// JumpTo moves the cursor to an absolute index
	JumpTo(ctx context.Context, generatorID string, index int) error

	// Next advances the cursor and returns the entry to play, nil when
	// the generator is exhausted and repeat is off
	Next(ctx context.Context, generatorID string) (*types.PlaylistEntry, error)

	// Touch extends a generator's expiry; called on session heartbeats
	Touch(ctx context.Context, generatorID string) error

	DeleteGenerator(ctx context.Context, generatorID string) error
}

// JobService schedules background work
type JobService interface {
	EnqueueLibraryScan(ctx context.Context, sectionID string) error
	EnqueueTrickplay(ctx context.Context, partID string) error
	EnqueueArtworkFetch(ctx context.Context, metadataItemID string) error
	EnqueueMetadataRefresh(ctx context.Context, metadataItemID string) error
}

// PluginService manages external agent plugins
type PluginService interface {
	ListPlugins(ctx context.Context) ([]types.PluginStatus, error)
	EnablePlugin(ctx context.Context, pluginID string) error
	DisablePlugin(ctx context.Context, pluginID string) error
}
