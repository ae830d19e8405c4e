// Package types provides shared types consumed across service interfaces
package types

import (
	"strings"
	"time"
)

// ScanStatusSnapshot is a point-in-time view of a scan handed to API
// consumers; the authoritative row lives in the database
type ScanStatusSnapshot struct {
	ScanID           string     `json:"scan_id"`
	LibrarySectionID string     `json:"library_section_id"`
	Status           string     `json:"status"` // queued, running, paused, completed, failed, cancelled
	Stage            string     `json:"stage"`
	Progress         float64    `json:"progress"` // 0.0 to 1.0, best effort
	ItemsSeen        int64      `json:"items_seen"`
	ItemsProcessed   int64      `json:"items_processed"`
	ItemsUnchanged   int64      `json:"items_unchanged"`
	ErrorCount       int        `json:"error_count"`
	CurrentPath      string     `json:"current_path,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CheckpointAt     *time.Time `json:"checkpoint_at,omitempty"`
}

// TranscodeTarget is the effective output the decision engine asks the
// transcoder for after reconciling part attributes with the profile
type TranscodeTarget struct {
	Container        string `json:"container"` // dash, mp4, mkv
	VideoCodec       string `json:"video_codec"`
	AudioCodec       string `json:"audio_codec"`
	VideoBitrateKbps int    `json:"video_bitrate_kbps,omitempty"`
	AudioBitrateKbps int    `json:"audio_bitrate_kbps,omitempty"`
	Width            int    `json:"width,omitempty"`
	Height           int    `json:"height,omitempty"`
	AudioChannels    int    `json:"audio_channels,omitempty"`
	SeekMs           int64  `json:"seek_ms,omitempty"` // Stream start offset for seek reloads
	ToneMapping      bool   `json:"tone_mapping,omitempty"`
}

// PlaylistSeedKind selects how a generator derives its total ordering
type PlaylistSeedKind string

const (
	PlaylistSeedSection  PlaylistSeedKind = "section"  // Everything in a section, filtered
	PlaylistSeedExplicit PlaylistSeedKind = "explicit" // A literal id list
	PlaylistSeedItem     PlaylistSeedKind = "item"     // A container item's children (album, season, collection)
)

// PlaylistSeed is the deterministic definition a generator is built
// from; the same seed always yields the same total ordering
type PlaylistSeed struct {
	Kind      PlaylistSeedKind `json:"kind"`
	SectionID string           `json:"section_id,omitempty"`
	ItemID    string           `json:"item_id,omitempty"`
	ItemIDs   []string         `json:"item_ids,omitempty"`
	ItemKinds []string         `json:"item_kinds,omitempty"` // Filter for section seeds
	SortBy    string           `json:"sort_by,omitempty"`    // title, release_date, added_at
}

// PlaylistEntry is one position in a generator's ordering
type PlaylistEntry struct {
	Index          int    `json:"index"`
	MetadataItemID string `json:"metadata_item_id"`
	MediaItemID    string `json:"media_item_id,omitempty"`
	MediaPartID    string `json:"media_part_id,omitempty"`
	Title          string `json:"title,omitempty"`
	Served         bool   `json:"served"`
}

// PlaylistChunk is a materialized window of a generator
type PlaylistChunk struct {
	GeneratorID string          `json:"generator_id"`
	StartIndex  int             `json:"start_index"`
	TotalCount  int             `json:"total_count"`
	Items       []PlaylistEntry `json:"items"`
}

// PluginStatus is the runtime view of an external agent plugin
type PluginStatus struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Type      string    `json:"type"`
	Enabled   bool      `json:"enabled"`
	Running   bool      `json:"running"`
	LastError string    `json:"last_error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// TrickplayInfo describes one part's thumbnail index
type TrickplayInfo struct {
	MetadataItemID string `json:"metadata_item_id"`
	PartIndex      int    `json:"part_index"`
	FrameCount     int    `json:"frame_count"`
	IntervalMs     int64  `json:"interval_ms"`
	Width          int    `json:"width"`
	SizeBytes      int64  `json:"size_bytes"`
}

// ImageURIScheme prefixes internal artwork references. Items store these
// instead of filesystem paths so assets can move without touching rows.
const ImageURIScheme = "medley://image/"

// ImageURI builds the canonical artwork reference for an item and kind
// (thumb, art, banner).
func ImageURI(metadataItemID, kind string) string {
	return ImageURIScheme + metadataItemID + "/" + kind
}

// ParseImageURI splits an image URI back into item id and kind.
func ParseImageURI(uri string) (metadataItemID, kind string, ok bool) {
	rest, found := strings.CutPrefix(uri, ImageURIScheme)
	if !found {
		return "", "", false
	}
	id, kind, found := strings.Cut(rest, "/")
	if !found || id == "" || kind == "" {
		return "", "", false
	}
	return id, kind, true
}
