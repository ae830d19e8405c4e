// Package events provides the event bus used for cross-module
// notifications: scan lifecycle, playback sessions, transcode progress,
// asset creation and library changes.
package events

import (
	"fmt"
	"time"
)

// EventType represents the type of event
type EventType string

// System-wide event types
const (
	// Scan lifecycle events
	EventScanStarted   EventType = "scan.started"
	EventScanProgress  EventType = "scan.progress"
	EventScanCompleted EventType = "scan.completed"
	EventScanFailed    EventType = "scan.failed"
	EventScanPaused    EventType = "scan.paused"
	EventScanResumed   EventType = "scan.resumed"

	// Library events
	EventLibraryCreated EventType = "library.created"
	EventLibraryRemoved EventType = "library.removed"
	EventLibraryChanged EventType = "library.changed"

	// Item events
	EventItemCreated  EventType = "item.created"
	EventItemUpdated  EventType = "item.updated"
	EventItemRemoved  EventType = "item.removed"
	EventItemEnriched EventType = "item.enriched"

	// Playback events
	EventPlaybackStarted EventType = "playback.session.started"
	EventPlaybackUpdated EventType = "playback.session.updated"
	EventPlaybackExpired EventType = "playback.session.expired"

	// Transcode events
	EventTranscodeStarted   EventType = "transcode.started"
	EventTranscodeProgress  EventType = "transcode.progress"
	EventTranscodeCompleted EventType = "transcode.completed"
	EventTranscodeFailed    EventType = "transcode.failed"

	// Asset events
	EventAssetCreated EventType = "asset.created"
	EventAssetRemoved EventType = "asset.removed"

	// Trickplay events
	EventTrickplayReady EventType = "trickplay.ready"

	// Playlist events
	EventPlaylistCreated EventType = "playlist.created"
	EventPlaylistExpired EventType = "playlist.expired"

	// Plugin events
	EventPluginLoaded   EventType = "plugin.loaded"
	EventPluginUnloaded EventType = "plugin.unloaded"
	EventPluginError    EventType = "plugin.error"

	// System events
	EventSystemStarted EventType = "system.started"
	EventSystemStopped EventType = "system.stopped"

	// General events
	EventError   EventType = "error"
	EventWarning EventType = "warning"
	EventInfo    EventType = "info"
)

// EventPriority represents the priority level of an event
type EventPriority int

const (
	PriorityLow      EventPriority = 1
	PriorityNormal   EventPriority = 5
	PriorityHigh     EventPriority = 10
	PriorityCritical EventPriority = 20
)

// Event represents a system event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"` // system, module:id, plugin:id
	Target    string                 `json:"target"` // specific target if applicable
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data"`
	Priority  EventPriority          `json:"priority"`
	Tags      []string               `json:"tags"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventHandler represents a function that handles events
type EventHandler func(event Event) error

// EventFilter represents filters for event subscriptions
type EventFilter struct {
	Types    []EventType    `json:"types,omitempty"`
	Sources  []string       `json:"sources,omitempty"`
	Tags     []string       `json:"tags,omitempty"`
	Priority *EventPriority `json:"priority,omitempty"`
}

// Subscription represents an event subscription
type Subscription struct {
	ID            string       `json:"id"`
	Filter        EventFilter  `json:"filter"`
	Handler       EventHandler `json:"-"`
	Subscriber    string       `json:"subscriber"` // module:id, plugin:id, system
	Created       time.Time    `json:"created"`
	LastTriggered *time.Time   `json:"last_triggered,omitempty"`
	TriggerCount  int64        `json:"trigger_count"`
}

// EventStats represents statistics about events
type EventStats struct {
	TotalEvents         int64            `json:"total_events"`
	EventsByType        map[string]int64 `json:"events_by_type"`
	EventsBySource      map[string]int64 `json:"events_by_source"`
	RecentEvents        []Event          `json:"recent_events"`
	ActiveSubscriptions int              `json:"active_subscriptions"`
}

// EventBusConfig represents configuration for the event bus
type EventBusConfig struct {
	BufferSize      int `json:"buffer_size"`
	MaxRecentEvents int `json:"max_recent_events"`
}

// DefaultEventBusConfig returns default configuration
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		BufferSize:      1000,
		MaxRecentEvents: 100,
	}
}

// MatchesFilter checks if an event matches a subscription filter
func MatchesFilter(event Event, filter EventFilter) bool {
	if len(filter.Types) > 0 {
		found := false
		for _, t := range filter.Types {
			if event.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(filter.Sources) > 0 {
		found := false
		for _, s := range filter.Sources {
			if event.Source == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(filter.Tags) > 0 {
		found := false
		for _, filterTag := range filter.Tags {
			for _, eventTag := range event.Tags {
				if eventTag == filterTag {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return false
		}
	}

	if filter.Priority != nil && event.Priority < *filter.Priority {
		return false
	}

	return true
}

// ScanProgressData represents data for scan progress events
type ScanProgressData struct {
	ScanID         string  `json:"scan_id"`
	LibraryID      string  `json:"library_id"`
	Stage          string  `json:"stage"`
	Progress       float64 `json:"progress"`
	ItemsSeen      int64   `json:"items_seen"`
	ItemsProcessed int64   `json:"items_processed"`
	ErrorCount     int     `json:"error_count,omitempty"`
	CurrentPath    string  `json:"current_path,omitempty"`
}

// PlaybackSessionData represents data for playback session events
type PlaybackSessionData struct {
	SessionID  string `json:"session_id"`
	ItemID     string `json:"item_id"`
	PartID     string `json:"part_id"`
	ClientID   string `json:"client_id"`
	Decision   string `json:"decision,omitempty"`
	PositionMs int64  `json:"position_ms,omitempty"`
	State      string `json:"state,omitempty"`
}

// TranscodeEventData represents data for transcode lifecycle events
type TranscodeEventData struct {
	JobID     string  `json:"job_id"`
	SessionID string  `json:"session_id"`
	PartID    string  `json:"part_id"`
	Container string  `json:"container"`
	Progress  float64 `json:"progress,omitempty"`
	Speed     float64 `json:"speed,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// AssetEventData represents data for asset events
type AssetEventData struct {
	AssetID string `json:"asset_id"`
	ItemID  string `json:"item_id"`
	Kind    string `json:"kind"`
	Source  string `json:"source"`
	Size    int64  `json:"size,omitempty"`
}

// Helper functions to create common events

// NewScanStartedEvent creates a new scan started event
func NewScanStartedEvent(scanID, libraryID string) Event {
	return Event{
		ID:      fmt.Sprintf("scan-started-%s", scanID),
		Type:    EventScanStarted,
		Source:  "module:scanner",
		Title:   "Scan Started",
		Message: fmt.Sprintf("Library scan %s started", scanID),
		Data: map[string]interface{}{
			"scan_id":    scanID,
			"library_id": libraryID,
		},
		Priority:  PriorityNormal,
		Tags:      []string{"scanner", "lifecycle"},
		Timestamp: time.Now(),
	}
}

// NewScanProgressEvent creates a new scan progress event
func NewScanProgressEvent(data ScanProgressData) Event {
	return Event{
		ID:      fmt.Sprintf("scan-progress-%s-%d", data.ScanID, time.Now().UnixNano()),
		Type:    EventScanProgress,
		Source:  "module:scanner",
		Title:   "Scan Progress",
		Message: fmt.Sprintf("Scan %s at %.1f%% (%s)", data.ScanID, data.Progress, data.Stage),
		Data: map[string]interface{}{
			"scan_id":         data.ScanID,
			"library_id":      data.LibraryID,
			"stage":           data.Stage,
			"progress":        data.Progress,
			"items_seen":      data.ItemsSeen,
			"items_processed": data.ItemsProcessed,
			"error_count":     data.ErrorCount,
			"current_path":    data.CurrentPath,
		},
		Priority:  PriorityLow,
		Tags:      []string{"scanner", "progress"},
		Timestamp: time.Now(),
	}
}

// NewScanCompletedEvent creates a new scan completed event
func NewScanCompletedEvent(scanID, libraryID string, itemsProcessed int64, duration time.Duration) Event {
	return Event{
		ID:      fmt.Sprintf("scan-completed-%s", scanID),
		Type:    EventScanCompleted,
		Source:  "module:scanner",
		Title:   "Scan Completed",
		Message: fmt.Sprintf("Library scan %s completed: %d items in %s", scanID, itemsProcessed, duration.Round(time.Second)),
		Data: map[string]interface{}{
			"scan_id":         scanID,
			"library_id":      libraryID,
			"items_processed": itemsProcessed,
			"duration_ms":     duration.Milliseconds(),
		},
		Priority:  PriorityNormal,
		Tags:      []string{"scanner", "lifecycle"},
		Timestamp: time.Now(),
	}
}

// NewScanFailedEvent creates a new scan failed event
func NewScanFailedEvent(scanID, libraryID string, err error) Event {
	return Event{
		ID:      fmt.Sprintf("scan-failed-%s", scanID),
		Type:    EventScanFailed,
		Source:  "module:scanner",
		Title:   "Scan Failed",
		Message: fmt.Sprintf("Library scan %s failed: %v", scanID, err),
		Data: map[string]interface{}{
			"scan_id":    scanID,
			"library_id": libraryID,
			"error":      err.Error(),
		},
		Priority:  PriorityHigh,
		Tags:      []string{"scanner", "lifecycle", "error"},
		Timestamp: time.Now(),
	}
}

// NewPlaybackSessionEvent creates a playback session lifecycle event
func NewPlaybackSessionEvent(eventType EventType, data PlaybackSessionData) Event {
	return Event{
		ID:      fmt.Sprintf("playback-%s-%d", data.SessionID, time.Now().UnixNano()),
		Type:    eventType,
		Source:  "module:playback",
		Title:   "Playback Session",
		Message: fmt.Sprintf("Session %s %s", data.SessionID, data.State),
		Data: map[string]interface{}{
			"session_id":  data.SessionID,
			"item_id":     data.ItemID,
			"part_id":     data.PartID,
			"client_id":   data.ClientID,
			"decision":    data.Decision,
			"position_ms": data.PositionMs,
			"state":       data.State,
		},
		Priority:  PriorityNormal,
		Tags:      []string{"playback", "session"},
		Timestamp: time.Now(),
	}
}

// NewTranscodeEvent creates a transcode lifecycle event
func NewTranscodeEvent(eventType EventType, data TranscodeEventData) Event {
	priority := PriorityNormal
	if eventType == EventTranscodeFailed {
		priority = PriorityHigh
	}
	return Event{
		ID:      fmt.Sprintf("transcode-%s-%d", data.JobID, time.Now().UnixNano()),
		Type:    eventType,
		Source:  "module:transcode",
		Title:   "Transcode",
		Message: fmt.Sprintf("Transcode job %s (%s)", data.JobID, data.Container),
		Data: map[string]interface{}{
			"job_id":     data.JobID,
			"session_id": data.SessionID,
			"part_id":    data.PartID,
			"container":  data.Container,
			"progress":   data.Progress,
			"speed":      data.Speed,
			"error":      data.Error,
		},
		Priority:  priority,
		Tags:      []string{"transcode"},
		Timestamp: time.Now(),
	}
}

// NewAssetCreatedEvent creates a new asset created event
func NewAssetCreatedEvent(data AssetEventData) Event {
	return Event{
		ID:      fmt.Sprintf("asset-created-%s", data.AssetID),
		Type:    EventAssetCreated,
		Source:  "module:assets",
		Title:   "Asset Created",
		Message: fmt.Sprintf("%s asset saved for item %s", data.Kind, data.ItemID),
		Data: map[string]interface{}{
			"asset_id": data.AssetID,
			"item_id":  data.ItemID,
			"kind":     data.Kind,
			"source":   data.Source,
			"size":     data.Size,
		},
		Priority:  PriorityLow,
		Tags:      []string{"assets"},
		Timestamp: time.Now(),
	}
}

// NewTrickplayReadyEvent creates an event for a finished thumbnail index
func NewTrickplayReadyEvent(metadataItemID string, partIndex, frameCount int) Event {
	return Event{
		ID:      fmt.Sprintf("trickplay-ready-%s-%d", metadataItemID, partIndex),
		Type:    EventTrickplayReady,
		Source:  "module:trickplay",
		Title:   "Trickplay Ready",
		Message: fmt.Sprintf("Thumbnail index for item %s part %d: %d frames", metadataItemID, partIndex, frameCount),
		Data: map[string]interface{}{
			"metadata_item_id": metadataItemID,
			"part_index":       partIndex,
			"frame_count":      frameCount,
		},
		Priority:  PriorityLow,
		Tags:      []string{"trickplay"},
		Timestamp: time.Now(),
	}
}

// NewPlaylistEvent creates a generator lifecycle event
func NewPlaylistEvent(eventType EventType, generatorID string, totalCount int) Event {
	return Event{
		ID:      fmt.Sprintf("playlist-%s-%d", generatorID, time.Now().UnixNano()),
		Type:    eventType,
		Source:  "module:playlist",
		Title:   "Playlist Generator",
		Message: fmt.Sprintf("Generator %s (%d entries)", generatorID, totalCount),
		Data: map[string]interface{}{
			"generator_id": generatorID,
			"total_count":  totalCount,
		},
		Priority:  PriorityLow,
		Tags:      []string{"playlist"},
		Timestamp: time.Now(),
	}
}

// NewLibraryCreatedEvent creates a new library created event
func NewLibraryCreatedEvent(libraryID, name string) Event {
	return Event{
		ID:      fmt.Sprintf("library-created-%s", libraryID),
		Type:    EventLibraryCreated,
		Source:  "module:library",
		Title:   "Library Created",
		Message: fmt.Sprintf("Library '%s' was created", name),
		Data: map[string]interface{}{
			"library_id": libraryID,
			"name":       name,
		},
		Priority:  PriorityNormal,
		Tags:      []string{"library", "lifecycle"},
		Timestamp: time.Now(),
	}
}

// NewLibraryRemovedEvent creates a new library removed event
func NewLibraryRemovedEvent(libraryID, name string) Event {
	return Event{
		ID:      fmt.Sprintf("library-removed-%s", libraryID),
		Type:    EventLibraryRemoved,
		Source:  "module:library",
		Title:   "Library Removed",
		Message: fmt.Sprintf("Library '%s' was removed", name),
		Data: map[string]interface{}{
			"library_id": libraryID,
			"name":       name,
		},
		Priority:  PriorityNormal,
		Tags:      []string{"library", "lifecycle"},
		Timestamp: time.Now(),
	}
}

// NewLibraryChangedEvent creates an event for filesystem changes inside a library
func NewLibraryChangedEvent(libraryID, path, op string) Event {
	return Event{
		ID:      fmt.Sprintf("library-changed-%s-%d", libraryID, time.Now().UnixNano()),
		Type:    EventLibraryChanged,
		Source:  "module:library",
		Title:   "Library Changed",
		Message: fmt.Sprintf("Filesystem change in library %s: %s %s", libraryID, op, path),
		Data: map[string]interface{}{
			"library_id": libraryID,
			"path":       path,
			"op":         op,
		},
		Priority:  PriorityLow,
		Tags:      []string{"library", "watcher"},
		Timestamp: time.Now(),
	}
}
