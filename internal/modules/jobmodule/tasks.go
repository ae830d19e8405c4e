package jobmodule

import "time"

// Task type names. The part after the colon is the natural key of the
// work, so the same work enqueued twice collapses onto one task.
const (
	TaskLibraryScan       = "library:scan"
	TaskTrickplayGenerate = "trickplay:generate"
	TaskArtworkFetch      = "artwork:fetch"
	TaskMetadataRefresh   = "metadata:refresh"
)

// Queue names with their relative weights. Scans are user-visible and
// jump the line; trickplay grinds through whole files and yields.
const (
	queueCritical = "critical"
	queueDefault  = "default"
	queueLow      = "low"
)

var queuePriorities = map[string]int{
	queueCritical: 6,
	queueDefault:  3,
	queueLow:      1,
}

// Per-type execution timeouts. A scan of a cold NAS can legitimately
// run for hours.
var taskTimeouts = map[string]time.Duration{
	TaskLibraryScan:       6 * time.Hour,
	TaskTrickplayGenerate: 30 * time.Minute,
	TaskArtworkFetch:      10 * time.Minute,
	TaskMetadataRefresh:   10 * time.Minute,
}

type scanPayload struct {
	SectionID string `json:"section_id"`
}

type trickplayPayload struct {
	PartID string `json:"part_id"`
}

type artworkPayload struct {
	MetadataItemID string `json:"metadata_item_id"`
}

type refreshPayload struct {
	MetadataItemID string `json:"metadata_item_id"`
}

// taskKey is the deterministic task ID: identical work enqueued while a
// copy is still pending or running is rejected by the broker.
func taskKey(taskType, key string) string {
	return taskType + ":" + key
}
