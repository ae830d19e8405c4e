package database

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ScanCheckpoint is the durable cursor a scan writes as it advances.
// Loading the newest checkpoint after a crash resumes the scan mid-stage.
type ScanCheckpoint struct {
	Stage          string
	Cursor         string
	ItemsSeen      int64
	ItemsProcessed int64
	ItemsUnchanged int64
	ErrorCount     int
}

// PartStat is the slice of a media part the change detector compares
// against the filesystem
type PartStat struct {
	PartID     string
	File       string
	SizeBytes  int64
	ModifiedAt time.Time
	Hash       string
}

// =============================================================================
// SCAN LIFECYCLE
// =============================================================================

// CreateScan persists a new scan record
func (s *Store) CreateScan(ctx context.Context, scan *LibraryScan) error {
	if scan.ID == "" {
		scan.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).Create(scan).Error
}

// GetScan loads one scan by id
func (s *Store) GetScan(ctx context.Context, id string) (*LibraryScan, error) {
	var scan LibraryScan
	if err := s.db.WithContext(ctx).First(&scan, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &scan, nil
}

// SaveScan writes every field of an existing scan
func (s *Store) SaveScan(ctx context.Context, scan *LibraryScan) error {
	return s.db.WithContext(ctx).Save(scan).Error
}

// FindActiveScan returns the running or paused scan for a section, if
// any. Returns nil without error when the section is idle.
func (s *Store) FindActiveScan(ctx context.Context, sectionID string) (*LibraryScan, error) {
	var scan LibraryScan
	err := s.db.WithContext(ctx).
		Where("library_section_id = ? AND status IN ?", sectionID,
			[]ScanStatus{ScanStatusQueued, ScanStatusRunning, ScanStatusPaused}).
		Order("created_at DESC").
		First(&scan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &scan, nil
}

// ListResumableScans returns scans interrupted by a shutdown or crash
func (s *Store) ListResumableScans(ctx context.Context) ([]LibraryScan, error) {
	var scans []LibraryScan
	err := s.db.WithContext(ctx).
		Where("status IN ?", []ScanStatus{ScanStatusRunning, ScanStatusPaused}).
		Order("created_at ASC").
		Find(&scans).Error
	return scans, err
}

// ListScansBySection returns a section's scan history, newest first
func (s *Store) ListScansBySection(ctx context.Context, sectionID string) ([]LibraryScan, error) {
	var scans []LibraryScan
	err := s.db.WithContext(ctx).
		Where("library_section_id = ?", sectionID).
		Order("created_at DESC").
		Find(&scans).Error
	return scans, err
}

// SaveScanCheckpoint advances a scan's resume cursor. The write is
// guarded by the checkpoint version: it only lands when the row still
// carries the version the caller loaded, and the new version is
// returned. A second writer holding a stale version gets
// ErrCheckpointConflict and must abandon the scan.
func (s *Store) SaveScanCheckpoint(ctx context.Context, scanID string, version int64, cp ScanCheckpoint) (int64, error) {
	next := version + 1
	result := s.db.WithContext(ctx).Model(&LibraryScan{}).
		Where("id = ? AND checkpoint_version = ?", scanID, version).
		Updates(map[string]interface{}{
			"current_stage":      cp.Stage,
			"resume_cursor":      cp.Cursor,
			"checkpoint_version": next,
			"checkpoint_at":      time.Now(),
			"items_seen":         cp.ItemsSeen,
			"items_processed":    cp.ItemsProcessed,
			"items_unchanged":    cp.ItemsUnchanged,
			"error_count":        cp.ErrorCount,
		})
	if result.Error != nil {
		return version, result.Error
	}
	if result.RowsAffected == 0 {
		return version, ErrCheckpointConflict
	}
	return next, nil
}

// =============================================================================
// SEEN PATHS
// =============================================================================

// RecordSeenPaths marks paths as observed by a scan. Replays after a
// checkpoint restore re-insert the same rows, so conflicts are ignored.
func (s *Store) RecordSeenPaths(ctx context.Context, scanID string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	rows := make([]ScanSeenPath, len(paths))
	for i, path := range paths {
		rows[i] = ScanSeenPath{ScanID: scanID, FilePath: path}
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

// CountSeenPaths returns how many paths a scan has recorded
func (s *Store) CountSeenPaths(ctx context.Context, scanID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&ScanSeenPath{}).
		Where("scan_id = ?", scanID).
		Count(&count).Error
	return count, err
}

// DeleteSeenPaths drops a finished scan's observation set
func (s *Store) DeleteSeenPaths(ctx context.Context, scanID string) error {
	return s.db.WithContext(ctx).Where("scan_id = ?", scanID).Delete(&ScanSeenPath{}).Error
}

// DeleteScansBefore removes finished scan records older than cutoff along
// with any seen paths they left behind. Maintenance calls this to keep the
// scan history bounded.
func (s *Store) DeleteScansBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&LibraryScan{}).
		Where("status IN ?", []string{
			string(ScanStatusCompleted),
			string(ScanStatusFailed),
			string(ScanStatusCancelled),
		}).
		Where("updated_at < ?", cutoff).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return 0, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("scan_id IN ?", ids).Delete(&ScanSeenPath{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&LibraryScan{}).Error
	})
	if err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// ListOrphanedParts returns parts registered in a section whose paths a
// completed scan never observed. Those files are gone from disk.
func (s *Store) ListOrphanedParts(ctx context.Context, sectionID, scanID string) ([]MediaPart, error) {
	var parts []MediaPart
	err := s.db.WithContext(ctx).
		Joins("JOIN media_items ON media_items.id = media_parts.media_item_id").
		Where("media_items.library_section_id = ?", sectionID).
		Where("media_parts.file NOT IN (?)",
			s.db.Model(&ScanSeenPath{}).Select("file_path").Where("scan_id = ?", scanID)).
		Find(&parts).Error
	return parts, err
}

// ListOrphanedItemIDs returns items whose identifying filesystem path a
// completed scan never observed. This catches containers like shows and
// seasons, which own no parts of their own.
func (s *Store) ListOrphanedItemIDs(ctx context.Context, sectionID, scanID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&ExternalIdentifier{}).
		Distinct("external_identifiers.metadata_item_id").
		Joins("JOIN metadata_items ON metadata_items.id = external_identifiers.metadata_item_id").
		Where("metadata_items.library_section_id = ?", sectionID).
		Where("metadata_items.deleted_at IS NULL").
		Where("external_identifiers.provider = ?", ExternalProviderPath).
		Where("external_identifiers.value NOT IN (?)",
			s.db.Model(&ScanSeenPath{}).Select("file_path").Where("scan_id = ?", scanID)).
		Pluck("external_identifiers.metadata_item_id", &ids).Error
	return ids, err
}

// ListPartStatsBySection returns the size and mtime of every part in a
// section, keyed by path. The change detector loads this once per scan
// instead of querying per file.
func (s *Store) ListPartStatsBySection(ctx context.Context, sectionID string) (map[string]PartStat, error) {
	var stats []PartStat
	err := s.db.WithContext(ctx).Model(&MediaPart{}).
		Select("media_parts.id AS part_id, media_parts.file, media_parts.size_bytes, media_parts.modified_at, media_parts.hash").
		Joins("JOIN media_items ON media_items.id = media_parts.media_item_id").
		Where("media_items.library_section_id = ?", sectionID).
		Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]PartStat, len(stats))
	for _, st := range stats {
		out[st.File] = st
	}
	return out, nil
}

// ListItemIDsForParts maps part rows back to their owning metadata
// items, used when orphaned parts cascade into item soft deletes
func (s *Store) ListItemIDsForParts(ctx context.Context, partIDs []string) ([]string, error) {
	if len(partIDs) == 0 {
		return nil, nil
	}
	var ids []string
	err := s.db.WithContext(ctx).Model(&MediaPart{}).
		Distinct("media_items.metadata_item_id").
		Joins("JOIN media_items ON media_items.id = media_parts.media_item_id").
		Where("media_parts.id IN ?", partIDs).
		Pluck("media_items.metadata_item_id", &ids).Error
	return ids, err
}

// CountPartsForItems returns how many live parts each metadata item
// still owns. Items whose count drops to zero are deletion candidates.
func (s *Store) CountPartsForItems(ctx context.Context, itemIDs []string) (map[string]int64, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}
	type row struct {
		MetadataItemID string
		N              int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&MediaPart{}).
		Select("media_items.metadata_item_id, COUNT(media_parts.id) AS n").
		Joins("JOIN media_items ON media_items.id = media_parts.media_item_id").
		Where("media_items.metadata_item_id IN ?", itemIDs).
		Group("media_items.metadata_item_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(itemIDs))
	for _, id := range itemIDs {
		out[id] = 0
	}
	for _, r := range rows {
		out[r.MetadataItemID] = r.N
	}
	return out, nil
}
