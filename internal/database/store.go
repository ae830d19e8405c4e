package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrCheckpointConflict is returned when a checkpoint write loses the
// version race; the writer must abandon its in-flight work.
var ErrCheckpointConflict = errors.New("scan checkpoint version conflict")

// Store is the change-data contract shared by the scan pipeline, the
// metadata merge layer, playback sessions and playlist generators.
// Listing queries exclude soft-deleted rows unless IncludeDeleted is passed.
type Store struct {
	db *gorm.DB
}

// NewStore wraps a gorm connection
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection for module-local queries
func (s *Store) DB() *gorm.DB {
	return s.db
}

// WithTx runs fn inside a transaction; the passed store is bound to it
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

type queryOptions struct {
	includeDeleted bool
}

// QueryOption adjusts listing behavior
type QueryOption func(*queryOptions)

// IncludeDeleted opts a query into seeing soft-deleted rows.
// Only the reconciler and the vacuum should need this.
func IncludeDeleted() QueryOption {
	return func(o *queryOptions) { o.includeDeleted = true }
}

func (s *Store) scope(ctx context.Context, opts ...QueryOption) *gorm.DB {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}
	db := s.db.WithContext(ctx)
	if o.includeDeleted {
		db = db.Unscoped()
	}
	return db
}

// =============================================================================
// LIBRARY SECTIONS
// =============================================================================

// CreateSection persists a new section with its locations, assigning
// ids when absent
func (s *Store) CreateSection(ctx context.Context, section *LibrarySection) error {
	if section.ID == "" {
		section.ID = uuid.New().String()
	}
	for i := range section.Locations {
		if section.Locations[i].ID == "" {
			section.Locations[i].ID = uuid.New().String()
		}
		section.Locations[i].LibrarySectionID = section.ID
		section.Locations[i].ListIndex = i
	}
	return s.db.WithContext(ctx).Create(section).Error
}

// SaveSection writes a section and replaces its location set. Removed
// roots lose their rows; their items survive until the next scan
// reconciles them away.
func (s *Store) SaveSection(ctx context.Context, section *LibrarySection) error {
	return s.WithTx(ctx, func(tx *Store) error {
		if err := tx.db.Omit("Locations").Save(section).Error; err != nil {
			return err
		}
		if err := tx.db.Where("library_section_id = ?", section.ID).
			Delete(&SectionLocation{}).Error; err != nil {
			return err
		}
		for i := range section.Locations {
			if section.Locations[i].ID == "" {
				section.Locations[i].ID = uuid.New().String()
			}
			section.Locations[i].LibrarySectionID = section.ID
			section.Locations[i].ListIndex = i
		}
		if len(section.Locations) == 0 {
			return nil
		}
		return tx.db.Create(&section.Locations).Error
	})
}

// DeleteSection removes a section, its locations, and soft-deletes every
// item it held
func (s *Store) DeleteSection(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(tx *Store) error {
		if err := tx.db.Where("library_section_id = ?", id).
			Delete(&MetadataItem{}).Error; err != nil {
			return err
		}
		if err := tx.db.Where("library_section_id = ?", id).
			Delete(&SectionLocation{}).Error; err != nil {
			return err
		}
		return tx.db.Delete(&LibrarySection{}, "id = ?", id).Error
	})
}

// GetSection loads a section with its locations in list order
func (s *Store) GetSection(ctx context.Context, id string) (*LibrarySection, error) {
	var section LibrarySection
	err := s.db.WithContext(ctx).
		Preload("Locations", func(db *gorm.DB) *gorm.DB {
			return db.Order("section_locations.list_index ASC")
		}).
		First(&section, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &section, nil
}

// ListSections returns every section with locations preloaded
func (s *Store) ListSections(ctx context.Context) ([]LibrarySection, error) {
	var sections []LibrarySection
	err := s.db.WithContext(ctx).
		Preload("Locations", func(db *gorm.DB) *gorm.DB {
			return db.Order("section_locations.list_index ASC")
		}).
		Order("name ASC").
		Find(&sections).Error
	return sections, err
}

// TouchSectionScanned stamps a section with its latest completed scan
func (s *Store) TouchSectionScanned(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&LibrarySection{}).
		Where("id = ?", id).
		Update("scanned_at", at).Error
}

// =============================================================================
// METADATA ITEMS
// =============================================================================

// CreateItem persists a new metadata item, assigning an id when absent
func (s *Store) CreateItem(ctx context.Context, item *MetadataItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).Create(item).Error
}

// SaveItem writes every field of an existing item
func (s *Store) SaveItem(ctx context.Context, item *MetadataItem) error {
	if item.ID == "" {
		return fmt.Errorf("cannot save metadata item without id")
	}
	return s.db.WithContext(ctx).Save(item).Error
}

// GetItem loads one item by id
func (s *Store) GetItem(ctx context.Context, id string, opts ...QueryOption) (*MetadataItem, error) {
	var item MetadataItem
	if err := s.scope(ctx, opts...).First(&item, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// GetItems loads a batch of items by id; missing ids are silently absent
func (s *Store) GetItems(ctx context.Context, ids []string, opts ...QueryOption) ([]MetadataItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var items []MetadataItem
	if err := s.scope(ctx, opts...).Where("id IN ?", ids).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// ListChildren returns the ordered children of an item
func (s *Store) ListChildren(ctx context.Context, parentID string, opts ...QueryOption) ([]MetadataItem, error) {
	var items []MetadataItem
	err := s.scope(ctx, opts...).
		Where("parent_id = ?", parentID).
		Order("item_index ASC, title ASC").
		Find(&items).Error
	return items, err
}

// ListItemsBySection returns items of the given kinds in a section.
// An empty kinds slice means all kinds.
func (s *Store) ListItemsBySection(ctx context.Context, sectionID string, kinds []ItemKind, opts ...QueryOption) ([]MetadataItem, error) {
	q := s.scope(ctx, opts...).Where("library_section_id = ?", sectionID)
	if len(kinds) > 0 {
		q = q.Where("kind IN ?", kinds)
	}
	var items []MetadataItem
	err := q.Order("sort_title ASC, title ASC").Find(&items).Error
	return items, err
}

// SoftDeleteItems marks items deleted; they vanish from every query
// path except those passing IncludeDeleted
func (s *Store) SoftDeleteItems(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&MetadataItem{}).Error
}

// SoftDeleteOrphanChildren cascades deletion to live items whose parent
// is gone. Synthesized containers carry no filesystem path of their own,
// so path-based reconciliation never catches them directly. Repeats
// until a pass deletes nothing, which bounds work by tree depth.
func (s *Store) SoftDeleteOrphanChildren(ctx context.Context, sectionID string) (int64, error) {
	var total int64
	for {
		result := s.db.WithContext(ctx).
			Where("library_section_id = ?", sectionID).
			Where("parent_id IN (?)", s.db.Unscoped().Model(&MetadataItem{}).
				Select("id").
				Where("library_section_id = ?", sectionID).
				Where("deleted_at IS NOT NULL")).
			Delete(&MetadataItem{})
		if result.Error != nil {
			return total, result.Error
		}
		total += result.RowsAffected
		if result.RowsAffected == 0 {
			return total, nil
		}
	}
}

// VacuumItems hard-deletes items soft-deleted before the cutoff,
// together with their edges. Returns the number of items removed.
func (s *Store) VacuumItems(ctx context.Context, cutoff time.Time) (int64, error) {
	var ids []string
	err := s.db.WithContext(ctx).Unscoped().Model(&MetadataItem{}).
		Where("deleted_at IS NOT NULL AND deleted_at < ?", cutoff).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return 0, err
	}

	err = s.WithTx(ctx, func(tx *Store) error {
		if err := tx.db.Where("metadata_item_id IN ?", ids).Delete(&ExternalIdentifier{}).Error; err != nil {
			return err
		}
		if err := tx.db.Where("metadata_item_id IN ?", ids).Delete(&TagEdge{}).Error; err != nil {
			return err
		}
		if err := tx.db.Where("from_item_id IN ? OR to_item_id IN ?", ids, ids).Delete(&MetadataRelation{}).Error; err != nil {
			return err
		}
		return tx.db.Unscoped().Where("id IN ?", ids).Delete(&MetadataItem{}).Error
	})
	if err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

// =============================================================================
// EXTERNAL IDENTIFIERS
// =============================================================================

// FindItemByExternalID resolves (kind, provider, value) to an item
// within a library section. Returns nil without error on a miss.
func (s *Store) FindItemByExternalID(ctx context.Context, kind ItemKind, provider, value, sectionID string) (*MetadataItem, error) {
	var item MetadataItem
	err := s.db.WithContext(ctx).
		Joins("JOIN external_identifiers ON external_identifiers.metadata_item_id = metadata_items.id").
		Where("metadata_items.kind = ? AND metadata_items.library_section_id = ?", kind, sectionID).
		Where("external_identifiers.provider = ? AND external_identifiers.value = ?", provider, value).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// FindItemByPath resolves a filesystem origin identity to an item of any
// kind. Containers synthesized without a backing folder carry no path
// identity and are never found this way. Returns nil without error on a miss.
func (s *Store) FindItemByPath(ctx context.Context, path, sectionID string) (*MetadataItem, error) {
	var item MetadataItem
	err := s.db.WithContext(ctx).
		Joins("JOIN external_identifiers ON external_identifiers.metadata_item_id = metadata_items.id").
		Where("metadata_items.library_section_id = ?", sectionID).
		Where("external_identifiers.provider = ? AND external_identifiers.value = ?", ExternalProviderPath, path).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// AddExternalIDs attaches provider ids to an item. Existing
// (item, provider) rows are left untouched.
func (s *Store) AddExternalIDs(ctx context.Context, itemID string, ids map[string]string) error {
	if len(ids) == 0 {
		return nil
	}
	rows := make([]ExternalIdentifier, 0, len(ids))
	for provider, value := range ids {
		rows = append(rows, ExternalIdentifier{
			ID:             uuid.New().String(),
			MetadataItemID: itemID,
			Provider:       provider,
			Value:          value,
		})
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

// ListExternalIDs returns an item's provider ids as provider -> value
func (s *Store) ListExternalIDs(ctx context.Context, itemID string) (map[string]string, error) {
	var rows []ExternalIdentifier
	if err := s.db.WithContext(ctx).Where("metadata_item_id = ?", itemID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.Provider] = row.Value
	}
	return out, nil
}

// =============================================================================
// RELATIONS AND TAGS
// =============================================================================

// AddRelation creates a typed edge between two items
func (s *Store) AddRelation(ctx context.Context, rel *MetadataRelation) error {
	if rel.ID == "" {
		rel.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).Create(rel).Error
}

// ListRelationsFrom returns outgoing edges of an item, optionally
// restricted to one relation type
func (s *Store) ListRelationsFrom(ctx context.Context, itemID string, relType RelationType) ([]MetadataRelation, error) {
	q := s.db.WithContext(ctx).Where("from_item_id = ?", itemID)
	if relType != "" {
		q = q.Where("type = ?", relType)
	}
	var rels []MetadataRelation
	err := q.Order("sort_order ASC").Find(&rels).Error
	return rels, err
}

// ListRelationsTo returns incoming edges of an item, optionally
// restricted to one relation type
func (s *Store) ListRelationsTo(ctx context.Context, itemID string, relType RelationType) ([]MetadataRelation, error) {
	q := s.db.WithContext(ctx).Where("to_item_id = ?", itemID)
	if relType != "" {
		q = q.Where("type = ?", relType)
	}
	var rels []MetadataRelation
	err := q.Order("sort_order ASC").Find(&rels).Error
	return rels, err
}

// AddTagEdges unions tag values onto an item; duplicates are ignored
func (s *Store) AddTagEdges(ctx context.Context, itemID, tagType string, values []string) error {
	if len(values) == 0 {
		return nil
	}
	rows := make([]TagEdge, 0, len(values))
	for _, value := range values {
		rows = append(rows, TagEdge{
			ID:             uuid.New().String(),
			MetadataItemID: itemID,
			Type:           tagType,
			Value:          value,
		})
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

// ListTagEdges returns an item's tag values for one edge type
func (s *Store) ListTagEdges(ctx context.Context, itemID, tagType string) ([]string, error) {
	var values []string
	err := s.db.WithContext(ctx).Model(&TagEdge{}).
		Where("metadata_item_id = ? AND type = ?", itemID, tagType).
		Order("value ASC").
		Pluck("value", &values).Error
	return values, err
}

// =============================================================================
// MEDIA ITEMS, PARTS, STREAMS
// =============================================================================

// CreateMediaItem persists a media item together with any nested parts
// and streams, assigning ids where absent
func (s *Store) CreateMediaItem(ctx context.Context, media *MediaItem) error {
	if media.ID == "" {
		media.ID = uuid.New().String()
	}
	for i := range media.Parts {
		if media.Parts[i].ID == "" {
			media.Parts[i].ID = uuid.New().String()
		}
		media.Parts[i].MediaItemID = media.ID
		for j := range media.Parts[i].Streams {
			if media.Parts[i].Streams[j].ID == "" {
				media.Parts[i].Streams[j].ID = uuid.New().String()
			}
			media.Parts[i].Streams[j].MediaPartID = media.Parts[i].ID
		}
	}
	return s.db.WithContext(ctx).Create(media).Error
}

// SaveMediaItem writes every field of an existing media item
func (s *Store) SaveMediaItem(ctx context.Context, media *MediaItem) error {
	return s.db.WithContext(ctx).Omit("Parts").Save(media).Error
}

// GetMediaForItem returns a metadata item's renditions with parts and
// streams preloaded, parts in stacking order
func (s *Store) GetMediaForItem(ctx context.Context, metadataItemID string) ([]MediaItem, error) {
	var media []MediaItem
	err := s.db.WithContext(ctx).
		Preload("Parts", func(db *gorm.DB) *gorm.DB {
			return db.Order("media_parts.part_index ASC")
		}).
		Preload("Parts.Streams").
		Where("metadata_item_id = ?", metadataItemID).
		Find(&media).Error
	return media, err
}

// GetMediaItem loads one rendition by id with parts and streams preloaded,
// parts in stacking order
func (s *Store) GetMediaItem(ctx context.Context, mediaItemID string) (*MediaItem, error) {
	var media MediaItem
	err := s.db.WithContext(ctx).
		Preload("Parts", func(db *gorm.DB) *gorm.DB {
			return db.Order("media_parts.part_index ASC")
		}).
		Preload("Parts.Streams").
		First(&media, "id = ?", mediaItemID).Error
	if err != nil {
		return nil, err
	}
	return &media, nil
}

// GetPart loads one part with its streams
func (s *Store) GetPart(ctx context.Context, partID string) (*MediaPart, error) {
	var part MediaPart
	err := s.db.WithContext(ctx).
		Preload("Streams").
		First(&part, "id = ?", partID).Error
	if err != nil {
		return nil, err
	}
	return &part, nil
}

// FindPartByPath resolves a filesystem path to its part.
// Returns nil without error on a miss.
func (s *Store) FindPartByPath(ctx context.Context, path string) (*MediaPart, error) {
	var part MediaPart
	err := s.db.WithContext(ctx).First(&part, "file = ?", path).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &part, nil
}

// SavePart writes every field of an existing part
func (s *Store) SavePart(ctx context.Context, part *MediaPart) error {
	return s.db.WithContext(ctx).Omit("Streams").Save(part).Error
}

// ReplacePartStreams swaps a part's stream rows for a fresh probe result
func (s *Store) ReplacePartStreams(ctx context.Context, partID string, streams []MediaStream) error {
	return s.WithTx(ctx, func(tx *Store) error {
		if err := tx.db.Where("media_part_id = ?", partID).Delete(&MediaStream{}).Error; err != nil {
			return err
		}
		if len(streams) == 0 {
			return nil
		}
		for i := range streams {
			if streams[i].ID == "" {
				streams[i].ID = uuid.New().String()
			}
			streams[i].MediaPartID = partID
		}
		return tx.db.Create(&streams).Error
	})
}

// DeleteMediaItem removes a rendition with its parts and streams
func (s *Store) DeleteMediaItem(ctx context.Context, mediaItemID string) error {
	return s.WithTx(ctx, func(tx *Store) error {
		var partIDs []string
		if err := tx.db.Model(&MediaPart{}).Where("media_item_id = ?", mediaItemID).Pluck("id", &partIDs).Error; err != nil {
			return err
		}
		if len(partIDs) > 0 {
			if err := tx.db.Where("media_part_id IN ?", partIDs).Delete(&MediaStream{}).Error; err != nil {
				return err
			}
			if err := tx.db.Where("id IN ?", partIDs).Delete(&MediaPart{}).Error; err != nil {
				return err
			}
		}
		return tx.db.Delete(&MediaItem{}, "id = ?", mediaItemID).Error
	})
}

// =============================================================================
// MEDIA ASSETS
// =============================================================================

// CreateAsset persists a new asset row, assigning an id when absent
func (s *Store) CreateAsset(ctx context.Context, asset *MediaAsset) error {
	if asset.ID == "" {
		asset.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).Create(asset).Error
}

// SaveAsset writes every field of an existing asset row
func (s *Store) SaveAsset(ctx context.Context, asset *MediaAsset) error {
	return s.db.WithContext(ctx).Save(asset).Error
}

// FindAsset returns the row for one (item, kind, source) slot.
// Returns nil without error on a miss.
func (s *Store) FindAsset(ctx context.Context, metadataItemID, kind, source string) (*MediaAsset, error) {
	var asset MediaAsset
	err := s.db.WithContext(ctx).
		First(&asset, "metadata_item_id = ? AND kind = ? AND source = ?", metadataItemID, kind, source).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

// FindAssetByHash returns an item's asset of a kind with matching
// content hash, for idempotent re-saves. Nil without error on a miss.
func (s *Store) FindAssetByHash(ctx context.Context, metadataItemID, kind, hash string) (*MediaAsset, error) {
	var asset MediaAsset
	err := s.db.WithContext(ctx).
		First(&asset, "metadata_item_id = ? AND kind = ? AND hash = ?", metadataItemID, kind, hash).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

// GetPreferredAsset returns the asset served for an item and kind:
// the preferred row, falling back to sort order then age
func (s *Store) GetPreferredAsset(ctx context.Context, metadataItemID, kind string) (*MediaAsset, error) {
	var asset MediaAsset
	err := s.db.WithContext(ctx).
		Where("metadata_item_id = ? AND kind = ?", metadataItemID, kind).
		Order("preferred DESC, sort_order ASC, created_at ASC").
		First(&asset).Error
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

// ListAssetsForItem returns every stored asset of an item
func (s *Store) ListAssetsForItem(ctx context.Context, metadataItemID string) ([]MediaAsset, error) {
	var assets []MediaAsset
	err := s.db.WithContext(ctx).
		Where("metadata_item_id = ?", metadataItemID).
		Order("kind ASC, preferred DESC, sort_order ASC").
		Find(&assets).Error
	return assets, err
}

// DeleteAssetsForItem drops an item's asset rows, returning them so the
// caller can remove the files
func (s *Store) DeleteAssetsForItem(ctx context.Context, metadataItemID string) ([]MediaAsset, error) {
	assets, err := s.ListAssetsForItem(ctx, metadataItemID)
	if err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, nil
	}
	err = s.db.WithContext(ctx).
		Where("metadata_item_id = ?", metadataItemID).
		Delete(&MediaAsset{}).Error
	return assets, err
}
