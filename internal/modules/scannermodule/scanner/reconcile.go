package scanner

import (
	"fmt"
	"time"

	"github.com/medley-tv/medley/internal/events"
	"github.com/medley-tv/medley/internal/logger"
)

// reconcileStage is the pipeline tail. It drains persisted items, and
// only after every upstream stage finished cleanly does it remove what
// the scan proved is gone: part rows whose files vanished, then items
// left with neither parts nor a surviving path. A failed or cancelled
// scan never deletes; its seen-path set would be incomplete.
type reconcileStage struct{}

func (reconcileStage) Name() string { return StageReconcile }

func (st *reconcileStage) Run(sc *ScanContext, in <-chan *ScanWorkItem, _ chan<- *ScanWorkItem) error {
	for range in {
	}
	if sc.Err() != nil || sc.failure() != nil {
		return nil
	}
	return st.reconcile(sc)
}

// reconcile diffs the section against the seen-path set. The checkpoint
// written first moves the scan's resume point past the walk, so a crash
// in here resumes straight back into reconciliation.
func (st *reconcileStage) reconcile(sc *ScanContext) error {
	ctx := sc.Context()
	if err := sc.FlushSeenPaths(); err != nil {
		return err
	}
	if err := sc.SaveCheckpoint(StageReconcile, ""); err != nil {
		return err
	}

	orphanParts, err := sc.Store.ListOrphanedParts(ctx, sc.Section.ID, sc.Scan.ID)
	if err != nil {
		return fmt.Errorf("list orphaned parts: %w", err)
	}
	removedItems := 0
	if len(orphanParts) > 0 {
		partIDs := make([]string, 0, len(orphanParts))
		mediaIDs := make(map[string]bool)
		for _, part := range orphanParts {
			partIDs = append(partIDs, part.ID)
			mediaIDs[part.MediaItemID] = true
		}
		affected, err := sc.Store.ListItemIDsForParts(ctx, partIDs)
		if err != nil {
			return err
		}
		for mediaID := range mediaIDs {
			if err := sc.Store.DeleteMediaItem(ctx, mediaID); err != nil {
				return err
			}
		}
		counts, err := sc.Store.CountPartsForItems(ctx, affected)
		if err != nil {
			return err
		}
		var gone []string
		for _, id := range affected {
			if counts[id] == 0 {
				gone = append(gone, id)
			}
		}
		if err := sc.Store.SoftDeleteItems(ctx, gone); err != nil {
			return err
		}
		removedItems += len(gone)
		logger.Info("scan %s: removed %d stale parts, %d items without files",
			sc.Scan.ID, len(orphanParts), len(gone))
	}

	orphanItems, err := sc.Store.ListOrphanedItemIDs(ctx, sc.Section.ID, sc.Scan.ID)
	if err != nil {
		return fmt.Errorf("list orphaned items: %w", err)
	}
	if len(orphanItems) > 0 {
		if err := sc.Store.SoftDeleteItems(ctx, orphanItems); err != nil {
			return err
		}
		removedItems += len(orphanItems)
		logger.Info("scan %s: removed %d items whose paths vanished", sc.Scan.ID, len(orphanItems))
	}

	// synthesized seasons and mediums have no path to reconcile by;
	// they follow their parent
	cascaded, err := sc.Store.SoftDeleteOrphanChildren(ctx, sc.Section.ID)
	if err != nil {
		return err
	}
	removedItems += int(cascaded)

	if removedItems > 0 && sc.Bus != nil {
		sc.Bus.PublishAsync(events.Event{
			ID:     fmt.Sprintf("library-changed-%s-%d", sc.Section.ID, time.Now().UnixNano()),
			Type:   events.EventLibraryChanged,
			Source: "module:scanner",
			Title:  "Library Changed",
			Data: map[string]interface{}{
				"library_id":    sc.Section.ID,
				"items_removed": removedItems,
			},
			Priority:  events.PriorityNormal,
			Timestamp: time.Now(),
		})
	}
	return nil
}
