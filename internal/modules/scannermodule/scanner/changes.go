package scanner

import (
	"fmt"
	"time"

	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/fsprobe"
)

// mtimeSlack absorbs filesystems that round timestamps; FAT stores them
// in two-second steps.
const mtimeSlack = 2 * time.Second

// changeStage marks files whose size and mtime match the part row the
// store already has. One stat load per scan replaces a query per file.
// Directories always pass as changed: their unchangedness is not defined
// by part rows, and the persister is a no-op for them anyway when
// nothing differs.
type changeStage struct{}

func (changeStage) Name() string { return StageChangeDetection }

func (st *changeStage) Run(sc *ScanContext, in <-chan *ScanWorkItem, out chan<- *ScanWorkItem) error {
	stats, err := sc.Store.ListPartStatsBySection(sc.Context(), sc.Section.ID)
	if err != nil {
		return fmt.Errorf("load part stats: %w", err)
	}
	sc.setPartStats(stats)

	for item := range in {
		if !item.Entry.IsDir {
			item.Unchanged = unchangedStat(stats, item.Entry)
			if item.Unchanged {
				sc.CountUnchanged()
			}
		}
		if err := sc.send(out, item); err != nil {
			return err
		}
	}
	return nil
}

// unchangedStat compares size exactly and mtime within slack. A path the
// store has never seen is always potentially changed.
func unchangedStat(stats map[string]database.PartStat, entry fsprobe.Entry) bool {
	stat, ok := stats[entry.Path]
	if !ok {
		return false
	}
	if stat.SizeBytes != entry.Size {
		return false
	}
	diff := entry.ModTime.Sub(stat.ModifiedAt)
	if diff < 0 {
		diff = -diff
	}
	return diff < mtimeSlack
}
