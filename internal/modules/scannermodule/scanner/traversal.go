package scanner

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/medley-tv/medley/internal/fsprobe"
	"github.com/medley-tv/medley/internal/logger"
)

// traversalStage walks every section location in list order and emits
// one work item per surviving entry: each directory at its visit, each
// file at its parent's visit. It is the only checkpoint writer while the
// pipeline runs, and the cursor it stores is the newest path the persist
// stage confirmed, so a resume re-emits everything not yet durable.
type traversalStage struct{}

func (traversalStage) Name() string { return StageTraversal }

// dirFrame keeps a visited directory's children on a stack so the next
// directory down learns its siblings without a second listing.
type dirFrame struct {
	path     string
	children []fsprobe.Entry
}

func (st *traversalStage) Run(sc *ScanContext, _ <-chan *ScanWorkItem, out chan<- *ScanWorkItem) error {
	cursor := sc.ResumeCursor
	fastForward := cursor != ""
	if fastForward {
		// A cursor whose file vanished between runs would never be
		// re-emitted; rescan from the top instead. Change detection
		// keeps the replay cheap.
		if entry := fsprobe.Stat(cursor); !entry.Exists {
			logger.Info("scan %s: resume cursor %s no longer exists, rescanning from start", sc.Scan.ID, cursor)
			fastForward = false
			cursor = ""
		} else {
			logger.Info("scan %s: fast-forwarding to %s", sc.Scan.ID, cursor)
		}
	}

	lastCheckpoint := time.Now()
	sinceCheckpoint := 0

	for _, loc := range sc.Locations {
		if !loc.Available {
			logger.Warn("scan %s: skipping unavailable location %s", sc.Scan.ID, loc.RootPath)
			continue
		}
		root := filepath.Clean(loc.RootPath)
		var stack []dirFrame

		walkErr := fsprobe.Walk(sc.Context(), root, sc.Section.Type, sc.Registry.IgnoreRules(), func(dir fsprobe.Entry, children []fsprobe.Entry, listErr error) error {
			if listErr != nil {
				sc.CountError()
				logger.Warn("scan %s: listing %s: %v", sc.Scan.ID, dir.Path, listErr)
			}
			for len(stack) > 0 && stack[len(stack)-1].path != filepath.Dir(dir.Path) {
				stack = stack[:len(stack)-1]
			}
			var siblings []fsprobe.Entry
			if len(stack) > 0 {
				siblings = excludeEntry(stack[len(stack)-1].children, dir.Path)
			}
			stack = append(stack, dirFrame{path: dir.Path, children: children})

			items := make([]*ScanWorkItem, 0, 1+len(children))
			items = append(items, &ScanWorkItem{
				LocationID:   loc.ID,
				LocationRoot: root,
				Entry:        dir,
				Children:     children,
				Siblings:     siblings,
				IsRoot:       dir.Path == root,
			})
			for _, child := range children {
				if child.IsDir {
					continue // emitted when the walk visits it
				}
				items = append(items, &ScanWorkItem{
					LocationID:   loc.ID,
					LocationRoot: root,
					Entry:        child,
					Siblings:     excludeEntry(children, child.Path),
				})
			}

			for _, item := range items {
				path := item.Entry.Path
				if err := sc.RecordSeenPath(path); err != nil {
					return err
				}
				if fastForward {
					if path != cursor {
						continue
					}
					// the cursored item itself was already persisted and
					// counted; re-emit it so at-least-once holds
					fastForward = false
				} else {
					sc.CountSeen()
				}
				sc.SetCurrentPath(path)
				if sc.Throttler != nil {
					if err := sc.Throttler.Pause(sc.Context()); err != nil {
						return err
					}
				}
				if err := sc.send(out, item); err != nil {
					return err
				}

				sinceCheckpoint++
				if sinceCheckpoint >= sc.Config.CheckpointItems || time.Since(lastCheckpoint) >= sc.Config.CheckpointInterval {
					if err := sc.SaveCheckpoint(StageTraversal, sc.LastPersisted()); err != nil {
						return err
					}
					sinceCheckpoint = 0
					lastCheckpoint = time.Now()
					sc.publishProgress()
				}
			}
			return nil
		})
		if walkErr != nil {
			return fmt.Errorf("walk %s: %w", root, walkErr)
		}
	}

	if fastForward {
		// the cursor exists on disk but the walk never reached it; an
		// ignore rule or moved location root swallowed it
		return fmt.Errorf("resume cursor %s was never reached", cursor)
	}

	// unflushed paths would be invisible to reconciliation
	if err := sc.FlushSeenPaths(); err != nil {
		return err
	}
	return sc.SaveCheckpoint(StageTraversal, sc.LastPersisted())
}

// excludeEntry copies entries minus the one at path.
func excludeEntry(entries []fsprobe.Entry, path string) []fsprobe.Entry {
	if len(entries) == 0 {
		return nil
	}
	out := make([]fsprobe.Entry, 0, len(entries)-1)
	for _, e := range entries {
		if e.Path != path {
			out = append(out, e)
		}
	}
	return out
}
