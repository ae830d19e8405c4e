package scanner

import (
	"path/filepath"
	"strings"

	"github.com/medley-tv/medley/internal/logger"
	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
)

// resolveStage classifies entries into typed drafts. Resolvers run in
// priority order and the first draft wins. Entries nothing claims are
// dropped here, which is the normal fate of sidecar files, artwork, and
// folders that only group things.
type resolveStage struct{}

func (resolveStage) Name() string { return StageResolveItems }

// resolvedFrame is one resolved ancestor directory still on the walk
// path.
type resolvedFrame struct {
	path  string
	draft *parts.ItemDraft
}

func (st *resolveStage) Run(sc *ScanContext, in <-chan *ScanWorkItem, out chan<- *ScanWorkItem) error {
	resolvers := sc.Registry.Resolvers()
	var stack []resolvedFrame

	for item := range in {
		for len(stack) > 0 && !underDir(stack[len(stack)-1].path, item.Entry.Path) {
			stack = stack[:len(stack)-1]
		}
		var parent *resolvedFrame
		if len(stack) > 0 {
			parent = &stack[len(stack)-1]
		}
		if parent != nil && parent.draft.Disc {
			continue // nothing below a disc structure is its own item
		}

		args := &parts.ResolveArgs{
			Entry:             item.Entry,
			LibraryType:       sc.Section.Type,
			LibrarySectionID:  sc.Section.ID,
			SectionLocationID: item.LocationID,
			LocationRoot:      item.LocationRoot,
			IsRoot:            item.IsRoot,
			Children:          item.Children,
			Siblings:          item.Siblings,
			Ancestors:         ancestorNames(item.LocationRoot, item.Entry.Path),
			ResolvedParent:    parentDraft(parent),
		}
		var draft *parts.ItemDraft
		for _, r := range resolvers {
			if draft = r.Resolve(args); draft != nil {
				break
			}
		}
		if draft == nil {
			if !item.Entry.IsDir {
				logger.Debug("no resolver claimed %s", item.Entry.Path)
			}
			continue
		}

		item.Draft = draft
		if item.Entry.IsDir {
			stack = append(stack, resolvedFrame{path: item.Entry.Path, draft: draft})
		}
		if err := sc.send(out, item); err != nil {
			return err
		}
	}
	return nil
}

func parentDraft(f *resolvedFrame) *parts.ItemDraft {
	if f == nil {
		return nil
	}
	return f.draft
}

// underDir reports whether path lies strictly inside dir.
func underDir(dir, path string) bool {
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}

// ancestorNames lists directory names between the location root and the
// entry's parent, nearest last. The root itself is excluded.
func ancestorNames(root, path string) []string {
	rel, err := filepath.Rel(root, filepath.Dir(path))
	if err != nil || rel == "." || rel == "" || strings.HasPrefix(rel, "..") {
		return nil
	}
	return strings.Split(rel, string(filepath.Separator))
}
