package resolve

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/fsprobe"
	"github.com/medley-tv/medley/internal/logger"
	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
	"github.com/medley-tv/medley/internal/utils"
)

// ===== Disc Resolver =====

// DiscResolver recognizes optical disc folder structures. A movie folder
// holding VIDEO_TS or BDMV resolves as one movie whose parts are the disc's
// stream files; nothing underneath resolves again.
type DiscResolver struct{}

func (r *DiscResolver) Name() string {
	return "disc"
}

func (r *DiscResolver) Priority() int {
	return PriorityDisc
}

func (r *DiscResolver) Resolve(args *parts.ResolveArgs) *parts.ItemDraft {
	if args.LibraryType != database.LibraryTypeMovie || !args.Entry.IsDir || args.IsRoot {
		return nil
	}
	if args.ResolvedParent != nil && args.ResolvedParent.Disc {
		return nil
	}
	streams := discStreams(args.Children)
	if len(streams) == 0 {
		return nil
	}
	info := parseName(args.Entry.Name)
	return &parts.ItemDraft{
		Kind:        database.KindMovie,
		Title:       info.Title,
		Year:        info.Year,
		Parts:       streams,
		Disc:        true,
		ExternalIDs: externalIDs(info),
	}
}

// discStreams returns the playable stream files under a disc structure, or
// nil when the folder is not one.
func discStreams(children []fsprobe.Entry) []fsprobe.Entry {
	for _, child := range children {
		if !child.IsDir {
			continue
		}
		switch {
		case strings.EqualFold(child.Name, "VIDEO_TS"):
			return streamFiles(child.Path, ".vob")
		case strings.EqualFold(child.Name, "BDMV"):
			return streamFiles(filepath.Join(child.Path, "STREAM"), ".m2ts")
		}
	}
	return nil
}

func streamFiles(dir, ext string) []fsprobe.Entry {
	entries, err := fsprobe.List(dir)
	if err != nil {
		logger.Debug("disc resolver: listing %s failed: %v", dir, err)
		return nil
	}
	var out []fsprobe.Entry
	for _, e := range entries {
		if !e.IsDir && e.Exists && e.Ext == ext {
			out = append(out, e)
		}
	}
	return out
}

func hasDiscDir(children []fsprobe.Entry) bool {
	for _, c := range children {
		if c.IsDir && (strings.EqualFold(c.Name, "VIDEO_TS") || strings.EqualFold(c.Name, "BDMV")) {
			return true
		}
	}
	return false
}

// ===== Stacked Movie Resolver =====

// StackedMovieResolver turns movie folders into movie drafts. A folder's
// videos stack into one multi-part movie only when every one of them carries
// a part marker over the same residual base; otherwise the largest video
// wins. Video files sitting directly in the location root become standalone
// movies.
type StackedMovieResolver struct{}

func (r *StackedMovieResolver) Name() string {
	return "stacked-movie"
}

func (r *StackedMovieResolver) Priority() int {
	return PriorityStacked
}

func (r *StackedMovieResolver) Resolve(args *parts.ResolveArgs) *parts.ItemDraft {
	if args.LibraryType != database.LibraryTypeMovie {
		return nil
	}
	if args.Entry.IsDir {
		return r.resolveFolder(args)
	}
	return r.resolveLooseFile(args)
}

func (r *StackedMovieResolver) resolveFolder(args *parts.ResolveArgs) *parts.ItemDraft {
	if args.IsRoot {
		return nil
	}
	if parent := args.ResolvedParent; parent != nil && (parent.Disc || parent.Kind == database.KindMovie) {
		return nil
	}
	if _, ok := extrasFolderKind(args.Entry.Name); ok {
		return nil
	}
	eligible := eligibleVideos(args.Children)
	if len(eligible) == 0 {
		return nil
	}

	info := parseName(args.Entry.Name)
	draft := &parts.ItemDraft{
		Kind:        database.KindMovie,
		Title:       info.Title,
		Year:        info.Year,
		ExternalIDs: externalIDs(info),
	}
	if stacked, ok := stackGroup(eligible); ok {
		draft.Parts = stacked
		return draft
	}
	main, ok := largestVideo(eligible)
	if !ok {
		return nil
	}
	draft.Parts = []fsprobe.Entry{main}
	return draft
}

// resolveLooseFile handles video files directly in the location root; each
// becomes its own movie. Files below the root are claimed through their
// folder, never individually.
func (r *StackedMovieResolver) resolveLooseFile(args *parts.ResolveArgs) *parts.ItemDraft {
	if len(args.Ancestors) > 0 {
		return nil
	}
	e := args.Entry
	if !e.Exists || !utils.IsVideoFile(e.Name) || parts.IsSampleName(e.Name, e.Ext) {
		return nil
	}
	base := baseName(e)
	if _, ok := inlineExtraKind(base); ok {
		return nil
	}
	info := parseName(base)
	if info.Title == "" {
		return nil
	}
	return &parts.ItemDraft{
		Kind:        database.KindMovie,
		Title:       info.Title,
		Year:        info.Year,
		Parts:       []fsprobe.Entry{e},
		ExternalIDs: externalIDs(info),
	}
}

// stackGroup orders a folder's videos by part marker when every one of them
// carries a marker over the same residual base. Mixed or marker-less sets do
// not stack.
func stackGroup(videos []fsprobe.Entry) ([]fsprobe.Entry, bool) {
	if len(videos) < 2 {
		return nil, false
	}
	type stackable struct {
		entry fsprobe.Entry
		index int
	}
	var (
		members []stackable
		base    string
	)
	for i, v := range videos {
		residual, index, ok := stackPart(baseName(v))
		if !ok {
			return nil, false
		}
		if i == 0 {
			base = residual
		} else if residual != base {
			return nil, false
		}
		members = append(members, stackable{entry: v, index: index})
	}
	sort.SliceStable(members, func(i, j int) bool { return members[i].index < members[j].index })
	out := make([]fsprobe.Entry, len(members))
	for i, m := range members {
		out[i] = m.entry
	}
	return out, true
}

// ===== Extras Resolver =====

// ExtrasResolver claims extra material around movies: files named with an
// "- <type>" suffix next to a movie, and files inside a recognized extras
// folder. The draft carries a pending relation to the owning movie; when no
// owner can be determined the file stays unclaimed.
type ExtrasResolver struct{}

type ownerOutcome string

const (
	ownerFound     ownerOutcome = "success"
	ownerMissing   ownerOutcome = "missing-folder"
	ownerNoVideos  ownerOutcome = "no-eligible-files"
	ownerAmbiguous ownerOutcome = "ambiguous-candidates"
)

func (r *ExtrasResolver) Name() string {
	return "movie-extras"
}

func (r *ExtrasResolver) Priority() int {
	return PriorityExtras
}

func (r *ExtrasResolver) Resolve(args *parts.ResolveArgs) *parts.ItemDraft {
	if args.LibraryType != database.LibraryTypeMovie || args.Entry.IsDir {
		return nil
	}
	e := args.Entry
	if !e.Exists || !utils.IsVideoFile(e.Name) || parts.IsSampleName(e.Name, e.Ext) {
		return nil
	}

	parentDir := filepath.Dir(e.Path)
	kind, inline := inlineExtraKind(baseName(e))
	var folderKind database.ItemKind
	inFolder := false
	if !sameDir(parentDir, args.LocationRoot) {
		// The root itself is never an extras folder, whatever its name.
		folderKind, inFolder = extrasFolderKind(filepath.Base(parentDir))
	}

	var owner string
	switch {
	case inline && inFolder:
		// The suffix refines the folder type; the owner is the folder's
		// parent either way.
		owner = filepath.Dir(parentDir)
	case inline:
		owner = parentDir
	case inFolder:
		kind = folderKind
		owner = filepath.Dir(parentDir)
	default:
		return nil
	}

	target, outcome := r.ownerTarget(args, owner)
	if outcome != ownerFound {
		logger.Debug("extras: dropping %s, owner resolution: %s", e.Path, outcome)
		return nil
	}

	relType := database.RelationClipSupplements
	if kind == database.KindTrailer {
		relType = database.RelationTrailerPromotes
	}
	return &parts.ItemDraft{
		Kind:  kind,
		Title: baseName(e),
		Parts: []fsprobe.Entry{e},
		PendingRelations: []parts.PendingRelation{
			{Type: relType, TargetPath: target},
		},
	}
}

// ownerTarget decides which path the extra's relation points at: the owning
// movie folder, or the single loose movie file when the owner is the
// location root itself.
func (r *ExtrasResolver) ownerTarget(args *parts.ResolveArgs, owner string) (string, ownerOutcome) {
	root := filepath.Clean(args.LocationRoot)
	owner = filepath.Clean(owner)
	rel, err := filepath.Rel(root, owner)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ownerMissing
	}

	var children []fsprobe.Entry
	if sameDir(owner, filepath.Dir(args.Entry.Path)) {
		children = args.Siblings
	} else {
		listed, listErr := fsprobe.List(owner)
		if listErr != nil {
			return "", ownerMissing
		}
		children = listed
	}

	eligible := eligibleVideos(children)
	if owner == root {
		// Loose files in the root are standalone movies, so only a lone
		// candidate identifies the owner.
		switch len(eligible) {
		case 0:
			return "", ownerNoVideos
		case 1:
			return eligible[0].Path, ownerFound
		default:
			return "", ownerAmbiguous
		}
	}
	if len(eligible) == 0 && !hasDiscDir(children) {
		return "", ownerNoVideos
	}
	return owner, ownerFound
}

func sameDir(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}
