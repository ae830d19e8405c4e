package resolve

import (
	"regexp"
	"strconv"

	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/fsprobe"
	"github.com/medley-tv/medley/internal/logger"
	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
	"github.com/medley-tv/medley/internal/utils"
)

var (
	discDirRe  = regexp.MustCompile(`(?i)^(?:cd|disc|disk)[ ._-]*(\d+)$`)
	trackNumRe = regexp.MustCompile(`^(\d{1,3})[ ._-]+(.+)$`)
)

// MusicResolver maps the Artist/Album/Track folder convention onto album
// releases, media, and tracks. Artist folders never become items; the album
// carries an artist hint instead and agents establish artist identity from
// MusicBrainz ids later. Audio files outside any album are dropped.
type MusicResolver struct{}

func (r *MusicResolver) Name() string {
	return "music"
}

func (r *MusicResolver) Priority() int {
	return PriorityMusic
}

func (r *MusicResolver) Resolve(args *parts.ResolveArgs) *parts.ItemDraft {
	if args.LibraryType != database.LibraryTypeMusic {
		return nil
	}
	if args.Entry.IsDir {
		return r.resolveFolder(args)
	}
	return r.resolveTrack(args)
}

func (r *MusicResolver) resolveFolder(args *parts.ResolveArgs) *parts.ItemDraft {
	if args.IsRoot {
		return nil
	}
	if m := discDirRe.FindStringSubmatch(args.Entry.Name); m != nil {
		parent := args.ResolvedParent
		if parent == nil || parent.Kind != database.KindAlbumRelease {
			return nil
		}
		index, _ := strconv.Atoi(m[1])
		return &parts.ItemDraft{
			Kind:      database.KindAlbumMedium,
			Title:     args.Entry.Name,
			ItemIndex: &index,
		}
	}
	if args.ResolvedParent != nil && isAlbumKind(args.ResolvedParent.Kind) {
		return nil
	}
	if !looksLikeAlbum(args.Children) {
		return nil
	}
	info := parseName(args.Entry.Name)
	draft := &parts.ItemDraft{
		Kind:  database.KindAlbumRelease,
		Title: info.Title,
		Year:  info.Year,
	}
	if len(args.Ancestors) > 0 {
		draft.Hints = map[string]string{
			parts.HintArtistName: args.Ancestors[len(args.Ancestors)-1],
		}
	}
	return draft
}

func (r *MusicResolver) resolveTrack(args *parts.ResolveArgs) *parts.ItemDraft {
	e := args.Entry
	if !e.Exists || !utils.IsAudioFile(e.Name) {
		return nil
	}
	parent := args.ResolvedParent
	if parent == nil || !isAlbumKind(parent.Kind) {
		logger.Debug("music: dropping orphan audio file outside an album: %s", e.Path)
		return nil
	}
	base := baseName(e)
	draft := &parts.ItemDraft{
		Kind:  database.KindTrack,
		Title: base,
		Parts: []fsprobe.Entry{e},
	}
	if m := trackNumRe.FindStringSubmatch(base); m != nil {
		index, _ := strconv.Atoi(m[1])
		draft.ItemIndex = &index
		draft.Title = cleanTitle(m[2])
	}
	return draft
}

// looksLikeAlbum reports whether a folder holds audio directly or through
// disc subfolders. Anything else is treated as an artist or grouping folder.
func looksLikeAlbum(children []fsprobe.Entry) bool {
	for _, c := range children {
		if !c.IsDir && c.Exists && utils.IsAudioFile(c.Name) {
			return true
		}
		if c.IsDir && discDirRe.MatchString(c.Name) {
			return true
		}
	}
	return false
}

func isAlbumKind(kind database.ItemKind) bool {
	return kind == database.KindAlbumRelease || kind == database.KindAlbumMedium
}
