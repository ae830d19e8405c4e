// Package resolve implements the built-in item resolvers for the core
// library types. Each resolver inspects one filesystem entry plus its
// surroundings and either claims it as a typed item draft or passes to the
// next one.
package resolve

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/fsprobe"
	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
	"github.com/medley-tv/medley/internal/utils"
)

// Resolver priorities. Lower runs first; the first non-nil draft wins.
const (
	PriorityDisc       = 10
	PriorityStacked    = 20
	PriorityExtras     = 30
	PriorityEpisode    = 40
	PriorityPhotoAlbum = 50
	PriorityPictureSet = 55
	PriorityMusic      = 60
)

// RegisterBuiltins wires the built-in resolvers into a registry. Called
// once from the metadata module before the registry freezes.
func RegisterBuiltins(reg *parts.Registry) error {
	resolvers := []parts.ItemResolver{
		&DiscResolver{},
		&StackedMovieResolver{},
		&ExtrasResolver{},
		&EpisodeResolver{},
		NewPhotoAlbumResolver(),
		NewPictureSetResolver(),
		&MusicResolver{},
	}
	for _, r := range resolvers {
		if err := reg.RegisterResolver(r); err != nil {
			return err
		}
	}
	return nil
}

// ===== Name Parsing =====

var (
	// parenYearRe matches release years in the standard "Title (Year)"
	// naming convention.
	parenYearRe = regexp.MustCompile(`\((19\d{2}|20\d{2})\)`)

	// imdbTagRe matches explicit id tags like "[imdbid-tt0133093]".
	imdbTagRe = regexp.MustCompile(`(?i)\[imdbid-(tt\d+)\]`)

	// bracketTagRe strips any bracketed tag group from a name.
	bracketTagRe = regexp.MustCompile(`\s*\[[^\]]*\]`)
)

// NameInfo is what a folder or file name yields on its own, before any
// sidecar or agent metadata arrives.
type NameInfo struct {
	Title  string
	Year   int
	ImdbID string
}

// parseName extracts title, year, and an optional imdb tag from a folder or
// file base name. Titles in "Title (Year)" form keep the year suffix; that
// string is the item's identity until richer sources overlay it. Dotted
// release names ("Title.Year.Quality") are cleaned instead since they have
// no display form.
func parseName(name string) NameInfo {
	info := NameInfo{}
	rest := name
	if m := imdbTagRe.FindStringSubmatch(rest); m != nil {
		info.ImdbID = m[1]
	}
	rest = bracketTagRe.ReplaceAllString(rest, "")

	if ms := parenYearRe.FindAllStringSubmatchIndex(rest, -1); len(ms) > 0 {
		// Take the last year marker; titles may contain years themselves.
		last := ms[len(ms)-1]
		info.Year, _ = strconv.Atoi(rest[last[2]:last[3]])
		// Quality tags after the year marker are noise.
		rest = rest[:last[1]]
		info.Title = cleanTitle(rest)
		return info
	}
	if dotted, ok := parseDottedName(rest); ok {
		dotted.ImdbID = info.ImdbID
		return dotted
	}
	info.Title = cleanTitle(rest)
	return info
}

// parseDottedName handles scene-style names like "The.Matrix.1999.1080p":
// the first dot-separated 4-digit part in a plausible year range splits the
// title from the release tags.
func parseDottedName(raw string) (NameInfo, bool) {
	pieces := strings.Split(raw, ".")
	if len(pieces) < 2 {
		return NameInfo{}, false
	}
	for i, piece := range pieces {
		if i == 0 || len(piece) != 4 {
			continue
		}
		year, err := strconv.Atoi(piece)
		if err != nil || year < 1900 || year > 2030 {
			continue
		}
		return NameInfo{
			Title: cleanTitle(strings.Join(pieces[:i], " ")),
			Year:  year,
		}, true
	}
	return NameInfo{}, false
}

// cleanTitle normalizes a raw name fragment: separator dots and underscores
// become spaces when they dominate, and whitespace runs collapse.
func cleanTitle(raw string) string {
	title := strings.Trim(raw, " .-_")
	if strings.Count(title, ".") > strings.Count(title, " ") {
		title = strings.ReplaceAll(title, ".", " ")
	}
	title = strings.ReplaceAll(title, "_", " ")
	return strings.Join(strings.Fields(title), " ")
}

func externalIDs(info NameInfo) map[string]string {
	if info.ImdbID == "" {
		return nil
	}
	return map[string]string{"imdb": info.ImdbID}
}

// ===== Stacking =====

// stackMarkerRe matches multi-part release markers like "cd1", "disc 2",
// or "part.3" anywhere in a file base name.
var stackMarkerRe = regexp.MustCompile(`(?i)\b(cd|disc|disk|dvd|part|pt)[ ._-]*(\d+)\b`)

// stackPart splits a video base name into its residual base and part index.
// ok is false when the name carries no stack marker.
func stackPart(base string) (residual string, index int, ok bool) {
	loc := stackMarkerRe.FindStringSubmatchIndex(base)
	if loc == nil {
		return "", 0, false
	}
	index, _ = strconv.Atoi(base[loc[4]:loc[5]])
	rest := base[:loc[0]] + base[loc[1]:]
	residual = strings.ToLower(strings.Trim(rest, " ._-"))
	return residual, index, true
}

// ===== Extras Naming =====

// Inline extras carry a "- <type>" suffix on the file base name; extras
// folders group them by type instead. Both map onto the same item kinds.
var extraSuffixKinds = map[string]database.ItemKind{
	"trailer":         database.KindTrailer,
	"featurette":      database.KindFeaturette,
	"behindthescenes": database.KindBehindTheScenes,
	"deleted":         database.KindDeletedScene,
	"deletedscene":    database.KindDeletedScene,
	"interview":       database.KindInterview,
	"scene":           database.KindScene,
	"clip":            database.KindClip,
	"short":           database.KindShortForm,
	"other":           database.KindExtraOther,
}

var extraFolderKinds = map[string]database.ItemKind{
	"trailers":          database.KindTrailer,
	"featurettes":       database.KindFeaturette,
	"behind the scenes": database.KindBehindTheScenes,
	"deleted scenes":    database.KindDeletedScene,
	"interviews":        database.KindInterview,
	"scenes":            database.KindScene,
	"clips":             database.KindClip,
	"shorts":            database.KindShortForm,
	"other":             database.KindExtraOther,
	"others":            database.KindExtraOther,
	"extras":            database.KindExtraOther,
}

// inlineExtraRe matches "<title> - <type>" file base names. The dash is
// required; surrounding separators are flexible.
var inlineExtraRe = regexp.MustCompile(`(?i)^.+[ ._]*-[ ._]*(trailer|featurette|behind[ ._-]?the[ ._-]?scenes|deleted[ ._-]?scene|deleted|interview|scene|clip|short|other)$`)

var extraKeyCleaner = strings.NewReplacer(" ", "", ".", "", "_", "", "-", "")

// inlineExtraKind reports the extra kind an "- <type>" suffix names, if any.
func inlineExtraKind(base string) (database.ItemKind, bool) {
	m := inlineExtraRe.FindStringSubmatch(base)
	if m == nil {
		return "", false
	}
	kind, ok := extraSuffixKinds[extraKeyCleaner.Replace(strings.ToLower(m[1]))]
	return kind, ok
}

// extrasFolderKind reports the extra kind a folder name implies, if any.
func extrasFolderKind(name string) (database.ItemKind, bool) {
	kind, ok := extraFolderKinds[strings.ToLower(name)]
	return kind, ok
}

// ===== Shared Helpers =====

func baseName(e fsprobe.Entry) string {
	return strings.TrimSuffix(e.Name, e.Ext)
}

// eligibleVideos filters a directory listing down to the video files a
// movie draft may claim: present, non-sample, and not named as extras.
func eligibleVideos(entries []fsprobe.Entry) []fsprobe.Entry {
	var out []fsprobe.Entry
	for _, e := range entries {
		if e.IsDir || !e.Exists || !utils.IsVideoFile(e.Name) {
			continue
		}
		if parts.IsSampleName(e.Name, e.Ext) {
			continue
		}
		if _, ok := inlineExtraKind(baseName(e)); ok {
			continue
		}
		out = append(out, e)
	}
	return out
}

// largestVideo picks the biggest entry; listings are sorted, so ties keep
// the lexicographically first file.
func largestVideo(entries []fsprobe.Entry) (fsprobe.Entry, bool) {
	if len(entries) == 0 {
		return fsprobe.Entry{}, false
	}
	best := entries[0]
	for _, e := range entries[1:] {
		if e.Size > best.Size {
			best = e
		}
	}
	return best, true
}
