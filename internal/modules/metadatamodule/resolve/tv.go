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

var (
	// Episode numbering styles, most specific first: "S01E05" then "1x05".
	sxxExxRe   = regexp.MustCompile(`(?i)\bs(\d{1,2})[ ._-]*e(\d{1,3})\b`)
	crossNumRe = regexp.MustCompile(`\b(\d{1,2})x(\d{2,3})\b`)

	seasonDirRe = regexp.MustCompile(`(?i)^season[ ._-]*(\d+)$`)
	looseNumRe  = regexp.MustCompile(`\b(\d{1,3})\b`)
)

// EpisodeResolver handles show libraries: top-level folders become shows,
// season folders become seasons, and numbered video files become episodes.
// Episodes directly under a show folder still carry a season hint so the
// missing season can be synthesized at persist time.
type EpisodeResolver struct{}

func (r *EpisodeResolver) Name() string {
	return "episode"
}

func (r *EpisodeResolver) Priority() int {
	return PriorityEpisode
}

func (r *EpisodeResolver) Resolve(args *parts.ResolveArgs) *parts.ItemDraft {
	if args.LibraryType != database.LibraryTypeTV {
		return nil
	}
	if args.Entry.IsDir {
		return r.resolveFolder(args)
	}
	return r.resolveEpisode(args)
}

func (r *EpisodeResolver) resolveFolder(args *parts.ResolveArgs) *parts.ItemDraft {
	if args.IsRoot {
		return nil
	}
	if num, ok := seasonNumber(args.Entry.Name); ok {
		if args.ResolvedParent == nil || args.ResolvedParent.Kind != database.KindShow {
			return nil
		}
		index := num
		return &parts.ItemDraft{
			Kind:      database.KindSeason,
			Title:     args.Entry.Name,
			ItemIndex: &index,
		}
	}
	if len(args.Ancestors) > 0 {
		return nil
	}
	info := parseName(args.Entry.Name)
	if info.Title == "" {
		return nil
	}
	return &parts.ItemDraft{
		Kind:        database.KindShow,
		Title:       info.Title,
		Year:        info.Year,
		ExternalIDs: externalIDs(info),
	}
}

func (r *EpisodeResolver) resolveEpisode(args *parts.ResolveArgs) *parts.ItemDraft {
	e := args.Entry
	if !e.Exists || !utils.IsVideoFile(e.Name) || parts.IsSampleName(e.Name, e.Ext) {
		return nil
	}
	base := baseName(e)
	season, episode, rest, ok := parseEpisodeNumbers(base)
	if !ok {
		// Inside a season folder a bare number is enough.
		parent := args.ResolvedParent
		if parent == nil || parent.Kind != database.KindSeason || parent.ItemIndex == nil {
			return nil
		}
		n, numOK := looseEpisodeNumber(base)
		if !numOK {
			return nil
		}
		season, episode = *parent.ItemIndex, n
	}

	title := rest
	if title == "" {
		title = base
	}
	index := episode
	draft := &parts.ItemDraft{
		Kind:      database.KindEpisode,
		Title:     title,
		ItemIndex: &index,
		Parts:     []fsprobe.Entry{e},
		Hints:     map[string]string{parts.HintSeasonNumber: strconv.Itoa(season)},
	}
	if len(args.Ancestors) > 0 {
		if show := parseName(args.Ancestors[0]); show.Title != "" {
			draft.Hints[parts.HintShowTitle] = show.Title
		}
	}
	return draft
}

// seasonNumber parses season folder names, treating "Specials" as season 0.
func seasonNumber(name string) (int, bool) {
	if strings.EqualFold(name, "Specials") {
		return 0, true
	}
	if m := seasonDirRe.FindStringSubmatch(name); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n, true
		}
	}
	return 0, false
}

// parseEpisodeNumbers pulls season and episode numbers out of a file base
// name. rest is whatever follows the marker, usually the episode title.
func parseEpisodeNumbers(base string) (season, episode int, rest string, ok bool) {
	for _, re := range []*regexp.Regexp{sxxExxRe, crossNumRe} {
		if loc := re.FindStringSubmatchIndex(base); loc != nil {
			season, _ = strconv.Atoi(base[loc[2]:loc[3]])
			episode, _ = strconv.Atoi(base[loc[4]:loc[5]])
			return season, episode, cleanTitle(base[loc[1]:]), true
		}
	}
	return 0, 0, "", false
}

// looseEpisodeNumber finds a standalone 1-3 digit number in a name. Years
// never match; four digits cannot sit inside word boundaries here.
func looseEpisodeNumber(base string) (int, bool) {
	m := looseNumRe.FindStringSubmatch(base)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
