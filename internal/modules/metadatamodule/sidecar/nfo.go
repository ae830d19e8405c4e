package sidecar

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
)

// nfoDocument deserializes any of the Kodi NFO root shapes. The untagged
// XMLName accepts whatever root element the file carries; Parse validates
// it afterwards. Fields that only exist on some shapes stay empty on the
// others.
type nfoDocument struct {
	XMLName       xml.Name
	Title         string        `xml:"title"`
	SortTitle     string        `xml:"sorttitle"`
	OriginalTitle string        `xml:"originaltitle"`
	Plot          string        `xml:"plot"`
	Outline       string        `xml:"outline"`
	Tagline       string        `xml:"tagline"`
	MPAA          string        `xml:"mpaa"`
	Premiered     string        `xml:"premiered"`
	Aired         string        `xml:"aired"`
	Year          string        `xml:"year"`
	Runtime       string        `xml:"runtime"`
	Season        string        `xml:"season"`
	Episode       string        `xml:"episode"`
	ShowTitle     string        `xml:"showtitle"`
	Genres        []string      `xml:"genre"`
	Tags          []string      `xml:"tag"`
	Studios       []string      `xml:"studio"`
	Directors     []string      `xml:"director"`
	Credits       []string      `xml:"credits"`
	Actors        []nfoActor    `xml:"actor"`
	UniqueIDs     []nfoUniqueID `xml:"uniqueid"`
	ID            string        `xml:"id"`
	IMDBID        string        `xml:"imdbid"`
	TMDBID        string        `xml:"tmdbid"`
}

type nfoActor struct {
	Name  string `xml:"name"`
	Role  string `xml:"role"`
	Order string `xml:"order"`
	Thumb string `xml:"thumb"`
}

type nfoUniqueID struct {
	Type    string `xml:"type,attr"`
	Default string `xml:"default,attr"`
	Value   string `xml:",chardata"`
}

var imdbURLRe = regexp.MustCompile(`tt\d{7,8}`)

// NFOParser reads Kodi-compatible NFO files. Roots movie, tvshow,
// episodedetails, and album are accepted; any other root element means the
// file is somebody else's NFO and contributes nothing.
type NFOParser struct{}

func (p *NFOParser) Name() string { return "nfo" }

func (p *NFOParser) CanParse(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".nfo")
}

func (p *NFOParser) Parse(ctx context.Context, req *parts.SidecarRequest) (*parts.SidecarResult, error) {
	data, err := os.ReadFile(req.SidecarFile)
	if err != nil {
		return nil, err
	}

	var doc nfoDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		// Plenty of NFOs in the wild are a bare provider URL, not XML.
		// An IMDB id is still worth salvaging from those.
		if m := imdbURLRe.FindString(string(data)); m != "" {
			return &parts.SidecarResult{
				Patch:  &parts.ItemPatch{ExternalIDs: map[string]string{"imdb": m}},
				Source: "nfo",
			}, nil
		}
		return nil, fmt.Errorf("not an xml nfo: %w", err)
	}
	switch doc.XMLName.Local {
	case "movie", "tvshow", "episodedetails", "album":
	default:
		return nil, nil
	}
	if doc.Title == "" && doc.Episode == "" {
		return nil, nil
	}

	res := &parts.SidecarResult{Source: "nfo"}
	patch := &parts.ItemPatch{}

	if doc.Title != "" {
		patch.Title = &doc.Title
	}
	if doc.SortTitle != "" {
		patch.SortTitle = &doc.SortTitle
	}
	if doc.OriginalTitle != "" {
		patch.OriginalTitle = &doc.OriginalTitle
	}
	summary := doc.Plot
	if summary == "" {
		summary = doc.Outline
	}
	if summary != "" {
		patch.Summary = &summary
	}
	if doc.Tagline != "" {
		patch.Tagline = &doc.Tagline
	}
	if doc.MPAA != "" {
		patch.ContentRating = &doc.MPAA
	}
	if t, ok := parseDate(doc.Premiered, doc.Aired); ok {
		patch.ReleaseDate = &t
		y := t.Year()
		patch.Year = &y
	} else if y, ok := nfoInt(doc.Year); ok && y > 0 {
		patch.Year = &y
	}
	if mins, ok := nfoInt(doc.Runtime); ok && mins > 0 {
		ms := int64(mins) * 60_000
		patch.DurationMs = &ms
	}
	if n, ok := nfoInt(doc.Episode); ok && n >= 0 {
		patch.ItemIndex = &n
	}

	hints := make(map[string]string)
	// Kodi writes -1 for unset season and episode numbers.
	if n, ok := nfoInt(doc.Season); ok && n >= 0 {
		hints[parts.HintSeasonNumber] = strconv.Itoa(n)
	}
	if doc.ShowTitle != "" {
		hints[parts.HintShowTitle] = doc.ShowTitle
	}
	if len(hints) > 0 {
		res.Hints = hints
	}

	ids := make(map[string]string)
	for _, u := range doc.UniqueIDs {
		typ := strings.ToLower(strings.TrimSpace(u.Type))
		val := strings.TrimSpace(u.Value)
		if typ == "" || val == "" {
			continue
		}
		ids[typ] = val
	}
	if len(ids) == 0 {
		// Legacy single-ID elements predate <uniqueid>.
		if doc.IMDBID != "" {
			ids["imdb"] = doc.IMDBID
		} else if strings.HasPrefix(doc.ID, "tt") {
			ids["imdb"] = doc.ID
		}
		if doc.TMDBID != "" {
			ids["tmdb"] = doc.TMDBID
		}
	}
	if len(ids) > 0 {
		patch.ExternalIDs = ids
	}

	for _, name := range doc.Directors {
		res.People = append(res.People, parts.PersonRef{Name: name, Role: "director"})
	}
	for _, name := range doc.Credits {
		res.People = append(res.People, parts.PersonRef{Name: name, Role: "writer"})
	}
	for i, a := range doc.Actors {
		if a.Name == "" {
			continue
		}
		ref := parts.PersonRef{Name: a.Name, Role: "actor", As: a.Role, ThumbURI: a.Thumb, SortOrder: i}
		if n, ok := nfoInt(a.Order); ok {
			ref.SortOrder = n
		}
		res.People = append(res.People, ref)
	}
	for _, s := range doc.Studios {
		res.Groups = append(res.Groups, parts.GroupRef{Name: s, Role: "studio"})
	}
	res.Genres = doc.Genres
	res.Tags = doc.Tags
	res.Patch = patch
	return res, nil
}

func nfoInt(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseDate(candidates ...string) (time.Time, bool) {
	for _, s := range candidates {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if t, err := time.Parse("2006-01-02", s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
