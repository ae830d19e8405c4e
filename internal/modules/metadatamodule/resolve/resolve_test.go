package resolve

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/fsprobe"
)

// vfile builds a file entry the way a directory listing would.
func vfile(dir, name string, size int64) fsprobe.Entry {
	return fsprobe.Entry{
		Path:   filepath.Join(dir, name),
		Name:   name,
		Ext:    strings.ToLower(filepath.Ext(name)),
		Size:   size,
		Exists: true,
	}
}

func vdir(parent, name string) fsprobe.Entry {
	return fsprobe.Entry{
		Path:   filepath.Join(parent, name),
		Name:   name,
		IsDir:  true,
		Exists: true,
	}
}

func TestParseName(t *testing.T) {
	tests := []struct {
		name  string
		title string
		year  int
		imdb  string
	}{
		{"Movie (2001)", "Movie (2001)", 2001, ""},
		{"Alien (1979) [imdbid-tt0078748]", "Alien (1979)", 1979, "tt0078748"},
		{"Blade Runner 2049 (2017)", "Blade Runner 2049 (2017)", 2017, ""},
		{"2001 A Space Odyssey (1968)", "2001 A Space Odyssey (1968)", 1968, ""},
		{"The.Matrix.1999.1080p.BluRay", "The Matrix", 1999, ""},
		{"Some Movie (1987) 1080p extended cut", "Some Movie (1987)", 1987, ""},
		{"Plain Name", "Plain Name", 0, ""},
	}
	for _, tt := range tests {
		info := parseName(tt.name)
		assert.Equal(t, tt.title, info.Title, "title of %q", tt.name)
		assert.Equal(t, tt.year, info.Year, "year of %q", tt.name)
		assert.Equal(t, tt.imdb, info.ImdbID, "imdb id of %q", tt.name)
	}
}

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "The Matrix", cleanTitle("The.Matrix."))
	assert.Equal(t, "Dark City", cleanTitle("Dark_City"))
	assert.Equal(t, "Heat", cleanTitle("  Heat -"))
	assert.Equal(t, "Mr. Nobody", cleanTitle("Mr. Nobody"))
}

func TestStackPart(t *testing.T) {
	residual, index, ok := stackPart("Movie.cd1")
	assert.True(t, ok)
	assert.Equal(t, "movie", residual)
	assert.Equal(t, 1, index)

	residual, index, ok = stackPart("Movie (2001) part 2")
	assert.True(t, ok)
	assert.Equal(t, "movie (2001)", residual)
	assert.Equal(t, 2, index)

	_, _, ok = stackPart("Movie (2001)")
	assert.False(t, ok)

	// "pt" with separators still counts.
	_, index, ok = stackPart("movie.pt-3")
	assert.True(t, ok)
	assert.Equal(t, 3, index)
}

func TestInlineExtraKind(t *testing.T) {
	tests := []struct {
		base string
		kind database.ItemKind
		ok   bool
	}{
		{"Movie - trailer", database.KindTrailer, true},
		{"Movie (2001) - trailer", database.KindTrailer, true},
		{"Movie-featurette", database.KindFeaturette, true},
		{"Movie - Behind The Scenes", database.KindBehindTheScenes, true},
		{"Movie - deleted scene", database.KindDeletedScene, true},
		{"Movie - interview", database.KindInterview, true},
		{"Movie - short", database.KindShortForm, true},
		{"Movie (2001)", "", false},
		{"Trailer Park Boys", "", false},
	}
	for _, tt := range tests {
		kind, ok := inlineExtraKind(tt.base)
		assert.Equal(t, tt.ok, ok, "match of %q", tt.base)
		if tt.ok {
			assert.Equal(t, tt.kind, kind, "kind of %q", tt.base)
		}
	}
}

func TestExtrasFolderKind(t *testing.T) {
	kind, ok := extrasFolderKind("Extras")
	assert.True(t, ok)
	assert.Equal(t, database.KindExtraOther, kind)

	kind, ok = extrasFolderKind("featurettes")
	assert.True(t, ok)
	assert.Equal(t, database.KindFeaturette, kind)

	_, ok = extrasFolderKind("Movie (2001)")
	assert.False(t, ok)
}

func TestEligibleVideos(t *testing.T) {
	dir := "/m/Movie (2001)"
	children := []fsprobe.Entry{
		vfile(dir, "Movie (2001).mkv", 3000),
		vfile(dir, "Movie (2001) - trailer.mp4", 100),
		vfile(dir, "sample.mkv", 50),
		vfile(dir, "poster.jpg", 10),
		vdir(dir, "Extras"),
	}
	eligible := eligibleVideos(children)
	if assert.Len(t, eligible, 1) {
		assert.Equal(t, "Movie (2001).mkv", eligible[0].Name)
	}
}
