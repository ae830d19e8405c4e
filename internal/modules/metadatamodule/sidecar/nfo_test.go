package sidecar

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
)

func writeSidecar(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const movieNFO = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<movie>
  <title>The Matrix</title>
  <sorttitle>Matrix, The</sorttitle>
  <originaltitle>The Matrix</originaltitle>
  <plot>A computer hacker learns the truth about his reality.</plot>
  <tagline>Free your mind</tagline>
  <mpaa>R</mpaa>
  <premiered>1999-03-31</premiered>
  <runtime>136</runtime>
  <genre>Action</genre>
  <genre>Sci-Fi</genre>
  <tag>cyberpunk</tag>
  <studio>Warner Bros.</studio>
  <director>Lana Wachowski</director>
  <credits>Lilly Wachowski</credits>
  <actor>
    <name>Keanu Reeves</name>
    <role>Neo</role>
    <order>0</order>
    <thumb>https://example.com/keanu.jpg</thumb>
  </actor>
  <actor>
    <name>Carrie-Anne Moss</name>
    <role>Trinity</role>
    <order>1</order>
  </actor>
  <uniqueid type="imdb" default="true">tt0133093</uniqueid>
  <uniqueid type="tmdb">603</uniqueid>
</movie>
`

func TestNFOParser_MovieFixture(t *testing.T) {
	path := writeSidecar(t, "The Matrix (1999).nfo", movieNFO)
	p := &NFOParser{}

	res, err := p.Parse(context.Background(), &parts.SidecarRequest{SidecarFile: path})
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NotNil(t, res.Patch)

	assert.Equal(t, "nfo", res.Source)
	assert.Equal(t, "The Matrix", *res.Patch.Title)
	assert.Equal(t, "Matrix, The", *res.Patch.SortTitle)
	assert.Equal(t, "A computer hacker learns the truth about his reality.", *res.Patch.Summary)
	assert.Equal(t, "Free your mind", *res.Patch.Tagline)
	assert.Equal(t, "R", *res.Patch.ContentRating)
	assert.Equal(t, 1999, *res.Patch.Year)
	assert.Equal(t, time.Date(1999, 3, 31, 0, 0, 0, 0, time.UTC), *res.Patch.ReleaseDate)
	assert.Equal(t, int64(136*60_000), *res.Patch.DurationMs)
	assert.Equal(t, map[string]string{"imdb": "tt0133093", "tmdb": "603"}, res.Patch.ExternalIDs)

	assert.Equal(t, []string{"Action", "Sci-Fi"}, res.Genres)
	assert.Equal(t, []string{"cyberpunk"}, res.Tags)
	require.Len(t, res.Groups, 1)
	assert.Equal(t, "Warner Bros.", res.Groups[0].Name)
	assert.Equal(t, "studio", res.Groups[0].Role)

	require.Len(t, res.People, 4)
	assert.Equal(t, parts.PersonRef{Name: "Lana Wachowski", Role: "director"}, res.People[0])
	assert.Equal(t, parts.PersonRef{Name: "Lilly Wachowski", Role: "writer"}, res.People[1])
	assert.Equal(t, "Keanu Reeves", res.People[2].Name)
	assert.Equal(t, "actor", res.People[2].Role)
	assert.Equal(t, "Neo", res.People[2].As)
	assert.Equal(t, "https://example.com/keanu.jpg", res.People[2].ThumbURI)
	assert.Equal(t, 1, res.People[3].SortOrder)
}

func TestNFOParser_EpisodeDetails(t *testing.T) {
	path := writeSidecar(t, "The Wire S02E05.nfo", `<episodedetails>
  <title>All Due Respect</title>
  <season>2</season>
  <episode>5</episode>
  <aired>2003-07-13</aired>
  <showtitle>The Wire</showtitle>
</episodedetails>`)
	p := &NFOParser{}

	res, err := p.Parse(context.Background(), &parts.SidecarRequest{SidecarFile: path})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "All Due Respect", *res.Patch.Title)
	assert.Equal(t, 5, *res.Patch.ItemIndex)
	assert.Equal(t, 2003, *res.Patch.Year)
	assert.Equal(t, "2", res.Hints[parts.HintSeasonNumber])
	assert.Equal(t, "The Wire", res.Hints[parts.HintShowTitle])
}

func TestNFOParser_YearAndOutlineFallbacks(t *testing.T) {
	path := writeSidecar(t, "movie.nfo", `<movie>
  <title>Old Rip</title>
  <outline>The short version.</outline>
  <year>1987</year>
  <id>tt0099999</id>
</movie>`)
	p := &NFOParser{}

	res, err := p.Parse(context.Background(), &parts.SidecarRequest{SidecarFile: path})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "The short version.", *res.Patch.Summary)
	assert.Equal(t, 1987, *res.Patch.Year)
	assert.Nil(t, res.Patch.ReleaseDate)
	assert.Equal(t, map[string]string{"imdb": "tt0099999"}, res.Patch.ExternalIDs)
}

func TestNFOParser_UnknownRootIgnored(t *testing.T) {
	path := writeSidecar(t, "clip.nfo", `<musicvideo><title>Take On Me</title></musicvideo>`)
	p := &NFOParser{}

	res, err := p.Parse(context.Background(), &parts.SidecarRequest{SidecarFile: path})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestNFOParser_URLOnlySalvagesIMDBID(t *testing.T) {
	path := writeSidecar(t, "The Godfather.nfo", "https://www.imdb.com/title/tt0068646/\n")
	p := &NFOParser{}

	res, err := p.Parse(context.Background(), &parts.SidecarRequest{SidecarFile: path})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, map[string]string{"imdb": "tt0068646"}, res.Patch.ExternalIDs)
}

func TestNFOParser_GarbageErrors(t *testing.T) {
	path := writeSidecar(t, "broken.nfo", "<<< definitely not xml")
	p := &NFOParser{}

	_, err := p.Parse(context.Background(), &parts.SidecarRequest{SidecarFile: path})
	assert.Error(t, err)
}

func TestNFOParser_CanParse(t *testing.T) {
	p := &NFOParser{}
	assert.True(t, p.CanParse("/lib/Movie/movie.nfo"))
	assert.True(t, p.CanParse("/lib/Movie/MOVIE.NFO"))
	assert.False(t, p.CanParse("/lib/Movie/movie.txt"))
}
