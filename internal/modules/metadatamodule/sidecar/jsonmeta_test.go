package sidecar

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
)

func TestJSONMetadataParser_FullDocument(t *testing.T) {
	path := writeSidecar(t, "metadata.json", `{
  "title": "Blade Runner",
  "sort_title": "Blade Runner",
  "overview": "A blade runner must pursue and terminate four replicants.",
  "content_rating": "R",
  "release_date": "1982-06-25",
  "genres": ["Sci-Fi", "Thriller"],
  "tags": ["dystopia"],
  "studios": ["Warner Bros."],
  "ids": {"IMDB": "tt0083658", "tmdb": "78"}
}`)
	p := &JSONMetadataParser{}

	res, err := p.Parse(context.Background(), &parts.SidecarRequest{SidecarFile: path})
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NotNil(t, res.Patch)

	assert.Equal(t, "json", res.Source)
	assert.Equal(t, "Blade Runner", *res.Patch.Title)
	assert.Equal(t, "A blade runner must pursue and terminate four replicants.", *res.Patch.Summary)
	assert.Equal(t, "R", *res.Patch.ContentRating)
	assert.Equal(t, 1982, *res.Patch.Year)
	require.NotNil(t, res.Patch.ReleaseDate)
	assert.Equal(t, "1982-06-25", res.Patch.ReleaseDate.Format("2006-01-02"))
	assert.Equal(t, map[string]string{"imdb": "tt0083658", "tmdb": "78"}, res.Patch.ExternalIDs)
	assert.Equal(t, []string{"Sci-Fi", "Thriller"}, res.Genres)
	assert.Equal(t, []string{"dystopia"}, res.Tags)
	require.Len(t, res.Groups, 1)
	assert.Equal(t, "Warner Bros.", res.Groups[0].Name)
}

func TestJSONMetadataParser_YearWithoutDate(t *testing.T) {
	path := writeSidecar(t, "info.json", `{"title": "Stalker", "year": 1979}`)
	p := &JSONMetadataParser{}

	res, err := p.Parse(context.Background(), &parts.SidecarRequest{SidecarFile: path})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1979, *res.Patch.Year)
	assert.Nil(t, res.Patch.ReleaseDate)
}

func TestJSONMetadataParser_EmptyDocumentIgnored(t *testing.T) {
	path := writeSidecar(t, "metadata.json", `{}`)
	p := &JSONMetadataParser{}

	res, err := p.Parse(context.Background(), &parts.SidecarRequest{SidecarFile: path})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestJSONMetadataParser_BadJSONErrors(t *testing.T) {
	path := writeSidecar(t, "metadata.json", `{"title": `)
	p := &JSONMetadataParser{}

	_, err := p.Parse(context.Background(), &parts.SidecarRequest{SidecarFile: path})
	assert.Error(t, err)
}

func TestJSONMetadataParser_CanParse(t *testing.T) {
	p := &JSONMetadataParser{}
	assert.True(t, p.CanParse("/lib/Movie/metadata.json"))
	assert.False(t, p.CanParse("/lib/Movie/movie.nfo"))
}
