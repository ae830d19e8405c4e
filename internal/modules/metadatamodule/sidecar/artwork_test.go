package sidecar

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
)

func TestArtworkKind(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/lib/Movie/poster.jpg", parts.HintArtworkPoster},
		{"/lib/Movie/folder.png", parts.HintArtworkPoster},
		{"/lib/Movie/cover.jpg", parts.HintArtworkPoster},
		{"/lib/Movie/fanart.jpg", parts.HintArtworkFanart},
		{"/lib/Movie/backdrop.jpg", parts.HintArtworkFanart},
		{"/lib/Movie/background.jpg", parts.HintArtworkFanart},
		{"/lib/Movie/banner.jpg", parts.HintArtworkBanner},
		{"/lib/Movie/thumb.jpg", parts.HintArtworkThumb},
		{"/lib/Movie/landscape.jpg", parts.HintArtworkThumb},
		{"/lib/Movie/Movie (2001)-poster.jpg", parts.HintArtworkPoster},
		{"/lib/Movie/POSTER.JPG", parts.HintArtworkPoster},
		{"/lib/Movie/screenshot.jpg", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, artworkKind(tc.path), tc.path)
	}
}

func TestLocalArtworkParser_CanParse(t *testing.T) {
	p := &LocalArtworkParser{}
	assert.True(t, p.CanParse("/lib/Movie/poster.jpg"))
	assert.False(t, p.CanParse("/lib/Movie/screenshot.jpg"))
	assert.False(t, p.CanParse("/lib/Movie/poster.txt"))
}

func TestLocalArtworkParser_EmitsPathHint(t *testing.T) {
	p := &LocalArtworkParser{}

	res, err := p.Parse(context.Background(), &parts.SidecarRequest{
		SidecarFile: "/lib/Movie (2001)/fanart.jpg",
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "local-artwork", res.Source)
	assert.Equal(t, "/lib/Movie (2001)/fanart.jpg", res.Hints[parts.HintArtworkFanart])
	assert.Nil(t, res.Patch)
}

func TestPairsWith(t *testing.T) {
	media := "/lib/M/Movie (2001).mkv"
	cases := []struct {
		sidecar string
		want    bool
	}{
		{"/lib/M/Movie (2001).nfo", true},
		{"/lib/M/MOVIE (2001).NFO", true},
		{"/lib/M/movie.nfo", true},
		{"/lib/M/metadata.json", true},
		{"/lib/M/Movie (2001)-poster.jpg", true},
		{"/lib/M/poster.jpg", true},
		{"/lib/M/Movie (2001).srt", true},
		{"/lib/M/Other Movie.nfo", false},
		{"/lib/M/screenshot.jpg", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, PairsWith(media, tc.sidecar), tc.sidecar)
	}
}
