package sidecar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
)

func strp(s string) *string { return &s }

func TestMergeResults_OverlaysInOrder(t *testing.T) {
	nfo := &parts.SidecarResult{
		Patch:  &parts.ItemPatch{Title: strp("From NFO"), Tagline: strp("Keep me")},
		Hints:  map[string]string{parts.HintShowTitle: "The Wire"},
		Source: "nfo",
	}
	jsn := &parts.SidecarResult{
		Patch:  &parts.ItemPatch{Title: strp("From JSON")},
		Hints:  map[string]string{parts.HintSeasonNumber: "2"},
		Source: "json",
	}

	out := MergeResults(nfo, jsn)
	require.NotNil(t, out)
	assert.Equal(t, "From JSON", *out.Patch.Title)
	assert.Equal(t, "Keep me", *out.Patch.Tagline)
	assert.Equal(t, "The Wire", out.Hints[parts.HintShowTitle])
	assert.Equal(t, "2", out.Hints[parts.HintSeasonNumber])
	assert.Equal(t, "nfo+json", out.Source)
}

func TestMergeResults_UnionsContributors(t *testing.T) {
	a := &parts.SidecarResult{
		People: []parts.PersonRef{{Name: "Keanu Reeves", Role: "actor", As: "Neo"}},
		Groups: []parts.GroupRef{{Name: "Warner Bros.", Role: "studio"}},
		Genres: []string{"Action"},
		Source: "nfo",
	}
	b := &parts.SidecarResult{
		People: []parts.PersonRef{
			{Name: "keanu reeves", Role: "actor"},
			{Name: "Keanu Reeves", Role: "director"},
		},
		Groups: []parts.GroupRef{{Name: "warner bros.", Role: "studio"}},
		Genres: []string{"action", "Sci-Fi"},
		Source: "json",
	}

	out := MergeResults(a, b)
	require.NotNil(t, out)
	require.Len(t, out.People, 2)
	assert.Equal(t, "Neo", out.People[0].As)
	assert.Equal(t, "director", out.People[1].Role)
	assert.Len(t, out.Groups, 1)
	assert.Equal(t, []string{"Action", "Sci-Fi"}, out.Genres)
}

func TestMergeResults_SkipsNils(t *testing.T) {
	assert.Nil(t, MergeResults(nil, nil))

	only := &parts.SidecarResult{Source: "nfo", Genres: []string{"Drama"}}
	out := MergeResults(nil, only, nil)
	require.NotNil(t, out)
	assert.Equal(t, "nfo", out.Source)
	assert.Equal(t, []string{"Drama"}, out.Genres)
}
