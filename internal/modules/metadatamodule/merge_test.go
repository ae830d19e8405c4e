package metadatamodule

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }
func intp(n int) *int       { return &n }

func TestApplyPatch_OverlaysFields(t *testing.T) {
	item := &database.MetadataItem{Title: "the matrix"}
	release := time.Date(1999, 3, 31, 0, 0, 0, 0, time.UTC)

	changed := ApplyPatch(item, &parts.ItemPatch{
		Title:       strp("The Matrix"),
		Summary:     strp("A hacker learns the truth."),
		Tagline:     strp("Free your mind"),
		ReleaseDate: &release,
	}, ApplyOptions{})

	assert.True(t, changed)
	assert.Equal(t, "The Matrix", item.Title)
	assert.Equal(t, "A hacker learns the truth.", item.Summary)
	assert.Equal(t, "Free your mind", item.Tagline)
	require.NotNil(t, item.ReleaseDate)
	assert.Equal(t, 1999, item.Year)
}

func TestApplyPatch_BlankTitleIgnored(t *testing.T) {
	item := &database.MetadataItem{Title: "Heat"}
	changed := ApplyPatch(item, &parts.ItemPatch{Title: strp("   ")}, ApplyOptions{})
	assert.False(t, changed)
	assert.Equal(t, "Heat", item.Title)
}

func TestApplyPatch_LockedFieldsSurvive(t *testing.T) {
	item := &database.MetadataItem{
		Title:        "My Custom Title",
		Year:         2001,
		LockedFields: `["title","year"]`,
	}
	patch := &parts.ItemPatch{Title: strp("Provider Title"), Year: intp(1999)}

	assert.False(t, ApplyPatch(item, patch, ApplyOptions{}))
	assert.Equal(t, "My Custom Title", item.Title)
	assert.Equal(t, 2001, item.Year)

	// Unlocking a field lets this one overlay through; year stays locked.
	assert.True(t, ApplyPatch(item, patch, ApplyOptions{Unlock: []string{"title"}}))
	assert.Equal(t, "Provider Title", item.Title)
	assert.Equal(t, 2001, item.Year)
}

func TestApplyPatch_ReleaseDateWinsOverPatchYear(t *testing.T) {
	item := &database.MetadataItem{Year: 1998}
	release := time.Date(1999, 3, 31, 0, 0, 0, 0, time.UTC)

	ApplyPatch(item, &parts.ItemPatch{ReleaseDate: &release, Year: intp(2005)}, ApplyOptions{})
	assert.Equal(t, 1999, item.Year)
}

func TestApplyPatch_YearLockBlocksRecompute(t *testing.T) {
	item := &database.MetadataItem{Year: 1998, LockedFields: `["year"]`}
	release := time.Date(1999, 3, 31, 0, 0, 0, 0, time.UTC)

	assert.True(t, ApplyPatch(item, &parts.ItemPatch{ReleaseDate: &release}, ApplyOptions{}))
	require.NotNil(t, item.ReleaseDate)
	assert.Equal(t, 1998, item.Year)
}

func TestApplyPatch_ContentRatingResolvesAge(t *testing.T) {
	item := &database.MetadataItem{}
	ApplyPatch(item, &parts.ItemPatch{ContentRating: strp("R")}, ApplyOptions{})
	assert.Equal(t, "R", item.ContentRating)
	assert.Equal(t, 17, item.ContentRatingAge)

	// An explicit age from the source beats the guideline table.
	ApplyPatch(item, &parts.ItemPatch{
		ContentRating:    strp("Festival Cut"),
		ContentRatingAge: intp(12),
	}, ApplyOptions{})
	assert.Equal(t, 12, item.ContentRatingAge)
}

func TestApplyPatch_ExtraFieldsMergeRightBiased(t *testing.T) {
	item := &database.MetadataItem{
		ExtraFields: `{"edition":"Director's Cut","source":"bluray"}`,
	}
	changed := ApplyPatch(item, &parts.ItemPatch{
		ExtraFields: map[string]string{"source": "remux", "hdr": "DV"},
	}, ApplyOptions{})
	assert.True(t, changed)

	var merged map[string]string
	require.NoError(t, json.Unmarshal([]byte(item.ExtraFields), &merged))
	assert.Equal(t, "Director's Cut", merged["edition"])
	assert.Equal(t, "remux", merged["source"])
	assert.Equal(t, "DV", merged["hdr"])
}

func TestApplyPatch_IdenticalValuesReportNoChange(t *testing.T) {
	item := &database.MetadataItem{}
	patch := &parts.ItemPatch{Title: strp("Alien"), Year: intp(1979), ItemIndex: intp(3)}

	assert.True(t, ApplyPatch(item, patch, ApplyOptions{}))
	assert.False(t, ApplyPatch(item, patch, ApplyOptions{}))
}

func TestApplyPatch_NilPatch(t *testing.T) {
	item := &database.MetadataItem{Title: "Heat"}
	assert.False(t, ApplyPatch(item, nil, ApplyOptions{}))
}

func TestDeriveSortTitle(t *testing.T) {
	cases := []struct {
		title string
		want  string
	}{
		{"The Matrix", "Matrix"},
		{"A Beautiful Mind", "Beautiful Mind"},
		{"An American Werewolf in London", "American Werewolf in London"},
		{"THE THING", "THING"},
		{"Heat", "Heat"},
		{"Them", "Them"},
		{"The", "The"},
		{"  The Wire  ", "Wire"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DeriveSortTitle(tc.title), "title %q", tc.title)
	}
}
