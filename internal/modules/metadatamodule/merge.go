package metadatamodule

import (
	"encoding/json"
	"strings"

	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
)

// Lockable field names as stored in MetadataItem.LockedFields. A locked
// field survives every overlay and refresh until explicitly unlocked.
const (
	FieldTitle         = "title"
	FieldSortTitle     = "sort_title"
	FieldOriginalTitle = "original_title"
	FieldSummary       = "summary"
	FieldTagline       = "tagline"
	FieldContentRating = "content_rating"
	FieldReleaseDate   = "release_date"
	FieldYear          = "year"
	FieldIndex         = "index"
	FieldDuration      = "duration"
	FieldThumb         = "thumb"
	FieldArt           = "art"
	FieldBanner        = "banner"
	FieldExtraFields   = "extra_fields"
)

// ApplyOptions tunes one overlay application.
type ApplyOptions struct {
	// Television resolves ambiguous certification labels against the TV
	// guideline table first.
	Television bool

	// Unlock lists locked fields this overlay may write anyway; a
	// user-triggered refresh passes the fields it was asked to refresh.
	Unlock []string
}

// ApplyPatch overlays a patch onto an item in place, honoring field locks,
// and reports whether anything changed. Title-like fields ignore blank
// values; Year is recomputed from ReleaseDate whenever the patch sets a
// release date, even when the patch also carries its own Year.
func ApplyPatch(item *database.MetadataItem, patch *parts.ItemPatch, opts ApplyOptions) bool {
	if patch == nil {
		return false
	}
	locked := lockedFieldSet(item.LockedFields, opts.Unlock)
	changed := false

	setStr := func(dst *string, v *string, field string) {
		if v == nil || locked[field] || strings.TrimSpace(*v) == "" || *dst == *v {
			return
		}
		*dst = *v
		changed = true
	}
	setStr(&item.Title, patch.Title, FieldTitle)
	setStr(&item.SortTitle, patch.SortTitle, FieldSortTitle)
	setStr(&item.OriginalTitle, patch.OriginalTitle, FieldOriginalTitle)

	if patch.Summary != nil && !locked[FieldSummary] && item.Summary != *patch.Summary {
		item.Summary = *patch.Summary
		changed = true
	}
	if patch.Tagline != nil && !locked[FieldTagline] && item.Tagline != *patch.Tagline {
		item.Tagline = *patch.Tagline
		changed = true
	}

	if patch.ContentRating != nil && !locked[FieldContentRating] && item.ContentRating != *patch.ContentRating {
		item.ContentRating = *patch.ContentRating
		changed = true
		if patch.ContentRatingAge != nil {
			item.ContentRatingAge = *patch.ContentRatingAge
		} else if age, ok := ResolveContentRatingAge(*patch.ContentRating, opts.Television); ok {
			item.ContentRatingAge = age
		}
	}

	if patch.ReleaseDate != nil && !locked[FieldReleaseDate] {
		if item.ReleaseDate == nil || !item.ReleaseDate.Equal(*patch.ReleaseDate) {
			item.ReleaseDate = patch.ReleaseDate
			changed = true
		}
		if !locked[FieldYear] && item.Year != patch.ReleaseDate.Year() {
			item.Year = patch.ReleaseDate.Year()
			changed = true
		}
	} else if patch.Year != nil && !locked[FieldYear] && item.Year != *patch.Year {
		item.Year = *patch.Year
		changed = true
	}

	if patch.ItemIndex != nil && !locked[FieldIndex] {
		if item.ItemIndex == nil || *item.ItemIndex != *patch.ItemIndex {
			idx := *patch.ItemIndex
			item.ItemIndex = &idx
			changed = true
		}
	}
	if patch.AbsoluteIndex != nil && !locked[FieldIndex] {
		if item.AbsoluteIndex == nil || *item.AbsoluteIndex != *patch.AbsoluteIndex {
			idx := *patch.AbsoluteIndex
			item.AbsoluteIndex = &idx
			changed = true
		}
	}
	if patch.DurationMs != nil && !locked[FieldDuration] && item.DurationMs != *patch.DurationMs {
		item.DurationMs = *patch.DurationMs
		changed = true
	}

	setStr(&item.ThumbURI, patch.ThumbURI, FieldThumb)
	setStr(&item.ArtURI, patch.ArtURI, FieldArt)
	setStr(&item.BannerURI, patch.BannerURI, FieldBanner)

	if len(patch.ExtraFields) > 0 && !locked[FieldExtraFields] {
		if merged, ok := mergeExtraFields(item.ExtraFields, patch.ExtraFields); ok {
			item.ExtraFields = merged
			changed = true
		}
	}
	return changed
}

// lockedFieldSet parses the item's JSON lock list minus the unlock
// overrides. Unparseable lock data locks nothing.
func lockedFieldSet(raw string, unlock []string) map[string]bool {
	if raw == "" {
		return nil
	}
	var fields []string
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil
	}
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	for _, f := range unlock {
		delete(set, f)
	}
	return set
}

// mergeExtraFields overlays incoming keys onto the stored JSON object,
// right-biased. Returns ok=false when nothing changed.
func mergeExtraFields(raw string, incoming map[string]string) (string, bool) {
	existing := make(map[string]string)
	if raw != "" {
		// A corrupt stored object is replaced rather than preserved.
		_ = json.Unmarshal([]byte(raw), &existing)
	}
	dirty := false
	for k, v := range incoming {
		if existing[k] != v {
			existing[k] = v
			dirty = true
		}
	}
	if !dirty {
		return raw, false
	}
	out, err := json.Marshal(existing)
	if err != nil {
		return raw, false
	}
	return string(out), true
}

// DeriveSortTitle strips a leading English article so "The Matrix" sorts
// under M. Items keep their display title untouched.
func DeriveSortTitle(title string) string {
	t := strings.TrimSpace(title)
	lower := strings.ToLower(t)
	for _, article := range []string{"the ", "an ", "a "} {
		if strings.HasPrefix(lower, article) && len(t) > len(article) {
			return strings.TrimSpace(t[len(article):])
		}
	}
	return t
}
