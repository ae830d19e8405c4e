package sidecar

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dhowden/tag"

	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
	"github.com/medley-tv/medley/internal/utils"
)

// AudioTagExtractor reads embedded audio tags (ID3, vorbis comments, MP4
// atoms) via dhowden/tag.
type AudioTagExtractor struct{}

func (e *AudioTagExtractor) Name() string { return "audio-tags" }

func (e *AudioTagExtractor) CanExtract(path string) bool {
	return utils.IsAudioFile(path)
}

func (e *AudioTagExtractor) Extract(ctx context.Context, path string, libraryType string) (*parts.SidecarResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("empty file: %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		return nil, fmt.Errorf("read tags: %w", err)
	}

	res := &parts.SidecarResult{Source: "audio-tags"}
	patch := &parts.ItemPatch{}

	if title := cleanTag(meta.Title()); title != "" {
		patch.Title = &title
	}
	if year := meta.Year(); year > 0 {
		patch.Year = &year
	}
	if track, _ := meta.Track(); track > 0 {
		patch.ItemIndex = &track
	}
	if ids := musicBrainzIDs(meta.Raw()); len(ids) > 0 {
		patch.ExternalIDs = ids
	}

	hints := make(map[string]string)
	if album := cleanTag(meta.Album()); album != "" {
		hints[parts.HintAlbumTitle] = album
	}
	if disc, _ := meta.Disc(); disc > 0 {
		hints[parts.HintDiscNumber] = strconv.Itoa(disc)
	}
	if pic := meta.Picture(); pic != nil && len(pic.Data) > 0 {
		hints[parts.HintEmbeddedArt] = path
	}
	if len(hints) > 0 {
		res.Hints = hints
	}

	if artist := cleanTag(meta.Artist()); artist != "" {
		res.People = append(res.People, parts.PersonRef{Name: artist, Role: "artist"})
	}
	if aa := cleanTag(meta.AlbumArtist()); aa != "" {
		res.Groups = append(res.Groups, parts.GroupRef{Name: aa, Role: "album_artist"})
	}
	if genre := cleanTag(meta.Genre()); genre != "" {
		res.Genres = append(res.Genres, genre)
	}

	res.Patch = patch
	return res, nil
}

// ReadEmbeddedArt re-opens a media file flagged with an embedded-art hint
// and returns the cover image bytes plus their format extension. The
// extractor only records the path, so the asset stage pays the second read
// for files that actually carry a picture.
func ReadEmbeddedArt(path string) ([]byte, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		return nil, "", fmt.Errorf("read tags: %w", err)
	}
	pic := meta.Picture()
	if pic == nil || len(pic.Data) == 0 {
		return nil, "", fmt.Errorf("no embedded picture in %s", path)
	}
	return pic.Data, strings.ToLower(pic.Ext), nil
}

var tagKeyCleaner = strings.NewReplacer(" ", "", "_", "", "-", "")

// musicBrainzIDs digs MusicBrainz identifiers out of the raw tag map.
// Vorbis comments use underscored lowercase keys while ID3v2 TXXX frames
// use spaced mixed-case ones, so keys are normalized before matching.
func musicBrainzIDs(raw map[string]interface{}) map[string]string {
	norm := make(map[string]string, len(raw))
	for k, v := range raw {
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		norm[tagKeyCleaner.Replace(strings.ToLower(k))] = s
	}

	ids := make(map[string]string)
	if v := norm["musicbrainzreleasetrackid"]; v != "" {
		ids["musicbrainz_track"] = v
	} else if v := norm["musicbrainztrackid"]; v != "" {
		ids["musicbrainz_track"] = v
	}
	if v := norm["musicbrainzalbumid"]; v != "" {
		ids["musicbrainz_album"] = v
	}
	if v := norm["musicbrainzartistid"]; v != "" {
		ids["musicbrainz_artist"] = v
	}
	return ids
}

// cleanTag trims and collapses whitespace; tag values in the wild carry
// padding and doubled spaces.
func cleanTag(s string) string {
	cleaned := strings.TrimSpace(s)
	if cleaned == "" {
		return cleaned
	}
	return strings.Join(strings.Fields(cleaned), " ")
}
