// Package sidecar implements the built-in local metadata sources: NFO and
// JSON files next to the media, local artwork images, embedded audio tags,
// and the ffprobe stream analyzer. Everything here reads what is already on
// disk; remote agents live in plugins.
package sidecar

import (
	"path/filepath"
	"strings"

	"github.com/medley-tv/medley/internal/ffmpeg"
	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
	"github.com/medley-tv/medley/internal/utils"
)

// RegisterBuiltins wires the built-in parsers, the tag extractor, and the
// ffprobe analyzer into a registry. Called once from the metadata module
// before the registry freezes.
func RegisterBuiltins(reg *parts.Registry, ff *ffmpeg.Client) error {
	for _, p := range []parts.SidecarParser{
		&NFOParser{},
		&JSONMetadataParser{},
		&LocalArtworkParser{},
	} {
		if err := reg.RegisterSidecarParser(p); err != nil {
			return err
		}
	}
	if err := reg.RegisterExtractor(&AudioTagExtractor{}); err != nil {
		return err
	}
	return reg.RegisterAnalyzer(NewFFprobeAnalyzer(ff))
}

// folderLevelNames are sidecars that describe the folder item rather than
// one specific media file.
var folderLevelNames = map[string]bool{
	"movie.nfo":     true,
	"tvshow.nfo":    true,
	"season.nfo":    true,
	"album.nfo":     true,
	"artist.nfo":    true,
	"metadata.json": true,
	"info.json":     true,
}

// PairsWith reports whether a sidecar file in the same directory belongs to
// the given media file. Three shapes pair: folder-level names (movie.nfo,
// metadata.json, bare artwork names like poster.jpg), an exact base-name
// match (Movie (2001).nfo next to Movie (2001).mkv), and a suffixed
// base-name match for artwork (Movie (2001)-poster.jpg).
func PairsWith(mediaPath, sidecarPath string) bool {
	name := strings.ToLower(filepath.Base(sidecarPath))
	if folderLevelNames[name] {
		return true
	}
	base := strings.TrimSuffix(name, strings.ToLower(filepath.Ext(name)))
	if utils.IsImageFile(sidecarPath) && artworkHintKeys[base] != "" {
		return true
	}
	mediaName := filepath.Base(mediaPath)
	mediaBase := strings.ToLower(strings.TrimSuffix(mediaName, filepath.Ext(mediaName)))
	if base == mediaBase {
		return true
	}
	return strings.HasPrefix(base, mediaBase+"-")
}
