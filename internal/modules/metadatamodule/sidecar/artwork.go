package sidecar

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
	"github.com/medley-tv/medley/internal/utils"
)

// artworkHintKeys maps the lowercase base name of a local image, or the
// suffix after its last dash, to the artwork hint it fills.
var artworkHintKeys = map[string]string{
	"poster":     parts.HintArtworkPoster,
	"folder":     parts.HintArtworkPoster,
	"cover":      parts.HintArtworkPoster,
	"fanart":     parts.HintArtworkFanart,
	"backdrop":   parts.HintArtworkFanart,
	"background": parts.HintArtworkFanart,
	"banner":     parts.HintArtworkBanner,
	"thumb":      parts.HintArtworkThumb,
	"landscape":  parts.HintArtworkThumb,
}

// LocalArtworkParser claims image files whose names follow the usual local
// artwork conventions, bare (poster.jpg) or suffixed (Movie-poster.jpg).
// It emits artwork hints; the asset stage does the ingestion.
type LocalArtworkParser struct{}

func (p *LocalArtworkParser) Name() string { return "local-artwork" }

func (p *LocalArtworkParser) CanParse(path string) bool {
	return utils.IsImageFile(path) && artworkKind(path) != ""
}

func (p *LocalArtworkParser) Parse(ctx context.Context, req *parts.SidecarRequest) (*parts.SidecarResult, error) {
	key := artworkKind(req.SidecarFile)
	if key == "" {
		return nil, nil
	}
	return &parts.SidecarResult{
		Hints:  map[string]string{key: req.SidecarFile},
		Source: "local-artwork",
	}, nil
}

func artworkKind(path string) string {
	name := strings.ToLower(filepath.Base(path))
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if key := artworkHintKeys[base]; key != "" {
		return key
	}
	if i := strings.LastIndex(base, "-"); i >= 0 {
		return artworkHintKeys[base[i+1:]]
	}
	return ""
}
