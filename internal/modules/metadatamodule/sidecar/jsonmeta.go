package sidecar

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
)

// jsonDocument is the flat shape written by metadata.json and info.json
// sidecars. Unknown keys are ignored.
type jsonDocument struct {
	Title         string            `json:"title"`
	SortTitle     string            `json:"sort_title"`
	OriginalTitle string            `json:"original_title"`
	Summary       string            `json:"summary"`
	Overview      string            `json:"overview"`
	Tagline       string            `json:"tagline"`
	ContentRating string            `json:"content_rating"`
	ReleaseDate   string            `json:"release_date"`
	Year          int               `json:"year"`
	Genres        []string          `json:"genres"`
	Tags          []string          `json:"tags"`
	Studios       []string          `json:"studios"`
	IDs           map[string]string `json:"ids"`
}

// JSONMetadataParser reads JSON metadata sidecars emitted by download and
// export tools.
type JSONMetadataParser struct{}

func (p *JSONMetadataParser) Name() string { return "json-metadata" }

func (p *JSONMetadataParser) CanParse(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

func (p *JSONMetadataParser) Parse(ctx context.Context, req *parts.SidecarRequest) (*parts.SidecarResult, error) {
	data, err := os.ReadFile(req.SidecarFile)
	if err != nil {
		return nil, err
	}

	var doc jsonDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(req.SidecarFile), err)
	}
	if doc.Title == "" && len(doc.IDs) == 0 {
		return nil, nil
	}

	res := &parts.SidecarResult{Source: "json"}
	patch := &parts.ItemPatch{}

	if doc.Title != "" {
		patch.Title = &doc.Title
	}
	if doc.SortTitle != "" {
		patch.SortTitle = &doc.SortTitle
	}
	if doc.OriginalTitle != "" {
		patch.OriginalTitle = &doc.OriginalTitle
	}
	summary := doc.Summary
	if summary == "" {
		summary = doc.Overview
	}
	if summary != "" {
		patch.Summary = &summary
	}
	if doc.Tagline != "" {
		patch.Tagline = &doc.Tagline
	}
	if doc.ContentRating != "" {
		patch.ContentRating = &doc.ContentRating
	}
	if t, ok := parseDate(doc.ReleaseDate); ok {
		patch.ReleaseDate = &t
		y := t.Year()
		patch.Year = &y
	} else if doc.Year > 0 {
		patch.Year = &doc.Year
	}

	ids := make(map[string]string)
	for k, v := range doc.IDs {
		k, v = strings.ToLower(strings.TrimSpace(k)), strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		ids[k] = v
	}
	if len(ids) > 0 {
		patch.ExternalIDs = ids
	}

	for _, s := range doc.Studios {
		res.Groups = append(res.Groups, parts.GroupRef{Name: s, Role: "studio"})
	}
	res.Genres = doc.Genres
	res.Tags = doc.Tags
	res.Patch = patch
	return res, nil
}
