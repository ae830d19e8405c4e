package main

import (
	"errors"
	"strconv"

	plugins "github.com/medley-tv/medley/sdk"
)

const version = "1.0.0"

type settings struct {
	userAgent string
	rateLimit float64
	timeout   int
}

func parseSettings(raw map[string]string) settings {
	s := settings{
		userAgent: "medley/1.0 (https://github.com/medley-tv/medley)",
		rateLimit: 1.0,
		timeout:   15,
	}
	if v := raw["user_agent"]; v != "" {
		s.userAgent = v
	}
	if v, err := strconv.ParseFloat(raw["rate_limit"], 64); err == nil && v > 0 && v <= 1.0 {
		s.rateLimit = v
	}
	if v, err := strconv.Atoi(raw["timeout_seconds"]); err == nil && v > 0 {
		s.timeout = v
	}
	return s
}

// Agent enriches albums and tracks from MusicBrainz. Items tagged with
// MusicBrainz ids resolve directly; untagged ones go through search.
type Agent struct {
	client *client
}

func newAgent() *Agent {
	return &Agent{client: newClient()}
}

func (a *Agent) Info() (*plugins.AgentInfo, error) {
	return &plugins.AgentInfo{
		ID:          "musicbrainz",
		Name:        "MusicBrainz Metadata",
		Version:     version,
		Category:    "remote",
		Priority:    45,
		Kinds:       []string{"album_release_group", "track"},
		Description: "Album and track metadata from musicbrainz.org",
	}, nil
}

func (a *Agent) Enrich(req *plugins.EnrichRequest) (*plugins.EnrichResponse, error) {
	a.client.configure(parseSettings(req.Settings))

	switch req.Kind {
	case "album_release_group":
		return a.enrichAlbum(req)
	case "track":
		return a.enrichTrack(req)
	default:
		return &plugins.EnrichResponse{Matched: false}, nil
	}
}

func (a *Agent) enrichAlbum(req *plugins.EnrichRequest) (*plugins.EnrichResponse, error) {
	var (
		rg  *releaseGroup
		err error
	)
	switch {
	case req.ExternalIDs["musicbrainz_releasegroup"] != "":
		rg, err = a.client.lookupReleaseGroup(req.ExternalIDs["musicbrainz_releasegroup"])
	case req.ExternalIDs["musicbrainz_album"] != "":
		// embedded tags carry the release id, not the group
		rg, err = a.client.releaseGroupByRelease(req.ExternalIDs["musicbrainz_album"])
	default:
		rg, err = a.client.searchReleaseGroup(req.Title)
	}
	if errors.Is(err, errNotFound) {
		return &plugins.EnrichResponse{Matched: false}, nil
	}
	if err != nil {
		return nil, err
	}

	patch := &plugins.RemotePatch{
		ExternalIDs: map[string]string{"musicbrainz_releasegroup": rg.ID},
	}
	setStr(&patch.Title, rg.Title)
	setStr(&patch.ReleaseDate, normalizeDate(rg.FirstReleaseDate))
	cover := coverArtURL(rg.ID)
	patch.PosterURI = &cover
	for _, t := range rg.Tags {
		patch.Genres = append(patch.Genres, t.Name)
	}
	for i, ac := range rg.ArtistCredit {
		patch.People = append(patch.People, plugins.PersonCredit{
			Name:      ac.Name,
			Role:      "artist",
			SortOrder: i,
		})
	}

	return &plugins.EnrichResponse{Matched: true, Patch: patch, Source: "musicbrainz"}, nil
}

func (a *Agent) enrichTrack(req *plugins.EnrichRequest) (*plugins.EnrichResponse, error) {
	var (
		rec *recording
		err error
	)
	if id := req.ExternalIDs["musicbrainz_track"]; id != "" {
		rec, err = a.client.lookupRecording(id)
		if errors.Is(err, errNotFound) {
			// the tag may hold a release-track id instead
			rec, err = a.client.searchRecording(req.Title)
		}
	} else {
		rec, err = a.client.searchRecording(req.Title)
	}
	if errors.Is(err, errNotFound) {
		return &plugins.EnrichResponse{Matched: false}, nil
	}
	if err != nil {
		return nil, err
	}

	patch := &plugins.RemotePatch{
		ExternalIDs: map[string]string{"musicbrainz_recording": rec.ID},
	}
	setStr(&patch.Title, rec.Title)
	if rec.Length > 0 {
		length := rec.Length
		patch.DurationMs = &length
	}
	for _, t := range rec.Tags {
		patch.Genres = append(patch.Genres, t.Name)
	}
	for i, ac := range rec.ArtistCredit {
		patch.People = append(patch.People, plugins.PersonCredit{
			Name:      ac.Name,
			Role:      "artist",
			SortOrder: i,
		})
	}

	return &plugins.EnrichResponse{Matched: true, Patch: patch, Source: "musicbrainz"}, nil
}

func setStr(dst **string, v string) {
	if v != "" {
		*dst = &v
	}
}

// normalizeDate pads partial MusicBrainz dates (1994 or 1994-06) to the
// full form the host parses.
func normalizeDate(d string) string {
	switch len(d) {
	case 4:
		return d + "-01-01"
	case 7:
		return d + "-01"
	case 10:
		return d
	default:
		return ""
	}
}
