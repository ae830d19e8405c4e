package sidecar

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAudioTagExtractor_CanExtract(t *testing.T) {
	e := &AudioTagExtractor{}
	assert.True(t, e.CanExtract("/music/The Beatles/Abbey Road/01 Come Together.flac"))
	assert.True(t, e.CanExtract("/music/track.mp3"))
	assert.False(t, e.CanExtract("/movies/Movie (2001).mkv"))
	assert.False(t, e.CanExtract("/music/cover.jpg"))
}

func TestAudioTagExtractor_EmptyFileErrors(t *testing.T) {
	path := writeSidecar(t, "silent.flac", "")
	e := &AudioTagExtractor{}

	_, err := e.Extract(context.Background(), path, "music")
	assert.Error(t, err)
}

func TestMusicBrainzIDs(t *testing.T) {
	// Vorbis style keys.
	ids := musicBrainzIDs(map[string]interface{}{
		"musicbrainz_releasetrackid": "aaa-111",
		"musicbrainz_trackid":        "bbb-222",
		"musicbrainz_albumid":        "ccc-333",
		"musicbrainz_artistid":       "ddd-444",
		"title":                      "ignored",
	})
	assert.Equal(t, map[string]string{
		"musicbrainz_track":  "aaa-111",
		"musicbrainz_album":  "ccc-333",
		"musicbrainz_artist": "ddd-444",
	}, ids)

	// ID3v2 TXXX style keys.
	ids = musicBrainzIDs(map[string]interface{}{
		"MusicBrainz Album Id":  "eee-555",
		"MusicBrainz Artist Id": "fff-666",
	})
	assert.Equal(t, map[string]string{
		"musicbrainz_album":  "eee-555",
		"musicbrainz_artist": "fff-666",
	}, ids)

	assert.Empty(t, musicBrainzIDs(map[string]interface{}{"year": 1999}))
}

func TestCleanTag(t *testing.T) {
	assert.Equal(t, "Come Together", cleanTag("  Come   Together "))
	assert.Equal(t, "", cleanTag("   "))
}
