package core

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/medley-tv/medley/internal/config"
	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/ffmpeg"
	"github.com/medley-tv/medley/internal/services"
	"github.com/medley-tv/medley/internal/types"
)

func newTestStore(t *testing.T) *database.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&database.LibrarySection{}, &database.SectionLocation{},
		&database.MetadataItem{},
		&database.MediaItem{}, &database.MediaPart{}, &database.MediaStream{},
		&database.PlaybackSession{}, &database.ClientProfile{},
		&database.PlaylistGenerator{}, &database.PlaylistGeneratorItem{},
		&database.TranscodeJob{},
	))
	return database.NewStore(db)
}

func testConfig() *config.Config {
	return config.DefaultConfig()
}

func newTestManager(t *testing.T, store *database.Store, cfg *config.Config) (*Manager, *fakeTranscoder, *fakePlaylist) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	m := NewManager(store, cfg, nil, ffmpeg.New())
	t.Cleanup(m.Shutdown)

	transcoder := &fakeTranscoder{}
	playlist := &fakePlaylist{}
	m.SetTranscodeService(transcoder)
	m.SetPlaylistService(playlist)
	return m, transcoder, playlist
}

func seedSection(t *testing.T, store *database.Store) string {
	t.Helper()
	section := &database.LibrarySection{
		ID:   uuid.New().String(),
		Name: "Movies",
		Type: database.LibraryTypeMovie,
	}
	require.NoError(t, store.CreateSection(context.Background(), section))
	return section.ID
}

// seedMovie writes one movie with a single mkv h264/aac rendition and
// returns the item, media and part ids.
func seedMovie(t *testing.T, store *database.Store, sectionID, title string, durationMs int64) (string, string, string) {
	t.Helper()
	ctx := context.Background()

	item := &database.MetadataItem{
		ID:               uuid.New().String(),
		LibrarySectionID: sectionID,
		Kind:             database.KindMovie,
		Title:            title,
	}
	require.NoError(t, store.CreateItem(ctx, item))

	media := &database.MediaItem{
		ID:               uuid.New().String(),
		MetadataItemID:   item.ID,
		LibrarySectionID: sectionID,
		Container:        "mkv",
		FileSizeBytes:    4 << 30,
		DurationMs:       durationMs,
		Parts: []database.MediaPart{{
			ID:         uuid.New().String(),
			File:       "/media/movies/" + strings.ReplaceAll(title, " ", ".") + ".mkv",
			SizeBytes:  4 << 30,
			DurationMs: durationMs,
			Streams: []database.MediaStream{
				{ID: uuid.New().String(), StreamType: database.StreamTypeVideo, StreamIndex: 0,
					Codec: "h264", Level: 40, Width: 1920, Height: 1080, BitDepth: 8},
				{ID: uuid.New().String(), StreamType: database.StreamTypeAudio, StreamIndex: 1,
					Codec: "aac", Language: "eng", Channels: 6},
			},
		}},
	}
	require.NoError(t, store.CreateMediaItem(ctx, media))
	return item.ID, media.ID, media.Parts[0].ID
}

// =============================================================================
// FAKES
// =============================================================================

type fakeTranscoder struct {
	mu        sync.Mutex
	started   []string // sessionID/partID
	targets   []types.TranscodeTarget
	cancelled []string
	notified  []string
}

func (f *fakeTranscoder) Start(ctx context.Context, sessionID, partID string, target types.TranscodeTarget) (*database.TranscodeJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, sessionID+"/"+partID)
	f.targets = append(f.targets, target)
	return &database.TranscodeJob{ID: uuid.New().String(), SessionID: sessionID, MediaPartID: partID}, nil
}

func (f *fakeTranscoder) Cancel(ctx context.Context, jobID string) error { return nil }

func (f *fakeTranscoder) CancelSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, sessionID)
	return nil
}

func (f *fakeTranscoder) GetJob(ctx context.Context, jobID string) (*database.TranscodeJob, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeTranscoder) NotifyHeartbeat(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, sessionID)
}

func (f *fakeTranscoder) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cancelled)
}

func (f *fakeTranscoder) cancelledIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

var _ services.TranscodeService = (*fakeTranscoder)(nil)

type fakePlaylist struct {
	mu      sync.Mutex
	queue   []*types.PlaylistEntry
	touched []string
}

func (f *fakePlaylist) Create(ctx context.Context, seed types.PlaylistSeed, opts services.CreateGeneratorOptions) (*types.PlaylistChunk, error) {
	return &types.PlaylistChunk{}, nil
}

func (f *fakePlaylist) Chunk(ctx context.Context, generatorID string, startIndex, limit int) (*types.PlaylistChunk, error) {
	return &types.PlaylistChunk{GeneratorID: generatorID}, nil
}

func (f *fakePlaylist) JumpTo(ctx context.Context, generatorID string, index int) error { return nil }

func (f *fakePlaylist) Next(ctx context.Context, generatorID string) (*types.PlaylistEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return nil, nil
	}
	entry := f.queue[0]
	f.queue = f.queue[1:]
	return entry, nil
}

func (f *fakePlaylist) Touch(ctx context.Context, generatorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, generatorID)
	return nil
}

func (f *fakePlaylist) DeleteGenerator(ctx context.Context, generatorID string) error { return nil }

var _ services.PlaylistService = (*fakePlaylist)(nil)

// =============================================================================
// DECISIONS AND SESSIONS
// =============================================================================

func TestDecideCreatesDirectPlaySession(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	itemID, _, partID := seedMovie(t, store, sectionID, "Heat", 7200000)
	m, transcoder, _ := newTestManager(t, store, nil)

	resp, err := m.Decide(context.Background(), &types.DecideRequest{
		MetadataItemID: itemID,
		ClientID:       "tv-livingroom",
		Profile:        capableProfile(),
		ProfileVersion: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, types.ActionPlay, resp.Action)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "/api/v1/playback/part/"+partID+"/file", resp.PlaybackURL)
	assert.False(t, resp.CapabilityVersionMismatch)
	assert.Empty(t, transcoder.started, "direct play must not launch a transcode")

	session, err := m.GetSession(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "direct_play", session.Decision)
	assert.Equal(t, database.SessionStatePlaying, session.State)
	require.NotNil(t, session.MediaPartID)
	assert.Equal(t, partID, *session.MediaPartID)

	var plan types.StreamPlan
	require.NoError(t, json.Unmarshal([]byte(resp.StreamPlanJSON), &plan))
	assert.Equal(t, types.ModeDirectPlay, plan.Mode)
	assert.Equal(t, partID, plan.MediaPartID)
}

func TestDecideReusesClientSession(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	itemID, _, _ := seedMovie(t, store, sectionID, "Ronin", 7200000)
	m, _, _ := newTestManager(t, store, nil)

	req := &types.DecideRequest{
		MetadataItemID: itemID,
		ClientID:       "tv-livingroom",
		Profile:        capableProfile(),
		ProfileVersion: 1,
	}
	first, err := m.Decide(context.Background(), req)
	require.NoError(t, err)
	second, err := m.Decide(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, second.SessionID, "reopening the same item must not leak sessions")

	sessions, err := store.ListActiveSessions(context.Background())
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestDecideValidation(t *testing.T) {
	store := newTestStore(t)
	m, _, _ := newTestManager(t, store, nil)
	ctx := context.Background()

	_, err := m.Decide(ctx, nil)
	assert.ErrorIs(t, err, ErrItemRequired)

	_, err = m.Decide(ctx, &types.DecideRequest{Status: "playing"})
	assert.ErrorIs(t, err, ErrSessionRequired)

	_, err = m.Decide(ctx, &types.DecideRequest{ClientID: "web"})
	assert.ErrorIs(t, err, ErrItemRequired)

	_, err = m.Decide(ctx, &types.DecideRequest{MetadataItemID: "item-1"})
	assert.ErrorIs(t, err, ErrClientRequired)
}

func TestDecideStartsTranscode(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	itemID, _, partID := seedMovie(t, store, sectionID, "Sneakers", 7200000)
	m, transcoder, _ := newTestManager(t, store, nil)

	// Client only decodes vp9, so h264 forces a full transcode.
	profile := capableProfile()
	profile.Video = []types.VideoCapability{{Codec: "vp9"}}

	resp, err := m.Decide(context.Background(), &types.DecideRequest{
		MetadataItemID: itemID,
		ClientID:       "chromecast",
		Profile:        profile,
		ProfileVersion: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/playback/part/"+partID+"/dash/manifest.mpd", resp.PlaybackURL)
	require.Len(t, transcoder.started, 1)
	assert.Equal(t, resp.SessionID+"/"+partID, transcoder.started[0])
	assert.Equal(t, "h264", transcoder.targets[0].VideoCodec)
	assert.Equal(t, "copy", transcoder.targets[0].AudioCodec)

	session, err := m.GetSession(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "transcode", session.Decision)
}

func TestDecideTranscodeRequiresService(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	itemID, _, _ := seedMovie(t, store, sectionID, "Gattaca", 7200000)

	m := NewManager(store, testConfig(), nil, ffmpeg.New())
	t.Cleanup(m.Shutdown)

	profile := capableProfile()
	profile.Video = []types.VideoCapability{{Codec: "vp9"}}

	_, err := m.Decide(context.Background(), &types.DecideRequest{
		MetadataItemID: itemID,
		ClientID:       "chromecast",
		Profile:        profile,
		ProfileVersion: 1,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no transcode service")
}

func TestDecideRenditionChangeCancelsOldTranscode(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	itemID, mediaA, _ := seedMovie(t, store, sectionID, "Contact", 7200000)

	// Second rendition of the same item.
	mediaB := &database.MediaItem{
		ID:               uuid.New().String(),
		MetadataItemID:   itemID,
		LibrarySectionID: sectionID,
		Container:        "mkv",
		FileSizeBytes:    1 << 30,
		Parts: []database.MediaPart{{
			ID:        uuid.New().String(),
			File:      "/media/movies/Contact.480p.mkv",
			SizeBytes: 1 << 30,
			Streams: []database.MediaStream{
				{ID: uuid.New().String(), StreamType: database.StreamTypeVideo, StreamIndex: 0,
					Codec: "h264", Level: 30, Width: 854, Height: 480, BitDepth: 8},
				{ID: uuid.New().String(), StreamType: database.StreamTypeAudio, StreamIndex: 1,
					Codec: "aac", Language: "eng", Channels: 2},
			},
		}},
	}
	require.NoError(t, store.CreateMediaItem(context.Background(), mediaB))

	m, transcoder, _ := newTestManager(t, store, nil)

	first, err := m.Decide(context.Background(), &types.DecideRequest{
		MetadataItemID: itemID,
		MediaItemID:    mediaA,
		ClientID:       "web",
		Profile:        capableProfile(),
		ProfileVersion: 1,
	})
	require.NoError(t, err)

	// Same session, explicit switch to the other rendition.
	_, err = m.Decide(context.Background(), &types.DecideRequest{
		SessionID:      first.SessionID,
		MetadataItemID: itemID,
		MediaItemID:    mediaB.ID,
		ClientID:       "web",
		Profile:        capableProfile(),
		ProfileVersion: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{first.SessionID}, transcoder.cancelled,
		"switching parts must cancel work for the old part")
}

// =============================================================================
// HEARTBEATS
// =============================================================================

func TestHeartbeatTouchesSession(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	itemID, _, _ := seedMovie(t, store, sectionID, "Heat", 7200000)
	m, transcoder, _ := newTestManager(t, store, nil)

	opened, err := m.Decide(context.Background(), &types.DecideRequest{
		MetadataItemID: itemID,
		ClientID:       "web",
		Profile:        capableProfile(),
		ProfileVersion: 1,
	})
	require.NoError(t, err)

	resp, err := m.Decide(context.Background(), &types.DecideRequest{
		SessionID:      opened.SessionID,
		Status:         "paused",
		ProgressMs:     42000,
		ProfileVersion: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, types.ActionPlay, resp.Action)
	assert.False(t, resp.CapabilityVersionMismatch)

	session, err := m.GetSession(context.Background(), opened.SessionID)
	require.NoError(t, err)
	assert.Equal(t, database.SessionStatePaused, session.State)
	assert.Equal(t, int64(42000), session.PlayheadMs)
	assert.WithinDuration(t, time.Now().Add(3*24*time.Hour), session.ExpiresAt, time.Minute)

	assert.Equal(t, []string{opened.SessionID}, transcoder.notified)
}

func TestHeartbeatFlagsProfileDrift(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	itemID, _, _ := seedMovie(t, store, sectionID, "Heat", 7200000)
	m, _, _ := newTestManager(t, store, nil)

	opened, err := m.Decide(context.Background(), &types.DecideRequest{
		MetadataItemID: itemID,
		ClientID:       "web",
		Profile:        capableProfile(),
		ProfileVersion: 1,
	})
	require.NoError(t, err)

	resp, err := m.Decide(context.Background(), &types.DecideRequest{
		SessionID:      opened.SessionID,
		Status:         "playing",
		ProgressMs:     1000,
		ProfileVersion: 9,
	})
	require.NoError(t, err)
	assert.True(t, resp.CapabilityVersionMismatch, "client upgraded its profile mid-session")
}

func TestHeartbeatUnknownSession(t *testing.T) {
	store := newTestStore(t)
	m, _, _ := newTestManager(t, store, nil)

	_, err := m.Decide(context.Background(), &types.DecideRequest{
		SessionID: uuid.New().String(),
		Status:    "playing",
	})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

// =============================================================================
// END OF ITEM
// =============================================================================

func openSession(t *testing.T, m *Manager, itemID, clientID string) string {
	t.Helper()
	resp, err := m.Decide(context.Background(), &types.DecideRequest{
		MetadataItemID: itemID,
		ClientID:       clientID,
		Profile:        capableProfile(),
		ProfileVersion: 1,
	})
	require.NoError(t, err)
	return resp.SessionID
}

func TestEndedSuppressedWithRemainingContent(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	itemID, _, _ := seedMovie(t, store, sectionID, "Heat", 60000)
	m, _, _ := newTestManager(t, store, nil)
	sessionID := openSession(t, m, itemID, "web")

	// 50s left of a 60s part: the stream reloaded, it did not finish.
	resp, err := m.Decide(context.Background(), &types.DecideRequest{
		SessionID:  sessionID,
		Status:     "ended",
		ProgressMs: 10000,
	})
	require.NoError(t, err)
	assert.Equal(t, types.ActionPlay, resp.Action)

	session, err := m.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, database.SessionStateBuffering, session.State)
	assert.Equal(t, int64(10000), session.PlayheadMs)
}

func TestEndedWithoutPlaylistStops(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	itemID, _, _ := seedMovie(t, store, sectionID, "Heat", 60000)
	m, transcoder, _ := newTestManager(t, store, nil)
	sessionID := openSession(t, m, itemID, "web")

	resp, err := m.Decide(context.Background(), &types.DecideRequest{
		SessionID:  sessionID,
		Status:     "ended",
		ProgressMs: 59900,
	})
	require.NoError(t, err)
	assert.Equal(t, types.ActionStop, resp.Action)

	session, err := m.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, database.SessionStateStopped, session.State)
	assert.Equal(t, 1, transcoder.cancelCount())
}

func TestEndedIgnoresStaleItem(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	itemID, _, _ := seedMovie(t, store, sectionID, "Heat", 60000)
	m, _, _ := newTestManager(t, store, nil)
	sessionID := openSession(t, m, itemID, "web")

	resp, err := m.Decide(context.Background(), &types.DecideRequest{
		SessionID:     sessionID,
		Status:        "ended",
		ProgressMs:    59900,
		CurrentItemID: "some-item-the-session-left-behind",
	})
	require.NoError(t, err)
	assert.Equal(t, types.ActionPlay, resp.Action)

	session, err := m.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, database.SessionStatePlaying, session.State, "stale ended must not touch state")
}

func TestEndedAdvancesThroughPlaylist(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	firstItem, _, _ := seedMovie(t, store, sectionID, "Alien", 60000)
	secondItem, secondMedia, secondPart := seedMovie(t, store, sectionID, "Aliens", 80000)
	m, transcoder, playlist := newTestManager(t, store, nil)
	sessionID := openSession(t, m, firstItem, "web")

	gen := &database.PlaylistGenerator{
		ID:        uuid.New().String(),
		SessionID: &sessionID,
		SeedJSON:  "{}",
	}
	require.NoError(t, store.CreateGenerator(context.Background(), gen))
	playlist.queue = []*types.PlaylistEntry{{
		Index:          1,
		MetadataItemID: secondItem,
		MediaItemID:    secondMedia,
	}}

	resp, err := m.Decide(context.Background(), &types.DecideRequest{
		SessionID:  sessionID,
		Status:     "ended",
		ProgressMs: 59990,
	})
	require.NoError(t, err)

	assert.Equal(t, types.ActionNext, resp.Action)
	assert.Equal(t, secondItem, resp.NextItemID)
	assert.Equal(t, "Aliens", resp.NextItemTitle)
	assert.Equal(t, "/api/v1/playback/part/"+secondPart+"/file", resp.PlaybackURL)
	assert.Equal(t, 1, transcoder.cancelCount(), "old item's transcodes die on advance")

	session, err := m.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, secondItem, session.MetadataItemID)
	require.NotNil(t, session.MediaPartID)
	assert.Equal(t, secondPart, *session.MediaPartID)
	assert.Equal(t, int64(0), session.PlayheadMs)
	require.NotNil(t, session.GeneratorID)
	assert.Equal(t, gen.ID, *session.GeneratorID, "generator binding cached on the session")
}

func TestEndedExhaustedPlaylistStops(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	itemID, _, _ := seedMovie(t, store, sectionID, "Alien 3", 60000)
	m, _, playlist := newTestManager(t, store, nil)
	sessionID := openSession(t, m, itemID, "web")

	gen := &database.PlaylistGenerator{
		ID:        uuid.New().String(),
		SessionID: &sessionID,
		SeedJSON:  "{}",
	}
	require.NoError(t, store.CreateGenerator(context.Background(), gen))
	playlist.queue = nil

	resp, err := m.Decide(context.Background(), &types.DecideRequest{
		SessionID:  sessionID,
		Status:     "ended",
		ProgressMs: 60000,
	})
	require.NoError(t, err)
	assert.Equal(t, types.ActionStop, resp.Action)
}

func TestStopSession(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	itemID, _, _ := seedMovie(t, store, sectionID, "Heat", 7200000)
	m, transcoder, _ := newTestManager(t, store, nil)
	sessionID := openSession(t, m, itemID, "web")

	require.NoError(t, m.StopSession(context.Background(), sessionID))

	session, err := m.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, database.SessionStateStopped, session.State)
	assert.Equal(t, []string{sessionID}, transcoder.cancelled)
}

// =============================================================================
// CAPABILITY PROFILES
// =============================================================================

func TestUnknownClientGetsBaselineProfile(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	itemID, _, partID := seedMovie(t, store, sectionID, "Heat", 7200000)
	m, _, _ := newTestManager(t, store, nil)

	// Client claims profile version 7 but never sent the profile.
	resp, err := m.Decide(context.Background(), &types.DecideRequest{
		MetadataItemID: itemID,
		ClientID:       "fresh-client",
		ProfileVersion: 7,
	})
	require.NoError(t, err)

	assert.True(t, resp.CapabilityVersionMismatch, "server must ask for the profile")
	assert.Equal(t, int64(0), resp.CapabilityProfileVersion)
	// Baseline takes mp4 only, so the mkv gets remuxed.
	assert.Equal(t, "/api/v1/playback/part/"+partID+"/remux-seek.mp4?seekMs=0", resp.PlaybackURL)
}

func TestClientProfileCachedAcrossSessions(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	firstItem, _, _ := seedMovie(t, store, sectionID, "Heat", 7200000)
	secondItem, _, secondPart := seedMovie(t, store, sectionID, "Ronin", 7200000)
	m, _, _ := newTestManager(t, store, nil)

	_, err := m.Decide(context.Background(), &types.DecideRequest{
		MetadataItemID: firstItem,
		ClientID:       "tv",
		Profile:        capableProfile(),
		ProfileVersion: 1,
	})
	require.NoError(t, err)

	// Next item, no profile attached: the cached one still knows mkv.
	resp, err := m.Decide(context.Background(), &types.DecideRequest{
		MetadataItemID: secondItem,
		ClientID:       "tv",
		ProfileVersion: 1,
	})
	require.NoError(t, err)
	assert.False(t, resp.CapabilityVersionMismatch)
	assert.Equal(t, int64(1), resp.CapabilityProfileVersion)
	assert.Equal(t, "/api/v1/playback/part/"+secondPart+"/file", resp.PlaybackURL)
}

// =============================================================================
// SEEK
// =============================================================================

type keyframeRunner struct {
	out string
}

func (r *keyframeRunner) Run(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	return []byte(r.out), nil
}

func TestSeekUsesCachedKeyframeIndex(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	_, _, partID := seedMovie(t, store, sectionID, "Heat", 7200000)

	part, err := store.GetPart(context.Background(), partID)
	require.NoError(t, err)
	part.Keyframes = "[0,2000,4000,6000]"
	require.NoError(t, store.SavePart(context.Background(), part))

	m, _, _ := newTestManager(t, store, nil)

	result, err := m.SeekToKeyframe(context.Background(), partID, 5000)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), result.SeekTimeMs)

	result, err = m.SeekToKeyframe(context.Background(), partID, -100)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.SeekTimeMs)
}

func TestSeekProbesAndCachesIndex(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	_, _, partID := seedMovie(t, store, sectionID, "Heat", 7200000)

	runner := &keyframeRunner{out: "0.000000,K__\n1.200000,___\n2.500000,K__\n5.000000,K__\n"}
	m := NewManager(store, testConfig(), nil, ffmpeg.NewWithRunner(runner))
	t.Cleanup(m.Shutdown)

	result, err := m.SeekToKeyframe(context.Background(), partID, 3000)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), result.SeekTimeMs)

	part, err := store.GetPart(context.Background(), partID)
	require.NoError(t, err)
	assert.Equal(t, "[0,2500,5000]", part.Keyframes, "index cached for the next seek")
}

func TestSeekUnknownPart(t *testing.T) {
	store := newTestStore(t)
	m, _, _ := newTestManager(t, store, nil)

	_, err := m.SeekToKeyframe(context.Background(), uuid.New().String(), 1000)
	assert.ErrorIs(t, err, ErrPartNotFound)
}

// =============================================================================
// REAPER
// =============================================================================

func TestReaperDeletesExpiredSessions(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	itemID, _, _ := seedMovie(t, store, sectionID, "Heat", 7200000)

	session := &database.PlaybackSession{
		ID:              uuid.New().String(),
		ClientID:        "web",
		MetadataItemID:  itemID,
		State:           database.SessionStatePaused,
		LastHeartbeatAt: time.Now().Add(-100 * time.Hour),
		ExpiresAt:       time.Now().Add(-time.Hour),
	}
	require.NoError(t, store.CreateSession(context.Background(), session))

	cfg := testConfig()
	cfg.Playback.SessionCleanupPeriod = 20 * time.Millisecond
	m, transcoder, _ := newTestManager(t, store, cfg)

	require.Eventually(t, func() bool {
		_, err := m.GetSession(context.Background(), session.ID)
		return err != nil
	}, 5*time.Second, 20*time.Millisecond, "reaper should delete the expired session")

	assert.Equal(t, []string{session.ID}, transcoder.cancelledIDs())
}

// =============================================================================
// ACTOR LIFECYCLE
// =============================================================================

func TestConcurrentRequestsSerializePerSession(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	itemID, _, _ := seedMovie(t, store, sectionID, "Heat", 7200000)
	m, _, _ := newTestManager(t, store, nil)
	sessionID := openSession(t, m, itemID, "web")

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := m.Decide(context.Background(), &types.DecideRequest{
				SessionID:  sessionID,
				Status:     "playing",
				ProgressMs: int64(n) * 1000,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	session, err := m.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, database.SessionStatePlaying, session.State)
}

func TestShutdownRejectsNewWork(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	itemID, _, _ := seedMovie(t, store, sectionID, "Heat", 7200000)
	m, _, _ := newTestManager(t, store, nil)
	sessionID := openSession(t, m, itemID, "web")

	m.Shutdown()

	_, err := m.Decide(context.Background(), &types.DecideRequest{
		SessionID: sessionID,
		Status:    "playing",
	})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestDecideFiltersToRequestedRendition(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	itemID, mediaID, partID := seedMovie(t, store, sectionID, "Heat", 7200000)
	m, _, _ := newTestManager(t, store, nil)

	resp, err := m.Decide(context.Background(), &types.DecideRequest{
		MetadataItemID: itemID,
		MediaItemID:    mediaID,
		ClientID:       "web",
		Profile:        capableProfile(),
		ProfileVersion: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/playback/part/"+partID+"/file", resp.PlaybackURL)

	_, err = m.Decide(context.Background(), &types.DecideRequest{
		MetadataItemID: itemID,
		MediaItemID:    "no-such-rendition",
		ClientID:       "other-client",
		Profile:        capableProfile(),
		ProfileVersion: 1,
	})
	assert.ErrorIs(t, err, ErrNoMedia)
}

func TestDecideUnknownItem(t *testing.T) {
	store := newTestStore(t)
	m, _, _ := newTestManager(t, store, nil)

	_, err := m.Decide(context.Background(), &types.DecideRequest{
		MetadataItemID: uuid.New().String(),
		ClientID:       "web",
		Profile:        capableProfile(),
		ProfileVersion: 1,
	})
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
