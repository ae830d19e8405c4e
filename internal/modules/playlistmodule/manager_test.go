package playlistmodule

import (
	"context"
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
		&database.PlaylistGenerator{}, &database.PlaylistGeneratorItem{},
	))
	return database.NewStore(db)
}

func newTestManager(t *testing.T, store *database.Store) *Manager {
	t.Helper()
	m := NewManager(store, config.DefaultConfig(), nil)
	t.Cleanup(m.Shutdown)
	return m
}

func seedSection(t *testing.T, store *database.Store) string {
	t.Helper()
	section := &database.LibrarySection{
		ID:   uuid.New().String(),
		Name: "Library",
		Type: database.LibraryTypeMusic,
	}
	require.NoError(t, store.CreateSection(context.Background(), section))
	return section.ID
}

func seedItem(t *testing.T, store *database.Store, sectionID string, kind database.ItemKind, parentID *string, index int, title string) string {
	t.Helper()
	item := &database.MetadataItem{
		ID:               uuid.New().String(),
		LibrarySectionID: sectionID,
		ParentID:         parentID,
		Kind:             kind,
		Title:            title,
		ItemIndex:        &index,
	}
	require.NoError(t, store.CreateItem(context.Background(), item))
	return item.ID
}

func seedMedia(t *testing.T, store *database.Store, sectionID, itemID, file string) (string, string) {
	t.Helper()
	media := &database.MediaItem{
		ID:               uuid.New().String(),
		MetadataItemID:   itemID,
		LibrarySectionID: sectionID,
		Container:        "flac",
		FileSizeBytes:    40 << 20,
		DurationMs:       240000,
		Parts: []database.MediaPart{{
			ID:        uuid.New().String(),
			File:      file,
			SizeBytes: 40 << 20,
		}},
	}
	require.NoError(t, store.CreateMediaItem(context.Background(), media))
	return media.ID, media.Parts[0].ID
}

// seedAlbum writes an album release with tracks in index order, each
// carrying one media part, and returns the album id and track ids.
func seedAlbum(t *testing.T, store *database.Store, sectionID string, title string, trackTitles ...string) (string, []string) {
	t.Helper()
	albumID := seedItem(t, store, sectionID, database.KindAlbumRelease, nil, 1, title)
	ids := make([]string, 0, len(trackTitles))
	for i, tt := range trackTitles {
		id := seedItem(t, store, sectionID, database.KindTrack, &albumID, i+1, tt)
		seedMedia(t, store, sectionID, id, "/media/music/"+title+"/"+tt+".flac")
		ids = append(ids, id)
	}
	return albumID, ids
}

func itemSeed(itemID string) types.PlaylistSeed {
	return types.PlaylistSeed{Kind: types.PlaylistSeedItem, ItemID: itemID}
}

func entryIDs(items []types.PlaylistEntry) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.MetadataItemID)
	}
	return ids
}

// =============================================================================
// SEED RESOLUTION
// =============================================================================

func TestCreateFromAlbumBindsMedia(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	albumID, trackIDs := seedAlbum(t, store, sectionID, "Kind of Blue",
		"So What", "Freddie Freeloader", "Blue in Green")
	m := newTestManager(t, store)

	chunk, err := m.Create(context.Background(), itemSeed(albumID), services.CreateGeneratorOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, chunk.TotalCount)
	assert.Equal(t, 0, chunk.StartIndex)
	require.Len(t, chunk.Items, 3)
	assert.Equal(t, trackIDs, entryIDs(chunk.Items))
	assert.Equal(t, "So What", chunk.Items[0].Title)
	for i, entry := range chunk.Items {
		assert.Equal(t, i, entry.Index)
		assert.NotEmpty(t, entry.MediaItemID)
		assert.NotEmpty(t, entry.MediaPartID)
		assert.False(t, entry.Served)
	}
}

func TestItemSeedFollowsChildOrder(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	albumID := seedItem(t, store, sectionID, database.KindAlbumRelease, nil, 1, "Out of Order")
	third := seedItem(t, store, sectionID, database.KindTrack, &albumID, 3, "Third")
	first := seedItem(t, store, sectionID, database.KindTrack, &albumID, 1, "First")
	second := seedItem(t, store, sectionID, database.KindTrack, &albumID, 2, "Second")
	m := newTestManager(t, store)

	chunk, err := m.Create(context.Background(), itemSeed(albumID), services.CreateGeneratorOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{first, second, third}, entryIDs(chunk.Items))
	// No media files seeded; entries stay unbound.
	assert.Empty(t, chunk.Items[0].MediaPartID)
}

func TestPlayableItemSeedIsSingleEntry(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	movieID := seedItem(t, store, sectionID, database.KindMovie, nil, 0, "Heat")
	_, partID := seedMedia(t, store, sectionID, movieID, "/media/movies/Heat.mkv")
	m := newTestManager(t, store)

	chunk, err := m.Create(context.Background(), itemSeed(movieID), services.CreateGeneratorOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, chunk.TotalCount)
	require.Len(t, chunk.Items, 1)
	assert.Equal(t, movieID, chunk.Items[0].MetadataItemID)
	assert.Equal(t, partID, chunk.Items[0].MediaPartID)
}

func TestSectionSeedSortsByTitle(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	ctx := context.Background()

	ronin := seedItem(t, store, sectionID, database.KindMovie, nil, 0, "Ronin")
	matrix := &database.MetadataItem{
		ID:               uuid.New().String(),
		LibrarySectionID: sectionID,
		Kind:             database.KindMovie,
		Title:            "The Matrix",
		SortTitle:        "Matrix",
	}
	require.NoError(t, store.CreateItem(ctx, matrix))
	heat := seedItem(t, store, sectionID, database.KindMovie, nil, 0, "Heat")
	m := newTestManager(t, store)

	chunk, err := m.Create(ctx, types.PlaylistSeed{
		Kind:      types.PlaylistSeedSection,
		SectionID: sectionID,
	}, services.CreateGeneratorOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{heat, matrix.ID, ronin}, entryIDs(chunk.Items))
}

func TestSectionSeedSortsByReleaseDate(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	ctx := context.Background()

	date := func(year int) *time.Time {
		d := time.Date(year, 6, 1, 0, 0, 0, 0, time.UTC)
		return &d
	}
	newer := &database.MetadataItem{
		ID: uuid.New().String(), LibrarySectionID: sectionID,
		Kind: database.KindMovie, Title: "Newer", ReleaseDate: date(1999),
	}
	older := &database.MetadataItem{
		ID: uuid.New().String(), LibrarySectionID: sectionID,
		Kind: database.KindMovie, Title: "Older", ReleaseDate: date(1995),
	}
	undated := &database.MetadataItem{
		ID: uuid.New().String(), LibrarySectionID: sectionID,
		Kind: database.KindMovie, Title: "Undated",
	}
	for _, item := range []*database.MetadataItem{newer, older, undated} {
		require.NoError(t, store.CreateItem(ctx, item))
	}
	m := newTestManager(t, store)

	chunk, err := m.Create(ctx, types.PlaylistSeed{
		Kind:      types.PlaylistSeedSection,
		SectionID: sectionID,
		SortBy:    "release_date",
	}, services.CreateGeneratorOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{older.ID, newer.ID, undated.ID}, entryIDs(chunk.Items))
}

func TestSectionSeedFiltersKinds(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	movieID := seedItem(t, store, sectionID, database.KindMovie, nil, 0, "Alien")
	showID := seedItem(t, store, sectionID, database.KindShow, nil, 0, "Band of Brothers")
	episodeID := seedItem(t, store, sectionID, database.KindEpisode, &showID, 1, "Currahee")
	m := newTestManager(t, store)

	chunk, err := m.Create(context.Background(), types.PlaylistSeed{
		Kind:      types.PlaylistSeedSection,
		SectionID: sectionID,
	}, services.CreateGeneratorOptions{})
	require.NoError(t, err)
	// Containers never queue directly; only the movie and episode made it.
	assert.ElementsMatch(t, []string{movieID, episodeID}, entryIDs(chunk.Items))

	onlyMovies, err := m.Create(context.Background(), types.PlaylistSeed{
		Kind:      types.PlaylistSeedSection,
		SectionID: sectionID,
		ItemKinds: []string{"movie"},
	}, services.CreateGeneratorOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{movieID}, entryIDs(onlyMovies.Items))
}

func TestExplicitSeedExpandsContainers(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	albumB, tracksB := seedAlbum(t, store, sectionID, "Album B", "B1", "B2")
	albumA, tracksA := seedAlbum(t, store, sectionID, "Album A", "A1", "A2")
	singleID := seedItem(t, store, sectionID, database.KindTrack, nil, 0, "Single")
	m := newTestManager(t, store)

	chunk, err := m.Create(context.Background(), types.PlaylistSeed{
		Kind:    types.PlaylistSeedExplicit,
		ItemIDs: []string{albumB, singleID, "no-such-item", albumA},
	}, services.CreateGeneratorOptions{})
	require.NoError(t, err)

	want := append(append(append([]string{}, tracksB...), singleID), tracksA...)
	assert.Equal(t, want, entryIDs(chunk.Items))

	// Expanded albums tag their runs so shuffle keeps them together.
	rows, err := store.ListGeneratorItems(context.Background(), chunk.GeneratorID, 0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, albumB, rows[0].Cohort)
	assert.Equal(t, albumB, rows[1].Cohort)
	assert.Empty(t, rows[2].Cohort)
	assert.Equal(t, albumA, rows[3].Cohort)
	assert.Equal(t, albumA, rows[4].Cohort)
}

// =============================================================================
// SHUFFLE
// =============================================================================

func TestShuffleStableAcrossReopen(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	albumID, trackIDs := seedAlbum(t, store, sectionID, "Octet",
		"T1", "T2", "T3", "T4", "T5", "T6", "T7", "T8")
	m := newTestManager(t, store)
	ctx := context.Background()

	first, err := m.Create(ctx, itemSeed(albumID), services.CreateGeneratorOptions{
		Shuffle:   true,
		ChunkSize: 3,
	})
	require.NoError(t, err)
	require.Len(t, first.Items, 3)

	// Later chunks re-derive the ordering from the persisted state; the
	// already-materialized prefix must not move.
	full, err := m.Chunk(ctx, first.GeneratorID, 0, 8)
	require.NoError(t, err)
	require.Len(t, full.Items, 8)
	assert.Equal(t, entryIDs(first.Items), entryIDs(full.Items)[:3])
	assert.ElementsMatch(t, trackIDs, entryIDs(full.Items))

	// A second generator with the same seed and shuffle state replays
	// the identical order.
	gen, err := store.GetGenerator(ctx, first.GeneratorID)
	require.NoError(t, err)
	clone := &database.PlaylistGenerator{
		SeedJSON:     gen.SeedJSON,
		Shuffle:      true,
		ShuffleState: gen.ShuffleState,
		ChunkSize:    8,
		TotalCount:   gen.TotalCount,
		ExpiresAt:    time.Now().Add(time.Hour),
		LastAccessAt: time.Now(),
	}
	require.NoError(t, store.CreateGenerator(ctx, clone))
	replay, err := m.Chunk(ctx, clone.ID, 0, 8)
	require.NoError(t, err)
	assert.Equal(t, entryIDs(full.Items), entryIDs(replay.Items))
}

func TestShuffleKeepsAlbumsTogether(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	album1, tracks1 := seedAlbum(t, store, sectionID, "One", "1a", "1b", "1c")
	album2, tracks2 := seedAlbum(t, store, sectionID, "Two", "2a", "2b", "2c")
	album3, tracks3 := seedAlbum(t, store, sectionID, "Three", "3a", "3b", "3c")
	m := newTestManager(t, store)

	chunk, err := m.Create(context.Background(), types.PlaylistSeed{
		Kind:    types.PlaylistSeedExplicit,
		ItemIDs: []string{album1, album2, album3},
	}, services.CreateGeneratorOptions{Shuffle: true, ChunkSize: 9})
	require.NoError(t, err)
	require.Len(t, chunk.Items, 9)

	ids := entryIDs(chunk.Items)
	for _, tracks := range [][]string{tracks1, tracks2, tracks3} {
		start := -1
		for i, id := range ids {
			if id == tracks[0] {
				start = i
				break
			}
		}
		require.GreaterOrEqual(t, start, 0)
		require.LessOrEqual(t, start, 6)
		assert.Equal(t, tracks, ids[start:start+3], "album must stay adjacent and in track order")
	}
}

// =============================================================================
// CURSOR
// =============================================================================

func TestNextWalksQueueOnce(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	albumID, trackIDs := seedAlbum(t, store, sectionID, "Trio", "One", "Two", "Three")
	m := newTestManager(t, store)
	ctx := context.Background()

	chunk, err := m.Create(ctx, itemSeed(albumID), services.CreateGeneratorOptions{
		SessionID: "sess-1",
	})
	require.NoError(t, err)
	assert.True(t, chunk.Items[0].Served, "a bound session is playing the first entry")

	second, err := m.Next(ctx, chunk.GeneratorID)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, 1, second.Index)
	assert.Equal(t, trackIDs[1], second.MetadataItemID)
	assert.Equal(t, "Two", second.Title)
	assert.NotEmpty(t, second.MediaPartID)
	assert.True(t, second.Served)

	third, err := m.Next(ctx, chunk.GeneratorID)
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, 2, third.Index)

	done, err := m.Next(ctx, chunk.GeneratorID)
	require.NoError(t, err)
	assert.Nil(t, done, "three entries exhaust after three next calls")

	again, err := m.Next(ctx, chunk.GeneratorID)
	require.NoError(t, err)
	assert.Nil(t, again, "an exhausted generator stays exhausted")

	rows, err := store.ListGeneratorItems(ctx, chunk.GeneratorID, 0, 0)
	require.NoError(t, err)
	for _, row := range rows {
		assert.True(t, row.Served)
	}
}

func TestNextWrapsWhenRepeating(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	albumID, _ := seedAlbum(t, store, sectionID, "Loop", "One", "Two", "Three")
	m := newTestManager(t, store)
	ctx := context.Background()

	chunk, err := m.Create(ctx, itemSeed(albumID), services.CreateGeneratorOptions{Repeat: true})
	require.NoError(t, err)

	var indices []int
	for i := 0; i < 4; i++ {
		entry, err := m.Next(ctx, chunk.GeneratorID)
		require.NoError(t, err)
		require.NotNil(t, entry)
		indices = append(indices, entry.Index)
	}
	assert.Equal(t, []int{1, 2, 0, 1}, indices)
}

func TestJumpToBounds(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	albumID, _ := seedAlbum(t, store, sectionID, "Bounds", "One", "Two", "Three")
	m := newTestManager(t, store)
	ctx := context.Background()

	chunk, err := m.Create(ctx, itemSeed(albumID), services.CreateGeneratorOptions{})
	require.NoError(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, m.JumpTo(ctx, chunk.GeneratorID, 5), &appErr)
	assert.Equal(t, types.ErrorCodeValidation, appErr.Code)
	require.ErrorAs(t, m.JumpTo(ctx, chunk.GeneratorID, -1), &appErr)
	assert.Equal(t, types.ErrorCodeValidation, appErr.Code)

	require.NoError(t, m.JumpTo(ctx, chunk.GeneratorID, 2))
	rows, err := store.ListGeneratorItems(ctx, chunk.GeneratorID, 2, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Served)

	end, err := m.Next(ctx, chunk.GeneratorID)
	require.NoError(t, err)
	assert.Nil(t, end, "jumping to the last entry leaves nothing after it")
}

func TestJumpToWrapsWhenRepeating(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	albumID, _ := seedAlbum(t, store, sectionID, "Modulo", "One", "Two", "Three")
	m := newTestManager(t, store)
	ctx := context.Background()

	chunk, err := m.Create(ctx, itemSeed(albumID), services.CreateGeneratorOptions{Repeat: true})
	require.NoError(t, err)

	require.NoError(t, m.JumpTo(ctx, chunk.GeneratorID, 4))
	entry, err := m.Next(ctx, chunk.GeneratorID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 2, entry.Index, "jump to 4 wraps to 1, next plays 2")
}

// =============================================================================
// MATERIALIZATION AND LIFECYCLE
// =============================================================================

func TestChunkMaterializesLazily(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	albumID, trackIDs := seedAlbum(t, store, sectionID, "Decade",
		"01", "02", "03", "04", "05", "06", "07", "08", "09", "10")
	m := newTestManager(t, store)
	ctx := context.Background()

	chunk, err := m.Create(ctx, itemSeed(albumID), services.CreateGeneratorOptions{ChunkSize: 3})
	require.NoError(t, err)
	assert.Equal(t, 10, chunk.TotalCount)
	require.Len(t, chunk.Items, 3)

	count, err := store.CountGeneratorItems(ctx, chunk.GeneratorID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count, "creation materializes one chunk only")

	window, err := m.Chunk(ctx, chunk.GeneratorID, 6, 3)
	require.NoError(t, err)
	assert.Equal(t, 6, window.StartIndex)
	assert.Equal(t, []string{trackIDs[6], trackIDs[7], trackIDs[8]}, entryIDs(window.Items))

	count, err = store.CountGeneratorItems(ctx, chunk.GeneratorID)
	require.NoError(t, err)
	assert.EqualValues(t, 9, count, "rows appear up to the requested window and no further")

	tail, err := m.Chunk(ctx, chunk.GeneratorID, 50, 3)
	require.NoError(t, err)
	assert.Empty(t, tail.Items)
	assert.Equal(t, 10, tail.TotalCount)
}

func TestLibraryShrinkKeepsFrozenCount(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	albumID, trackIDs := seedAlbum(t, store, sectionID, "Shrink",
		"One", "Two", "Three", "Four", "Five")
	m := newTestManager(t, store)
	ctx := context.Background()

	chunk, err := m.Create(ctx, itemSeed(albumID), services.CreateGeneratorOptions{ChunkSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, chunk.TotalCount)

	require.NoError(t, store.SoftDeleteItems(ctx, []string{trackIDs[4]}))

	full, err := m.Chunk(ctx, chunk.GeneratorID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, full.TotalCount, "the promised count stays frozen")
	assert.Equal(t, trackIDs[:4], entryIDs(full.Items), "the deleted tail is simply missing")

	for i := 0; i < 3; i++ {
		entry, err := m.Next(ctx, chunk.GeneratorID)
		require.NoError(t, err)
		require.NotNil(t, entry)
	}
	gone, err := m.Next(ctx, chunk.GeneratorID)
	require.NoError(t, err)
	assert.Nil(t, gone, "the queue ends where the library now ends")
}

func TestTouchExtendsExpiry(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	albumID, _ := seedAlbum(t, store, sectionID, "Clock", "One")
	m := newTestManager(t, store)
	ctx := context.Background()

	chunk, err := m.Create(ctx, itemSeed(albumID), services.CreateGeneratorOptions{})
	require.NoError(t, err)

	before, err := store.GetGenerator(ctx, chunk.GeneratorID)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, m.Touch(ctx, chunk.GeneratorID))

	after, err := store.GetGenerator(ctx, chunk.GeneratorID)
	require.NoError(t, err)
	assert.True(t, after.ExpiresAt.After(before.ExpiresAt), "touch must push expiry out")
}

func TestReaperCollectsExpired(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	albumID, _ := seedAlbum(t, store, sectionID, "Reaped", "One", "Two")
	m := newTestManager(t, store)
	ctx := context.Background()

	stale, err := m.Create(ctx, itemSeed(albumID), services.CreateGeneratorOptions{})
	require.NoError(t, err)
	alive, err := m.Create(ctx, itemSeed(albumID), services.CreateGeneratorOptions{})
	require.NoError(t, err)

	gen, err := store.GetGenerator(ctx, stale.GeneratorID)
	require.NoError(t, err)
	gen.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.SaveGenerator(ctx, gen))

	m.reapExpired()

	_, err = store.GetGenerator(ctx, stale.GeneratorID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	count, err := store.CountGeneratorItems(ctx, stale.GeneratorID)
	require.NoError(t, err)
	assert.Zero(t, count, "materialized entries die with their generator")

	_, err = store.GetGenerator(ctx, alive.GeneratorID)
	assert.NoError(t, err)
}

func TestSessionBindingIsDiscoverable(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	albumID, _ := seedAlbum(t, store, sectionID, "Bound", "One", "Two")
	m := newTestManager(t, store)
	ctx := context.Background()

	chunk, err := m.Create(ctx, itemSeed(albumID), services.CreateGeneratorOptions{SessionID: "sess-9"})
	require.NoError(t, err)

	gen, err := store.FindGeneratorBySession(ctx, "sess-9")
	require.NoError(t, err)
	require.NotNil(t, gen)
	assert.Equal(t, chunk.GeneratorID, gen.ID)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestCreateRejectsBadSeeds(t *testing.T) {
	store := newTestStore(t)
	m := newTestManager(t, store)
	ctx := context.Background()
	opts := services.CreateGeneratorOptions{}

	cases := []types.PlaylistSeed{
		{Kind: "smart"},
		{Kind: types.PlaylistSeedSection},
		{Kind: types.PlaylistSeedExplicit},
		{Kind: types.PlaylistSeedItem},
		{Kind: types.PlaylistSeedSection, SectionID: "s", SortBy: "popularity"},
	}
	for _, seed := range cases {
		_, err := m.Create(ctx, seed, opts)
		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr, "seed %+v", seed)
		assert.Equal(t, types.ErrorCodeValidation, appErr.Code)
	}
}

func TestItemSeedUnknownItem(t *testing.T) {
	store := newTestStore(t)
	m := newTestManager(t, store)

	_, err := m.Create(context.Background(), itemSeed("missing"), services.CreateGeneratorOptions{})
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrorCodeNotFound, appErr.Code)
}

func TestEmptyContainerMakesEmptyGenerator(t *testing.T) {
	store := newTestStore(t)
	sectionID := seedSection(t, store)
	albumID := seedItem(t, store, sectionID, database.KindAlbumRelease, nil, 1, "Empty")
	m := newTestManager(t, store)
	ctx := context.Background()

	chunk, err := m.Create(ctx, itemSeed(albumID), services.CreateGeneratorOptions{})
	require.NoError(t, err)
	assert.Zero(t, chunk.TotalCount)
	assert.Empty(t, chunk.Items)

	entry, err := m.Next(ctx, chunk.GeneratorID)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestOperationsOnUnknownGenerator(t *testing.T) {
	store := newTestStore(t)
	m := newTestManager(t, store)
	ctx := context.Background()

	var appErr *types.AppError
	_, err := m.Chunk(ctx, "missing", 0, 10)
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrorCodeGeneratorNotFound, appErr.Code)

	_, err = m.Next(ctx, "missing")
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrorCodeGeneratorNotFound, appErr.Code)

	require.ErrorAs(t, m.JumpTo(ctx, "missing", 0), &appErr)
	assert.Equal(t, types.ErrorCodeGeneratorNotFound, appErr.Code)
}
