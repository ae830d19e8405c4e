package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&LibrarySection{}, &SectionLocation{},
		&LibraryScan{}, &ScanSeenPath{},
		&MetadataItem{}, &ExternalIdentifier{}, &MetadataRelation{}, &TagEdge{},
		&MediaItem{}, &MediaPart{}, &MediaStream{}, &MediaAsset{},
		&PlaybackSession{}, &ClientProfile{},
		&PlaylistGenerator{}, &PlaylistGeneratorItem{},
		&TranscodeJob{},
	)
	require.NoError(t, err)

	return NewStore(db)
}

func TestStore_ItemLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item := &MetadataItem{
		LibrarySectionID: "section-1",
		Kind:             KindMovie,
		Title:            "Heat",
		Year:             1995,
	}
	require.NoError(t, store.CreateItem(ctx, item))
	assert.NotEmpty(t, item.ID)

	loaded, err := store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "Heat", loaded.Title)

	loaded.Summary = "Two obsessive professionals on opposite sides of the law."
	require.NoError(t, store.SaveItem(ctx, loaded))

	require.NoError(t, store.SoftDeleteItems(ctx, []string{item.ID}))

	_, err = store.GetItem(ctx, item.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	// The reconciler still sees the row when it opts in
	deleted, err := store.GetItem(ctx, item.ID, IncludeDeleted())
	require.NoError(t, err)
	assert.Equal(t, "Heat", deleted.Title)
	assert.True(t, deleted.DeletedAt.Valid)
}

func TestStore_ListChildrenOrdered(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	parent := &MetadataItem{LibrarySectionID: "section-1", Kind: KindSeason, Title: "Season 1"}
	require.NoError(t, store.CreateItem(ctx, parent))

	two := 2
	one := 1
	epTwo := &MetadataItem{LibrarySectionID: "section-1", ParentID: &parent.ID, Kind: KindEpisode, Title: "Part Two", ItemIndex: &two}
	epOne := &MetadataItem{LibrarySectionID: "section-1", ParentID: &parent.ID, Kind: KindEpisode, Title: "Part One", ItemIndex: &one}
	require.NoError(t, store.CreateItem(ctx, epTwo))
	require.NoError(t, store.CreateItem(ctx, epOne))

	children, err := store.ListChildren(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "Part One", children[0].Title)
	assert.Equal(t, "Part Two", children[1].Title)
}

func TestStore_FindItemByExternalID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	movie := &MetadataItem{LibrarySectionID: "section-1", Kind: KindMovie, Title: "Alien"}
	require.NoError(t, store.CreateItem(ctx, movie))
	require.NoError(t, store.AddExternalIDs(ctx, movie.ID, map[string]string{"imdb": "tt0078748"}))

	// Same provider id in another section must not match
	other := &MetadataItem{LibrarySectionID: "section-2", Kind: KindMovie, Title: "Alien (copy)"}
	require.NoError(t, store.CreateItem(ctx, other))
	require.NoError(t, store.AddExternalIDs(ctx, other.ID, map[string]string{"imdb": "tt0078748"}))

	found, err := store.FindItemByExternalID(ctx, KindMovie, "imdb", "tt0078748", "section-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, movie.ID, found.ID)

	miss, err := store.FindItemByExternalID(ctx, KindMovie, "imdb", "tt9999999", "section-1")
	require.NoError(t, err)
	assert.Nil(t, miss)
}

func TestStore_AddExternalIDsIgnoresDuplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item := &MetadataItem{LibrarySectionID: "section-1", Kind: KindMovie, Title: "Ran"}
	require.NoError(t, store.CreateItem(ctx, item))

	require.NoError(t, store.AddExternalIDs(ctx, item.ID, map[string]string{"imdb": "tt0089881"}))
	require.NoError(t, store.AddExternalIDs(ctx, item.ID, map[string]string{"imdb": "tt0089881", "tmdb": "11645"}))

	ids, err := store.ListExternalIDs(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"imdb": "tt0089881", "tmdb": "11645"}, ids)
}

func TestStore_TagEdgesUnion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item := &MetadataItem{LibrarySectionID: "section-1", Kind: KindMovie, Title: "Brazil"}
	require.NoError(t, store.CreateItem(ctx, item))

	require.NoError(t, store.AddTagEdges(ctx, item.ID, TagTypeGenre, []string{"Comedy", "Sci-Fi"}))
	require.NoError(t, store.AddTagEdges(ctx, item.ID, TagTypeGenre, []string{"Sci-Fi", "Dystopia"}))

	genres, err := store.ListTagEdges(ctx, item.ID, TagTypeGenre)
	require.NoError(t, err)
	assert.Equal(t, []string{"Comedy", "Dystopia", "Sci-Fi"}, genres)
}

func TestStore_RelationsByType(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	movie := &MetadataItem{LibrarySectionID: "section-1", Kind: KindMovie, Title: "Dune"}
	trailer := &MetadataItem{LibrarySectionID: "section-1", Kind: KindTrailer, Title: "Dune Trailer"}
	actor := &MetadataItem{LibrarySectionID: "section-1", Kind: KindPerson, Title: "Rebecca Ferguson"}
	require.NoError(t, store.CreateItem(ctx, movie))
	require.NoError(t, store.CreateItem(ctx, trailer))
	require.NoError(t, store.CreateItem(ctx, actor))

	require.NoError(t, store.AddRelation(ctx, &MetadataRelation{
		FromItemID: trailer.ID, ToItemID: movie.ID, Type: RelationTrailerPromotes,
	}))
	require.NoError(t, store.AddRelation(ctx, &MetadataRelation{
		FromItemID: actor.ID, ToItemID: movie.ID, Type: RelationPersonContributes, Role: "actor", As: "Lady Jessica",
	}))

	incoming, err := store.ListRelationsTo(ctx, movie.ID, RelationTrailerPromotes)
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, trailer.ID, incoming[0].FromItemID)

	cast, err := store.ListRelationsTo(ctx, movie.ID, RelationPersonContributes)
	require.NoError(t, err)
	require.Len(t, cast, 1)
	assert.Equal(t, "Lady Jessica", cast[0].As)
}

func TestStore_MediaRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item := &MetadataItem{LibrarySectionID: "section-1", Kind: KindMovie, Title: "Nostalghia"}
	require.NoError(t, store.CreateItem(ctx, item))

	media := &MediaItem{
		MetadataItemID:   item.ID,
		LibrarySectionID: "section-1",
		Container:        "mkv",
		VideoCodec:       "h264",
		Parts: []MediaPart{
			{
				PartIndex: 2,
				File:      "/media/movies/Nostalghia/Nostalghia-cd2.mkv",
				SizeBytes: 2000,
				Streams:   []MediaStream{{StreamType: StreamTypeVideo, StreamIndex: 0, Codec: "h264"}},
			},
			{
				PartIndex: 1,
				File:      "/media/movies/Nostalghia/Nostalghia-cd1.mkv",
				SizeBytes: 1000,
				Streams:   []MediaStream{{StreamType: StreamTypeVideo, StreamIndex: 0, Codec: "h264"}},
			},
		},
	}
	require.NoError(t, store.CreateMediaItem(ctx, media))

	loaded, err := store.GetMediaForItem(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Len(t, loaded[0].Parts, 2)
	assert.Equal(t, 1, loaded[0].Parts[0].PartIndex)
	assert.Equal(t, 2, loaded[0].Parts[1].PartIndex)
	require.Len(t, loaded[0].Parts[0].Streams, 1)

	part, err := store.FindPartByPath(ctx, "/media/movies/Nostalghia/Nostalghia-cd1.mkv")
	require.NoError(t, err)
	require.NotNil(t, part)
	assert.Equal(t, int64(1000), part.SizeBytes)

	miss, err := store.FindPartByPath(ctx, "/media/movies/unknown.mkv")
	require.NoError(t, err)
	assert.Nil(t, miss)
}

func TestStore_ReplacePartStreams(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	media := &MediaItem{
		MetadataItemID:   "item-1",
		LibrarySectionID: "section-1",
		Parts: []MediaPart{{
			PartIndex: 1,
			File:      "/media/movies/a.mkv",
			Streams:   []MediaStream{{StreamType: StreamTypeVideo, Codec: "mpeg2"}},
		}},
	}
	require.NoError(t, store.CreateMediaItem(ctx, media))
	partID := media.Parts[0].ID

	err := store.ReplacePartStreams(ctx, partID, []MediaStream{
		{StreamType: StreamTypeVideo, StreamIndex: 0, Codec: "h264"},
		{StreamType: StreamTypeAudio, StreamIndex: 1, Codec: "aac", Channels: 6},
	})
	require.NoError(t, err)

	part, err := store.GetPart(ctx, partID)
	require.NoError(t, err)
	require.Len(t, part.Streams, 2)
}

func TestStore_VacuumItems(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := &MetadataItem{LibrarySectionID: "section-1", Kind: KindMovie, Title: "Old"}
	fresh := &MetadataItem{LibrarySectionID: "section-1", Kind: KindMovie, Title: "Fresh"}
	require.NoError(t, store.CreateItem(ctx, old))
	require.NoError(t, store.CreateItem(ctx, fresh))
	require.NoError(t, store.AddExternalIDs(ctx, old.ID, map[string]string{"imdb": "tt0000001"}))
	require.NoError(t, store.SoftDeleteItems(ctx, []string{old.ID, fresh.ID}))

	// Age only one of the two tombstones past the cutoff
	aged := time.Now().Add(-48 * time.Hour)
	err := store.DB().Unscoped().Model(&MetadataItem{}).
		Where("id = ?", old.ID).
		Update("deleted_at", aged).Error
	require.NoError(t, err)

	removed, err := store.VacuumItems(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = store.GetItem(ctx, old.ID, IncludeDeleted())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	kept, err := store.GetItem(ctx, fresh.ID, IncludeDeleted())
	require.NoError(t, err)
	assert.Equal(t, "Fresh", kept.Title)

	ids, err := store.ListExternalIDs(ctx, old.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
