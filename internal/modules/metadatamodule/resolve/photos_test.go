package resolve

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/fsprobe"
	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
)

func TestPhotoAlbumResolver_LeafFolderBecomesAlbum(t *testing.T) {
	root := "/photos"
	albumDir := filepath.Join(root, "Summer Trip")
	children := []fsprobe.Entry{
		vfile(albumDir, "IMG_0001.jpg", 2<<20),
		vfile(albumDir, "IMG_0002.jpg", 2<<20),
	}

	draft := NewPhotoAlbumResolver().Resolve(&parts.ResolveArgs{
		Entry:        vdir(root, "Summer Trip"),
		LibraryType:  database.LibraryTypePhoto,
		LocationRoot: root,
		Children:     children,
	})

	require.NotNil(t, draft)
	assert.Equal(t, database.KindPhotoAlbum, draft.Kind)
	assert.Equal(t, "Summer Trip", draft.Title)
}

func TestPhotoAlbumResolver_DateOnlyIntermediateSkipped(t *testing.T) {
	root := "/photos"
	yearDir := filepath.Join(root, "2023")
	children := []fsprobe.Entry{
		vdir(yearDir, "Summer Trip"),
		vfile(yearDir, "stray.jpg", 1<<20),
	}

	draft := NewPhotoAlbumResolver().Resolve(&parts.ResolveArgs{
		Entry:        vdir(root, "2023"),
		LibraryType:  database.LibraryTypePhoto,
		LocationRoot: root,
		Children:     children,
	})
	assert.Nil(t, draft)
}

func TestPhotoAlbumResolver_DateOnlyLeafStillAlbum(t *testing.T) {
	root := "/photos"
	yearDir := filepath.Join(root, "2023-07")
	children := []fsprobe.Entry{
		vfile(yearDir, "IMG_0001.jpg", 2<<20),
	}

	draft := NewPhotoAlbumResolver().Resolve(&parts.ResolveArgs{
		Entry:        vdir(root, "2023-07"),
		LibraryType:  database.LibraryTypePhoto,
		LocationRoot: root,
		Children:     children,
	})

	require.NotNil(t, draft)
	assert.Equal(t, "2023-07", draft.Title)
}

func TestPhotoAlbumResolver_ImageUnderAlbum(t *testing.T) {
	root := "/photos"
	albumDir := filepath.Join(root, "Summer Trip")
	album := &parts.ItemDraft{Kind: database.KindPhotoAlbum, Title: "Summer Trip"}

	draft := NewPhotoAlbumResolver().Resolve(&parts.ResolveArgs{
		Entry:          vfile(albumDir, "IMG_0001.jpg", 2<<20),
		LibraryType:    database.LibraryTypePhoto,
		LocationRoot:   root,
		Ancestors:      []string{"Summer Trip"},
		ResolvedParent: album,
	})

	require.NotNil(t, draft)
	assert.Equal(t, database.KindPhoto, draft.Kind)
	assert.Equal(t, "IMG_0001", draft.Title)
	require.Len(t, draft.Parts, 1)
}

func TestPhotoAlbumResolver_OrphanImagePasses(t *testing.T) {
	root := "/photos"
	draft := NewPhotoAlbumResolver().Resolve(&parts.ResolveArgs{
		Entry:        vfile(root, "IMG_0001.jpg", 2<<20),
		LibraryType:  database.LibraryTypePhoto,
		LocationRoot: root,
	})
	assert.Nil(t, draft)
}

func TestPictureSetResolver_EmitsPictureKinds(t *testing.T) {
	root := "/pictures"
	setDir := filepath.Join(root, "Wallpapers")
	children := []fsprobe.Entry{
		vfile(setDir, "mountains.png", 4<<20),
	}

	resolver := NewPictureSetResolver()
	folder := resolver.Resolve(&parts.ResolveArgs{
		Entry:        vdir(root, "Wallpapers"),
		LibraryType:  database.LibraryTypePicture,
		LocationRoot: root,
		Children:     children,
	})
	require.NotNil(t, folder)
	assert.Equal(t, database.KindPictureSet, folder.Kind)

	image := resolver.Resolve(&parts.ResolveArgs{
		Entry:          vfile(setDir, "mountains.png", 4<<20),
		LibraryType:    database.LibraryTypePicture,
		LocationRoot:   root,
		Ancestors:      []string{"Wallpapers"},
		ResolvedParent: folder,
	})
	require.NotNil(t, image)
	assert.Equal(t, database.KindPicture, image.Kind)
}

func TestPictureSetResolver_IgnoresPhotoLibraries(t *testing.T) {
	root := "/photos"
	children := []fsprobe.Entry{
		vfile(filepath.Join(root, "Trip"), "IMG.jpg", 1<<20),
	}
	draft := NewPictureSetResolver().Resolve(&parts.ResolveArgs{
		Entry:        vdir(root, "Trip"),
		LibraryType:  database.LibraryTypePhoto,
		LocationRoot: root,
		Children:     children,
	})
	assert.Nil(t, draft)
}
