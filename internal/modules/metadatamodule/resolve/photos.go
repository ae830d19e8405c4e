package resolve

import (
	"regexp"

	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/fsprobe"
	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
	"github.com/medley-tv/medley/internal/utils"
)

// dateDirRe matches folder names that are just a date: "2023", "2023-07",
// "07-2023", "2023-07-14". Such folders organize albums, they are not
// albums themselves when anything nests below them.
var dateDirRe = regexp.MustCompile(`^\d{4}([-_. ]\d{2}([-_. ]\d{2})?)?$|^\d{2}[-_. ]\d{4}$`)

// leafAlbumResolver backs both photo and picture libraries: folders holding
// images become albums and each image becomes a child item. The two library
// types differ only in the kinds they emit.
type leafAlbumResolver struct {
	name        string
	priority    int
	libraryType string
	albumKind   database.ItemKind
	itemKind    database.ItemKind
}

// NewPhotoAlbumResolver resolves photo libraries into albums of photos.
func NewPhotoAlbumResolver() parts.ItemResolver {
	return &leafAlbumResolver{
		name:        "photo-album",
		priority:    PriorityPhotoAlbum,
		libraryType: database.LibraryTypePhoto,
		albumKind:   database.KindPhotoAlbum,
		itemKind:    database.KindPhoto,
	}
}

// NewPictureSetResolver resolves picture libraries into sets of pictures.
// Same folder rules as photo albums without the real-world imagery
// assumption.
func NewPictureSetResolver() parts.ItemResolver {
	return &leafAlbumResolver{
		name:        "picture-set",
		priority:    PriorityPictureSet,
		libraryType: database.LibraryTypePicture,
		albumKind:   database.KindPictureSet,
		itemKind:    database.KindPicture,
	}
}

func (r *leafAlbumResolver) Name() string {
	return r.name
}

func (r *leafAlbumResolver) Priority() int {
	return r.priority
}

func (r *leafAlbumResolver) Resolve(args *parts.ResolveArgs) *parts.ItemDraft {
	if args.LibraryType != r.libraryType {
		return nil
	}
	if args.Entry.IsDir {
		return r.resolveAlbum(args)
	}
	return r.resolveImage(args)
}

func (r *leafAlbumResolver) resolveAlbum(args *parts.ResolveArgs) *parts.ItemDraft {
	if args.IsRoot {
		return nil
	}
	if !hasImages(args.Children) {
		return nil
	}
	if dateDirRe.MatchString(args.Entry.Name) && hasSubdirs(args.Children) {
		return nil
	}
	return &parts.ItemDraft{
		Kind:  r.albumKind,
		Title: args.Entry.Name,
	}
}

func (r *leafAlbumResolver) resolveImage(args *parts.ResolveArgs) *parts.ItemDraft {
	e := args.Entry
	if !e.Exists || !utils.IsImageFile(e.Name) {
		return nil
	}
	parent := args.ResolvedParent
	if parent == nil || parent.Kind != r.albumKind {
		return nil
	}
	return &parts.ItemDraft{
		Kind:  r.itemKind,
		Title: baseName(e),
		Parts: []fsprobe.Entry{e},
	}
}

func hasImages(children []fsprobe.Entry) bool {
	for _, c := range children {
		if !c.IsDir && c.Exists && utils.IsImageFile(c.Name) {
			return true
		}
	}
	return false
}

func hasSubdirs(children []fsprobe.Entry) bool {
	for _, c := range children {
		if c.IsDir {
			return true
		}
	}
	return false
}
