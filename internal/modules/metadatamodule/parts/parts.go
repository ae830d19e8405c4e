// Package parts holds the pluggable pieces of the metadata pipeline: ignore
// rules, item resolvers, sidecar parsers, embedded extractors, metadata
// agents, and per-library analyzers and image providers. Core modules and
// plugins register implementations during startup; after that the registry
// freezes and the scanner reads it without locking concerns.
package parts

import (
	"context"
	"time"

	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/fsprobe"
)

// ResolveArgs is everything a resolver may consult about one filesystem
// entry. Children and Siblings are pre-sorted and ignore-filtered.
type ResolveArgs struct {
	Entry             fsprobe.Entry
	LibraryType       string
	LibrarySectionID  string
	SectionLocationID string
	LocationRoot      string
	IsRoot            bool
	Children          []fsprobe.Entry // entries inside Entry when it is a directory
	Siblings          []fsprobe.Entry // entries next to Entry, excluding Entry itself
	Ancestors         []string        // directory names from the location root down to the parent
	ResolvedParent    *ItemDraft      // nearest ancestor that resolved to an item
}

// PendingRelation is a typed edge a resolver wants once both endpoints are
// persisted. TargetPath names the directory whose resolved item becomes the
// relation target.
type PendingRelation struct {
	Type       database.RelationType
	TargetPath string
}

// ItemDraft is the typed skeleton a resolver emits. The pipeline later
// overlays metadata from sidecars, embedded tags, and agents on top of it.
type ItemDraft struct {
	Kind          database.ItemKind
	Title         string
	SortTitle     string
	OriginalTitle string
	Year          int
	ReleaseDate   *time.Time
	ItemIndex     *int
	AbsoluteIndex *int

	// Parts lists the physical files backing this item in part order.
	// Container drafts (shows, seasons, albums) leave it empty.
	Parts []fsprobe.Entry

	// Disc marks optical disc structures; nothing underneath resolves again.
	Disc bool

	ExternalIDs      map[string]string
	Hints            map[string]string
	PendingRelations []PendingRelation
}

// ItemResolver classifies one filesystem entry into an ItemDraft, or returns
// nil when the entry means nothing to it. Resolvers run in ascending
// priority order; the first non-nil draft wins.
type ItemResolver interface {
	Name() string
	Priority() int
	Resolve(args *ResolveArgs) *ItemDraft
}

// ItemPatch is a partial metadata overlay. Nil fields mean "no opinion";
// the merge layer applies last-writer-wins per field.
type ItemPatch struct {
	Title            *string
	SortTitle        *string
	OriginalTitle    *string
	Summary          *string
	Tagline          *string
	ContentRating    *string
	ContentRatingAge *int
	ReleaseDate      *time.Time
	Year             *int
	ItemIndex        *int
	AbsoluteIndex    *int
	DurationMs       *int64

	ThumbURI  *string
	ArtURI    *string
	BannerURI *string

	ExtraFields map[string]string
	ExternalIDs map[string]string
}

// Overlay applies incoming on top of p: non-nil scalars replace, maps merge
// right-biased. Title-like fields additionally ignore blank values.
func (p *ItemPatch) Overlay(incoming *ItemPatch) {
	if incoming == nil {
		return
	}
	if incoming.Title != nil && trimmed(*incoming.Title) != "" {
		p.Title = incoming.Title
	}
	if incoming.SortTitle != nil && trimmed(*incoming.SortTitle) != "" {
		p.SortTitle = incoming.SortTitle
	}
	if incoming.OriginalTitle != nil && trimmed(*incoming.OriginalTitle) != "" {
		p.OriginalTitle = incoming.OriginalTitle
	}
	if incoming.Summary != nil {
		p.Summary = incoming.Summary
	}
	if incoming.Tagline != nil {
		p.Tagline = incoming.Tagline
	}
	if incoming.ContentRating != nil {
		p.ContentRating = incoming.ContentRating
	}
	if incoming.ContentRatingAge != nil {
		p.ContentRatingAge = incoming.ContentRatingAge
	}
	if incoming.ReleaseDate != nil {
		p.ReleaseDate = incoming.ReleaseDate
	}
	if incoming.Year != nil {
		p.Year = incoming.Year
	}
	if incoming.ItemIndex != nil {
		p.ItemIndex = incoming.ItemIndex
	}
	if incoming.AbsoluteIndex != nil {
		p.AbsoluteIndex = incoming.AbsoluteIndex
	}
	if incoming.DurationMs != nil {
		p.DurationMs = incoming.DurationMs
	}
	if incoming.ThumbURI != nil {
		p.ThumbURI = incoming.ThumbURI
	}
	if incoming.ArtURI != nil {
		p.ArtURI = incoming.ArtURI
	}
	if incoming.BannerURI != nil {
		p.BannerURI = incoming.BannerURI
	}
	if len(incoming.ExtraFields) > 0 {
		if p.ExtraFields == nil {
			p.ExtraFields = make(map[string]string, len(incoming.ExtraFields))
		}
		for k, v := range incoming.ExtraFields {
			p.ExtraFields[k] = v
		}
	}
	if len(incoming.ExternalIDs) > 0 {
		if p.ExternalIDs == nil {
			p.ExternalIDs = make(map[string]string, len(incoming.ExternalIDs))
		}
		for k, v := range incoming.ExternalIDs {
			p.ExternalIDs[k] = v
		}
	}
}

func trimmed(s string) string {
	start := 0
	for start < len(s) && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	end := len(s)
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}

// PersonRef names a contributor found in metadata sources.
type PersonRef struct {
	Name        string
	Role        string // actor, director, writer, artist...
	As          string // character or credited-as name
	SortOrder   int
	ThumbURI    string
	ExternalIDs map[string]string
}

// GroupRef names a group contributor (band, studio).
type GroupRef struct {
	Name        string
	Role        string
	ExternalIDs map[string]string
}

// SidecarRequest is the input to a sidecar parser.
type SidecarRequest struct {
	MediaFile   string
	SidecarFile string
	LibraryType string
	Siblings    []fsprobe.Entry
}

// SidecarResult carries whatever one parser or extractor learned. A nil
// result means the source had nothing to add.
type SidecarResult struct {
	Patch  *ItemPatch
	Hints  map[string]string
	Source string
	People []PersonRef
	Groups []GroupRef
	Genres []string
	Tags   []string
}

// SidecarParser reads metadata from a file next to the media file.
type SidecarParser interface {
	Name() string
	CanParse(path string) bool
	Parse(ctx context.Context, req *SidecarRequest) (*SidecarResult, error)
}

// EmbeddedExtractor reads metadata out of the media file itself.
type EmbeddedExtractor interface {
	Name() string
	CanExtract(path string) bool
	Extract(ctx context.Context, path string, libraryType string) (*SidecarResult, error)
}

// AgentCategory orders metadata agents by the trust tier of their source.
// Lower runs earlier; later categories overlay earlier ones.
type AgentCategory int

const (
	AgentSidecar  AgentCategory = 10
	AgentEmbedded AgentCategory = 20
	AgentLocal    AgentCategory = 30
	AgentRemote   AgentCategory = 50
	AgentFallback AgentCategory = 90
)

// AgentRequest asks an agent for metadata about a persisted item.
type AgentRequest struct {
	Item        *database.MetadataItem
	ExternalIDs map[string]string
	LibraryType string
	Language    string
}

// MetadataAgent fetches metadata for an item, typically from a remote
// provider. Plugins register these.
type MetadataAgent interface {
	Name() string
	Category() AgentCategory
	Priority() int
	Supports(kind database.ItemKind) bool
	Fetch(ctx context.Context, req *AgentRequest) (*SidecarResult, error)
}

// MediaInfo is the technical readout of one media file.
type MediaInfo struct {
	Container  string
	DurationMs int64
	BitrateBps int64
	SizeBytes  int64
	Streams    []database.MediaStream
}

// FileAnalyzer produces the technical stream readout for a media file.
type FileAnalyzer interface {
	Name() string
	LibraryTypes() []string
	Analyze(ctx context.Context, path string) (*MediaInfo, error)
}

// ImageRef is one artwork candidate offered by an image provider.
type ImageRef struct {
	Kind     string // thumb, art, banner
	URI      string
	Provider string
}

// ImageProvider offers artwork candidates for an item.
type ImageProvider interface {
	Name() string
	LibraryTypes() []string
	ImagesFor(ctx context.Context, item *database.MetadataItem) ([]ImageRef, error)
}
