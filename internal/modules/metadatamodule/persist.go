package metadatamodule

import (
	"context"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/fsprobe"
	"github.com/medley-tv/medley/internal/logger"
	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
)

// Persister turns resolved drafts into database rows. One instance serves
// one scan and is confined to the persist stage goroutine; none of its
// state is safe for concurrent use.
type Persister struct {
	store       *database.Store
	sectionID   string
	libraryType string

	idCache   map[string]string   // kind:provider:value -> item id
	pathCache map[string]string   // absolute path -> item id, "" caches a miss
	nodes     map[string]nodeInfo // parent resolution facts by item id
	relCache  map[string]bool
	relLoaded map[string]bool
	pending   []pendingRelation
}

// pendingRelation is an edge whose target path had not resolved to an item
// yet when the source was persisted. Flush retries them at scan end.
type pendingRelation struct {
	fromID     string
	relType    database.RelationType
	targetPath string
}

type nodeInfo struct {
	kind      database.ItemKind
	itemIndex *int
	parentID  *string
}

// PersistInput is one resolved draft plus everything the earlier pipeline
// stages learned about it.
type PersistInput struct {
	Draft        *parts.ItemDraft
	Entry        fsprobe.Entry
	LocationRoot string

	// Unchanged means change detection saw no part drift; the item is
	// touched only enough to keep resume caches warm.
	Unchanged bool

	// Local is the merged sidecar and embedded result for this entry.
	Local *parts.SidecarResult

	// MediaInfo and Hashes are keyed by part path.
	MediaInfo map[string]*parts.MediaInfo
	Hashes    map[string]string
}

// PersistResult reports what one draft became.
type PersistResult struct {
	ItemID  string
	Created bool
	Updated bool

	// Hints is the union of resolver and local-source hints, consumed by
	// the asset stage.
	Hints map[string]string
}

// NewPersister builds a persister scoped to one section scan.
func NewPersister(store *database.Store, sectionID, libraryType string) *Persister {
	return &Persister{
		store:       store,
		sectionID:   sectionID,
		libraryType: libraryType,
		idCache:     make(map[string]string),
		pathCache:   make(map[string]string),
		nodes:       make(map[string]nodeInfo),
		relCache:    make(map[string]bool),
		relLoaded:   make(map[string]bool),
	}
}

// PersistDraft finds or creates the item a draft describes, reparents it,
// overlays local metadata, and upserts its media rows. Identity is probed
// in order: external provider ids, then the entry path. Relations whose
// target has no item yet are queued for Flush.
func (p *Persister) PersistDraft(ctx context.Context, in *PersistInput) (*PersistResult, error) {
	draft := in.Draft
	hints := mergedHints(draft, in.Local)

	ancestorID, err := p.nearestAncestorID(ctx, in.Entry.Path, in.LocationRoot)
	if err != nil {
		return nil, err
	}
	parentID, err := p.resolveParent(ctx, draft, ancestorID, hints)
	if err != nil {
		return nil, err
	}

	ids := p.identityFor(draft, in.Local, parentID)
	item, created, err := p.findOrCreate(ctx, draft, ids, parentID, in.Entry)
	if err != nil {
		return nil, err
	}
	p.pathCache[in.Entry.Path] = item.ID

	if in.Unchanged && !created {
		p.noteNode(item)
		return &PersistResult{ItemID: item.ID, Hints: hints}, nil
	}

	changed := false
	if parentID != "" && (item.ParentID == nil || *item.ParentID != parentID) {
		item.ParentID = &parentID
		changed = true
	}
	if in.Local != nil {
		opts := ApplyOptions{Television: p.libraryType == database.LibraryTypeTV}
		if ApplyPatch(item, in.Local.Patch, opts) {
			changed = true
		}
	}
	if item.SortTitle == "" && item.Title != "" {
		item.SortTitle = DeriveSortTitle(item.Title)
		changed = true
	}

	if len(draft.Parts) > 0 {
		durationMs, err := p.persistMedia(ctx, item, in)
		if err != nil {
			return nil, err
		}
		if item.DurationMs == 0 && durationMs > 0 {
			item.DurationMs = durationMs
			changed = true
		}
	}

	if changed {
		if err := p.store.SaveItem(ctx, item); err != nil {
			return nil, err
		}
	}

	attach := make(map[string]string, len(ids)+1)
	for provider, value := range ids {
		attach[provider] = value
	}
	attach[database.ExternalProviderPath] = in.Entry.Path
	if err := p.store.AddExternalIDs(ctx, item.ID, attach); err != nil {
		return nil, err
	}

	for _, rel := range draft.PendingRelations {
		targetID, err := p.lookupPath(ctx, rel.TargetPath)
		if err != nil {
			return nil, err
		}
		if targetID == "" {
			p.pending = append(p.pending, pendingRelation{
				fromID:     item.ID,
				relType:    rel.Type,
				targetPath: rel.TargetPath,
			})
			continue
		}
		err = p.addRelationOnce(ctx, &database.MetadataRelation{
			FromItemID: item.ID,
			ToItemID:   targetID,
			Type:       rel.Type,
		})
		if err != nil {
			return nil, err
		}
	}

	if err := p.persistContributors(ctx, item.ID, in.Local); err != nil {
		return nil, err
	}

	p.noteNode(item)
	return &PersistResult{
		ItemID:  item.ID,
		Created: created,
		Updated: !created && changed,
		Hints:   hints,
	}, nil
}

// Flush resolves relations whose targets had not been persisted when their
// source was; a trailer can precede its owner in walk order. Targets that
// never materialized are dropped.
func (p *Persister) Flush(ctx context.Context) error {
	for _, rel := range p.pending {
		targetID, err := p.lookupPath(ctx, rel.targetPath)
		if err != nil {
			return err
		}
		if targetID == "" {
			logger.Debug("dropping %s relation from %s: target %s never became an item",
				rel.relType, rel.fromID, rel.targetPath)
			continue
		}
		err = p.addRelationOnce(ctx, &database.MetadataRelation{
			FromItemID: rel.fromID,
			ToItemID:   targetID,
			Type:       rel.relType,
		})
		if err != nil {
			return err
		}
	}
	p.pending = p.pending[:0]
	return nil
}

// ApplyAgentResult overlays a merged agent result onto a persisted item:
// patch fields under field locks, newly learned external ids, and
// contributor edges. Fields named in unlock are written even when the
// item locks them. Returns whether the item row changed.
func (p *Persister) ApplyAgentResult(ctx context.Context, item *database.MetadataItem, res *parts.SidecarResult, unlock ...string) (bool, error) {
	if res == nil {
		return false, nil
	}
	opts := ApplyOptions{Television: p.libraryType == database.LibraryTypeTV, Unlock: unlock}
	changed := ApplyPatch(item, res.Patch, opts)
	if item.SortTitle == "" && item.Title != "" {
		item.SortTitle = DeriveSortTitle(item.Title)
		changed = true
	}
	if changed {
		if err := p.store.SaveItem(ctx, item); err != nil {
			return false, err
		}
	}
	if res.Patch != nil && len(res.Patch.ExternalIDs) > 0 {
		if err := p.store.AddExternalIDs(ctx, item.ID, res.Patch.ExternalIDs); err != nil {
			return changed, err
		}
		p.cacheIdentity(item.ID, item.Kind, res.Patch.ExternalIDs)
	}
	if err := p.persistContributors(ctx, item.ID, res); err != nil {
		return changed, err
	}
	return changed, nil
}

// identityFor merges draft and local-source external ids. Seasons and album
// mediums additionally get a synthetic parent-scoped id so folder-backed
// and hint-synthesized containers converge on one row.
func (p *Persister) identityFor(draft *parts.ItemDraft, local *parts.SidecarResult, parentID string) map[string]string {
	ids := make(map[string]string, len(draft.ExternalIDs)+2)
	for provider, value := range draft.ExternalIDs {
		ids[provider] = value
	}
	if local != nil && local.Patch != nil {
		for provider, value := range local.Patch.ExternalIDs {
			ids[provider] = value
		}
	}
	if parentID != "" && draft.ItemIndex != nil {
		switch draft.Kind {
		case database.KindSeason:
			ids[database.ExternalProviderSeason] = parentID + ":" + strconv.Itoa(*draft.ItemIndex)
		case database.KindAlbumMedium:
			ids[database.ExternalProviderMedium] = parentID + ":" + strconv.Itoa(*draft.ItemIndex)
		}
	}
	return ids
}

func (p *Persister) findOrCreate(ctx context.Context, draft *parts.ItemDraft, ids map[string]string, parentID string, entry fsprobe.Entry) (*database.MetadataItem, bool, error) {
	for _, provider := range sortedProviders(ids) {
		key := cacheKey(draft.Kind, provider, ids[provider])
		if id, ok := p.idCache[key]; ok {
			item, err := p.store.GetItem(ctx, id)
			if err != nil {
				return nil, false, err
			}
			return item, false, nil
		}
		item, err := p.store.FindItemByExternalID(ctx, draft.Kind, provider, ids[provider], p.sectionID)
		if err != nil {
			return nil, false, err
		}
		if item != nil {
			p.cacheIdentity(item.ID, draft.Kind, ids)
			return item, false, nil
		}
	}

	if id, ok := p.pathCache[entry.Path]; ok {
		if id != "" {
			item, err := p.store.GetItem(ctx, id)
			if err != nil {
				return nil, false, err
			}
			return item, false, nil
		}
	} else {
		item, err := p.store.FindItemByPath(ctx, entry.Path, p.sectionID)
		if err != nil {
			return nil, false, err
		}
		// A path that changed kind between scans gets a fresh row.
		if item != nil && item.Kind == draft.Kind {
			p.cacheIdentity(item.ID, draft.Kind, ids)
			return item, false, nil
		}
	}

	item := newItemFromDraft(draft, p.sectionID, parentID)
	if err := p.store.CreateItem(ctx, item); err != nil {
		return nil, false, err
	}
	p.cacheIdentity(item.ID, draft.Kind, ids)
	return item, true, nil
}

func newItemFromDraft(draft *parts.ItemDraft, sectionID, parentID string) *database.MetadataItem {
	item := &database.MetadataItem{
		LibrarySectionID: sectionID,
		Kind:             draft.Kind,
		Title:            draft.Title,
		SortTitle:        draft.SortTitle,
		OriginalTitle:    draft.OriginalTitle,
		Year:             draft.Year,
		ReleaseDate:      draft.ReleaseDate,
	}
	if parentID != "" {
		item.ParentID = &parentID
	}
	if draft.ItemIndex != nil {
		idx := *draft.ItemIndex
		item.ItemIndex = &idx
	}
	if draft.AbsoluteIndex != nil {
		idx := *draft.AbsoluteIndex
		item.AbsoluteIndex = &idx
	}
	if draft.ReleaseDate != nil && item.Year == 0 {
		item.Year = draft.ReleaseDate.Year()
	}
	if item.SortTitle == "" {
		item.SortTitle = DeriveSortTitle(item.Title)
	}
	return item
}

// resolveParent picks the parent for a draft. Most kinds hang off the
// nearest ancestor item; episodes additionally route through a season,
// synthesized when no season folder exists or when the episode's own
// parsed number disagrees with the folder it sits in.
func (p *Persister) resolveParent(ctx context.Context, draft *parts.ItemDraft, ancestorID string, hints map[string]string) (string, error) {
	if ancestorID == "" {
		return "", nil
	}
	if draft.Kind != database.KindEpisode {
		return ancestorID, nil
	}
	anc, err := p.nodeFor(ctx, ancestorID)
	if err != nil {
		return "", err
	}
	season, hasSeason := hintInt(hints, parts.HintSeasonNumber)
	switch anc.kind {
	case database.KindSeason:
		if !hasSeason || (anc.itemIndex != nil && *anc.itemIndex == season) {
			return ancestorID, nil
		}
		if anc.parentID == nil {
			return ancestorID, nil
		}
		return p.ensureSeason(ctx, *anc.parentID, season)
	case database.KindShow:
		if !hasSeason {
			return ancestorID, nil
		}
		return p.ensureSeason(ctx, ancestorID, season)
	default:
		return ancestorID, nil
	}
}

// ensureSeason finds or synthesizes the season row for a show. Synthesized
// seasons carry the same parent-scoped identity a season folder would get,
// so whichever side is seen first owns the row.
func (p *Persister) ensureSeason(ctx context.Context, showID string, number int) (string, error) {
	value := showID + ":" + strconv.Itoa(number)
	key := cacheKey(database.KindSeason, database.ExternalProviderSeason, value)
	if id, ok := p.idCache[key]; ok {
		return id, nil
	}
	existing, err := p.store.FindItemByExternalID(ctx, database.KindSeason, database.ExternalProviderSeason, value, p.sectionID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		p.idCache[key] = existing.ID
		p.noteNode(existing)
		return existing.ID, nil
	}

	title := "Season " + strconv.Itoa(number)
	if number == 0 {
		title = "Specials"
	}
	idx := number
	item := &database.MetadataItem{
		LibrarySectionID: p.sectionID,
		ParentID:         &showID,
		Kind:             database.KindSeason,
		Title:            title,
		SortTitle:        title,
		ItemIndex:        &idx,
	}
	if err := p.store.CreateItem(ctx, item); err != nil {
		return "", err
	}
	err = p.store.AddExternalIDs(ctx, item.ID, map[string]string{
		database.ExternalProviderSeason: value,
	})
	if err != nil {
		return "", err
	}
	p.idCache[key] = item.ID
	p.noteNode(item)
	return item.ID, nil
}

// nearestAncestorID walks up the directory tree looking for the closest
// ancestor that resolved to an item, stopping at the location root.
func (p *Persister) nearestAncestorID(ctx context.Context, path, root string) (string, error) {
	dir := filepath.Dir(path)
	for dir != root && strings.HasPrefix(dir, root) {
		id, err := p.lookupPath(ctx, dir)
		if err != nil {
			return "", err
		}
		if id != "" {
			return id, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", nil
}

// lookupPath resolves an absolute path to an item id through the path
// identity provider. Misses are cached; a later persist of that path
// overwrites the miss.
func (p *Persister) lookupPath(ctx context.Context, path string) (string, error) {
	if id, ok := p.pathCache[path]; ok {
		return id, nil
	}
	item, err := p.store.FindItemByPath(ctx, path, p.sectionID)
	if err != nil {
		return "", err
	}
	if item == nil {
		p.pathCache[path] = ""
		return "", nil
	}
	p.pathCache[path] = item.ID
	return item.ID, nil
}

func (p *Persister) nodeFor(ctx context.Context, id string) (nodeInfo, error) {
	if node, ok := p.nodes[id]; ok {
		return node, nil
	}
	item, err := p.store.GetItem(ctx, id)
	if err != nil {
		return nodeInfo{}, err
	}
	p.noteNode(item)
	return p.nodes[id], nil
}

func (p *Persister) noteNode(item *database.MetadataItem) {
	node := nodeInfo{kind: item.Kind, parentID: item.ParentID}
	if item.ItemIndex != nil {
		idx := *item.ItemIndex
		node.itemIndex = &idx
	}
	p.nodes[item.ID] = node
}

func (p *Persister) cacheIdentity(itemID string, kind database.ItemKind, ids map[string]string) {
	for provider, value := range ids {
		p.idCache[cacheKey(kind, provider, value)] = itemID
	}
}

// persistMedia upserts the rendition backing an item, keyed by the first
// part's path. A changed part set rebuilds the rendition outright; a
// stable one updates parts in place. Returns the summed part duration.
func (p *Persister) persistMedia(ctx context.Context, item *database.MetadataItem, in *PersistInput) (int64, error) {
	first := in.Draft.Parts[0].Path
	existing, err := p.store.FindPartByPath(ctx, first)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		return p.createMedia(ctx, item, in)
	}

	media, err := p.store.GetMediaItem(ctx, existing.MediaItemID)
	if err != nil {
		return 0, err
	}
	if !samePartSet(media.Parts, in.Draft.Parts) {
		if err := p.store.DeleteMediaItem(ctx, media.ID); err != nil {
			return 0, err
		}
		return p.createMedia(ctx, item, in)
	}

	for i := range media.Parts {
		part := &media.Parts[i]
		pe := in.Draft.Parts[i]
		part.SizeBytes = pe.Size
		part.ModifiedAt = pe.ModTime
		if hash := in.Hashes[pe.Path]; hash != "" {
			part.Hash = hash
		}
		if mi := in.MediaInfo[pe.Path]; mi != nil {
			part.DurationMs = mi.DurationMs
			if err := p.store.ReplacePartStreams(ctx, part.ID, mi.Streams); err != nil {
				return 0, err
			}
			part.Streams = mi.Streams
		}
		if err := p.store.SavePart(ctx, part); err != nil {
			return 0, err
		}
	}

	media.MetadataItemID = item.ID
	media.IsDisc = in.Draft.Disc
	if mi := in.MediaInfo[first]; mi != nil {
		media.Container = mi.Container
		media.BitrateKbps = int(mi.BitrateBps / 1000)
	}
	applyMediaAggregates(media)
	if err := p.store.SaveMediaItem(ctx, media); err != nil {
		return 0, err
	}
	return media.DurationMs, nil
}

func (p *Persister) createMedia(ctx context.Context, item *database.MetadataItem, in *PersistInput) (int64, error) {
	media := &database.MediaItem{
		MetadataItemID:   item.ID,
		LibrarySectionID: p.sectionID,
		IsDisc:           in.Draft.Disc,
	}
	for i, pe := range in.Draft.Parts {
		part := database.MediaPart{
			PartIndex:  i,
			Directory:  filepath.Dir(pe.Path),
			File:       pe.Path,
			SizeBytes:  pe.Size,
			ModifiedAt: pe.ModTime,
			Hash:       in.Hashes[pe.Path],
		}
		if mi := in.MediaInfo[pe.Path]; mi != nil {
			part.DurationMs = mi.DurationMs
			part.Streams = mi.Streams
		}
		media.Parts = append(media.Parts, part)
	}
	if mi := in.MediaInfo[in.Draft.Parts[0].Path]; mi != nil {
		media.Container = mi.Container
		media.BitrateKbps = int(mi.BitrateBps / 1000)
	}
	applyMediaAggregates(media)
	if err := p.store.CreateMediaItem(ctx, media); err != nil {
		return 0, err
	}
	return media.DurationMs, nil
}

func samePartSet(dbParts []database.MediaPart, draftParts []fsprobe.Entry) bool {
	if len(dbParts) != len(draftParts) {
		return false
	}
	for i := range dbParts {
		if dbParts[i].File != draftParts[i].Path {
			return false
		}
	}
	return true
}

// applyMediaAggregates recomputes the rendition summary from its parts.
// Size and duration sum across parts; stream facts come from the first
// part, which stacked rips share anyway.
func applyMediaAggregates(media *database.MediaItem) {
	var size, duration int64
	for _, part := range media.Parts {
		size += part.SizeBytes
		duration += part.DurationMs
	}
	media.FileSizeBytes = size
	media.DurationMs = duration

	if len(media.Parts) == 0 {
		return
	}
	var video, audio *database.MediaStream
	for i := range media.Parts[0].Streams {
		st := &media.Parts[0].Streams[i]
		switch {
		case st.StreamType == database.StreamTypeVideo && video == nil:
			video = st
		case st.StreamType == database.StreamTypeAudio && (audio == nil || (st.IsDefault && !audio.IsDefault)):
			audio = st
		}
	}
	if video != nil {
		media.VideoCodec = video.Codec
		media.VideoProfile = video.Profile
		media.Width = video.Width
		media.Height = video.Height
		media.FrameRate = video.FrameRate
		media.BitDepth = video.BitDepth
		media.HDRFormat = video.HDRFormat
		if video.Height > 0 {
			media.AspectRatio = float64(video.Width) / float64(video.Height)
		}
	}
	if audio != nil {
		media.AudioCodec = audio.Codec
		media.AudioChannels = audio.Channels
	}
}

// persistContributors turns people and groups from local sources into
// linked items and tag edges. Contributors without provider ids key on
// their normalized name.
func (p *Persister) persistContributors(ctx context.Context, itemID string, res *parts.SidecarResult) error {
	if res == nil {
		return nil
	}
	for _, person := range res.People {
		personID, err := p.findOrCreateRef(ctx, database.KindPerson, person.Name, person.ExternalIDs, person.ThumbURI)
		if err != nil {
			return err
		}
		if personID == "" {
			continue
		}
		err = p.addRelationOnce(ctx, &database.MetadataRelation{
			FromItemID: personID,
			ToItemID:   itemID,
			Type:       database.RelationPersonContributes,
			Role:       person.Role,
			As:         person.As,
			SortOrder:  person.SortOrder,
		})
		if err != nil {
			return err
		}
	}
	for _, group := range res.Groups {
		groupID, err := p.findOrCreateRef(ctx, database.KindGroup, group.Name, group.ExternalIDs, "")
		if err != nil {
			return err
		}
		if groupID == "" {
			continue
		}
		err = p.addRelationOnce(ctx, &database.MetadataRelation{
			FromItemID: groupID,
			ToItemID:   itemID,
			Type:       database.RelationGroupContributes,
			Role:       group.Role,
		})
		if err != nil {
			return err
		}
	}
	if len(res.Genres) > 0 {
		if err := p.store.AddTagEdges(ctx, itemID, database.TagTypeGenre, res.Genres); err != nil {
			return err
		}
	}
	if len(res.Tags) > 0 {
		if err := p.store.AddTagEdges(ctx, itemID, database.TagTypeTag, res.Tags); err != nil {
			return err
		}
	}
	return nil
}

func (p *Persister) findOrCreateRef(ctx context.Context, kind database.ItemKind, name string, ids map[string]string, thumbURI string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil
	}
	if len(ids) == 0 {
		ids = map[string]string{database.ExternalProviderName: strings.ToLower(name)}
	}
	for _, provider := range sortedProviders(ids) {
		key := cacheKey(kind, provider, ids[provider])
		if id, ok := p.idCache[key]; ok {
			return id, nil
		}
		item, err := p.store.FindItemByExternalID(ctx, kind, provider, ids[provider], p.sectionID)
		if err != nil {
			return "", err
		}
		if item != nil {
			p.cacheIdentity(item.ID, kind, ids)
			return item.ID, nil
		}
	}

	item := &database.MetadataItem{
		LibrarySectionID: p.sectionID,
		Kind:             kind,
		Title:            name,
		SortTitle:        name,
		ThumbURI:         thumbURI,
	}
	if err := p.store.CreateItem(ctx, item); err != nil {
		return "", err
	}
	if err := p.store.AddExternalIDs(ctx, item.ID, ids); err != nil {
		return "", err
	}
	p.cacheIdentity(item.ID, kind, ids)
	return item.ID, nil
}

// addRelationOnce inserts a relation unless an identical edge exists. The
// first edge from an item loads that item's existing edges into the cache.
func (p *Persister) addRelationOnce(ctx context.Context, rel *database.MetadataRelation) error {
	if !p.relLoaded[rel.FromItemID] {
		existing, err := p.store.ListRelationsFrom(ctx, rel.FromItemID, "")
		if err != nil {
			return err
		}
		for i := range existing {
			p.relCache[relationKey(&existing[i])] = true
		}
		p.relLoaded[rel.FromItemID] = true
	}
	key := relationKey(rel)
	if p.relCache[key] {
		return nil
	}
	if err := p.store.AddRelation(ctx, rel); err != nil {
		return err
	}
	p.relCache[key] = true
	return nil
}

func relationKey(rel *database.MetadataRelation) string {
	return rel.FromItemID + "|" + rel.ToItemID + "|" + string(rel.Type) + "|" + rel.Role + "|" + rel.As
}

func mergedHints(draft *parts.ItemDraft, local *parts.SidecarResult) map[string]string {
	merged := make(map[string]string, len(draft.Hints))
	for k, v := range draft.Hints {
		merged[k] = v
	}
	if local != nil {
		for k, v := range local.Hints {
			merged[k] = v
		}
	}
	return merged
}

func hintInt(hints map[string]string, key string) (int, bool) {
	v, ok := hints[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

func cacheKey(kind database.ItemKind, provider, value string) string {
	return string(kind) + ":" + provider + ":" + value
}

func sortedProviders(ids map[string]string) []string {
	providers := make([]string, 0, len(ids))
	for provider := range ids {
		providers = append(providers, provider)
	}
	sort.Strings(providers)
	return providers
}
