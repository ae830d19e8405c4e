package playlistmodule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/medley-tv/medley/internal/config"
	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/events"
	"github.com/medley-tv/medley/internal/logger"
	"github.com/medley-tv/medley/internal/services"
	"github.com/medley-tv/medley/internal/types"
)

// maxSeedDepth bounds container recursion; the deepest real chain is
// release group → release → medium → track.
const maxSeedDepth = 4

// Manager owns playlist generators: deterministic orderings derived
// from a seed, persisted chunk by chunk, with a server-side cursor
// deciding what plays next. It implements services.PlaylistService.
type Manager struct {
	store    *database.Store
	cfg      *config.Config
	eventBus events.EventBus

	// Serializes materialization so concurrent chunk requests cannot
	// race the (generator, sort_order) unique index.
	mu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(store *database.Store, cfg *config.Config, eventBus events.EventBus) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:    store,
		cfg:      cfg,
		eventBus: eventBus,
		ctx:      ctx,
		cancel:   cancel,
	}
	m.wg.Add(1)
	go m.runReaper()
	return m
}

var _ services.PlaylistService = (*Manager)(nil)

// Shutdown stops the generator reaper.
func (m *Manager) Shutdown() {
	m.cancel()
	m.wg.Wait()
}

// playOrder is one position of a derived ordering before it is
// persisted.
type playOrder struct {
	itemID string
	title  string
	cohort string
}

// Create builds a generator from a seed, freezes its total count,
// materializes the first chunk and returns it. When a session is bound
// the first entry counts as now playing.
func (m *Manager) Create(ctx context.Context, seed types.PlaylistSeed, opts services.CreateGeneratorOptions) (*types.PlaylistChunk, error) {
	if err := validateSeed(&seed); err != nil {
		return nil, err
	}
	order, err := m.resolveSeed(ctx, &seed)
	if err != nil {
		return nil, err
	}
	seedJSON, err := json.Marshal(seed)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	gen := &database.PlaylistGenerator{
		SeedJSON:     string(seedJSON),
		Repeat:       opts.Repeat,
		Shuffle:      opts.Shuffle,
		ChunkSize:    opts.ChunkSize,
		TotalCount:   len(order),
		ExpiresAt:    now.Add(m.ttl()),
		LastAccessAt: now,
	}
	if opts.SessionID != "" {
		gen.SessionID = &opts.SessionID
	}
	if gen.ChunkSize <= 0 {
		gen.ChunkSize = m.defaultChunkSize()
	}
	if gen.Shuffle {
		gen.ShuffleState = strconv.FormatInt(now.UnixNano(), 10)
		order = applyShuffle(order, gen.ShuffleState)
	}

	if err := m.store.CreateGenerator(ctx, gen); err != nil {
		return nil, err
	}
	if err := m.appendRows(ctx, gen, order, 0, gen.ChunkSize); err != nil {
		return nil, err
	}
	if gen.SessionID != nil && gen.TotalCount > 0 {
		if err := m.store.MarkGeneratorItemServed(ctx, gen.ID, 0); err != nil {
			return nil, err
		}
	}

	m.publishCreated(gen)
	logger.Info("▶️ generator %s: %d entries (shuffle=%t repeat=%t)",
		gen.ID, gen.TotalCount, gen.Shuffle, gen.Repeat)
	return m.chunkFor(ctx, gen, 0, gen.ChunkSize)
}

// Chunk materializes the ordering through the requested window and
// returns it. Reading a chunk counts as activity and extends expiry.
func (m *Manager) Chunk(ctx context.Context, generatorID string, startIndex, limit int) (*types.PlaylistChunk, error) {
	if startIndex < 0 {
		return nil, types.NewAppError(types.ErrorCodeValidation,
			"startIndex must not be negative", http.StatusBadRequest)
	}
	gen, err := m.loadGenerator(ctx, generatorID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = gen.ChunkSize
	}
	if err := m.ensureMaterialized(ctx, gen, startIndex+limit); err != nil {
		return nil, err
	}
	m.touch(ctx, gen)
	return m.chunkFor(ctx, gen, startIndex, limit)
}

// JumpTo moves the cursor to an absolute index and marks that entry
// served. Repeat generators wrap the index; others reject out-of-range.
func (m *Manager) JumpTo(ctx context.Context, generatorID string, index int) error {
	gen, err := m.loadGenerator(ctx, generatorID)
	if err != nil {
		return err
	}
	if gen.TotalCount == 0 {
		return types.NewAppError(types.ErrorCodeGeneratorExhausted,
			"generator has no entries", http.StatusConflict)
	}
	if gen.Repeat {
		index = ((index % gen.TotalCount) + gen.TotalCount) % gen.TotalCount
	} else if index < 0 || index >= gen.TotalCount {
		return types.NewAppError(types.ErrorCodeValidation,
			fmt.Sprintf("index %d outside 0..%d", index, gen.TotalCount-1), http.StatusBadRequest)
	}
	if err := m.ensureMaterialized(ctx, gen, index+1); err != nil {
		return err
	}

	now := time.Now()
	gen.Cursor = index
	gen.ExpiresAt = now.Add(m.ttl())
	gen.LastAccessAt = now
	if err := m.store.SaveGenerator(ctx, gen); err != nil {
		return err
	}
	return m.store.MarkGeneratorItemServed(ctx, gen.ID, index)
}

// Next advances the cursor past the entry playing now and returns what
// follows. A nil entry with nil error means the generator is exhausted;
// repeat generators wrap instead and never exhaust.
func (m *Manager) Next(ctx context.Context, generatorID string) (*types.PlaylistEntry, error) {
	gen, err := m.loadGenerator(ctx, generatorID)
	if err != nil {
		return nil, err
	}
	if gen.TotalCount == 0 {
		return nil, nil
	}

	next := gen.Cursor + 1
	if next >= gen.TotalCount {
		if !gen.Repeat {
			logger.Info("⏹️ generator %s exhausted after %d entries", gen.ID, gen.TotalCount)
			return nil, nil
		}
		next %= gen.TotalCount
	}
	if err := m.ensureMaterialized(ctx, gen, next+1); err != nil {
		return nil, err
	}
	rows, err := m.store.ListGeneratorItems(ctx, gen.ID, next, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		// The library shrank under the frozen count; nothing left to play.
		return nil, nil
	}

	now := time.Now()
	gen.Cursor = next
	gen.ExpiresAt = now.Add(m.ttl())
	gen.LastAccessAt = now
	if err := m.store.SaveGenerator(ctx, gen); err != nil {
		return nil, err
	}
	if err := m.store.MarkGeneratorItemServed(ctx, gen.ID, next); err != nil {
		return nil, err
	}

	title := ""
	if item, err := m.store.GetItem(ctx, rows[0].MetadataItemID); err == nil {
		title = item.Title
	}
	entry := entryFor(&rows[0], title)
	entry.Served = true
	logger.Debug("🔁 generator %s advanced to entry %d", gen.ID, next)
	return &entry, nil
}

// Touch extends a generator's expiry; the playback engine calls this on
// every session heartbeat. A vanished generator is a silent no-op so a
// heartbeat never fails over queue cleanup.
func (m *Manager) Touch(ctx context.Context, generatorID string) error {
	return m.store.TouchGenerator(ctx, generatorID, time.Now().Add(m.ttl()))
}

// DeleteGenerator drops a generator and its materialized entries.
func (m *Manager) DeleteGenerator(ctx context.Context, generatorID string) error {
	return m.store.DeleteGenerator(ctx, generatorID)
}

// =============================================================================
// SEED RESOLUTION
// =============================================================================

func validateSeed(seed *types.PlaylistSeed) error {
	switch seed.Kind {
	case types.PlaylistSeedSection:
		if seed.SectionID == "" {
			return types.NewAppError(types.ErrorCodeValidation,
				"section seed requires sectionId", http.StatusBadRequest)
		}
	case types.PlaylistSeedExplicit:
		if len(seed.ItemIDs) == 0 {
			return types.NewAppError(types.ErrorCodeValidation,
				"explicit seed requires itemIds", http.StatusBadRequest)
		}
	case types.PlaylistSeedItem:
		if seed.ItemID == "" {
			return types.NewAppError(types.ErrorCodeValidation,
				"item seed requires itemId", http.StatusBadRequest)
		}
	default:
		return types.NewAppError(types.ErrorCodeValidation,
			fmt.Sprintf("unknown seed kind %q", seed.Kind), http.StatusBadRequest)
	}
	switch seed.SortBy {
	case "", "title", "release_date", "added_at":
	default:
		return types.NewAppError(types.ErrorCodeValidation,
			fmt.Sprintf("unknown sortBy %q", seed.SortBy), http.StatusBadRequest)
	}
	return nil
}

// resolveSeed turns a seed into the unshuffled total ordering. The same
// seed against the same library always yields the same order.
func (m *Manager) resolveSeed(ctx context.Context, seed *types.PlaylistSeed) ([]playOrder, error) {
	switch seed.Kind {
	case types.PlaylistSeedSection:
		return m.sectionOrder(ctx, seed)
	case types.PlaylistSeedExplicit:
		return m.explicitOrder(ctx, seed)
	case types.PlaylistSeedItem:
		return m.itemOrder(ctx, seed)
	}
	return nil, types.NewAppError(types.ErrorCodeValidation,
		fmt.Sprintf("unknown seed kind %q", seed.Kind), http.StatusBadRequest)
}

// sectionOrder lists a section's playable items in the seed's sort
// order. ItemKinds narrows the listing; by default every directly
// playable kind is included.
func (m *Manager) sectionOrder(ctx context.Context, seed *types.PlaylistSeed) ([]playOrder, error) {
	kinds := make([]database.ItemKind, 0, len(seed.ItemKinds))
	for _, k := range seed.ItemKinds {
		kinds = append(kinds, database.ItemKind(k))
	}
	if len(kinds) == 0 {
		kinds = []database.ItemKind{database.KindMovie, database.KindEpisode, database.KindTrack}
	}
	items, err := m.store.ListItemsBySection(ctx, seed.SectionID, kinds)
	if err != nil {
		return nil, err
	}
	sortItems(items, seed.SortBy)

	cohorts, err := m.albumCohorts(ctx, items)
	if err != nil {
		return nil, err
	}
	order := make([]playOrder, 0, len(items))
	for i := range items {
		order = append(order, playOrder{
			itemID: items[i].ID,
			title:  items[i].Title,
			cohort: cohorts[items[i].ID],
		})
	}
	return order, nil
}

// explicitOrder follows a hand-built id list. Containers in the list
// expand to their playable descendants; each container's run stays
// adjacent under shuffle. Unknown or deleted ids drop out silently.
func (m *Manager) explicitOrder(ctx context.Context, seed *types.PlaylistSeed) ([]playOrder, error) {
	items, err := m.store.GetItems(ctx, seed.ItemIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*database.MetadataItem, len(items))
	for i := range items {
		byID[items[i].ID] = &items[i]
	}

	var order []playOrder
	for _, id := range seed.ItemIDs {
		item, ok := byID[id]
		if !ok {
			continue
		}
		if err := m.expand(ctx, item, "", 1, &order); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// itemOrder plays one item: directly when playable, otherwise its
// playable descendants in child order.
func (m *Manager) itemOrder(ctx context.Context, seed *types.PlaylistSeed) ([]playOrder, error) {
	item, err := m.store.GetItem(ctx, seed.ItemID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewAppError(types.ErrorCodeNotFound,
			fmt.Sprintf("item %s not found", seed.ItemID), http.StatusNotFound)
	}
	if err != nil {
		return nil, err
	}
	var order []playOrder
	if err := m.expand(ctx, item, "", 0, &order); err != nil {
		return nil, err
	}
	return order, nil
}

// expand walks a container down to its playable descendants in child
// order. The outermost album container below the expansion root becomes
// the cohort for everything under it; expanding an album itself leaves
// its tracks free to shuffle.
func (m *Manager) expand(ctx context.Context, item *database.MetadataItem, cohort string, depth int, out *[]playOrder) error {
	if playableKind(item.Kind) {
		*out = append(*out, playOrder{itemID: item.ID, title: item.Title, cohort: cohort})
		return nil
	}
	if depth >= maxSeedDepth {
		return nil
	}
	children, err := m.store.ListChildren(ctx, item.ID)
	if err != nil {
		return err
	}
	if cohort == "" && depth > 0 && albumKind(item.Kind) {
		cohort = item.ID
	}
	for i := range children {
		if err := m.expand(ctx, &children[i], cohort, depth+1, out); err != nil {
			return err
		}
	}
	return nil
}

// albumCohorts maps flat-listed items to their parent id when the
// parent is an album container, so shuffle keeps album runs intact.
func (m *Manager) albumCohorts(ctx context.Context, items []database.MetadataItem) (map[string]string, error) {
	var parentIDs []string
	seen := make(map[string]bool)
	for i := range items {
		if p := items[i].ParentID; p != nil && !seen[*p] {
			seen[*p] = true
			parentIDs = append(parentIDs, *p)
		}
	}
	cohorts := make(map[string]string, len(items))
	if len(parentIDs) == 0 {
		return cohorts, nil
	}
	parents, err := m.store.GetItems(ctx, parentIDs)
	if err != nil {
		return nil, err
	}
	albums := make(map[string]bool, len(parents))
	for i := range parents {
		if albumKind(parents[i].Kind) {
			albums[parents[i].ID] = true
		}
	}
	for i := range items {
		if p := items[i].ParentID; p != nil && albums[*p] {
			cohorts[items[i].ID] = *p
		}
	}
	return cohorts, nil
}

func playableKind(k database.ItemKind) bool {
	switch k {
	case database.KindMovie, database.KindEpisode, database.KindTrack:
		return true
	}
	return k.IsExtra()
}

func albumKind(k database.ItemKind) bool {
	switch k {
	case database.KindAlbumReleaseGroup, database.KindAlbumRelease, database.KindAlbumMedium:
		return true
	}
	return false
}

// sortItems orders a flat listing deterministically; ids break ties so
// equal keys cannot reorder between derivations.
func sortItems(items []database.MetadataItem, sortBy string) {
	sort.Slice(items, func(i, j int) bool {
		a, b := &items[i], &items[j]
		switch sortBy {
		case "release_date":
			switch {
			case a.ReleaseDate == nil && b.ReleaseDate == nil:
			case a.ReleaseDate == nil:
				return false
			case b.ReleaseDate == nil:
				return true
			case !a.ReleaseDate.Equal(*b.ReleaseDate):
				return a.ReleaseDate.Before(*b.ReleaseDate)
			}
		case "added_at":
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
		default: // title
			at, bt := titleKey(a), titleKey(b)
			if at != bt {
				return at < bt
			}
		}
		return a.ID < b.ID
	})
}

func titleKey(item *database.MetadataItem) string {
	if item.SortTitle != "" {
		return strings.ToLower(item.SortTitle)
	}
	return strings.ToLower(item.Title)
}

// =============================================================================
// SHUFFLE
// =============================================================================

// applyShuffle permutes the ordering with a permutation drawn from the
// persisted shuffle state, so reopening a generator replays the same
// order. Consecutive entries sharing a cohort move as one block and
// keep their internal order.
func applyShuffle(order []playOrder, state string) []playOrder {
	if len(order) < 2 {
		return order
	}
	seed, _ := strconv.ParseInt(state, 10, 64)
	groups := groupByCohort(order)
	rng := rand.New(rand.NewSource(seed))
	out := make([]playOrder, 0, len(order))
	for _, gi := range rng.Perm(len(groups)) {
		out = append(out, groups[gi]...)
	}
	return out
}

// groupByCohort splits the ordering into shuffle units: each run of a
// shared non-empty cohort is one unit, everything else is a singleton.
func groupByCohort(order []playOrder) [][]playOrder {
	var groups [][]playOrder
	for i := 0; i < len(order); {
		j := i + 1
		if order[i].cohort != "" {
			for j < len(order) && order[j].cohort == order[i].cohort {
				j++
			}
		}
		groups = append(groups, order[i:j])
		i = j
	}
	return groups
}

// =============================================================================
// MATERIALIZATION
// =============================================================================

// orderFor re-derives a generator's full ordering from its persisted
// seed and shuffle state.
func (m *Manager) orderFor(ctx context.Context, gen *database.PlaylistGenerator) ([]playOrder, error) {
	var seed types.PlaylistSeed
	if err := json.Unmarshal([]byte(gen.SeedJSON), &seed); err != nil {
		return nil, fmt.Errorf("generator %s seed: %w", gen.ID, err)
	}
	order, err := m.resolveSeed(ctx, &seed)
	if err != nil {
		return nil, err
	}
	if gen.Shuffle {
		order = applyShuffle(order, gen.ShuffleState)
	}
	return order, nil
}

// ensureMaterialized persists ordering rows up to but excluding
// `through`, re-deriving the ordering only when rows are missing.
// TotalCount stays frozen: a library that shrank since creation just
// yields fewer rows than promised.
func (m *Manager) ensureMaterialized(ctx context.Context, gen *database.PlaylistGenerator, through int) error {
	if through > gen.TotalCount {
		through = gen.TotalCount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	count, err := m.store.CountGeneratorItems(ctx, gen.ID)
	if err != nil {
		return err
	}
	if int(count) >= through {
		return nil
	}
	order, err := m.orderFor(ctx, gen)
	if err != nil {
		return err
	}
	return m.appendRows(ctx, gen, order, int(count), through)
}

// appendRows materializes ordering positions [from, through) as
// generator item rows, binding each to its default rendition and part.
func (m *Manager) appendRows(ctx context.Context, gen *database.PlaylistGenerator, order []playOrder, from, through int) error {
	if through > len(order) {
		through = len(order)
	}
	if through > gen.TotalCount {
		through = gen.TotalCount
	}
	if from >= through {
		return nil
	}
	rows := make([]database.PlaylistGeneratorItem, 0, through-from)
	for i := from; i < through; i++ {
		row := database.PlaylistGeneratorItem{
			GeneratorID:    gen.ID,
			SortOrder:      i,
			MetadataItemID: order[i].itemID,
			Cohort:         order[i].cohort,
		}
		m.bindMedia(ctx, &row)
		rows = append(rows, row)
	}
	return m.store.AppendGeneratorItems(ctx, rows)
}

// bindMedia resolves the first rendition and part for an entry. Items
// without media files stay unbound; the playback decision deals with
// that when the entry is reached.
func (m *Manager) bindMedia(ctx context.Context, row *database.PlaylistGeneratorItem) {
	media, err := m.store.GetMediaForItem(ctx, row.MetadataItemID)
	if err != nil || len(media) == 0 {
		return
	}
	row.MediaItemID = &media[0].ID
	if len(media[0].Parts) > 0 {
		row.MediaPartID = &media[0].Parts[0].ID
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func (m *Manager) loadGenerator(ctx context.Context, id string) (*database.PlaylistGenerator, error) {
	gen, err := m.store.GetGenerator(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewAppError(types.ErrorCodeGeneratorNotFound,
			fmt.Sprintf("generator %s not found", id), http.StatusNotFound)
	}
	return gen, err
}

func (m *Manager) chunkFor(ctx context.Context, gen *database.PlaylistGenerator, startIndex, limit int) (*types.PlaylistChunk, error) {
	rows, err := m.store.ListGeneratorItems(ctx, gen.ID, startIndex, limit)
	if err != nil {
		return nil, err
	}
	titles, err := m.titlesFor(ctx, rows)
	if err != nil {
		return nil, err
	}
	chunk := &types.PlaylistChunk{
		GeneratorID: gen.ID,
		StartIndex:  startIndex,
		TotalCount:  gen.TotalCount,
		Items:       make([]types.PlaylistEntry, 0, len(rows)),
	}
	for i := range rows {
		chunk.Items = append(chunk.Items, entryFor(&rows[i], titles[rows[i].MetadataItemID]))
	}
	return chunk, nil
}

func (m *Manager) titlesFor(ctx context.Context, rows []database.PlaylistGeneratorItem) (map[string]string, error) {
	ids := make([]string, 0, len(rows))
	for i := range rows {
		ids = append(ids, rows[i].MetadataItemID)
	}
	items, err := m.store.GetItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	titles := make(map[string]string, len(items))
	for i := range items {
		titles[items[i].ID] = items[i].Title
	}
	return titles, nil
}

func entryFor(row *database.PlaylistGeneratorItem, title string) types.PlaylistEntry {
	entry := types.PlaylistEntry{
		Index:          row.SortOrder,
		MetadataItemID: row.MetadataItemID,
		Title:          title,
		Served:         row.Served,
	}
	if row.MediaItemID != nil {
		entry.MediaItemID = *row.MediaItemID
	}
	if row.MediaPartID != nil {
		entry.MediaPartID = *row.MediaPartID
	}
	return entry
}

// touch pushes the expiry window out; reading a generator counts as
// activity the same way heartbeats do.
func (m *Manager) touch(ctx context.Context, gen *database.PlaylistGenerator) {
	if err := m.store.TouchGenerator(ctx, gen.ID, time.Now().Add(m.ttl())); err != nil {
		logger.Warn("generator %s: extending expiry: %v", gen.ID, err)
	}
}

func (m *Manager) ttl() time.Duration {
	days := m.cfg.Playback.ExpiryDays
	if days <= 0 {
		days = 3
	}
	return time.Duration(days) * 24 * time.Hour
}

func (m *Manager) defaultChunkSize() int {
	if m.cfg.Playback.PlaylistChunkSize > 0 {
		return m.cfg.Playback.PlaylistChunkSize
	}
	return 20
}

func (m *Manager) publishCreated(gen *database.PlaylistGenerator) {
	if m.eventBus == nil {
		return
	}
	m.eventBus.PublishAsync(events.NewPlaylistEvent(events.EventPlaylistCreated, gen.ID, gen.TotalCount))
}
