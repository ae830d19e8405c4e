package scanner

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/medley-tv/medley/internal/config"
	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/events"
	"github.com/medley-tv/medley/internal/fsprobe"
	"github.com/medley-tv/medley/internal/modules/metadatamodule"
	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
	"github.com/medley-tv/medley/internal/services"
	"github.com/medley-tv/medley/internal/types"
)

// ScanContext is the shared state of one pipeline run. Counters are
// atomic because every stage touches them; checkpoint and seen-path
// state belong to the traversal goroutine, with the reconcile stage and
// the manager taking over only after the channel chain has drained, so
// those writers never overlap.
type ScanContext struct {
	ctx context.Context

	Scan      *database.LibraryScan
	Section   *database.LibrarySection
	Locations []database.SectionLocation
	Store     *database.Store
	Registry  *parts.Registry
	Config    config.ScannerConfig
	Persister *metadatamodule.Persister
	Throttler *Throttler            // nil disables throttling
	Assets    services.AssetService // nil when the asset module is absent
	Bus       events.EventBus       // nil suppresses events

	// Resume state loaded from the scan row. The traversal fast-forwards
	// to the cursor and clears it once passed.
	ResumeStage  string
	ResumeCursor string

	version int64 // checkpoint version held by the current writer

	itemsSeen      atomic.Int64
	itemsProcessed atomic.Int64
	itemsUnchanged atomic.Int64
	errorCount     atomic.Int64

	// lastPersisted trails the persist frontier, not the walk position.
	// Checkpointing it guarantees everything past the cursor is
	// re-emitted on resume.
	lastPersisted atomic.Value // string
	currentPath   atomic.Value // string
	currentStage  atomic.Value // string

	seenBatch []string // traversal goroutine only

	partStatsMu sync.RWMutex
	partStats   map[string]database.PartStat

	failMu  sync.Mutex
	failErr error

	lastProgressNs atomic.Int64
}

// NewScanContext builds the run state for a scan, restoring counters and
// the resume cursor from its row.
func NewScanContext(ctx context.Context, store *database.Store, registry *parts.Registry, cfg config.ScannerConfig, scan *database.LibraryScan, section *database.LibrarySection) *ScanContext {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2 * runtime.NumCPU()
		if cfg.WorkerCount < 4 {
			cfg.WorkerCount = 4
		}
	}
	if cfg.ChannelBufferSize <= 0 {
		cfg.ChannelBufferSize = 64
	}
	if cfg.SeenPathBatchSize <= 0 {
		cfg.SeenPathBatchSize = 200
	}
	if cfg.CheckpointItems <= 0 {
		cfg.CheckpointItems = 500
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = 30 * time.Second
	}
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = 30 * time.Second
	}

	sc := &ScanContext{
		ctx:          ctx,
		Scan:         scan,
		Section:      section,
		Locations:    section.Locations,
		Store:        store,
		Registry:     registry,
		Config:       cfg,
		Persister:    metadatamodule.NewPersister(store, section.ID, section.Type),
		ResumeStage:  scan.CurrentStage,
		ResumeCursor: scan.ResumeCursor,
		version:      scan.CheckpointVersion,
	}
	sc.itemsSeen.Store(scan.ItemsSeen)
	sc.itemsProcessed.Store(scan.ItemsProcessed)
	sc.itemsUnchanged.Store(scan.ItemsUnchanged)
	sc.errorCount.Store(int64(scan.ErrorCount))
	sc.lastPersisted.Store(scan.ResumeCursor)
	sc.currentPath.Store("")
	if scan.CurrentStage != "" {
		sc.currentStage.Store(scan.CurrentStage)
	} else {
		sc.currentStage.Store(StageTraversal)
	}
	return sc
}

func (sc *ScanContext) Context() context.Context { return sc.ctx }

func (sc *ScanContext) Done() <-chan struct{} { return sc.ctx.Done() }

func (sc *ScanContext) Err() error { return sc.ctx.Err() }

// send delivers an item downstream, giving up when the run is cancelled.
func (sc *ScanContext) send(out chan<- *ScanWorkItem, item *ScanWorkItem) error {
	select {
	case out <- item:
		return nil
	case <-sc.ctx.Done():
		return sc.ctx.Err()
	}
}

func (sc *ScanContext) CountSeen()      { sc.itemsSeen.Add(1) }
func (sc *ScanContext) CountUnchanged() { sc.itemsUnchanged.Add(1) }
func (sc *ScanContext) CountProcessed() { sc.itemsProcessed.Add(1) }
func (sc *ScanContext) CountError()     { sc.errorCount.Add(1) }

// MarkPersisted records the newest path the persist stage made durable.
func (sc *ScanContext) MarkPersisted(path string) { sc.lastPersisted.Store(path) }

// LastPersisted is the path checkpoints store as the resume cursor.
func (sc *ScanContext) LastPersisted() string { return sc.lastPersisted.Load().(string) }

func (sc *ScanContext) SetCurrentPath(path string) { sc.currentPath.Store(path) }

func (sc *ScanContext) CurrentPath() string { return sc.currentPath.Load().(string) }

// RecordSeenPath buffers one observed path, flushing full batches. Seen
// paths are what reconciliation diffs against, so every emitted entry
// must pass through here, including ones skipped during fast-forward.
func (sc *ScanContext) RecordSeenPath(path string) error {
	sc.seenBatch = append(sc.seenBatch, path)
	if len(sc.seenBatch) >= sc.Config.SeenPathBatchSize {
		return sc.FlushSeenPaths()
	}
	return nil
}

// FlushSeenPaths writes the pending batch. Checkpoints call this first
// so a restored cursor never gets ahead of the recorded seen set.
func (sc *ScanContext) FlushSeenPaths() error {
	if len(sc.seenBatch) == 0 {
		return nil
	}
	if err := sc.Store.RecordSeenPaths(sc.ctx, sc.Scan.ID, sc.seenBatch); err != nil {
		return err
	}
	sc.seenBatch = sc.seenBatch[:0]
	return nil
}

// SaveCheckpoint persists stage, cursor and counters under the version
// this run holds. A conflict means another writer advanced the scan and
// this run must abandon; the error propagates as scan-fatal.
func (sc *ScanContext) SaveCheckpoint(stage, cursor string) error {
	if err := sc.FlushSeenPaths(); err != nil {
		return err
	}
	cp := database.ScanCheckpoint{
		Stage:          stage,
		Cursor:         cursor,
		ItemsSeen:      sc.itemsSeen.Load(),
		ItemsProcessed: sc.itemsProcessed.Load(),
		ItemsUnchanged: sc.itemsUnchanged.Load(),
		ErrorCount:     int(sc.errorCount.Load()),
	}
	next, err := sc.Store.SaveScanCheckpoint(sc.ctx, sc.Scan.ID, sc.version, cp)
	if err != nil {
		return err
	}
	sc.version = next
	sc.currentStage.Store(stage)
	return nil
}

// setPartStats hands the change detector's stat load to later stages so
// per-part work can be skipped without a second query.
func (sc *ScanContext) setPartStats(stats map[string]database.PartStat) {
	sc.partStatsMu.Lock()
	sc.partStats = stats
	sc.partStatsMu.Unlock()
}

func (sc *ScanContext) partStatUnchanged(entry fsprobe.Entry) bool {
	sc.partStatsMu.RLock()
	stats := sc.partStats
	sc.partStatsMu.RUnlock()
	if stats == nil {
		return false
	}
	return unchangedStat(stats, entry)
}

func (sc *ScanContext) fail(err error) {
	sc.failMu.Lock()
	if sc.failErr == nil {
		sc.failErr = err
	}
	sc.failMu.Unlock()
}

func (sc *ScanContext) failure() error {
	sc.failMu.Lock()
	defer sc.failMu.Unlock()
	return sc.failErr
}

// Snapshot is the live view handed to API consumers. Progress is best
// effort: processed over seen, which only converges once the walk is
// ahead of persistence.
func (sc *ScanContext) Snapshot() *types.ScanStatusSnapshot {
	seen := sc.itemsSeen.Load()
	processed := sc.itemsProcessed.Load()
	var progress float64
	if seen > 0 {
		progress = float64(processed) / float64(seen)
		if progress > 1 {
			progress = 1
		}
	}
	return &types.ScanStatusSnapshot{
		ScanID:           sc.Scan.ID,
		LibrarySectionID: sc.Section.ID,
		Status:           string(sc.Scan.Status),
		Stage:            sc.currentStage.Load().(string),
		Progress:         progress,
		ItemsSeen:        seen,
		ItemsProcessed:   processed,
		ItemsUnchanged:   sc.itemsUnchanged.Load(),
		ErrorCount:       int(sc.errorCount.Load()),
		CurrentPath:      sc.CurrentPath(),
		StartedAt:        sc.Scan.StartedAt,
		CheckpointAt:     sc.Scan.CheckpointAt,
	}
}

// publishProgress emits a progress event, at most one per second.
func (sc *ScanContext) publishProgress() {
	if sc.Bus == nil {
		return
	}
	now := time.Now().UnixNano()
	last := sc.lastProgressNs.Load()
	if now-last < int64(time.Second) || !sc.lastProgressNs.CompareAndSwap(last, now) {
		return
	}
	snap := sc.Snapshot()
	sc.Bus.PublishAsync(events.NewScanProgressEvent(events.ScanProgressData{
		ScanID:         snap.ScanID,
		LibraryID:      snap.LibrarySectionID,
		Stage:          snap.Stage,
		Progress:       snap.Progress * 100,
		ItemsSeen:      snap.ItemsSeen,
		ItemsProcessed: snap.ItemsProcessed,
		ErrorCount:     snap.ErrorCount,
		CurrentPath:    snap.CurrentPath,
	}))
}
