package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/medley-tv/medley/internal/config"
	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/events"
	"github.com/medley-tv/medley/internal/logger"
	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
	"github.com/medley-tv/medley/internal/services"
	"github.com/medley-tv/medley/internal/types"
)

var (
	// ErrScanActive is returned when a section already has a live scan.
	ErrScanActive = errors.New("a scan is already active for this section")
	// ErrScanNotActive is returned for pause requests against scans that
	// are not currently running in this process.
	ErrScanNotActive = errors.New("scan is not active")
)

// Manager owns every live scan. One pipeline runs per section at a time;
// a second start against the same section is rejected, not queued. The
// manager also carries the shared throttler so concurrent scans brake
// together.
type Manager struct {
	store     *database.Store
	registry  *parts.Registry
	cfg       *config.Config
	eventBus  events.EventBus
	throttler *Throttler
	assets    services.AssetService

	mu        sync.Mutex
	active    map[string]*activeScan // scanID -> live run
	bySection map[string]string      // sectionID -> scanID

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// activeScan is one running pipeline plus the controls the manager uses
// to stop it. pauseRequested distinguishes an operator pause from a
// cancel when the run goroutine sees its context die.
type activeScan struct {
	sc              *ScanContext
	cancel          context.CancelFunc
	pauseRequested  bool
	cancelRequested bool
	mu              sync.Mutex
}

func (a *activeScan) requestPause() {
	a.mu.Lock()
	a.pauseRequested = true
	a.mu.Unlock()
	a.cancel()
}

func (a *activeScan) requestCancel() {
	a.mu.Lock()
	a.cancelRequested = true
	a.mu.Unlock()
	a.cancel()
}

func (a *activeScan) intent() (paused, cancelled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pauseRequested, a.cancelRequested
}

// NewManager builds the scan orchestrator. The throttler starts sampling
// immediately and stops when Shutdown is called.
func NewManager(store *database.Store, registry *parts.Registry, cfg *config.Config, eventBus events.EventBus) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:     store,
		registry:  registry,
		cfg:       cfg,
		eventBus:  eventBus,
		throttler: NewThrottler(cfg.Performance),
		active:    make(map[string]*activeScan),
		bySection: make(map[string]string),
		ctx:       ctx,
		cancel:    cancel,
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.throttler.Run(ctx)
	}()
	return m
}

// SetAssetService hands the manager the asset service once the asset
// module is up. Scans started before injection run without artwork
// ingestion.
func (m *Manager) SetAssetService(svc services.AssetService) {
	m.mu.Lock()
	m.assets = svc
	m.mu.Unlock()
}

// StartScan creates a scan row for the section and launches its
// pipeline. Fails when the section already has a queued, running, or
// paused scan; the caller resumes or cancels that one first.
func (m *Manager) StartScan(ctx context.Context, sectionID string) (*types.ScanStatusSnapshot, error) {
	section, err := m.store.GetSection(ctx, sectionID)
	if err != nil {
		return nil, fmt.Errorf("load section: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.bySection[sectionID]; busy {
		return nil, ErrScanActive
	}
	existing, err := m.store.FindActiveScan(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w (scan %s, status %s)", ErrScanActive, existing.ID, existing.Status)
	}

	scan := &database.LibraryScan{
		LibrarySectionID: sectionID,
		Status:           database.ScanStatusQueued,
	}
	if err := m.store.CreateScan(ctx, scan); err != nil {
		return nil, fmt.Errorf("create scan: %w", err)
	}

	if m.eventBus != nil {
		m.eventBus.PublishAsync(events.NewScanStartedEvent(scan.ID, sectionID))
	}
	return m.launchLocked(scan, section, false), nil
}

// ResumeScan picks a paused or interrupted scan back up from its
// checkpoint cursor. Running rows are resumable too; they are what a
// crash leaves behind.
func (m *Manager) ResumeScan(ctx context.Context, scanID string) (*types.ScanStatusSnapshot, error) {
	scan, err := m.store.GetScan(ctx, scanID)
	if err != nil {
		return nil, fmt.Errorf("load scan: %w", err)
	}
	switch scan.Status {
	case database.ScanStatusPaused, database.ScanStatusQueued, database.ScanStatusRunning:
	default:
		return nil, fmt.Errorf("cannot resume scan in status %s", scan.Status)
	}
	section, err := m.store.GetSection(ctx, scan.LibrarySectionID)
	if err != nil {
		return nil, fmt.Errorf("load section: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, live := m.active[scanID]; live {
		return nil, fmt.Errorf("scan %s is already running", scanID)
	}
	if otherID, busy := m.bySection[scan.LibrarySectionID]; busy {
		return nil, fmt.Errorf("%w (scan %s)", ErrScanActive, otherID)
	}

	if m.eventBus != nil {
		ev := events.NewScanStartedEvent(scan.ID, scan.LibrarySectionID)
		ev.Type = events.EventScanResumed
		ev.Title = "Scan Resumed"
		ev.Message = fmt.Sprintf("Resumed scan %s at stage %s", scan.ID, scan.CurrentStage)
		m.eventBus.PublishAsync(ev)
	}
	return m.launchLocked(scan, section, true), nil
}

// launchLocked registers the run and starts its goroutine. Callers hold
// m.mu.
func (m *Manager) launchLocked(scan *database.LibraryScan, section *database.LibrarySection, resumed bool) *types.ScanStatusSnapshot {
	runCtx, runCancel := context.WithCancel(m.ctx)
	sc := NewScanContext(runCtx, m.store, m.registry, m.cfg.Scanner, scan, section)
	sc.Throttler = m.throttler
	sc.Bus = m.eventBus
	sc.Assets = m.assets

	run := &activeScan{sc: sc, cancel: runCancel}
	m.active[scan.ID] = run
	m.bySection[section.ID] = scan.ID

	m.wg.Add(1)
	go m.runScan(run, scan, section, resumed)
	return sc.Snapshot()
}

// runScan drives one pipeline to an end state and writes that state
// back. Terminal writes use a fresh context; the run context is usually
// already dead by the time we get here.
func (m *Manager) runScan(run *activeScan, scan *database.LibraryScan, section *database.LibrarySection, resumed bool) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		delete(m.active, scan.ID)
		if m.bySection[section.ID] == scan.ID {
			delete(m.bySection, section.ID)
		}
		m.mu.Unlock()
	}()

	sc := run.sc
	now := time.Now()
	scan.Status = database.ScanStatusRunning
	if scan.StartedAt == nil {
		scan.StartedAt = &now
	}
	scan.StatusMessage = ""
	scan.ErrorMessage = ""
	if err := m.store.SaveScan(sc.Context(), scan); err != nil {
		logger.Error("scan %s: cannot mark running: %v", scan.ID, err)
		return
	}

	if resumed && scan.ResumeCursor != "" {
		logger.Info("🔄 scan %s resuming section %s from %s (%s)",
			scan.ID, section.ID, scan.ResumeCursor, scan.CurrentStage)
	} else {
		logger.Info("🔍 scan %s starting for section %s (%d locations)",
			scan.ID, section.ID, len(section.Locations))
	}

	err := runPipeline(sc, buildStages())
	if failure := sc.failure(); err == nil && failure != nil {
		err = failure
	}

	paused, cancelled := run.intent()
	m.finishScan(sc, scan, section, err, paused, cancelled)
}

// finishScan settles the scan row into its terminal (or paused) state.
func (m *Manager) finishScan(sc *ScanContext, scan *database.LibraryScan, section *database.LibrarySection, runErr error, paused, cancelled bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// counters live in the context once the pipeline ran
	snap := sc.Snapshot()
	scan.ItemsSeen = snap.ItemsSeen
	scan.ItemsProcessed = snap.ItemsProcessed
	scan.ItemsUnchanged = snap.ItemsUnchanged
	scan.ErrorCount = snap.ErrorCount

	now := time.Now()
	switch {
	case runErr == nil:
		scan.Status = database.ScanStatusCompleted
		scan.CompletedAt = &now
		scan.CurrentStage = ""
		scan.ResumeCursor = ""
		if err := m.store.DeleteSeenPaths(ctx, scan.ID); err != nil {
			logger.Warn("scan %s: dropping seen paths: %v", scan.ID, err)
		}
		if err := m.store.TouchSectionScanned(ctx, section.ID, now); err != nil {
			logger.Warn("scan %s: stamping section: %v", scan.ID, err)
		}
		if m.eventBus != nil {
			var dur time.Duration
			if scan.StartedAt != nil {
				dur = now.Sub(*scan.StartedAt)
			}
			m.eventBus.PublishAsync(events.NewScanCompletedEvent(scan.ID, section.ID, scan.ItemsProcessed, dur))
		}
		logger.Info("✅ scan %s completed: %d seen, %d processed, %d unchanged, %d errors",
			scan.ID, scan.ItemsSeen, scan.ItemsProcessed, scan.ItemsUnchanged, scan.ErrorCount)

	case cancelled:
		scan.Status = database.ScanStatusCancelled
		scan.CompletedAt = &now
		if err := m.store.DeleteSeenPaths(ctx, scan.ID); err != nil {
			logger.Warn("scan %s: dropping seen paths: %v", scan.ID, err)
		}
		logger.Info("🛑 scan %s cancelled after %d items", scan.ID, scan.ItemsProcessed)

	case paused || errors.Is(runErr, context.Canceled):
		// Operator pause, or the manager shutting down. Either way the
		// checkpoint already on disk is the resume point.
		scan.Status = database.ScanStatusPaused
		scan.PausedAt = &now
		if !paused {
			scan.StatusMessage = "interrupted by shutdown"
		}
		if m.eventBus != nil {
			ev := events.NewScanStartedEvent(scan.ID, section.ID)
			ev.Type = events.EventScanPaused
			ev.Title = "Scan Paused"
			ev.Message = fmt.Sprintf("Scan %s paused at %s", scan.ID, sc.CurrentPath())
			m.eventBus.PublishAsync(ev)
		}
		logger.Info("⏸️ scan %s paused at %q (%d processed)", scan.ID, sc.LastPersisted(), scan.ItemsProcessed)

	default:
		scan.Status = database.ScanStatusFailed
		scan.CompletedAt = &now
		scan.ErrorMessage = runErr.Error()
		if m.eventBus != nil {
			m.eventBus.PublishAsync(events.NewScanFailedEvent(scan.ID, section.ID, runErr))
		}
		logger.Error("❌ scan %s failed: %v", scan.ID, runErr)
	}

	if err := m.store.SaveScan(ctx, scan); err != nil {
		logger.Error("scan %s: cannot store terminal state %s: %v", scan.ID, scan.Status, err)
	}
}

// PauseScan checkpoints and halts a running scan. The call returns once
// the halt is requested; the row flips to paused when the pipeline has
// actually drained.
func (m *Manager) PauseScan(ctx context.Context, scanID string) error {
	m.mu.Lock()
	run, live := m.active[scanID]
	m.mu.Unlock()
	if !live {
		return ErrScanNotActive
	}
	run.requestPause()
	return nil
}

// CancelScan aborts a scan. A live run is stopped; a dormant paused or
// queued row just flips to cancelled. Either way the seen-path set is
// discarded.
func (m *Manager) CancelScan(ctx context.Context, scanID string) error {
	m.mu.Lock()
	run, live := m.active[scanID]
	m.mu.Unlock()
	if live {
		run.requestCancel()
		return nil
	}

	scan, err := m.store.GetScan(ctx, scanID)
	if err != nil {
		return fmt.Errorf("load scan: %w", err)
	}
	switch scan.Status {
	case database.ScanStatusCompleted, database.ScanStatusCancelled, database.ScanStatusFailed:
		return fmt.Errorf("scan %s already finished (%s)", scanID, scan.Status)
	}
	now := time.Now()
	scan.Status = database.ScanStatusCancelled
	scan.CompletedAt = &now
	if err := m.store.SaveScan(ctx, scan); err != nil {
		return err
	}
	return m.store.DeleteSeenPaths(ctx, scanID)
}

// GetScanStatus returns the live snapshot for an active scan, or one
// rebuilt from the stored row for a dormant scan.
func (m *Manager) GetScanStatus(ctx context.Context, scanID string) (*types.ScanStatusSnapshot, error) {
	m.mu.Lock()
	run, live := m.active[scanID]
	m.mu.Unlock()
	if live {
		return run.sc.Snapshot(), nil
	}
	scan, err := m.store.GetScan(ctx, scanID)
	if err != nil {
		return nil, err
	}
	return snapshotFromRow(scan), nil
}

// ListScans returns a section's scan history, newest first, with live
// runs reported from their in-memory counters.
func (m *Manager) ListScans(ctx context.Context, sectionID string) ([]types.ScanStatusSnapshot, error) {
	scans, err := m.store.ListScansBySection(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.ScanStatusSnapshot, 0, len(scans))
	for i := range scans {
		if run, live := m.active[scans[i].ID]; live {
			out = append(out, *run.sc.Snapshot())
			continue
		}
		out = append(out, *snapshotFromRow(&scans[i]))
	}
	return out, nil
}

// ResumeInterrupted relaunches every scan a previous process left in
// running or paused state. Called once after startup.
func (m *Manager) ResumeInterrupted(ctx context.Context) error {
	scans, err := m.store.ListResumableScans(ctx)
	if err != nil {
		return fmt.Errorf("list resumable scans: %w", err)
	}
	for i := range scans {
		scan := &scans[i]
		if _, err := m.ResumeScan(ctx, scan.ID); err != nil {
			if errors.Is(err, ErrScanActive) {
				continue // newer scan for the same section won the slot
			}
			logger.Warn("scan %s: auto-resume failed: %v", scan.ID, err)
			continue
		}
		logger.Info("🔄 auto-resumed interrupted scan %s (section %s)", scan.ID, scan.LibrarySectionID)
	}
	return nil
}

// Shutdown stops every live scan and waits for their checkpoints to
// land. Interrupted scans restart from their cursors on the next boot.
func (m *Manager) Shutdown() {
	m.cancel()
	m.wg.Wait()
}

// Throttler exposes the shared throttler for status endpoints.
func (m *Manager) Throttler() *Throttler { return m.throttler }

func snapshotFromRow(scan *database.LibraryScan) *types.ScanStatusSnapshot {
	var progress float64
	if scan.ItemsSeen > 0 {
		progress = float64(scan.ItemsProcessed) / float64(scan.ItemsSeen)
		if progress > 1 {
			progress = 1
		}
	}
	if scan.Status == database.ScanStatusCompleted {
		progress = 1
	}
	return &types.ScanStatusSnapshot{
		ScanID:           scan.ID,
		LibrarySectionID: scan.LibrarySectionID,
		Status:           string(scan.Status),
		Stage:            scan.CurrentStage,
		Progress:         progress,
		ItemsSeen:        scan.ItemsSeen,
		ItemsProcessed:   scan.ItemsProcessed,
		ItemsUnchanged:   scan.ItemsUnchanged,
		ErrorCount:       scan.ErrorCount,
		StartedAt:        scan.StartedAt,
		CheckpointAt:     scan.CheckpointAt,
	}
}
