package librarymodule

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"gorm.io/gorm"

	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/events"
	"github.com/medley-tv/medley/internal/fsprobe"
	"github.com/medley-tv/medley/internal/logger"
	"github.com/medley-tv/medley/internal/modules/scannermodule/scanner"
	"github.com/medley-tv/medley/internal/services"
	"github.com/medley-tv/medley/internal/types"
)

// Manager owns library sections and their root locations. Scans run in
// the scanner module; this manager only starts them, so a section and
// the scans over it stay consistent from one place.
type Manager struct {
	store    *database.Store
	eventBus events.EventBus

	watcher *Watcher                // nil when the watcher is disabled
	scanner services.ScannerService // nil until the scanner module registers
	jobs    services.JobService     // nil when the job queue is absent
}

var _ services.LibraryService = (*Manager)(nil)

func NewManager(store *database.Store, eventBus events.EventBus) *Manager {
	return &Manager{store: store, eventBus: eventBus}
}

var sectionTypes = map[string]bool{
	database.LibraryTypeMovie:   true,
	database.LibraryTypeTV:      true,
	database.LibraryTypeMusic:   true,
	database.LibraryTypePhoto:   true,
	database.LibraryTypePicture: true,
	database.LibraryTypeBook:    true,
	database.LibraryTypeGame:    true,
}

// SetScannerService wires the scanner in once it exists.
func (m *Manager) SetScannerService(scanner services.ScannerService) {
	m.scanner = scanner
}

// SetJobService wires the job queue in once it exists.
func (m *Manager) SetJobService(jobs services.JobService) {
	m.jobs = jobs
}

// SetWatcher attaches the filesystem watcher so section changes re-arm it.
func (m *Manager) SetWatcher(watcher *Watcher) {
	m.watcher = watcher
}

func (m *Manager) GetSection(ctx context.Context, id string) (*database.LibrarySection, error) {
	section, err := m.store.GetSection(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewAppError(types.ErrorCodeLibraryNotFound, "library not found", http.StatusNotFound)
	}
	return section, err
}

func (m *Manager) ListSections(ctx context.Context) ([]database.LibrarySection, error) {
	return m.store.ListSections(ctx)
}

// CreateSection validates and persists a new section, then starts
// watching its roots.
func (m *Manager) CreateSection(ctx context.Context, section *database.LibrarySection) error {
	if err := validateSection(section); err != nil {
		return err
	}
	markAvailability(section.Locations)
	if err := m.store.CreateSection(ctx, section); err != nil {
		return err
	}
	logger.Info("📚 library %s created: %s (%s, %d locations)",
		section.ID, section.Name, section.Type, len(section.Locations))
	if m.eventBus != nil {
		m.eventBus.PublishAsync(events.NewLibraryCreatedEvent(section.ID, section.Name))
	}
	if m.watcher != nil {
		m.watcher.armSection(section)
	}
	return nil
}

// UpdateSection replaces the section wholesale, locations included.
func (m *Manager) UpdateSection(ctx context.Context, section *database.LibrarySection) error {
	if _, err := m.GetSection(ctx, section.ID); err != nil {
		return err
	}
	if err := validateSection(section); err != nil {
		return err
	}
	markAvailability(section.Locations)
	if err := m.store.SaveSection(ctx, section); err != nil {
		return err
	}
	logger.Info("📚 library %s updated: %s (%d locations)",
		section.ID, section.Name, len(section.Locations))
	if m.watcher != nil {
		m.watcher.Forget(section.ID)
		m.watcher.armSection(section)
	}
	return nil
}

// DeleteSection removes the section and everything hanging off it. Any
// scan still running over the section is cancelled first so the pipeline
// does not recreate rows under a deleted parent.
func (m *Manager) DeleteSection(ctx context.Context, id string) error {
	section, err := m.GetSection(ctx, id)
	if err != nil {
		return err
	}
	m.cancelActiveScans(ctx, id)
	if m.watcher != nil {
		m.watcher.Forget(id)
	}
	if err := m.store.DeleteSection(ctx, id); err != nil {
		return err
	}
	logger.Info("🗑️ library %s removed: %s", id, section.Name)
	if m.eventBus != nil {
		m.eventBus.PublishAsync(events.NewLibraryRemovedEvent(id, section.Name))
	}
	return nil
}

// StartScan kicks off a fresh scan of the section through the scanner
// service.
func (m *Manager) StartScan(ctx context.Context, id string) (*types.ScanStatusSnapshot, error) {
	if _, err := m.GetSection(ctx, id); err != nil {
		return nil, err
	}
	if m.scanner == nil {
		return nil, types.NewAppError(types.ErrorCodeInternal, "scanner service unavailable", http.StatusServiceUnavailable)
	}
	snap, err := m.scanner.StartScan(ctx, id)
	if errors.Is(err, scanner.ErrScanActive) {
		return nil, types.NewAppError(types.ErrorCodeScanAlreadyRunning, err.Error(), http.StatusConflict)
	}
	return snap, err
}

// ListScans returns the scan history for the section, newest first.
func (m *Manager) ListScans(ctx context.Context, id string) ([]types.ScanStatusSnapshot, error) {
	if _, err := m.GetSection(ctx, id); err != nil {
		return nil, err
	}
	if m.scanner == nil {
		return []types.ScanStatusSnapshot{}, nil
	}
	return m.scanner.ListScans(ctx, id)
}

// queueScan is the watcher's scan trigger. The job queue collapses
// duplicate triggers for the same section; without it the scanner is
// asked directly and an already-running scan is not an error.
func (m *Manager) queueScan(sectionID string) {
	ctx := context.Background()
	if m.jobs != nil {
		if err := m.jobs.EnqueueLibraryScan(ctx, sectionID); err != nil {
			logger.Warn("library %s: enqueueing scan: %v", sectionID, err)
		}
		return
	}
	if m.scanner == nil {
		return
	}
	if _, err := m.scanner.StartScan(ctx, sectionID); err != nil {
		if errors.Is(err, scanner.ErrScanActive) {
			return
		}
		logger.Warn("library %s: starting scan: %v", sectionID, err)
	}
}

func (m *Manager) cancelActiveScans(ctx context.Context, sectionID string) {
	if m.scanner == nil {
		return
	}
	scans, err := m.scanner.ListScans(ctx, sectionID)
	if err != nil {
		logger.Warn("library %s: listing scans before delete: %v", sectionID, err)
		return
	}
	for _, scan := range scans {
		switch scan.Status {
		case string(database.ScanStatusRunning), string(database.ScanStatusQueued), string(database.ScanStatusPaused):
			if err := m.scanner.CancelScan(ctx, scan.ScanID); err != nil {
				logger.Warn("library %s: cancelling scan %s: %v", sectionID, scan.ScanID, err)
			}
		}
	}
}

func validateSection(section *database.LibrarySection) error {
	if strings.TrimSpace(section.Name) == "" {
		return types.NewAppError(types.ErrorCodeValidation, "library name is required", http.StatusBadRequest)
	}
	if !sectionTypes[section.Type] {
		return types.NewAppError(types.ErrorCodeValidation, "unknown library type: "+section.Type, http.StatusBadRequest)
	}
	if len(section.Locations) == 0 {
		return types.NewAppError(types.ErrorCodeValidation, "at least one location is required", http.StatusBadRequest)
	}
	seen := make(map[string]bool, len(section.Locations))
	for i := range section.Locations {
		root := filepath.Clean(section.Locations[i].RootPath)
		if !filepath.IsAbs(root) {
			return types.NewAppError(types.ErrorCodeValidation, "location paths must be absolute: "+root, http.StatusBadRequest)
		}
		if seen[root] {
			return types.NewAppError(types.ErrorCodeValidation, "duplicate location: "+root, http.StatusBadRequest)
		}
		seen[root] = true
		section.Locations[i].RootPath = root
		section.Locations[i].ListIndex = i
	}
	return nil
}

// markAvailability stats each root so a section created while a mount is
// down starts unavailable instead of failing its first scan.
func markAvailability(locations []database.SectionLocation) {
	for i := range locations {
		entry := fsprobe.Stat(locations[i].RootPath)
		locations[i].Available = entry.Exists && entry.IsDir
	}
}
