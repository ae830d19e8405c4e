package jobmodule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"github.com/medley-tv/medley/internal/logger"
	"github.com/medley-tv/medley/internal/modules/scannermodule/scanner"
)

// cleanupSchedule runs the nightly sweep after the usual 3am scan slot
// so it reaps what the scan leaves behind, not what it is creating.
const cleanupSchedule = "30 4 * * *"

// scanHistoryRetention bounds the scan history table.
const scanHistoryRetention = 30 * 24 * time.Hour

func (m *Manager) buildMux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskLibraryScan, m.handleLibraryScan)
	mux.HandleFunc(TaskTrickplayGenerate, m.handleTrickplayGenerate)
	mux.HandleFunc(TaskArtworkFetch, m.handleArtworkFetch)
	mux.HandleFunc(TaskMetadataRefresh, m.handleMetadataRefresh)
	return mux
}

func (m *Manager) handleLibraryScan(ctx context.Context, t *asynq.Task) error {
	var p scanPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("scan payload: %v: %w", err, asynq.SkipRetry)
	}
	if m.scanner == nil {
		return fmt.Errorf("scanner service unavailable: %w", asynq.SkipRetry)
	}
	_, err := m.scanner.StartScan(ctx, p.SectionID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, scanner.ErrScanActive):
		// The work this task asked for is already happening.
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("section %s gone: %w", p.SectionID, asynq.SkipRetry)
	default:
		return err
	}
}

func (m *Manager) handleTrickplayGenerate(ctx context.Context, t *asynq.Task) error {
	var p trickplayPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("trickplay payload: %v: %w", err, asynq.SkipRetry)
	}
	if m.trickplay == nil {
		return fmt.Errorf("trickplay service unavailable: %w", asynq.SkipRetry)
	}
	if err := m.trickplay.Generate(ctx, p.PartID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("part %s gone: %w", p.PartID, asynq.SkipRetry)
		}
		return err
	}
	return nil
}

func (m *Manager) handleArtworkFetch(ctx context.Context, t *asynq.Task) error {
	var p artworkPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("artwork payload: %v: %w", err, asynq.SkipRetry)
	}
	if m.assets == nil {
		return fmt.Errorf("asset service unavailable: %w", asynq.SkipRetry)
	}
	if err := m.assets.FetchArtwork(ctx, p.MetadataItemID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("item %s gone: %w", p.MetadataItemID, asynq.SkipRetry)
		}
		return err
	}
	return nil
}

func (m *Manager) handleMetadataRefresh(ctx context.Context, t *asynq.Task) error {
	var p refreshPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("refresh payload: %v: %w", err, asynq.SkipRetry)
	}
	if m.metadata == nil {
		return fmt.Errorf("metadata service unavailable: %w", asynq.SkipRetry)
	}
	if err := m.metadata.RefreshItem(ctx, p.MetadataItemID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("item %s gone: %w", p.MetadataItemID, asynq.SkipRetry)
		}
		return err
	}
	return nil
}

// runCleanup is the nightly sweep. The session and generator reapers
// already run every few minutes; this pass catches rows those loops
// missed across restarts, trims scan history, and removes transcode
// output directories whose job rows are gone.
func (m *Manager) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	now := time.Now()

	if n, err := m.store.DeleteExpiredGenerators(ctx, now); err != nil {
		logger.Warn("cleanup: expired generators: %v", err)
	} else if n > 0 {
		logger.Info("🧹 cleanup removed %d expired playlist generators", n)
	}

	sessions, err := m.store.ListExpiredSessions(ctx, now)
	if err != nil {
		logger.Warn("cleanup: listing expired sessions: %v", err)
	} else {
		removed := 0
		for i := range sessions {
			if err := m.store.DeleteSession(ctx, sessions[i].ID); err != nil {
				logger.Warn("cleanup: session %s: %v", sessions[i].ID, err)
				continue
			}
			removed++
		}
		if removed > 0 {
			logger.Info("🧹 cleanup removed %d expired sessions", removed)
		}
	}

	if n, err := m.store.DeleteScansBefore(ctx, now.Add(-scanHistoryRetention)); err != nil {
		logger.Warn("cleanup: scan history: %v", err)
	} else if n > 0 {
		logger.Info("🧹 cleanup trimmed %d old scan records", n)
	}

	m.sweepTranscodeDirs(ctx)
}

// sweepTranscodeDirs removes output directories with no job row. Dir
// names are job IDs, so anything unknown is leftover from a crashed or
// reaped job.
func (m *Manager) sweepTranscodeDirs(ctx context.Context) {
	root := m.cfg.Transcode.OutputDir
	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("cleanup: reading transcode dir: %v", err)
		}
		return
	}
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		_, err := m.store.GetTranscodeJob(ctx, e.Name())
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Warn("cleanup: job lookup %s: %v", e.Name(), err)
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
			logger.Warn("cleanup: removing %s: %v", e.Name(), err)
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info("🧹 cleanup removed %d orphaned transcode dirs", removed)
	}
}
