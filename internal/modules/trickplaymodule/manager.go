package trickplaymodule

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/medley-tv/medley/internal/config"
	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/events"
	"github.com/medley-tv/medley/internal/ffmpeg"
	"github.com/medley-tv/medley/internal/logger"
	"github.com/medley-tv/medley/internal/modules/trickplaymodule/bif"
	"github.com/medley-tv/medley/internal/services"
	"github.com/medley-tv/medley/internal/types"
)

// Manager builds thumbnail indexes from media parts and answers frame
// lookups against the stored files. Indexes live in the same sharded
// media tree as artwork and are keyed by metadata item and part index,
// so a re-scan that replaces a file path leaves its thumbnails valid.
type Manager struct {
	store    *database.Store
	files    *bif.Store
	eventBus events.EventBus
	ffmpeg   *ffmpeg.Client
	cfg      config.TranscodeConfig
}

func NewManager(store *database.Store, files *bif.Store, eventBus events.EventBus, ff *ffmpeg.Client, cfg config.TranscodeConfig) *Manager {
	return &Manager{
		store:    store,
		files:    files,
		eventBus: eventBus,
		ffmpeg:   ff,
		cfg:      cfg,
	}
}

// GetInfo summarizes a part's index. The width comes from decoding the
// first thumbnail's JPEG header; a frame that fails to parse costs only
// the width field.
func (m *Manager) GetInfo(ctx context.Context, metadataItemID string, partIndex int) (*types.TrickplayInfo, error) {
	stat, err := m.files.Stat(metadataItemID, partIndex)
	if err != nil {
		return nil, indexError(metadataItemID, partIndex, err)
	}

	info := &types.TrickplayInfo{
		MetadataItemID: metadataItemID,
		PartIndex:      partIndex,
		FrameCount:     stat.FrameCount,
		IntervalMs:     stat.IntervalMs,
		SizeBytes:      stat.SizeBytes,
	}
	if img, _, err := m.files.ReadFrame(metadataItemID, partIndex, 0); err == nil {
		if jpegCfg, err := jpeg.DecodeConfig(bytes.NewReader(img)); err == nil {
			info.Width = jpegCfg.Width
		}
	}
	return info, nil
}

// ReadFrame returns one thumbnail and its timeline position.
func (m *Manager) ReadFrame(ctx context.Context, metadataItemID string, partIndex, frameIndex int) ([]byte, int64, error) {
	img, timestampMs, err := m.files.ReadFrame(metadataItemID, partIndex, frameIndex)
	if err != nil {
		return nil, 0, indexError(metadataItemID, partIndex, err)
	}
	return img, int64(timestampMs), nil
}

// IndexPath is where a part's index file lives on disk.
func (m *Manager) IndexPath(metadataItemID string, partIndex int) string {
	return m.files.Path(metadataItemID, partIndex)
}

// RemoveIndexes drops every part index of an item; called when the item
// itself is removed.
func (m *Manager) RemoveIndexes(metadataItemID string) error {
	return m.files.Remove(metadataItemID)
}

// Generate extracts one frame per interval from the part and writes the
// index. A finished index replaces any earlier one atomically, so the
// part keeps serving its old thumbnails while this runs.
func (m *Manager) Generate(ctx context.Context, partID string) error {
	part, err := m.store.GetPart(ctx, partID)
	if err != nil {
		return err
	}
	media, err := m.store.GetMediaItem(ctx, part.MediaItemID)
	if err != nil {
		return err
	}
	if len(media.MetadataItemID) < 2 {
		return fmt.Errorf("part %s: media item %s has no usable metadata item id", partID, media.ID)
	}

	interval := m.interval()
	start := time.Now()

	tempDir, err := os.MkdirTemp("", "medley-trickplay-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tempDir)

	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", part.File,
		"-vf", fmt.Sprintf("fps=1/%g,scale=%d:-1", interval.Seconds(), m.width()),
		"-q:v", "4",
		filepath.Join(tempDir, "%06d.jpg"),
	}
	if out, err := m.ffmpeg.Exec(ctx, args...); err != nil {
		return fmt.Errorf("extract thumbnails from %s: %w: %s", part.File, err, bytes.TrimSpace(out))
	}

	frames, err := collectFrames(tempDir, interval.Milliseconds())
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("part %s: ffmpeg produced no thumbnails", partID)
	}
	if err := m.files.Write(media.MetadataItemID, part.PartIndex, &bif.Index{Frames: frames}); err != nil {
		return fmt.Errorf("store thumbnail index: %w", err)
	}

	logger.Info("🖼️ trickplay index for part %s: %d frames every %s in %s",
		partID, len(frames), interval, time.Since(start).Round(time.Millisecond))
	if m.eventBus != nil {
		m.eventBus.PublishAsync(events.NewTrickplayReadyEvent(media.MetadataItemID, part.PartIndex, len(frames)))
	}
	return nil
}

func (m *Manager) interval() time.Duration {
	if m.cfg.TrickplayInterval > 0 {
		return m.cfg.TrickplayInterval
	}
	return 10 * time.Second
}

func (m *Manager) width() int {
	if m.cfg.TrickplayWidth > 0 {
		return m.cfg.TrickplayWidth
	}
	return 320
}

// collectFrames loads the extracted JPEGs in sequence order. The fps
// filter emits frame k for the span starting at k*interval, so the
// timestamp is positional.
func collectFrames(dir string, intervalMs int64) ([]bif.Frame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".jpg" {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)

	frames := make([]bif.Frame, 0, len(names))
	for i, name := range names {
		img, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		frames = append(frames, bif.Frame{
			TimestampMs: int32(int64(i) * intervalMs),
			Image:       img,
		})
	}
	return frames, nil
}

// QueueMissing enqueues index builds for every video part in a section
// that has no index yet. Runs after scans so fresh files grow
// thumbnails without blocking the pipeline.
func (m *Manager) QueueMissing(ctx context.Context, sectionID string, jobs services.JobService) int {
	items, err := m.store.ListItemsBySection(ctx, sectionID,
		[]database.ItemKind{database.KindMovie, database.KindEpisode})
	if err != nil {
		logger.Warn("trickplay sweep: listing section %s: %v", sectionID, err)
		return 0
	}
	queued := 0
	for i := range items {
		media, err := m.store.GetMediaForItem(ctx, items[i].ID)
		if err != nil {
			logger.Warn("trickplay sweep: media for %s: %v", items[i].ID, err)
			continue
		}
		for _, rendition := range media {
			if rendition.IsDisc {
				continue // no single file to sample
			}
			for _, part := range rendition.Parts {
				if _, err := m.files.Stat(items[i].ID, part.PartIndex); err == nil {
					continue
				}
				if err := jobs.EnqueueTrickplay(ctx, part.ID); err != nil {
					logger.Warn("trickplay sweep: part %s: %v", part.ID, err)
					continue
				}
				queued++
			}
		}
	}
	if queued > 0 {
		logger.Info("🖼️ queued %d trickplay builds for section %s", queued, sectionID)
	}
	return queued
}

// indexError maps file-level failures onto the API error space: a
// missing index is absent, a frame past the table is absent, anything
// else means the file is damaged.
func indexError(metadataItemID string, partIndex int, err error) error {
	switch {
	case os.IsNotExist(err):
		return types.NewAppError(types.ErrorCodeTrickplayNotFound,
			fmt.Sprintf("no thumbnail index for item %s part %d", metadataItemID, partIndex),
			http.StatusNotFound)
	case errors.Is(err, bif.ErrFrameOutOfRange):
		return types.NewAppError(types.ErrorCodeTrickplayNotFound,
			"thumbnail index has no such frame", http.StatusNotFound)
	default:
		return types.NewAppErrorWithCause(types.ErrorCodeTrickplayCorrupt,
			fmt.Sprintf("thumbnail index for item %s part %d is unreadable", metadataItemID, partIndex),
			http.StatusInternalServerError, err)
	}
}

var _ services.TrickplayService = (*Manager)(nil)
