package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/logger"
	"github.com/medley-tv/medley/internal/types"
)

var ErrPartNotFound = errors.New("media part not found")

// SeekToKeyframe maps a target position to the nearest keyframe at or
// before it. Remux and DASH reloads must start on a keyframe or the
// player shows garbage until the next one.
//
// The keyframe index is probed on first use and cached on the part row,
// so only the first seek against a file pays the ffprobe cost.
func (m *Manager) SeekToKeyframe(ctx context.Context, partID string, targetMs int64) (*types.SeekResult, error) {
	part, err := m.store.GetPart(ctx, partID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPartNotFound, partID)
	}
	if err != nil {
		return nil, err
	}

	frames, err := m.keyframesFor(ctx, part)
	if err != nil {
		return nil, err
	}
	if targetMs < 0 {
		targetMs = 0
	}
	return &types.SeekResult{SeekTimeMs: nearestKeyframe(frames, targetMs)}, nil
}

// keyframesFor returns the part's keyframe timestamps, building and
// caching the index on first use.
func (m *Manager) keyframesFor(ctx context.Context, part *database.MediaPart) ([]int64, error) {
	if part.Keyframes != "" {
		var frames []int64
		if err := json.Unmarshal([]byte(part.Keyframes), &frames); err == nil {
			return frames, nil
		}
		logger.Warn("part %s: cached keyframe index unparsable, reprobing", part.ID)
	}

	frames, err := m.ffmpeg.Keyframes(ctx, part.File)
	if err != nil {
		return nil, fmt.Errorf("building keyframe index for %s: %w", part.ID, err)
	}

	raw, err := json.Marshal(frames)
	if err != nil {
		return nil, err
	}
	part.Keyframes = string(raw)
	if err := m.store.SavePart(ctx, part); err != nil {
		// The index is still usable this once; only the cache write failed.
		logger.Warn("part %s: caching keyframe index: %v", part.ID, err)
	}
	logger.Debug("part %s: keyframe index built (%d frames)", part.ID, len(frames))
	return frames, nil
}

// nearestKeyframe returns the last frame at or before target, or zero
// when the target precedes every keyframe or no index exists.
func nearestKeyframe(frames []int64, targetMs int64) int64 {
	i := sort.Search(len(frames), func(i int) bool { return frames[i] > targetMs })
	if i == 0 {
		return 0
	}
	return frames[i-1]
}
