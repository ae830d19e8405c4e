package subtitlemodule

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/gorm"

	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/ffmpeg"
	"github.com/medley-tv/medley/internal/logger"
	"github.com/medley-tv/medley/internal/services"
	"github.com/medley-tv/medley/internal/types"
)

// headBytes bounds how much of a source is sniffed for format detection.
const headBytes = 4096

// Manager converts subtitles between text formats and extracts embedded
// streams with ffmpeg. It implements services.SubtitleService.
type Manager struct {
	store  *database.Store
	ffmpeg *ffmpeg.Client
}

func NewManager(store *database.Store, ff *ffmpeg.Client) *Manager {
	return &Manager{store: store, ffmpeg: ff}
}

var _ services.SubtitleService = (*Manager)(nil)

// Convert parses src as fromFormat and rewrites it as toFormat. The
// claimed source format is verified against the file head; when it does
// not self-identify every known format is sniffed instead, and an
// unknown claim with nothing detected is an error. A tick window keeps
// only overlapping cues and rebases their times onto the window start.
func (m *Manager) Convert(ctx context.Context, src io.Reader, fromFormat, toFormat string, startTicks, endTicks *int64) (io.Reader, error) {
	to, ok := formatByName(toFormat)
	if !ok {
		return nil, types.NewAppError(types.ErrorCodeSubtitleFormatUnknown,
			fmt.Sprintf("unknown target subtitle format %q", toFormat), http.StatusBadRequest)
	}

	raw, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("reading subtitle source: %w", err)
	}
	head := string(raw[:min(len(raw), headBytes)])

	from, claimed := formatByName(fromFormat)
	if !claimed || !from.Detect(head) {
		if sniffed, ok := detectFormat(head); ok {
			from = sniffed
		} else if !claimed {
			return nil, types.NewAppError(types.ErrorCodeSubtitleFormatUnknown,
				fmt.Sprintf("cannot identify subtitle format (claimed %q)", fromFormat), http.StatusUnsupportedMediaType)
		}
		// a known claim that neither self-identifies nor sniffs still
		// gets parsed as claimed; the parse error is the better message
	}

	cues, err := from.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, types.NewAppErrorWithCause(types.ErrorCodeValidation,
			fmt.Sprintf("cannot parse subtitle source as %s", from.Names()[0]), http.StatusBadRequest, err)
	}

	if startTicks != nil || endTicks != nil {
		startMs := int64(0)
		endMs := int64(math.MaxInt64)
		if startTicks != nil {
			startMs = *startTicks / TicksPerMillisecond
		}
		if endTicks != nil {
			endMs = *endTicks / TicksPerMillisecond
		}
		cues = filterWindow(cues, startMs, endMs)
	}

	var out bytes.Buffer
	if err := to.Write(&out, cues); err != nil {
		return nil, fmt.Errorf("writing %s subtitles: %w", to.Names()[0], err)
	}
	return &out, nil
}

// imageCodecs are bitmap subtitle codecs that cannot round-trip through
// the text cue model.
var imageCodecs = map[string]bool{
	"pgs":               true,
	"pgssub":            true,
	"hdmv_pgs_subtitle": true,
	"dvd_subtitle":      true,
	"dvdsub":            true,
	"dvb_subtitle":      true,
	"dvbsub":            true,
	"vobsub":            true,
	"xsub":              true,
}

func (m *Manager) RequiresExtraction(codec string) bool {
	return imageCodecs[strings.ToLower(strings.TrimSpace(codec))]
}

// ExtractEmbedded pulls the subtitle stream with the given ffmpeg
// ordinal out of a part and returns it as targetFormat. Embedded
// streams go through ffmpeg into a temp file that is removed on every
// exit path; external sidecars are already extracted and only convert.
func (m *Manager) ExtractEmbedded(ctx context.Context, partID string, streamIndex int, targetFormat string) (io.ReadCloser, error) {
	part, err := m.store.GetPart(ctx, partID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewAppError(types.ErrorCodeMediaNotFound,
				fmt.Sprintf("part %s not found", partID), http.StatusNotFound)
		}
		return nil, err
	}

	stream := findSubtitleStream(part.Streams, streamIndex)
	if stream == nil {
		return nil, types.NewAppError(types.ErrorCodeNotFound,
			fmt.Sprintf("part %s has no subtitle stream %d", partID, streamIndex), http.StatusNotFound)
	}

	if stream.IsExternal {
		return m.convertSidecar(ctx, stream.File, targetFormat)
	}

	codec, ext, direct := ffmpegSubtitleCodec(targetFormat)
	tmp, err := os.CreateTemp("", "medley-sub-*."+ext)
	if err != nil {
		return nil, fmt.Errorf("creating subtitle temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", part.File,
		"-map", fmt.Sprintf("0:s:%d", subtitleOrdinal(part.Streams, stream)),
		"-c:s", codec,
		tmpPath,
	}
	if out, err := m.ffmpeg.Exec(ctx, args...); err != nil {
		os.Remove(tmpPath)
		return nil, types.NewAppErrorWithCause(types.ErrorCodeSubtitleExtractionFailed,
			fmt.Sprintf("extract subtitle stream %d from %s: %s", streamIndex, part.File, bytes.TrimSpace(out)),
			http.StatusInternalServerError, err)
	}
	logger.Debug("💬 extracted subtitle stream %d of part %s as %s", streamIndex, partID, codec)

	if direct {
		f, err := os.Open(tmpPath)
		if err != nil {
			os.Remove(tmpPath)
			return nil, err
		}
		return &deleteOnClose{File: f}, nil
	}

	// ffmpeg cannot encode the target; it extracted an intermediate
	// that converts in-process
	raw, err := os.ReadFile(tmpPath)
	os.Remove(tmpPath)
	if err != nil {
		return nil, err
	}
	converted, err := m.Convert(ctx, bytes.NewReader(raw), ext, targetFormat, nil, nil)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(converted), nil
}

// convertSidecar opens an external subtitle file and converts it to the
// target format, sniffing the source format off the file extension.
func (m *Manager) convertSidecar(ctx context.Context, path, targetFormat string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewAppError(types.ErrorCodeMediaNotFound,
				fmt.Sprintf("sidecar subtitle %s is missing", path), http.StatusNotFound)
		}
		return nil, err
	}
	defer f.Close()

	converted, err := m.Convert(ctx, f, strings.TrimPrefix(filepath.Ext(path), "."), targetFormat, nil, nil)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(converted), nil
}

// findSubtitleStream resolves a part's subtitle stream by its ffmpeg
// ordinal within the part.
func findSubtitleStream(streams []database.MediaStream, streamIndex int) *database.MediaStream {
	for i := range streams {
		s := &streams[i]
		if s.StreamType == database.StreamTypeSubtitle && s.StreamIndex == streamIndex {
			return s
		}
	}
	return nil
}

// subtitleOrdinal converts a stream's global ffmpeg ordinal into its
// position among the file's subtitle streams, the N in -map 0:s:N.
// Sidecars are not in the file and do not count.
func subtitleOrdinal(streams []database.MediaStream, target *database.MediaStream) int {
	n := 0
	for i := range streams {
		s := &streams[i]
		if s.StreamType == database.StreamTypeSubtitle && !s.IsExternal && s.StreamIndex < target.StreamIndex {
			n++
		}
	}
	return n
}

// ffmpegSubtitleCodec maps a target format onto the codec ffmpeg
// extracts with. Formats ffmpeg cannot encode extract as SubRip and
// convert in-process afterwards.
func ffmpegSubtitleCodec(format string) (codec, ext string, direct bool) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "vtt", "webvtt":
		return "webvtt", "vtt", true
	case "srt", "subrip":
		return "srt", "srt", true
	case "ass", "ssa":
		return "ass", "ass", true
	default:
		return "srt", "srt", false
	}
}

// deleteOnClose removes the backing temp file once the reader closes.
type deleteOnClose struct {
	*os.File
}

func (d *deleteOnClose) Close() error {
	err := d.File.Close()
	if rmErr := os.Remove(d.File.Name()); err == nil {
		err = rmErr
	}
	return err
}
