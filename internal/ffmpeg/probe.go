package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/medley-tv/medley/internal/database"
)

// Info is a normalized snapshot of one media file as ffprobe sees it.
type Info struct {
	Container  string
	DurationMs int64
	SizeBytes  int64
	BitrateBps int64
	Streams    []database.MediaStream
}

// probeOutput mirrors ffprobe's -print_format json layout. Numeric fields
// arrive as strings there.
type probeOutput struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

type probeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

type probeStream struct {
	Index            int               `json:"index"`
	CodecName        string            `json:"codec_name"`
	CodecType        string            `json:"codec_type"`
	Profile          string            `json:"profile"`
	Level            int               `json:"level"`
	Width            int               `json:"width"`
	Height           int               `json:"height"`
	PixFmt           string            `json:"pix_fmt"`
	ColorSpace       string            `json:"color_space"`
	ColorTransfer    string            `json:"color_transfer"`
	ColorPrimaries   string            `json:"color_primaries"`
	AvgFrameRate     string            `json:"avg_frame_rate"`
	RFrameRate       string            `json:"r_frame_rate"`
	BitsPerRawSample string            `json:"bits_per_raw_sample"`
	Channels         int               `json:"channels"`
	SampleRate       string            `json:"sample_rate"`
	BitRate          string            `json:"bit_rate"`
	Tags             map[string]string `json:"tags"`
	Disposition      struct {
		Default int `json:"default"`
		Forced  int `json:"forced"`
	} `json:"disposition"`
}

// Probe inspects a media file and returns its container, duration, and
// per-stream details mapped onto the storage model. Stream records carry no
// ids; the persist layer assigns them.
func (c *Client) Probe(ctx context.Context, path string) (*Info, error) {
	out, err := c.runner.Run(ctx, c.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}

	var raw probeOutput
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("ffprobe output unparsable for %s: %w", path, err)
	}

	info := &Info{
		Container:  normalizeContainer(raw.Format.FormatName, path),
		DurationMs: secondsToMs(raw.Format.Duration),
		SizeBytes:  parseInt64(raw.Format.Size),
		BitrateBps: parseInt64(raw.Format.BitRate),
	}
	for _, s := range raw.Streams {
		stream, ok := mapStream(s)
		if !ok {
			continue
		}
		info.Streams = append(info.Streams, stream)
	}
	return info, nil
}

func mapStream(s probeStream) (database.MediaStream, bool) {
	var streamType database.StreamType
	switch s.CodecType {
	case "video":
		streamType = database.StreamTypeVideo
	case "audio":
		streamType = database.StreamTypeAudio
	case "subtitle":
		streamType = database.StreamTypeSubtitle
	default:
		// Attachment and data streams have no playback meaning.
		return database.MediaStream{}, false
	}

	stream := database.MediaStream{
		StreamType:  streamType,
		StreamIndex: s.Index,
		Codec:       s.CodecName,
		Language:    s.Tags["language"],
		Title:       s.Tags["title"],
		Profile:     s.Profile,
		Level:       s.Level,
		IsDefault:   s.Disposition.Default == 1,
		IsForced:    s.Disposition.Forced == 1,
		BitrateKbps: int(parseInt64(s.BitRate) / 1000),
	}

	switch streamType {
	case database.StreamTypeVideo:
		stream.Width = s.Width
		stream.Height = s.Height
		stream.FrameRate = parseFrameRate(s.AvgFrameRate, s.RFrameRate)
		stream.BitDepth = int(parseInt64(s.BitsPerRawSample))
		stream.PixelFormat = s.PixFmt
		stream.ColorSpace = s.ColorSpace
		stream.ColorPrimaries = s.ColorPrimaries
		stream.ColorTransfer = s.ColorTransfer
		stream.HDRFormat = hdrFormat(s.ColorTransfer)
	case database.StreamTypeAudio:
		stream.Channels = s.Channels
		stream.SampleRate = int(parseInt64(s.SampleRate))
	}
	return stream, true
}

// hdrFormat classifies the transfer characteristic into the HDR family the
// playback decision engine cares about.
func hdrFormat(colorTransfer string) string {
	switch colorTransfer {
	case "smpte2084":
		return "HDR10"
	case "arib-std-b67":
		return "HLG"
	default:
		return ""
	}
}

// containerAliases maps ffprobe's multi-name formats to the single name the
// rest of the system uses.
var containerAliases = map[string]string{
	"matroska,webm":           "mkv",
	"mov,mp4,m4a,3gp,3g2,mj2": "mp4",
	"mpegts":                  "ts",
	"avi":                     "avi",
}

func normalizeContainer(formatName, path string) string {
	if alias, ok := containerAliases[formatName]; ok {
		// webm is reported under the matroska demuxer; trust the extension.
		if alias == "mkv" && strings.HasSuffix(strings.ToLower(path), ".webm") {
			return "webm"
		}
		return alias
	}
	if i := strings.IndexByte(formatName, ','); i > 0 {
		return formatName[:i]
	}
	return formatName
}

// Keyframes returns the keyframe timestamps of the first video stream in
// milliseconds, ascending. Built on packet flags so it works without
// decoding.
func (c *Client) Keyframes(ctx context.Context, path string) ([]int64, error) {
	out, err := c.runner.Run(ctx, c.ffprobePath,
		"-loglevel", "error",
		"-select_streams", "v:0",
		"-show_entries", "packet=pts_time,flags",
		"-of", "csv=print_section=0",
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("keyframe probe failed for %s: %w", path, err)
	}

	var frames []int64
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		ptsField, flags, found := strings.Cut(line, ",")
		if !found || !strings.Contains(flags, "K") {
			continue
		}
		sec, err := strconv.ParseFloat(ptsField, 64)
		if err != nil {
			// Packets without a pts report N/A.
			continue
		}
		frames = append(frames, int64(math.Round(sec*1000)))
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i] < frames[j] })
	return frames, nil
}

func secondsToMs(s string) int64 {
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(math.Round(sec * 1000))
}

func parseInt64(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// parseFrameRate turns ffprobe's fraction notation ("24000/1001") into a
// float, preferring the average rate and falling back to the raw rate.
func parseFrameRate(avg, raw string) float64 {
	for _, candidate := range []string{avg, raw} {
		num, den, found := strings.Cut(candidate, "/")
		if !found {
			continue
		}
		n, errN := strconv.ParseFloat(num, 64)
		d, errD := strconv.ParseFloat(den, 64)
		if errN != nil || errD != nil || d == 0 || n == 0 {
			continue
		}
		return math.Round(n/d*1000) / 1000
	}
	return 0
}
