package transcodemodule

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/ffmpeg"
	"github.com/medley-tv/medley/internal/types"
)

// buildArgs assembles the DASH ffmpeg invocation for a job. Keyframes
// are forced onto segment boundaries so every segment starts decodable
// and seek math stays exact.
func buildArgs(ff *ffmpeg.Client, part *database.MediaPart, target types.TranscodeTarget, outputDir string, segSeconds int, useHardware bool) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-progress", "pipe:1", "-nostats"}
	if target.SeekMs > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", float64(target.SeekMs)/1000))
	}
	args = append(args, "-i", part.File, "-map", "0:v:0", "-map", "0:a:0?")

	if target.VideoCodec == "copy" {
		args = append(args, "-c:v", "copy")
	} else {
		gop := int(math.Round(float64(segSeconds) * videoFrameRate(part)))
		args = append(args,
			"-c:v", ff.VideoEncoder(target.VideoCodec),
			"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", segSeconds),
			"-g", strconv.Itoa(gop),
			"-keyint_min", strconv.Itoa(gop),
			"-sc_threshold", "0",
			"-flags", "+cgop",
			"-vf", videoFilters(target),
		)
		if target.VideoBitrateKbps > 0 {
			args = append(args,
				"-b:v", fmt.Sprintf("%dk", target.VideoBitrateKbps),
				"-maxrate", fmt.Sprintf("%dk", target.VideoBitrateKbps*3/2),
				"-bufsize", fmt.Sprintf("%dk", target.VideoBitrateKbps*2))
		} else {
			args = append(args, "-crf", "23")
		}
	}

	if target.AudioCodec == "copy" {
		args = append(args, "-c:a", "copy")
	} else {
		kbps := target.AudioBitrateKbps
		if kbps <= 0 {
			kbps = 128
		}
		args = append(args, "-c:a", ffmpeg.AudioEncoder(target.AudioCodec), "-b:a", fmt.Sprintf("%dk", kbps))
		if target.AudioChannels > 0 {
			args = append(args, "-ac", strconv.Itoa(target.AudioChannels))
		}
		args = append(args, "-ar", "48000")
	}

	args = append(args,
		"-f", "dash",
		"-seg_duration", strconv.Itoa(segSeconds),
		"-use_template", "1",
		"-use_timeline", "1",
		"-init_seg_name", "init-$RepresentationID$.m4s",
		"-media_seg_name", "chunk-$RepresentationID$-$Number%05d$.m4s",
		filepath.Join(outputDir, "manifest.mpd"))

	if !useHardware {
		args = ffmpeg.SoftwareFallbackArgs(args)
	}
	return args
}

// remuxArgs builds a streaming container rewrite: elementary streams
// copied untouched, muxed for a non-seekable pipe.
func remuxArgs(file string, seekMs int64, container string) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if seekMs > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", float64(seekMs)/1000))
	}
	args = append(args, "-i", file, "-map", "0:v:0?", "-map", "0:a:0?", "-c", "copy")
	switch container {
	case "mp4":
		// empty_moov so the header goes out before any media, the pipe
		// cannot be rewritten afterwards.
		args = append(args, "-f", "mp4", "-movflags", "frag_keyframe+empty_moov+default_base_moof")
	case "webm":
		args = append(args, "-f", "webm")
	case "ts":
		args = append(args, "-f", "mpegts")
	default:
		args = append(args, "-f", "matroska")
	}
	return append(args, "pipe:1")
}

// videoFrameRate reads the probed frame rate off the part's video
// stream, defaulting to 24 when the probe had nothing.
func videoFrameRate(part *database.MediaPart) float64 {
	for _, s := range part.Streams {
		if s.StreamType == database.StreamTypeVideo && s.FrameRate > 0 {
			return s.FrameRate
		}
	}
	return 24
}

// videoFilters builds the -vf chain: optional downscale, HDR tone
// mapping, and a yuv420p floor that every decoder accepts.
func videoFilters(target types.TranscodeTarget) string {
	var chain []string
	if target.Width > 0 && target.Height > 0 {
		chain = append(chain, fmt.Sprintf("scale=%d:%d:flags=lanczos", target.Width, target.Height))
	}
	if target.ToneMapping {
		chain = append(chain,
			"zscale=t=linear:npl=100",
			"tonemap=hable",
			"zscale=p=bt709:t=bt709:m=bt709")
	}
	chain = append(chain, "format=yuv420p")
	return strings.Join(chain, ",")
}
