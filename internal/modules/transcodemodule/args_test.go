package transcodemodule

import (
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/ffmpeg"
	"github.com/medley-tv/medley/internal/types"
)

func argsPart() *database.MediaPart {
	return &database.MediaPart{
		ID:         "part-1",
		File:       "/media/movies/Heat.mkv",
		DurationMs: 7_200_000,
		Streams: []database.MediaStream{
			{StreamType: database.StreamTypeVideo, StreamIndex: 0, Codec: "hevc", FrameRate: 25},
		},
	}
}

func TestBuildArgsFullTranscode(t *testing.T) {
	ff := ffmpeg.NewWithRunner(errRunner{})
	target := types.TranscodeTarget{
		Container:        "dash",
		VideoCodec:       "h264",
		AudioCodec:       "aac",
		VideoBitrateKbps: 3000,
		AudioBitrateKbps: 192,
		Width:            1280,
		Height:           720,
		AudioChannels:    2,
	}
	args := buildArgs(ff, argsPart(), target, "/tmp/out/job-1", 4, false)
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-progress pipe:1")
	assert.Contains(t, joined, "-i /media/movies/Heat.mkv")
	assert.Contains(t, joined, "-c:v libx264")
	assert.Contains(t, joined, "-force_key_frames expr:gte(t,n_forced*4)")
	assert.Contains(t, joined, "-g 100") // 4s segments at 25fps
	assert.Contains(t, joined, "-keyint_min 100")
	assert.Contains(t, joined, "-sc_threshold 0")
	assert.Contains(t, joined, "-flags +cgop")
	assert.Contains(t, joined, "scale=1280:720:flags=lanczos")
	assert.Contains(t, joined, "format=yuv420p")
	assert.Contains(t, joined, "-b:v 3000k")
	assert.Contains(t, joined, "-maxrate 4500k")
	assert.Contains(t, joined, "-bufsize 6000k")
	assert.Contains(t, joined, "-c:a aac")
	assert.Contains(t, joined, "-b:a 192k")
	assert.Contains(t, joined, "-ac 2")
	assert.Contains(t, joined, "-ar 48000")
	assert.Contains(t, joined, "-f dash")
	assert.Contains(t, joined, "-seg_duration 4")
	assert.NotContains(t, joined, "-ss ")
	assert.Equal(t, filepath.Join("/tmp/out/job-1", "manifest.mpd"), args[len(args)-1])
}

func TestBuildArgsCopiesStreams(t *testing.T) {
	ff := ffmpeg.NewWithRunner(errRunner{})
	target := types.TranscodeTarget{Container: "dash", VideoCodec: "copy", AudioCodec: "copy"}
	args := buildArgs(ff, argsPart(), target, "/tmp/out/job-2", 4, false)
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-c:v copy")
	assert.Contains(t, joined, "-c:a copy")
	assert.NotContains(t, joined, "-vf")
	assert.NotContains(t, joined, "-force_key_frames")
	assert.NotContains(t, joined, "-crf")
	assert.NotContains(t, joined, "-b:a")
}

func TestBuildArgsSeekOffsetBeforeInput(t *testing.T) {
	ff := ffmpeg.NewWithRunner(errRunner{})
	target := types.TranscodeTarget{Container: "dash", VideoCodec: "copy", AudioCodec: "copy", SeekMs: 93_500}
	args := buildArgs(ff, argsPart(), target, "/tmp/out/job-3", 4, false)

	ss := slices.Index(args, "-ss")
	in := slices.Index(args, "-i")
	require.GreaterOrEqual(t, ss, 0)
	assert.Equal(t, "93.500", args[ss+1])
	assert.Less(t, ss, in)
}

func TestBuildArgsToneMapChain(t *testing.T) {
	ff := ffmpeg.NewWithRunner(errRunner{})
	target := types.TranscodeTarget{Container: "dash", VideoCodec: "h264", AudioCodec: "aac", ToneMapping: true}
	joined := strings.Join(buildArgs(ff, argsPart(), target, "/tmp/out/job-4", 4, false), " ")

	assert.Contains(t, joined, "zscale=t=linear:npl=100")
	assert.Contains(t, joined, "tonemap=hable")
	assert.Contains(t, joined, "zscale=p=bt709:t=bt709:m=bt709")
}

func TestBuildArgsCRFWithoutBitrate(t *testing.T) {
	ff := ffmpeg.NewWithRunner(errRunner{})
	target := types.TranscodeTarget{Container: "dash", VideoCodec: "h264", AudioCodec: "aac"}
	joined := strings.Join(buildArgs(ff, argsPart(), target, "/tmp/out/job-5", 4, false), " ")

	assert.Contains(t, joined, "-crf 23")
	assert.NotContains(t, joined, "-b:v")
	assert.NotContains(t, joined, "-maxrate")
}

func TestBuildArgsFrameRateFallback(t *testing.T) {
	ff := ffmpeg.NewWithRunner(errRunner{})
	part := argsPart()
	part.Streams = nil
	target := types.TranscodeTarget{Container: "dash", VideoCodec: "h264", AudioCodec: "aac"}
	joined := strings.Join(buildArgs(ff, part, target, "/tmp/out/job-6", 4, false), " ")

	// 24fps assumed when the probe recorded nothing.
	assert.Contains(t, joined, "-g 96")
}
