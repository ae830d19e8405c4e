package ffmpeg

import (
	"bufio"
	"context"
	"strings"
)

// availableEncoders probes the ffmpeg build once and caches the encoder
// set. A failed probe yields an empty set, which routes every selection to
// its software fallback.
func (c *Client) availableEncoders() map[string]bool {
	c.encodersOnce.Do(func() {
		c.encoders = make(map[string]bool)
		out, err := c.runner.Run(context.Background(), c.ffmpegPath, "-hide_banner", "-encoders")
		if err != nil {
			return
		}
		scanner := bufio.NewScanner(strings.NewReader(string(out)))
		inList := false
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if strings.HasPrefix(line, "------") {
				inList = true
				continue
			}
			if !inList {
				continue
			}
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				c.encoders[fields[1]] = true
			}
		}
	})
	return c.encoders
}

// VideoEncoder picks the encoder for a codec family, preferring hardware
// when the local build carries it. Unrecognized names pass through so a
// caller can force a specific encoder.
func (c *Client) VideoEncoder(codec string) string {
	switch codec {
	case "", "auto", "h264":
		return c.pick("h264_nvenc", "h264_vaapi", "h264_qsv", "h264_videotoolbox", "libx264")
	case "hevc", "h265":
		return c.pick("hevc_nvenc", "hevc_vaapi", "hevc_qsv", "hevc_videotoolbox", "libx265")
	case "vp8":
		return "libvpx"
	case "vp9":
		return "libvpx-vp9"
	case "av1":
		return c.pick("av1_nvenc", "libsvtav1", "libaom-av1")
	default:
		return codec
	}
}

// pick returns the first available encoder; the last entry is the software
// fallback and wins when nothing is probed.
func (c *Client) pick(encoders ...string) string {
	available := c.availableEncoders()
	for _, e := range encoders {
		if available[e] {
			return e
		}
	}
	return encoders[len(encoders)-1]
}

// AudioEncoder maps generic codec names to specific encoders.
func AudioEncoder(codec string) string {
	switch codec {
	case "aac":
		return "aac"
	case "mp3":
		return "libmp3lame"
	case "opus":
		return "libopus"
	case "vorbis":
		return "libvorbis"
	case "ac3":
		return "ac3"
	default:
		return codec
	}
}

// hardwareErrorMarkers are the strings hardware pipelines emit when the
// device is absent or the driver refuses initialization.
var hardwareErrorMarkers = []string{
	"function not implemented",
	"no device available",
	"failed to initialize",
	"device creation failed",
	"not supported",
	"vaapi",
	"nvenc",
	"qsv",
	"videotoolbox",
}

// IsHardwareAccelError reports whether a transcode failure looks like a
// hardware acceleration problem worth retrying in software.
func IsHardwareAccelError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range hardwareErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// softwareEncoderFor maps each hardware encoder back to its software
// equivalent.
var softwareEncoderFor = map[string]string{
	"h264_nvenc":        "libx264",
	"h264_vaapi":        "libx264",
	"h264_qsv":          "libx264",
	"h264_videotoolbox": "libx264",
	"hevc_nvenc":        "libx265",
	"hevc_vaapi":        "libx265",
	"hevc_qsv":          "libx265",
	"hevc_videotoolbox": "libx265",
	"av1_nvenc":         "libaom-av1",
}

// SoftwareFallbackArgs rewrites a command line to pure software encoding:
// hardware encoders become their software equivalents and -hwaccel flags
// disappear.
func SoftwareFallbackArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		if args[i] == "-hwaccel" {
			i++
			continue
		}
		if soft, ok := softwareEncoderFor[args[i]]; ok {
			out = append(out, soft)
			continue
		}
		out = append(out, args[i])
	}
	return out
}
