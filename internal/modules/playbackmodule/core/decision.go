// Package core implements the playback decision engine and session
// lifecycle. Decide compares a media part's elementary streams against
// the client's capability profile, accumulates transcode reasons, and
// picks direct play, remux, or a full DASH transcode. Session state is
// serialized through one worker goroutine per session.
package core

import (
	"encoding/json"
	"fmt"
	"math/bits"
	"strings"

	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/types"
)

// remuxContainers are the targets ffmpeg can repackage into without
// touching the streams, in server preference order. The remux target is
// the first one the client declares support for.
var remuxContainers = []string{"mp4", "mkv", "webm", "ts"}

// videoReasons are the bits that force a video re-encode. A subtitle
// the client cannot render is burned in, so it re-encodes video too.
const videoReasons = types.ReasonVideoCodecNotSupported |
	types.ReasonVideoProfileNotSupported |
	types.ReasonVideoLevelNotSupported |
	types.ReasonVideoBitrateExceedsLimit |
	types.ReasonVideoResolutionExceedsLimit |
	types.ReasonVideoBitDepthNotSupported |
	types.ReasonSubtitleCodecNotSupported |
	types.ReasonHdrNotSupported

// audioReasons are the bits that force an audio re-encode.
const audioReasons = types.ReasonAudioCodecNotSupported |
	types.ReasonAudioChannelsNotSupported |
	types.ReasonAudioSampleRateNotSupported

// LanguagePrefs bias audio and subtitle stream selection. Ordered ISO
// 639 codes, most preferred first.
type LanguagePrefs struct {
	Audio     []string
	Subtitles []string
}

// Decision is the outcome of evaluating an item's renditions against a
// capability profile.
type Decision struct {
	Mode    types.PlayMode
	Media   *database.MediaItem
	Part    *database.MediaPart
	Reasons types.TranscodeReasons

	// Container is what goes over the wire: the source container for
	// direct play, the remux target for direct stream, "dash" for a
	// transcode.
	Container string

	VideoStream    *database.MediaStream
	AudioStream    *database.MediaStream
	SubtitleStream *database.MediaStream
}

// candidate is one evaluated (rendition, part) pair.
type candidate struct {
	media   *database.MediaItem
	part    *database.MediaPart
	reasons types.TranscodeReasons

	video    *database.MediaStream
	audio    *database.MediaStream
	subtitle *database.MediaStream
}

// Decide evaluates every part of every rendition and returns the plan
// for the best one: fewest transcode reasons, then largest rendition,
// then largest part.
func Decide(media []database.MediaItem, profile *types.CapabilityProfile, prefs LanguagePrefs) (*Decision, error) {
	if len(media) == 0 {
		return nil, ErrNoMedia
	}

	var best *candidate
	for mi := range media {
		m := &media[mi]
		for pi := range m.Parts {
			c := evaluatePart(m, &m.Parts[pi], profile, prefs)
			if betterCandidate(c, best) {
				best = c
			}
		}
	}
	if best == nil {
		return nil, ErrNoMedia
	}

	d := &Decision{
		Media:          best.media,
		Part:           best.part,
		Reasons:        best.reasons,
		VideoStream:    best.video,
		AudioStream:    best.audio,
		SubtitleStream: best.subtitle,
	}

	switch {
	case best.reasons.IsEmpty():
		d.Mode = types.ModeDirectPlay
		d.Container = best.media.Container
	case best.reasons.ContainerOnly():
		target := remuxTarget(profile)
		if target == "" {
			// Nothing to remux into; repackage through the transcoder.
			d.Mode = types.ModeTranscode
			d.Container = "dash"
		} else {
			d.Mode = types.ModeDirectStream
			d.Container = target
		}
	default:
		d.Mode = types.ModeTranscode
		d.Container = "dash"
	}
	return d, nil
}

// betterCandidate implements the multi-part tie-break: fewest reasons,
// then largest rendition size, then largest part, then stacking order.
func betterCandidate(c, best *candidate) bool {
	if best == nil {
		return true
	}
	cn, bn := bits.OnesCount32(uint32(c.reasons)), bits.OnesCount32(uint32(best.reasons))
	if cn != bn {
		return cn < bn
	}
	if c.media.FileSizeBytes != best.media.FileSizeBytes {
		return c.media.FileSizeBytes > best.media.FileSizeBytes
	}
	if c.part.SizeBytes != best.part.SizeBytes {
		return c.part.SizeBytes > best.part.SizeBytes
	}
	return c.part.PartIndex < best.part.PartIndex
}

// evaluatePart selects the streams that would play and accumulates
// every mismatch between them and the profile.
func evaluatePart(media *database.MediaItem, part *database.MediaPart, profile *types.CapabilityProfile, prefs LanguagePrefs) *candidate {
	c := &candidate{media: media, part: part}

	c.video = firstVideoStream(part.Streams)
	c.audio = selectAudioStream(part.Streams, prefs.Audio)
	c.subtitle = selectSubtitleStream(part.Streams, c.audio, prefs.Subtitles)

	if !profile.SupportsContainer(media.Container) {
		c.reasons.Add(types.ReasonContainerNotSupported)
	}
	if c.video != nil {
		evaluateVideo(c.video, profile, &c.reasons)
	}
	if c.audio != nil {
		evaluateAudio(c.audio, profile, &c.reasons)
	}
	if c.subtitle != nil && !subtitleRenderable(c.subtitle, profile) {
		c.reasons.Add(types.ReasonSubtitleCodecNotSupported)
	}
	if profile.ForceTranscode {
		c.reasons.Add(types.ReasonUserRequested)
	}
	if media.IsDisc {
		// Disc structures cannot stream as-is regardless of the client.
		c.reasons.Add(types.ReasonServerConfiguration)
	}
	return c
}

func evaluateVideo(s *database.MediaStream, profile *types.CapabilityProfile, reasons *types.TranscodeReasons) {
	vc := profile.VideoFor(s.Codec)
	if vc == nil {
		reasons.Add(types.ReasonVideoCodecNotSupported)
	} else {
		if len(vc.Profiles) > 0 && s.Profile != "" && !containsFold(vc.Profiles, s.Profile) {
			reasons.Add(types.ReasonVideoProfileNotSupported)
		}
		if vc.MaxLevel > 0 && s.Level > vc.MaxLevel {
			reasons.Add(types.ReasonVideoLevelNotSupported)
		}
		if vc.MaxBitrateKbps > 0 && s.BitrateKbps > vc.MaxBitrateKbps {
			reasons.Add(types.ReasonVideoBitrateExceedsLimit)
		}
		if (vc.MaxWidth > 0 && s.Width > vc.MaxWidth) ||
			(vc.MaxHeight > 0 && s.Height > vc.MaxHeight) {
			reasons.Add(types.ReasonVideoResolutionExceedsLimit)
		}
		// MaxBitDepth zero means the client only takes 8-bit.
		maxDepth := vc.MaxBitDepth
		if maxDepth == 0 {
			maxDepth = 8
		}
		if s.BitDepth > maxDepth {
			reasons.Add(types.ReasonVideoBitDepthNotSupported)
		}
	}
	if s.HDRFormat != "" && !profile.SupportsHDR(s.HDRFormat) {
		reasons.Add(types.ReasonHdrNotSupported)
	}
}

func evaluateAudio(s *database.MediaStream, profile *types.CapabilityProfile, reasons *types.TranscodeReasons) {
	ac := profile.AudioFor(s.Codec)
	if ac == nil {
		reasons.Add(types.ReasonAudioCodecNotSupported)
		return
	}
	if ac.MaxChannels > 0 && s.Channels > ac.MaxChannels {
		reasons.Add(types.ReasonAudioChannelsNotSupported)
	}
	if ac.MaxSampleRate > 0 && s.SampleRate > ac.MaxSampleRate {
		reasons.Add(types.ReasonAudioSampleRateNotSupported)
	}
}

func firstVideoStream(streams []database.MediaStream) *database.MediaStream {
	for i := range streams {
		if streams[i].StreamType == database.StreamTypeVideo {
			return &streams[i]
		}
	}
	return nil
}

// selectAudioStream picks the track to play: first preferred language
// in order, then the default flag, then the first audio stream.
func selectAudioStream(streams []database.MediaStream, langs []string) *database.MediaStream {
	for _, lang := range langs {
		for i := range streams {
			if streams[i].StreamType == database.StreamTypeAudio && strings.EqualFold(streams[i].Language, lang) {
				return &streams[i]
			}
		}
	}
	var first *database.MediaStream
	for i := range streams {
		if streams[i].StreamType != database.StreamTypeAudio {
			continue
		}
		if streams[i].IsDefault {
			return &streams[i]
		}
		if first == nil {
			first = &streams[i]
		}
	}
	return first
}

// selectSubtitleStream only auto-selects forced subtitles: a forced
// track in the playing audio's language, then in a preferred language.
// Full subtitles stay off until the client asks for them.
func selectSubtitleStream(streams []database.MediaStream, audio *database.MediaStream, langs []string) *database.MediaStream {
	if audio != nil && audio.Language != "" {
		for i := range streams {
			if streams[i].StreamType == database.StreamTypeSubtitle && streams[i].IsForced &&
				strings.EqualFold(streams[i].Language, audio.Language) {
				return &streams[i]
			}
		}
	}
	for _, lang := range langs {
		for i := range streams {
			if streams[i].StreamType == database.StreamTypeSubtitle && streams[i].IsForced &&
				strings.EqualFold(streams[i].Language, lang) {
				return &streams[i]
			}
		}
	}
	return nil
}

// subtitleRenderable reports whether the client can draw the subtitle
// itself. Image-based codecs never qualify; they burn in.
func subtitleRenderable(s *database.MediaStream, profile *types.CapabilityProfile) bool {
	switch strings.ToLower(s.Codec) {
	case "hdmv_pgs_subtitle", "pgssub", "dvb_subtitle", "dvbsub", "dvd_subtitle", "dvdsub", "xsub":
		return false
	}
	return profile.SupportsSubtitleFormat(normalizeSubtitleCodec(s.Codec))
}

// normalizeSubtitleCodec maps ffprobe codec names onto the format names
// clients declare.
func normalizeSubtitleCodec(codec string) string {
	switch strings.ToLower(codec) {
	case "subrip":
		return "srt"
	case "webvtt":
		return "vtt"
	case "ssa":
		return "ass"
	case "mov_text":
		return "srt"
	default:
		return strings.ToLower(codec)
	}
}

func remuxTarget(profile *types.CapabilityProfile) string {
	for _, c := range remuxContainers {
		if profile.SupportsContainer(c) {
			return c
		}
	}
	return ""
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// Target derives the transcoder output from the decision: streams the
// client already decodes are copied, the rest land on the h264/aac web
// baseline clamped to the client's declared limits.
func (d *Decision) Target(profile *types.CapabilityProfile, toneMapping bool) types.TranscodeTarget {
	t := types.TranscodeTarget{
		Container:  "dash",
		VideoCodec: "copy",
		AudioCodec: "copy",
	}
	forced := d.Reasons.Has(types.ReasonUserRequested) || d.Reasons.Has(types.ReasonServerConfiguration)

	if forced || d.Reasons&videoReasons != 0 {
		t.VideoCodec = "h264"
		if vc := profile.VideoFor("h264"); vc != nil {
			t.VideoBitrateKbps = vc.MaxBitrateKbps
			if vc.MaxWidth > 0 && d.VideoStream != nil && d.VideoStream.Width > vc.MaxWidth {
				t.Width = vc.MaxWidth
			}
			if vc.MaxHeight > 0 && d.VideoStream != nil && d.VideoStream.Height > vc.MaxHeight {
				t.Height = vc.MaxHeight
			}
		}
		if d.Reasons.Has(types.ReasonHdrNotSupported) {
			t.ToneMapping = toneMapping
		}
	}
	if forced || d.Reasons&audioReasons != 0 {
		t.AudioCodec = "aac"
		t.AudioChannels = 2
		if ac := profile.AudioFor("aac"); ac != nil && ac.MaxChannels > 0 {
			t.AudioChannels = ac.MaxChannels
		}
	}
	return t
}

// Plan builds the wire stream plan for a decision. offsetMs is nonzero
// only on seek reloads.
func (d *Decision) Plan(offsetMs, endSuppressionMs int64) *types.StreamPlan {
	plan := &types.StreamPlan{
		Mode:                   d.Mode,
		MediaPartID:            d.Part.ID,
		Container:              d.Container,
		StreamOffsetMs:         offsetMs,
		EndSuppressionWindowMs: endSuppressionMs,
	}
	if d.VideoStream != nil {
		plan.VideoStreamIndex = intPtr(d.VideoStream.StreamIndex)
	}
	if d.AudioStream != nil {
		plan.AudioStreamIndex = intPtr(d.AudioStream.StreamIndex)
	}
	if d.SubtitleStream != nil {
		plan.SubtitleStreamIndex = intPtr(d.SubtitleStream.StreamIndex)
	}
	return plan
}

// PlanJSON is Plan marshaled for the decision payload.
func (d *Decision) PlanJSON(offsetMs, endSuppressionMs int64) (string, error) {
	raw, err := json.Marshal(d.Plan(offsetMs, endSuppressionMs))
	if err != nil {
		return "", fmt.Errorf("marshaling stream plan: %w", err)
	}
	return string(raw), nil
}

// PlaybackURL is the mode-dependent stream entry point handed to the
// client. The URL shapes are client contract; seek reloads derive their
// own URLs from them.
func (d *Decision) PlaybackURL() string {
	base := "/api/v1/playback/part/" + d.Part.ID
	switch d.Mode {
	case types.ModeDirectPlay:
		return base + "/file"
	case types.ModeDirectStream:
		return fmt.Sprintf("%s/remux-seek.%s?seekMs=0", base, d.Container)
	default:
		return base + "/dash/manifest.mpd"
	}
}

// TrickplayURL points at the part's BIF index; empty for pure audio.
func (d *Decision) TrickplayURL() string {
	if d.VideoStream == nil {
		return ""
	}
	return "/api/v1/playback/part/" + d.Part.ID + "/trickplay.bif"
}

// DecisionName is the session row's stored form of a play mode.
func DecisionName(mode types.PlayMode) string {
	switch mode {
	case types.ModeDirectPlay:
		return "direct_play"
	case types.ModeDirectStream:
		return "direct_stream"
	default:
		return "transcode"
	}
}

func intPtr(v int) *int { return &v }
