package types

import "strings"

// PlayMode is how a stream is delivered to the client
type PlayMode int

const (
	ModeDirectPlay   PlayMode = 0 // Raw file, no server processing
	ModeDirectStream PlayMode = 1 // Container remux, streams copied
	ModeTranscode    PlayMode = 2 // Full transcode to DASH
)

func (m PlayMode) String() string {
	switch m {
	case ModeDirectPlay:
		return "DirectPlay"
	case ModeDirectStream:
		return "DirectStream"
	case ModeTranscode:
		return "Transcode"
	default:
		return "Unknown"
	}
}

// TranscodeReasons is a bitset of everything standing between a media
// part and direct play. Empty means the client can take the raw file.
type TranscodeReasons uint32

const (
	ReasonContainerNotSupported TranscodeReasons = 1 << iota
	ReasonVideoCodecNotSupported
	ReasonAudioCodecNotSupported
	ReasonVideoProfileNotSupported
	ReasonVideoLevelNotSupported
	ReasonVideoBitrateExceedsLimit
	ReasonVideoResolutionExceedsLimit
	ReasonVideoBitDepthNotSupported
	ReasonAudioChannelsNotSupported
	ReasonAudioSampleRateNotSupported
	ReasonSubtitleCodecNotSupported
	ReasonHdrNotSupported
	ReasonUserRequested
	ReasonServerConfiguration
)

var reasonNames = map[TranscodeReasons]string{
	ReasonContainerNotSupported:       "ContainerNotSupported",
	ReasonVideoCodecNotSupported:      "VideoCodecNotSupported",
	ReasonAudioCodecNotSupported:      "AudioCodecNotSupported",
	ReasonVideoProfileNotSupported:    "VideoProfileNotSupported",
	ReasonVideoLevelNotSupported:      "VideoLevelNotSupported",
	ReasonVideoBitrateExceedsLimit:    "VideoBitrateExceedsLimit",
	ReasonVideoResolutionExceedsLimit: "VideoResolutionExceedsLimit",
	ReasonVideoBitDepthNotSupported:   "VideoBitDepthNotSupported",
	ReasonAudioChannelsNotSupported:   "AudioChannelsNotSupported",
	ReasonAudioSampleRateNotSupported: "AudioSampleRateNotSupported",
	ReasonSubtitleCodecNotSupported:   "SubtitleCodecNotSupported",
	ReasonHdrNotSupported:             "HdrNotSupported",
	ReasonUserRequested:               "UserRequested",
	ReasonServerConfiguration:         "ServerConfiguration",
}

// Add sets a reason bit
func (r *TranscodeReasons) Add(reason TranscodeReasons) {
	*r |= reason
}

// Has reports whether a reason bit is set
func (r TranscodeReasons) Has(reason TranscodeReasons) bool {
	return r&reason != 0
}

// IsEmpty reports whether nothing blocks direct play
func (r TranscodeReasons) IsEmpty() bool {
	return r == 0
}

// ContainerOnly reports whether the container is the one and only
// mismatch, which a remux fixes without touching the streams
func (r TranscodeReasons) ContainerOnly() bool {
	return r == ReasonContainerNotSupported
}

func (r TranscodeReasons) String() string {
	if r == 0 {
		return "None"
	}
	var names []string
	for bit := TranscodeReasons(1); bit <= ReasonServerConfiguration; bit <<= 1 {
		if r.Has(bit) {
			names = append(names, reasonNames[bit])
		}
	}
	return strings.Join(names, "|")
}

// VideoCapability declares what a client can decode for one video codec
type VideoCapability struct {
	Codec          string   `json:"codec"`
	Profiles       []string `json:"profiles,omitempty"`       // Empty means any profile
	MaxLevel       int      `json:"maxLevel,omitempty"`       // ffprobe form, 41 = 4.1; 0 means any
	MaxBitrateKbps int      `json:"maxBitrateKbps,omitempty"` // 0 means unlimited
	MaxWidth       int      `json:"maxWidth,omitempty"`
	MaxHeight      int      `json:"maxHeight,omitempty"`
	MaxBitDepth    int      `json:"maxBitDepth,omitempty"` // 0 means 8-bit only
}

// AudioCapability declares what a client can decode for one audio codec
type AudioCapability struct {
	Codec         string `json:"codec"`
	MaxChannels   int    `json:"maxChannels,omitempty"`   // 0 means any layout
	MaxSampleRate int    `json:"maxSampleRate,omitempty"` // 0 means any rate
}

// CapabilityProfile is the client's decoder declaration, versioned per
// session. The version only moves forward; the server caches the last
// profile it saw and flags a mismatch when the client's version differs.
type CapabilityProfile struct {
	Version         int64             `json:"version"`
	Containers      []string          `json:"containers"`
	Video           []VideoCapability `json:"video"`
	Audio           []AudioCapability `json:"audio"`
	SubtitleFormats []string          `json:"subtitleFormats,omitempty"` // Text formats renderable client-side
	HDRFormats      []string          `json:"hdrFormats,omitempty"`      // Empty means tone-map everything
	ForceTranscode  bool              `json:"forceTranscode,omitempty"`  // Client asks for transcode regardless
}

// SupportsContainer checks the container list case-insensitively
func (p *CapabilityProfile) SupportsContainer(container string) bool {
	for _, c := range p.Containers {
		if strings.EqualFold(c, container) {
			return true
		}
	}
	return false
}

// VideoFor returns the declared capability for a video codec, nil when
// the codec is not decodable at all
func (p *CapabilityProfile) VideoFor(codec string) *VideoCapability {
	for i := range p.Video {
		if strings.EqualFold(p.Video[i].Codec, codec) {
			return &p.Video[i]
		}
	}
	return nil
}

// AudioFor returns the declared capability for an audio codec, nil when
// the codec is not decodable at all
func (p *CapabilityProfile) AudioFor(codec string) *AudioCapability {
	for i := range p.Audio {
		if strings.EqualFold(p.Audio[i].Codec, codec) {
			return &p.Audio[i]
		}
	}
	return nil
}

// SupportsHDR checks whether the client accepts an HDR format untouched
func (p *CapabilityProfile) SupportsHDR(format string) bool {
	for _, f := range p.HDRFormats {
		if strings.EqualFold(f, format) {
			return true
		}
	}
	return false
}

// SupportsSubtitleFormat checks the text subtitle list
func (p *CapabilityProfile) SupportsSubtitleFormat(format string) bool {
	for _, f := range p.SubtitleFormats {
		if strings.EqualFold(f, format) {
			return true
		}
	}
	return false
}

// StreamPlan is the wire description of how one playback is delivered.
// Field names are part of the client contract; Mode serializes numeric
// but clients treat the string form as equivalent.
type StreamPlan struct {
	Mode        PlayMode `json:"Mode"`
	MediaPartID string   `json:"MediaPartId"`
	Container   string   `json:"Container"`

	VideoStreamIndex    *int `json:"VideoStreamIndex,omitempty"`
	AudioStreamIndex    *int `json:"AudioStreamIndex,omitempty"`
	SubtitleStreamIndex *int `json:"SubtitleStreamIndex,omitempty"`

	StreamOffsetMs         int64 `json:"StreamOffsetMs"`         // Nonzero after a seek reload
	EndSuppressionWindowMs int64 `json:"EndSuppressionWindowMs"` // Ignore premature ended events inside this window
}

// PlaybackAction tells the client what to do with the decision
type PlaybackAction string

const (
	ActionPlay PlaybackAction = "play"
	ActionNext PlaybackAction = "next"
	ActionStop PlaybackAction = "stop"
)

// DecideRequest is the client's playback mutation input
type DecideRequest struct {
	MetadataItemID string             `json:"metadataItemId"`
	MediaItemID    string             `json:"mediaItemId,omitempty"` // Pre-selected rendition, optional
	ClientID       string             `json:"clientId"`
	SessionID      string             `json:"playbackSessionId,omitempty"`
	Profile        *CapabilityProfile `json:"capabilityProfile,omitempty"`
	ProfileVersion int64              `json:"capabilityProfileVersion"`

	// Heartbeat fields
	Status        string `json:"status,omitempty"` // playing, paused, buffering, ended, stopped
	ProgressMs    int64  `json:"progressMs,omitempty"`
	CurrentItemID string `json:"currentItemId,omitempty"`
}

// DecideResponse is the decision payload handed back to the client
type DecideResponse struct {
	Action                    PlaybackAction `json:"action"`
	SessionID                 string         `json:"playbackSessionId,omitempty"`
	StreamPlanJSON            string         `json:"streamPlanJson,omitempty"`
	PlaybackURL               string         `json:"playbackUrl,omitempty"`
	TrickplayURL              string         `json:"trickplayUrl,omitempty"`
	NextItemID                string         `json:"nextItemId,omitempty"`
	NextItemTitle             string         `json:"nextItemTitle,omitempty"`
	CapabilityProfileVersion  int64          `json:"capabilityProfileVersion"`
	CapabilityVersionMismatch bool           `json:"capabilityVersionMismatch"`
}

// SeekResult is the keyframe-aligned answer to a seek request
type SeekResult struct {
	SeekTimeMs int64 `json:"seekTimeMs"` // Nearest keyframe at or before the target
}
