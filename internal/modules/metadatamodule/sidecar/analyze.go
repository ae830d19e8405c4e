package sidecar

import (
	"context"

	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/ffmpeg"
	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
)

// FFprobeAnalyzer produces the technical stream readout for video and
// audio files by shelling out to ffprobe.
type FFprobeAnalyzer struct {
	ff *ffmpeg.Client
}

func NewFFprobeAnalyzer(ff *ffmpeg.Client) *FFprobeAnalyzer {
	return &FFprobeAnalyzer{ff: ff}
}

func (a *FFprobeAnalyzer) Name() string { return "ffprobe" }

func (a *FFprobeAnalyzer) LibraryTypes() []string {
	return []string{database.LibraryTypeMovie, database.LibraryTypeTV, database.LibraryTypeMusic}
}

func (a *FFprobeAnalyzer) Analyze(ctx context.Context, path string) (*parts.MediaInfo, error) {
	info, err := a.ff.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	return &parts.MediaInfo{
		Container:  info.Container,
		DurationMs: info.DurationMs,
		BitrateBps: info.BitrateBps,
		SizeBytes:  info.SizeBytes,
		Streams:    info.Streams,
	}, nil
}
