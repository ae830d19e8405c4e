// Package subtitlemodule converts text subtitles between formats and
// extracts embedded streams out of media files. Text formats are parsed
// into a flat cue list and rewritten; image formats (PGS and friends)
// cannot be converted in text form and go through ffmpeg instead.
package subtitlemodule

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// TicksPerMillisecond is the wire unit of subtitle time windows: clients
// address the timeline in 100ns ticks.
const TicksPerMillisecond = 10_000

// Cue is one subtitle event. Text holds lines joined by \n with inline
// styling stripped down to what every target format can carry.
type Cue struct {
	StartMs int64
	EndMs   int64
	Text    string
}

// Format parses and writes one subtitle codec.
type Format interface {
	// Names lists the registry keys the codec answers to; the first is
	// canonical.
	Names() []string

	// Detect reports whether the head of a file looks like this format.
	Detect(head string) bool

	Parse(r io.Reader) ([]Cue, error)
	Write(w io.Writer, cues []Cue) error
}

// Detection runs in declaration order, most distinctive headers first.
var formats = []Format{
	vttFormat{},
	assFormat{},
	ttmlFormat{},
	smiFormat{},
	microdvdFormat{},
	srtFormat{},
}

var registry = map[string]Format{}

func init() {
	for _, f := range formats {
		for _, name := range f.Names() {
			registry[name] = f
		}
	}
}

// formatByName resolves a format key or file extension.
func formatByName(name string) (Format, bool) {
	f, ok := registry[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "."))]
	return f, ok
}

// detectFormat sniffs the head of a file against every known codec.
func detectFormat(head string) (Format, bool) {
	for _, f := range formats {
		if f.Detect(head) {
			return f, true
		}
	}
	return nil, false
}

// filterWindow keeps cues overlapping [startMs, endMs] and rebases them
// onto the window start. A cue merely touching a boundary survives as a
// zero-length stay at the edge; no time leaves [0, endMs-startMs].
func filterWindow(cues []Cue, startMs, endMs int64) []Cue {
	length := endMs - startMs
	out := make([]Cue, 0, len(cues))
	for _, c := range cues {
		if c.EndMs < startMs || c.StartMs > endMs {
			continue
		}
		c.StartMs = clampWindow(c.StartMs-startMs, length)
		c.EndMs = clampWindow(c.EndMs-startMs, length)
		out = append(out, c)
	}
	return out
}

func clampWindow(v, length int64) int64 {
	if v < 0 {
		return 0
	}
	if v > length {
		return length
	}
	return v
}

// parseClock parses "[HH:]MM:SS" plus an optional fractional part into
// milliseconds. The fraction reads as milliseconds when three digits,
// centiseconds when two, tenths when one, covering the SRT, VTT, and
// ASS spellings.
func parseClock(s string) (int64, error) {
	s = strings.TrimSpace(s)
	main := s
	var frac string
	if i := strings.IndexAny(s, ",."); i >= 0 {
		main, frac = s[:i], s[i+1:]
	}

	fields := strings.Split(main, ":")
	if len(fields) < 2 || len(fields) > 3 {
		return 0, fmt.Errorf("subtitle: bad timecode %q", s)
	}
	var total int64
	for _, field := range fields {
		n, err := strconv.Atoi(field)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("subtitle: bad timecode %q", s)
		}
		total = total*60 + int64(n)
	}
	total *= 1000

	if frac != "" {
		n, err := strconv.Atoi(frac)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("subtitle: bad timecode %q", s)
		}
		switch len(frac) {
		case 3:
			total += int64(n)
		case 2:
			total += int64(n) * 10
		case 1:
			total += int64(n) * 100
		default:
			return 0, fmt.Errorf("subtitle: bad timecode fraction %q", s)
		}
	}
	return total, nil
}

// parseArrowTimes splits an "00:00:01,000 --> 00:00:04,000" timing line;
// trailing cue settings after the end time are ignored.
func parseArrowTimes(line string) (startMs, endMs int64, err error) {
	left, right, found := strings.Cut(line, "-->")
	if !found {
		return 0, 0, fmt.Errorf("subtitle: no arrow in timing line %q", line)
	}
	start, err := parseClock(left)
	if err != nil {
		return 0, 0, err
	}
	endFields := strings.Fields(right)
	if len(endFields) == 0 {
		return 0, 0, fmt.Errorf("subtitle: timing line %q has no end time", line)
	}
	end, err := parseClock(endFields[0])
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// headLines returns up to n trimmed lines from the head of a file for
// format sniffing.
func headLines(head string, n int) []string {
	lines := strings.Split(strings.TrimPrefix(head, "\ufeff"), "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	for i := range lines {
		lines[i] = strings.TrimSpace(strings.TrimSuffix(lines[i], "\r"))
	}
	return lines
}
