package ffmpeg

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Progress is one snapshot from ffmpeg's -progress output.
type Progress struct {
	Frame      int64
	FPS        float64
	OutTimeMs  int64
	TotalSize  int64
	BitrateBps int64
	Speed      float64
	Done       bool
}

// ProgressParser accumulates the key=value lines ffmpeg writes under
// -progress pipe:1 and emits a snapshot at each "progress=" terminator.
type ProgressParser struct {
	cur Progress
}

// Feed consumes one line. ok is true when the line completed a snapshot.
func (p *ProgressParser) Feed(line string) (Progress, bool) {
	key, value, found := strings.Cut(strings.TrimSpace(line), "=")
	if !found {
		return Progress{}, false
	}
	value = strings.TrimSpace(value)

	switch key {
	case "frame":
		p.cur.Frame = atoi64(value)
	case "fps":
		p.cur.FPS = atof(value)
	case "out_time_ms", "out_time_us":
		// Both keys carry microseconds; the _ms name is an ffmpeg quirk.
		p.cur.OutTimeMs = atoi64(value) / 1000
	case "total_size":
		p.cur.TotalSize = atoi64(value)
	case "bitrate":
		// "934.2kbits/s"
		p.cur.BitrateBps = int64(atof(strings.TrimSuffix(value, "kbits/s")) * 1000)
	case "speed":
		p.cur.Speed = atof(strings.TrimSuffix(value, "x"))
	case "progress":
		snapshot := p.cur
		snapshot.Done = value == "end"
		return snapshot, true
	}
	return Progress{}, false
}

// ReadProgress pumps a -progress pipe through the parser, invoking fn for
// every completed snapshot until the pipe closes.
func ReadProgress(r io.Reader, fn func(Progress)) error {
	parser := &ProgressParser{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if snapshot, ok := parser.Feed(scanner.Text()); ok {
			fn(snapshot)
		}
	}
	return scanner.Err()
}

func atoi64(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func atof(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
