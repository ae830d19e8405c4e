package subtitlemodule

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// srtFormat handles SubRip, the lowest common denominator: numbered
// blocks of a comma-millisecond timing line and raw text.
type srtFormat struct{}

func (srtFormat) Names() []string { return []string{"srt", "subrip"} }

// Detect looks for an index line directly followed by an arrow timing
// line, which survives leading BOM and blank noise.
func (srtFormat) Detect(head string) bool {
	lines := headLines(head, 8)
	for i, line := range lines {
		if line == "" {
			continue
		}
		if _, err := strconv.Atoi(line); err == nil {
			return i+1 < len(lines) && strings.Contains(lines[i+1], "-->")
		}
		return strings.Contains(line, "-->")
	}
	return false
}

func (srtFormat) Parse(r io.Reader) ([]Cue, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var cues []Cue
	var cur *Cue
	var text []string
	flush := func() {
		if cur != nil {
			cur.Text = strings.Join(text, "\n")
			cues = append(cues, *cur)
		}
		cur, text = nil, nil
	}

	first := true
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		if first {
			line = strings.TrimPrefix(line, "\ufeff")
			first = false
		}
		switch {
		case strings.Contains(line, "-->"):
			// tolerate a missing blank separator before the next block;
			// the stray index line above this one is not cue text
			if cur != nil && len(text) > 0 {
				if _, err := strconv.Atoi(strings.TrimSpace(text[len(text)-1])); err == nil {
					text = text[:len(text)-1]
				}
			}
			flush()
			start, end, err := parseArrowTimes(line)
			if err != nil {
				return nil, err
			}
			cur = &Cue{StartMs: start, EndMs: end}
		case strings.TrimSpace(line) == "":
			flush()
		case cur == nil:
			// index line before the timing line; nothing to keep
		default:
			text = append(text, line)
		}
	}
	flush()
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return cues, nil
}

func (srtFormat) Write(w io.Writer, cues []Cue) error {
	bw := bufio.NewWriter(w)
	for i, c := range cues {
		fmt.Fprintf(bw, "%d\n%s --> %s\n%s\n\n", i+1, srtClock(c.StartMs), srtClock(c.EndMs), c.Text)
	}
	return bw.Flush()
}

func srtClock(ms int64) string {
	return fmt.Sprintf("%02d:%02d:%02d,%03d",
		ms/3_600_000, ms/60_000%60, ms/1000%60, ms%1000)
}
