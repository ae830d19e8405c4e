package subtitlemodule

import (
	"bufio"
	"fmt"
	"html"
	"io"
	"strings"
)

// vttFormat handles WebVTT: the browser-native format every stream plan
// converts toward.
type vttFormat struct{}

func (vttFormat) Names() []string { return []string{"vtt", "webvtt"} }

func (vttFormat) Detect(head string) bool {
	lines := headLines(head, 1)
	return len(lines) > 0 && strings.HasPrefix(lines[0], "WEBVTT")
}

func (vttFormat) Parse(r io.Reader) ([]Cue, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var cues []Cue
	var cur *Cue
	var text []string
	skipBlock := false
	flush := func() {
		if cur != nil {
			cur.Text = vttText(strings.Join(text, "\n"))
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
		trimmed := strings.TrimSpace(line)
		switch {
		case skipBlock:
			skipBlock = trimmed != ""
		case cur == nil && blockHeader(trimmed):
			// WEBVTT header, NOTE, STYLE, and REGION blocks run to the
			// next blank line and carry no cues
			skipBlock = true
		case strings.Contains(line, "-->"):
			flush()
			start, end, err := parseArrowTimes(line)
			if err != nil {
				return nil, err
			}
			cur = &Cue{StartMs: start, EndMs: end}
		case trimmed == "":
			flush()
		case cur != nil:
			text = append(text, line)
		default:
			// cue identifier line; positions renumber on write
		}
	}
	flush()
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return cues, nil
}

func blockHeader(trimmed string) bool {
	return strings.HasPrefix(trimmed, "WEBVTT") ||
		strings.HasPrefix(trimmed, "NOTE") ||
		trimmed == "STYLE" || trimmed == "REGION"
}

// vttText drops voice and styling tags no other format can carry and
// resolves character entities.
func vttText(s string) string {
	return html.UnescapeString(ttmlTagRe.ReplaceAllString(s, ""))
}

func (vttFormat) Write(w io.Writer, cues []Cue) error {
	bw := bufio.NewWriter(w)
	fmt.Fprint(bw, "WEBVTT\n\n")
	for _, c := range cues {
		fmt.Fprintf(bw, "%s --> %s\n%s\n\n", vttClock(c.StartMs), vttClock(c.EndMs), c.Text)
	}
	return bw.Flush()
}

func vttClock(ms int64) string {
	return fmt.Sprintf("%02d:%02d:%02d.%03d",
		ms/3_600_000, ms/60_000%60, ms/1000%60, ms%1000)
}
