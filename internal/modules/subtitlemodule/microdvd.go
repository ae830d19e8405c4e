package subtitlemodule

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// microdvdFormat handles the frame-addressed MicroDVD format. Files may
// declare their frame rate in a {1}{1}fps first line; without one the
// NTSC film rate applies.
type microdvdFormat struct{}

func (microdvdFormat) Names() []string { return []string{"sub", "microdvd"} }

const microdvdDefaultFPS = 23.976

var microdvdLineRe = regexp.MustCompile(`^\{(\d+)\}\{(\d+)\}(.*)$`)

func (microdvdFormat) Detect(head string) bool {
	for _, line := range headLines(head, 5) {
		if line == "" {
			continue
		}
		return microdvdLineRe.MatchString(line)
	}
	return false
}

func (microdvdFormat) Parse(r io.Reader) ([]Cue, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	fps := float64(microdvdDefaultFPS)
	var cues []Cue
	sawContent := false
	for sc.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\uFEFF"))
		if line == "" {
			continue
		}
		m := microdvdLineRe.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("subtitle: bad microdvd line %q", line)
		}
		start, err1 := strconv.ParseInt(m[1], 10, 64)
		end, err2 := strconv.ParseInt(m[2], 10, 64)
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("subtitle: bad microdvd frames in %q", line)
		}

		// {1}{1}25.0 as the first content line declares the frame rate.
		if !sawContent {
			sawContent = true
			if start == end {
				if rate, err := strconv.ParseFloat(strings.TrimSpace(m[3]), 64); err == nil && rate > 0 {
					fps = rate
					continue
				}
			}
		}

		cues = append(cues, Cue{
			StartMs: microdvdMs(start, fps),
			EndMs:   microdvdMs(end, fps),
			Text:    microdvdText(m[3]),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return cues, nil
}

func microdvdMs(frame int64, fps float64) int64 {
	return int64(math.Round(float64(frame) * 1000 / fps))
}

func microdvdFrame(ms int64, fps float64) int64 {
	return int64(math.Round(float64(ms) * fps / 1000))
}

// microdvdText splits pipe-separated lines and drops {y:i}-style
// control codes.
func microdvdText(s string) string {
	s = assOverrideRe.ReplaceAllString(s, "")
	lines := strings.Split(s, "|")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return strings.Join(lines, "\n")
}

func (microdvdFormat) Write(w io.Writer, cues []Cue) error {
	var b strings.Builder
	fmt.Fprintf(&b, "{1}{1}%g\n", float64(microdvdDefaultFPS))
	for _, c := range cues {
		text := strings.ReplaceAll(c.Text, "\n", "|")
		fmt.Fprintf(&b, "{%d}{%d}%s\n", microdvdFrame(c.StartMs, microdvdDefaultFPS), microdvdFrame(c.EndMs, microdvdDefaultFPS), text)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
