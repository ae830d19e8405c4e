package subtitlemodule

import (
	"fmt"
	"html"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// smiFormat handles SAMI. The format has no end times: a cue shows
// until the next sync point, conventionally a block holding only a
// non-breaking space.
type smiFormat struct{}

func (smiFormat) Names() []string { return []string{"smi", "sami"} }

// smiDefaultHoldMs closes a final cue that no sync point terminates.
const smiDefaultHoldMs = 4000

var (
	smiSyncRe = regexp.MustCompile(`(?i)<sync[^>]*start\s*=\s*"?(\d+)`)
	smiParaRe = regexp.MustCompile(`(?i)<p[^>]*>`)
)

func (smiFormat) Detect(head string) bool {
	return strings.Contains(strings.ToLower(head), "<sami")
}

func (smiFormat) Parse(r io.Reader) ([]Cue, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	doc := string(raw)

	matches := smiSyncRe.FindAllStringSubmatchIndex(doc, -1)
	var cues []Cue
	var open *Cue
	for i, m := range matches {
		startMs, err := strconv.ParseInt(doc[m[2]:m[3]], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("subtitle: bad sami sync time: %w", err)
		}
		blockEnd := len(doc)
		if i+1 < len(matches) {
			blockEnd = matches[i+1][0]
		}
		text := smiText(doc[m[1]:blockEnd])

		if open != nil {
			open.EndMs = startMs
			cues = append(cues, *open)
			open = nil
		}
		if text != "" {
			open = &Cue{StartMs: startMs, Text: text}
		}
	}
	if open != nil {
		open.EndMs = open.StartMs + smiDefaultHoldMs
		cues = append(cues, *open)
	}
	return cues, nil
}

// smiText pulls the paragraph content out of one sync block: tags
// dropped, entities resolved, the non-breaking-space terminator
// reading as empty.
func smiText(block string) string {
	if loc := smiParaRe.FindStringIndex(block); loc != nil {
		block = block[loc[1]:]
	}
	block = ttmlBreakRe.ReplaceAllString(block, "\n")
	block = ttmlTagRe.ReplaceAllString(block, "")
	block = html.UnescapeString(block)
	block = strings.ReplaceAll(block, "\u00a0", " ")

	lines := strings.Split(block, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func (smiFormat) Write(w io.Writer, cues []Cue) error {
	var b strings.Builder
	b.WriteString("<SAMI>\n<HEAD>\n<STYLE TYPE=\"text/css\"><!-- P { font-family: sans-serif; } --></STYLE>\n</HEAD>\n<BODY>\n")
	for i, c := range cues {
		text := strings.ReplaceAll(html.EscapeString(c.Text), "\n", "<br>")
		fmt.Fprintf(&b, "<SYNC Start=%d><P>%s</P></SYNC>\n", c.StartMs, text)
		// close the cue unless the next one starts the moment it ends
		if i+1 >= len(cues) || cues[i+1].StartMs != c.EndMs {
			fmt.Fprintf(&b, "<SYNC Start=%d><P>&nbsp;</P></SYNC>\n", c.EndMs)
		}
	}
	b.WriteString("</BODY>\n</SAMI>\n")
	_, err := io.WriteString(w, b.String())
	return err
}
