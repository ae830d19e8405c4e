package subtitlemodule

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// assFormat handles Advanced SubStation and its v4 predecessor. Only
// the [Events] section matters for conversion; styling overrides are
// stripped because no other text format can carry them.
type assFormat struct{}

func (assFormat) Names() []string { return []string{"ass", "ssa"} }

func (assFormat) Detect(head string) bool {
	lower := strings.ToLower(head)
	return strings.Contains(lower, "[script info]") || strings.Contains(lower, "dialogue:")
}

var assOverrideRe = regexp.MustCompile(`\{[^}]*\}`)

// assEventFields is the standard Dialogue field order, used when the
// file carries no Format line of its own.
var assEventFields = []string{"Layer", "Start", "End", "Style", "Name", "MarginL", "MarginR", "MarginV", "Effect", "Text"}

func (assFormat) Parse(r io.Reader) ([]Cue, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	fields := assEventFields
	inEvents := false
	var cues []Cue

	for sc.Scan() {
		line := strings.TrimSpace(strings.TrimSuffix(sc.Text(), "\r"))
		line = strings.TrimPrefix(line, "\ufeff")
		switch {
		case strings.HasPrefix(line, "["):
			inEvents = strings.EqualFold(line, "[events]")
		case inEvents && strings.HasPrefix(line, "Format:"):
			fields = splitASSFields(strings.TrimPrefix(line, "Format:"), -1)
		case inEvents && strings.HasPrefix(line, "Dialogue:"):
			cue, err := parseASSDialogue(strings.TrimPrefix(line, "Dialogue:"), fields)
			if err != nil {
				return nil, err
			}
			cues = append(cues, cue)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return cues, nil
}

// parseASSDialogue maps a Dialogue line onto the declared field order.
// The text field is always last and keeps its embedded commas.
func parseASSDialogue(line string, fields []string) (Cue, error) {
	values := splitASSFields(line, len(fields))
	if len(values) < len(fields) {
		return Cue{}, fmt.Errorf("subtitle: dialogue line has %d of %d fields: %q", len(values), len(fields), line)
	}
	var cue Cue
	for i, name := range fields {
		switch name {
		case "Start":
			start, err := parseClock(values[i])
			if err != nil {
				return Cue{}, err
			}
			cue.StartMs = start
		case "End":
			end, err := parseClock(values[i])
			if err != nil {
				return Cue{}, err
			}
			cue.EndMs = end
		case "Text":
			cue.Text = assText(values[i])
		}
	}
	return cue, nil
}

func splitASSFields(s string, n int) []string {
	parts := strings.SplitN(s, ",", n)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// assText flattens dialogue text: override blocks go away, hard and
// soft line breaks become real ones.
func assText(s string) string {
	s = assOverrideRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, `\N`, "\n")
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, `\h`, " ")
	return strings.TrimSpace(s)
}

const assHeader = `[Script Info]
ScriptType: v4.00+
WrapStyle: 0
ScaledBorderAndShadow: yes

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Default,Arial,20,&H00FFFFFF,&H000000FF,&H00000000,&H00000000,0,0,0,0,100,100,0,0,1,2,1,2,10,10,10,1

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
`

func (assFormat) Write(w io.Writer, cues []Cue) error {
	bw := bufio.NewWriter(w)
	fmt.Fprint(bw, assHeader)
	for _, c := range cues {
		text := strings.ReplaceAll(c.Text, "\n", `\N`)
		fmt.Fprintf(bw, "Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n", assClock(c.StartMs), assClock(c.EndMs), text)
	}
	return bw.Flush()
}

func assClock(ms int64) string {
	return fmt.Sprintf("%d:%02d:%02d.%02d",
		ms/3_600_000, ms/60_000%60, ms/1000%60, ms%1000/10)
}
