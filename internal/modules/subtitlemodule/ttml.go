package subtitlemodule

import (
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// ttmlFormat handles Timed Text Markup Language, the XML format smart
// TVs and broadcast sidecars arrive in.
type ttmlFormat struct{}

func (ttmlFormat) Names() []string { return []string{"ttml"} }

func (ttmlFormat) Detect(head string) bool {
	lower := strings.ToLower(head)
	return strings.Contains(lower, "<tt ") || strings.Contains(lower, "<tt:") || strings.Contains(lower, "<tt>")
}

type ttmlDoc struct {
	XMLName xml.Name `xml:"tt"`
	Body    struct {
		Paras []ttmlPara `xml:"p"`
		Divs  []struct {
			Paras []ttmlPara `xml:"p"`
		} `xml:"div"`
	} `xml:"body"`
}

type ttmlPara struct {
	Begin string `xml:"begin,attr"`
	End   string `xml:"end,attr"`
	Dur   string `xml:"dur,attr"`
	Inner string `xml:",innerxml"`
}

var (
	ttmlBreakRe = regexp.MustCompile(`(?i)<br\s*/?\s*>`)
	ttmlTagRe   = regexp.MustCompile(`<[^>]*>`)
)

func (ttmlFormat) Parse(r io.Reader) ([]Cue, error) {
	var doc ttmlDoc
	dec := xml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("subtitle: parse ttml: %w", err)
	}

	paras := doc.Body.Paras
	for _, div := range doc.Body.Divs {
		paras = append(paras, div.Paras...)
	}

	cues := make([]Cue, 0, len(paras))
	for _, p := range paras {
		start, err := parseTTMLTime(p.Begin)
		if err != nil {
			return nil, err
		}
		var end int64
		switch {
		case p.End != "":
			if end, err = parseTTMLTime(p.End); err != nil {
				return nil, err
			}
		case p.Dur != "":
			dur, err := parseTTMLTime(p.Dur)
			if err != nil {
				return nil, err
			}
			end = start + dur
		default:
			return nil, fmt.Errorf("subtitle: ttml paragraph at %s has neither end nor dur", p.Begin)
		}
		cues = append(cues, Cue{StartMs: start, EndMs: end, Text: ttmlText(p.Inner)})
	}
	return cues, nil
}

// parseTTMLTime accepts clock times ("00:01:02.500") and offset times
// ("62.5s", "62500ms").
func parseTTMLTime(s string) (int64, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return 0, fmt.Errorf("subtitle: empty ttml time")
	case strings.Contains(s, ":"):
		return parseClock(s)
	case strings.HasSuffix(s, "ms"):
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "ms"), 64)
		if err != nil {
			return 0, fmt.Errorf("subtitle: bad ttml time %q", s)
		}
		return int64(v), nil
	case strings.HasSuffix(s, "s"):
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "s"), 64)
		if err != nil {
			return 0, fmt.Errorf("subtitle: bad ttml time %q", s)
		}
		return int64(v * 1000), nil
	default:
		return 0, fmt.Errorf("subtitle: bad ttml time %q", s)
	}
}

func ttmlText(inner string) string {
	s := ttmlBreakRe.ReplaceAllString(inner, "\n")
	s = ttmlTagRe.ReplaceAllString(s, "")
	lines := strings.Split(html.UnescapeString(s), "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func (ttmlFormat) Write(w io.Writer, cues []Cue) error {
	var b strings.Builder
	b.WriteString(xml.Header)
	b.WriteString("<tt xmlns=\"http://www.w3.org/ns/ttml\">\n  <body>\n    <div>\n")
	for _, c := range cues {
		b.WriteString(fmt.Sprintf("      <p begin=%q end=%q>%s</p>\n",
			vttClock(c.StartMs), vttClock(c.EndMs), ttmlEscape(c.Text)))
	}
	b.WriteString("    </div>\n  </body>\n</tt>\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func ttmlEscape(text string) string {
	lines := strings.Split(text, "\n")
	escaped := make([]string, len(lines))
	for i, line := range lines {
		var sb strings.Builder
		xml.EscapeText(&sb, []byte(line))
		escaped[i] = sb.String()
	}
	return strings.Join(escaped, "<br/>")
}
