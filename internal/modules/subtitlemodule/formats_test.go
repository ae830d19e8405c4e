package subtitlemodule

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseAs(t *testing.T, name, src string) []Cue {
	t.Helper()
	f, ok := formatByName(name)
	require.True(t, ok, name)
	cues, err := f.Parse(strings.NewReader(src))
	require.NoError(t, err)
	return cues
}

func writeAs(t *testing.T, name string, cues []Cue) string {
	t.Helper()
	f, ok := formatByName(name)
	require.True(t, ok, name)
	var b strings.Builder
	require.NoError(t, f.Write(&b, cues))
	return b.String()
}

func TestSRTRoundTrip(t *testing.T) {
	src := "1\n00:00:01,000 --> 00:00:04,000\nHello there.\n\n2\n00:00:05,500 --> 00:00:07,250\nTwo lines\nof text\n"
	cues := parseAs(t, "srt", src)
	require.Equal(t, []Cue{
		{StartMs: 1000, EndMs: 4000, Text: "Hello there."},
		{StartMs: 5500, EndMs: 7250, Text: "Two lines\nof text"},
	}, cues)

	out := writeAs(t, "srt", cues)
	assert.True(t, strings.HasPrefix(out, "1\n00:00:01,000 --> 00:00:04,000\n"), out)
	assert.Equal(t, cues, parseAs(t, "srt", out))
}

func TestSRTMissingBlankSeparator(t *testing.T) {
	src := "1\n00:00:01,000 --> 00:00:02,000\nFirst\n2\n00:00:03,000 --> 00:00:04,000\nSecond\n"
	cues := parseAs(t, "srt", src)
	require.Len(t, cues, 2)
	assert.Equal(t, "First", cues[0].Text)
	assert.Equal(t, "Second", cues[1].Text)
}

func TestVTTSkipsHeaderBlocksAndTags(t *testing.T) {
	src := strings.Join([]string{
		"WEBVTT - test file",
		"",
		"NOTE",
		"a comment block",
		"",
		"STYLE",
		"::cue { color: gold }",
		"",
		"intro",
		"00:00:00.000 --> 00:00:02.000",
		"<v Fred>Hi &amp; welcome",
		"",
		"00:00:03.000 --> 00:00:05.000 align:start",
		"Second cue",
		"",
	}, "\n")
	cues := parseAs(t, "vtt", src)
	require.Equal(t, []Cue{
		{StartMs: 0, EndMs: 2000, Text: "Hi & welcome"},
		{StartMs: 3000, EndMs: 5000, Text: "Second cue"},
	}, cues)

	out := writeAs(t, "vtt", cues)
	assert.True(t, strings.HasPrefix(out, "WEBVTT\n\n"), out)
	assert.Contains(t, out, "00:00:03.000 --> 00:00:05.000\nSecond cue\n")
}

func TestASSDialogue(t *testing.T) {
	src := strings.Join([]string{
		"[Script Info]",
		"Title: test",
		"",
		"[Events]",
		"Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text",
		`Dialogue: 0,0:00:01.00,0:00:04.00,Default,,0,0,0,,{\i1}Hello{\i0} there,\Nfriend`,
		"Dialogue: 0,0:01:00.50,0:01:02.00,Default,,0,0,0,,Second line",
	}, "\n")
	cues := parseAs(t, "ass", src)
	require.Equal(t, []Cue{
		{StartMs: 1000, EndMs: 4000, Text: "Hello there,\nfriend"},
		{StartMs: 60500, EndMs: 62000, Text: "Second line"},
	}, cues)

	out := writeAs(t, "ass", cues)
	assert.True(t, strings.HasPrefix(out, "[Script Info]"), out)
	assert.Contains(t, out, `Dialogue: 0,0:00:01.00,0:00:04.00,Default,,0,0,0,,Hello there,\Nfriend`)
	assert.Equal(t, cues, parseAs(t, "ass", out))
}

func TestASSCustomFormatOrder(t *testing.T) {
	src := "[Events]\nFormat: Start, End, Text\nDialogue: 0:00:01.00,0:00:02.50,Hi\n"
	cues := parseAs(t, "ssa", src)
	require.Equal(t, []Cue{{StartMs: 1000, EndMs: 2500, Text: "Hi"}}, cues)
}

func TestTTMLTimesAndEntities(t *testing.T) {
	src := `<?xml version="1.0" encoding="utf-8"?>
<tt xmlns="http://www.w3.org/ns/ttml">
  <body>
    <div>
      <p begin="00:00:01.000" end="00:00:04.000">Hello &amp; welcome<br/>friend</p>
      <p begin="5s" dur="1500ms">Offset times</p>
    </div>
  </body>
</tt>
`
	cues := parseAs(t, "ttml", src)
	require.Equal(t, []Cue{
		{StartMs: 1000, EndMs: 4000, Text: "Hello & welcome\nfriend"},
		{StartMs: 5000, EndMs: 6500, Text: "Offset times"},
	}, cues)

	out := writeAs(t, "ttml", cues)
	assert.Contains(t, out, `<p begin="00:00:01.000" end="00:00:04.000">Hello &amp; welcome<br/>friend</p>`)
	assert.Equal(t, cues, parseAs(t, "ttml", out))
}

func TestTTMLParagraphWithoutEndFails(t *testing.T) {
	src := `<tt xmlns="http://www.w3.org/ns/ttml"><body><div><p begin="1s">floating</p></div></body></tt>`
	f, _ := formatByName("ttml")
	_, err := f.Parse(strings.NewReader(src))
	assert.ErrorContains(t, err, "neither end nor dur")
}

func TestSMISyncBlocks(t *testing.T) {
	src := strings.Join([]string{
		"<SAMI>",
		"<HEAD><TITLE>test</TITLE></HEAD>",
		"<BODY>",
		`<SYNC Start=1000><P Class=ENUSCC>Hello<br>world</P></SYNC>`,
		`<SYNC Start=3000><P Class=ENUSCC>&nbsp;</P></SYNC>`,
		`<SYNC Start=5000><P>Second</P></SYNC>`,
		"</BODY>",
		"</SAMI>",
	}, "\n")
	cues := parseAs(t, "smi", src)
	require.Equal(t, []Cue{
		{StartMs: 1000, EndMs: 3000, Text: "Hello\nworld"},
		{StartMs: 5000, EndMs: 5000 + smiDefaultHoldMs, Text: "Second"},
	}, cues)
}

func TestSMIRoundTrip(t *testing.T) {
	cues := []Cue{
		{StartMs: 1000, EndMs: 3000, Text: "Hi"},
		{StartMs: 3000, EndMs: 4000, Text: "Back to back"},
	}
	out := writeAs(t, "smi", cues)
	assert.Contains(t, out, "<SYNC Start=1000>")
	assert.Contains(t, out, "<SYNC Start=4000><P>&nbsp;</P></SYNC>")
	assert.Equal(t, cues, parseAs(t, "sami", out))
}

func TestMicroDVDFrameRateHeader(t *testing.T) {
	src := "{1}{1}25\n{25}{50}Hello|world\n{100}{200}Second {y:i}line\n"
	cues := parseAs(t, "sub", src)
	require.Equal(t, []Cue{
		{StartMs: 1000, EndMs: 2000, Text: "Hello\nworld"},
		{StartMs: 4000, EndMs: 8000, Text: "Second line"},
	}, cues)
}

func TestMicroDVDDefaultFrameRate(t *testing.T) {
	cues := parseAs(t, "sub", "{24}{48}Hi\n")
	require.Len(t, cues, 1)
	assert.EqualValues(t, 1001, cues[0].StartMs)
	assert.EqualValues(t, 2002, cues[0].EndMs)
}

func TestMicroDVDWrite(t *testing.T) {
	out := writeAs(t, "sub", []Cue{{StartMs: 1000, EndMs: 2000, Text: "Hello\nworld"}})
	assert.Equal(t, "{1}{1}23.976\n{24}{48}Hello|world\n", out)
}

func TestDetectFormat(t *testing.T) {
	cases := map[string]string{
		"WEBVTT\n\n00:00:01.000 --> 00:00:02.000\nHi": "vtt",
		"[Script Info]\nTitle: x":                     "ass",
		`<?xml version="1.0"?><tt xmlns="http://www.w3.org/ns/ttml">`:     "ttml",
		"<SAMI>\n<HEAD>":                          "smi",
		"{1}{50}Hello":                            "sub",
		"1\n00:00:01,000 --> 00:00:02,000\nHi":    "srt",
		"\uFEFF1\r\n00:00:01,000 --> 00:00:02,000": "srt",
	}
	for head, want := range cases {
		f, ok := detectFormat(head)
		require.True(t, ok, head)
		assert.Equal(t, want, f.Names()[0], head)
	}

	_, ok := detectFormat("just some prose, nothing structured")
	assert.False(t, ok)
}

func TestFormatByName(t *testing.T) {
	for _, name := range []string{"vtt", "webvtt", "srt", "subrip", "ass", "ssa", "ttml", "smi", "sami", "sub", ".VTT", " srt "} {
		_, ok := formatByName(name)
		assert.True(t, ok, name)
	}
	_, ok := formatByName("mkv")
	assert.False(t, ok)
}

func TestParseClock(t *testing.T) {
	cases := map[string]int64{
		"00:00:01,000": 1000,
		"00:01:02.500": 62500,
		"0:00:05.20":   5200,
		"00:00:01.5":   1500,
		"01:02":        62000,
		"1:02:03":      3723000,
	}
	for in, want := range cases {
		got, err := parseClock(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"abc", "12", "00:00:01.5000", "00:-1:00", "::"} {
		_, err := parseClock(in)
		assert.Error(t, err, in)
	}
}

func TestFilterWindowDropsAndClamps(t *testing.T) {
	cues := []Cue{
		{StartMs: 0, EndMs: 1000, Text: "before"},
		{StartMs: 3000, EndMs: 5000, Text: "touches start"},
		{StartMs: 5500, EndMs: 7000, Text: "inside"},
		{StartMs: 9000, EndMs: 11000, Text: "spans end"},
		{StartMs: 12000, EndMs: 13000, Text: "after"},
	}
	got := filterWindow(cues, 5000, 10000)
	require.Equal(t, []Cue{
		{StartMs: 0, EndMs: 0, Text: "touches start"},
		{StartMs: 500, EndMs: 2000, Text: "inside"},
		{StartMs: 4000, EndMs: 5000, Text: "spans end"},
	}, got)
}
