package format

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
)

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(w, " ")
}

func TestPages_CountAndOrder(t *testing.T) {
	for _, n := range []int{0, 1, 349, 350, 351, 700, 701, 1234} {
		text := words(n)
		pages := Pages(text)

		want := (n + WordsPerPage - 1) / WordsPerPage
		if n == 0 {
			want = 1
		}
		if len(pages) != want {
			t.Fatalf("n=%d: got %d pages, want %d", n, len(pages), want)
		}
		var all []string
		for i, p := range pages {
			if p.Number != i+1 {
				t.Fatalf("n=%d: page %d numbered %d", n, i, p.Number)
			}
			if len(p.Tokens) > WordsPerPage {
				t.Fatalf("n=%d: page %d has %d tokens", n, i, len(p.Tokens))
			}
			all = append(all, p.Tokens...)
		}
		if strings.Join(all, " ") != text {
			t.Fatalf("n=%d: concatenated pages do not reproduce the token sequence", n)
		}
	}
}

func TestPages_WhitespaceOnlyIsOneEmptyPage(t *testing.T) {
	pages := Pages(" \n\t ")
	if len(pages) != 1 || len(pages[0].Tokens) != 0 || pages[0].Text() != "" {
		t.Fatalf("pages = %+v", pages)
	}
}

func TestPages_CollapsesWhitespace(t *testing.T) {
	pages := PagesOf("a  b\n\nc\td", 3)
	if len(pages) != 2 || pages[0].Text() != "a b c" || pages[1].Text() != "d" {
		t.Fatalf("pages = %+v", pages)
	}
	if got := PagesOf("a b", 0); len(got) != 2 {
		t.Fatalf("size 0 should behave as size 1, got %d pages", len(got))
	}
}

func TestSentences(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"Hello world. Bye now.", []string{"Hello world.", "Bye now."}},
		{"Really?! Yes... ok!", []string{"Really?!", "Yes...", "ok!"}},
		{"no punctuation at all", []string{"no punctuation at all"}},
		{"  padded  ", []string{"padded"}},
		{"", []string{""}},
		{"First. trailing fragment", []string{"First."}},
	}
	for _, c := range cases {
		got := Sentences(c.in)
		if strings.Join(got, "|") != strings.Join(c.want, "|") {
			t.Fatalf("Sentences(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSRT_TwoSentences(t *testing.T) {
	got := SRT("Hello world. Bye now.")
	want := "1\n00:00:00,000 --> 00:00:03,000\nHello world.\n\n" +
		"2\n00:00:03,000 --> 00:00:06,000\nBye now.\n\n"
	if got != want {
		t.Fatalf("SRT mismatch:\n%q\nwant\n%q", got, want)
	}
}

func TestVTT_HeaderAndPeriodSeparator(t *testing.T) {
	got := VTT("Hello world. Bye now.")
	want := "WEBVTT\n\n" +
		"1\n00:00:00.000 --> 00:00:03.000\nHello world.\n\n" +
		"2\n00:00:03.000 --> 00:00:06.000\nBye now.\n\n"
	if got != want {
		t.Fatalf("VTT mismatch:\n%q\nwant\n%q", got, want)
	}
}

func TestCues_TimingLaw(t *testing.T) {
	text := strings.Repeat("One sentence here. ", 1500)
	cues := Cues(text)
	if len(cues) != len(Sentences(text)) {
		t.Fatalf("cue count %d != sentence count %d", len(cues), len(Sentences(text)))
	}
	for i, c := range cues {
		if c.End-c.Start != CueDuration {
			t.Fatalf("cue %d is %v wide", i, c.End-c.Start)
		}
		if i > 0 {
			prev := cues[i-1]
			if c.Start != prev.End || c.Start <= prev.Start {
				t.Fatalf("cue %d not contiguous/increasing: %v after %v", i, c.Start, prev.End)
			}
		}
	}
	// 1500 sentences reach past the hour mark.
	last := cues[len(cues)-1]
	if got := Timestamp(last.End, ','); got != "01:15:00,000" {
		t.Fatalf("last end = %s", got)
	}
}

func TestTimestamp(t *testing.T) {
	cases := []struct {
		d    time.Duration
		sep  byte
		want string
	}{
		{0, ',', "00:00:00,000"},
		{3 * time.Second, '.', "00:00:03.000"},
		{time.Hour + 2*time.Minute + 3*time.Second + 45*time.Millisecond, ',', "01:02:03,045"},
		{100 * time.Hour, '.', "100:00:00.000"},
		{-time.Second, ',', "00:00:00,000"},
	}
	for _, c := range cases {
		if got := Timestamp(c.d, c.sep); got != c.want {
			t.Fatalf("Timestamp(%v) = %q, want %q", c.d, got, c.want)
		}
	}
}

func TestJSON_RoundTripAndKeyOrder(t *testing.T) {
	lang := "es"
	conf := 0.912
	secs := 42.5
	at := time.Date(2024, 3, 1, 10, 20, 30, 123456789, time.FixedZone("CET", 3600))
	b, err := JSON(Metadata{FileName: "talk.mp3", LanguageCode: &lang, Confidence: &conf, TranscriptionTime: &secs, Text: "Hola."}, at)
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	want := `{
  "fileName": "talk.mp3",
  "languageCode": "es",
  "confidence": 0.912,
  "transcriptionTime": 42.5,
  "text": "Hola.",
  "timestamp": "2024-03-01T09:20:30.123Z"
}`
	if string(b) != want {
		t.Fatalf("JSON mismatch:\n%s\nwant\n%s", b, want)
	}

	var back map[string]any
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back["languageCode"] != lang || back["confidence"] != conf || back["transcriptionTime"] != secs || back["text"] != "Hola." {
		t.Fatalf("round trip mismatch: %v", back)
	}
}

func TestJSON_KeepsMarkupCharacters(t *testing.T) {
	b, err := JSON(Metadata{FileName: "q&a <live>.mp3", Text: "Tom & Jerry <3"}, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	for _, k := range []string{`"fileName": "q&a <live>.mp3"`, `"text": "Tom & Jerry <3"`} {
		if !strings.Contains(string(b), k) {
			t.Fatalf("missing %s in %s", k, b)
		}
	}
	if strings.Contains(string(b), `\u00`) || strings.HasSuffix(string(b), "\n") {
		t.Fatalf("unexpected escaping or trailing newline: %q", b)
	}
}

func TestJSON_NullableFields(t *testing.T) {
	b, err := JSON(Metadata{FileName: "a.wav", Text: ""}, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	for _, k := range []string{`"languageCode": null`, `"confidence": null`, `"transcriptionTime": null`, `"timestamp": "1970-01-01T00:00:00.000Z"`} {
		if !strings.Contains(string(b), k) {
			t.Fatalf("missing %s in %s", k, b)
		}
	}
}
