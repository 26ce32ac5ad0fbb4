package format

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// CueDuration is the fixed slot each sentence occupies.
const CueDuration = 3 * time.Second

// VTTHeader opens every WebVTT document.
const VTTHeader = "WEBVTT"

var sentencePattern = regexp.MustCompile(`[^.!?]+[.!?]+`)

// Cue is one timed subtitle entry.
type Cue struct {
	Index int // 1-based
	Start time.Duration
	End   time.Duration
	Text  string
}

// Sentences returns the punctuation-terminated segments of text, trimmed.
// Text without terminal punctuation is a single sentence. A trailing fragment
// after the last terminator is not emitted.
func Sentences(text string) []string {
	matches := sentencePattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return []string{strings.TrimSpace(text)}
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = strings.TrimSpace(m)
	}
	return out
}

// Cues assigns sentence i the contiguous slot [i*CueDuration, (i+1)*CueDuration).
func Cues(text string) []Cue {
	sentences := Sentences(text)
	cues := make([]Cue, len(sentences))
	for i, s := range sentences {
		cues[i] = Cue{
			Index: i + 1,
			Start: time.Duration(i) * CueDuration,
			End:   time.Duration(i+1) * CueDuration,
			Text:  s,
		}
	}
	return cues
}

// SRT renders text as SubRip subtitles.
func SRT(text string) string {
	return renderCues(Cues(text), ',')
}

// VTT renders text as WebVTT subtitles.
func VTT(text string) string {
	return VTTHeader + "\n\n" + renderCues(Cues(text), '.')
}

func renderCues(cues []Cue, msSep byte) string {
	var b strings.Builder
	for _, c := range cues {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", c.Index, Timestamp(c.Start, msSep), Timestamp(c.End, msSep), c.Text)
	}
	return b.String()
}

// Timestamp formats d as HH:MM:SS<sep>mmm. Hours are not wrapped at 24.
func Timestamp(d time.Duration, msSep byte) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", int64(h), int64(m), int64(s), msSep, int64(ms))
}
