package export

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jo-hoe/audioscribe/internal/transcriber"
)

type stubRenderer struct {
	got Document
}

func (s *stubRenderer) Render(_ context.Context, doc Document) ([]byte, error) {
	s.got = doc
	return []byte("%PDF-stub " + doc.Text), nil
}

var fixedNow = time.UnixMilli(1700000000123).UTC()

func newTestExporter(r Renderer) *Exporter {
	return New(r).WithClock(func() time.Time { return fixedNow })
}

func TestParseFormat(t *testing.T) {
	for _, in := range []string{"text", "SRT", " vtt ", "Json"} {
		if _, err := ParseFormat(in); err != nil {
			t.Fatalf("ParseFormat(%q): %v", in, err)
		}
	}
	if _, err := ParseFormat("docx"); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("expected ErrUnknownFormat, got %v", err)
	}
}

func TestExport_MimeAndFilename(t *testing.T) {
	cases := []struct {
		f    Format
		mime string
		name string
	}{
		{FormatText, "application/pdf", "transcript-1700000000123.pdf"},
		{FormatSRT, "text/srt", "transcript-1700000000123.srt"},
		{FormatVTT, "text/vtt", "transcript-1700000000123.vtt"},
		{FormatJSON, "application/json", "transcript-1700000000123.json"},
	}
	e := newTestExporter(&stubRenderer{})
	for _, c := range cases {
		a, err := e.Export(context.Background(), c.f, Document{Text: "Hello world. Bye now.", FileName: "a.mp3"})
		if err != nil {
			t.Fatalf("Export(%s): %v", c.f, err)
		}
		if a.MimeType != c.mime || a.Filename != c.name || a.Format != c.f {
			t.Fatalf("Export(%s) = %s %s", c.f, a.MimeType, a.Filename)
		}
		if c.f.MimeType() != c.mime {
			t.Fatalf("MimeType(%s) = %s", c.f, c.f.MimeType())
		}
	}
}

func TestExport_Contents(t *testing.T) {
	r := &stubRenderer{}
	e := newTestExporter(r)
	ctx := context.Background()
	lang := "en"
	conf := 0.75
	doc := DocumentFrom("talk.mp3", transcriber.Transcript{Text: "Hello world. Bye now.", LanguageCode: &lang, Confidence: &conf, DurationSeconds: 12.5})

	srt, err := e.Export(ctx, FormatSRT, doc)
	if err != nil {
		t.Fatalf("srt: %v", err)
	}
	if !strings.HasPrefix(string(srt.Bytes), "1\n00:00:00,000 --> 00:00:03,000\nHello world.\n\n") {
		t.Fatalf("srt = %q", srt.Bytes)
	}

	vtt, err := e.Export(ctx, FormatVTT, doc)
	if err != nil {
		t.Fatalf("vtt: %v", err)
	}
	if !strings.HasPrefix(string(vtt.Bytes), "WEBVTT\n\n1\n00:00:00.000") {
		t.Fatalf("vtt = %q", vtt.Bytes)
	}

	js, err := e.Export(ctx, FormatJSON, doc)
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(js.Bytes, &m); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if m["fileName"] != "talk.mp3" || m["languageCode"] != "en" || m["confidence"] != 0.75 || m["transcriptionTime"] != 12.5 {
		t.Fatalf("json = %v", m)
	}
	if m["timestamp"] != "2023-11-14T22:13:20.123Z" {
		t.Fatalf("timestamp = %v", m["timestamp"])
	}

	pdf, err := e.Export(ctx, FormatText, doc)
	if err != nil {
		t.Fatalf("text: %v", err)
	}
	if string(pdf.Bytes) != "%PDF-stub Hello world. Bye now." || r.got.FileName != "talk.mp3" || !r.got.GeneratedAt.Equal(fixedNow) {
		t.Fatalf("renderer got %+v", r.got)
	}
}

func TestExport_Errors(t *testing.T) {
	if _, err := New(nil).Export(context.Background(), FormatText, Document{}); err == nil {
		t.Fatalf("expected error without renderer")
	}
	if _, err := New(nil).Export(context.Background(), Format("docx"), Document{}); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("expected ErrUnknownFormat, got %v", err)
	}
}
