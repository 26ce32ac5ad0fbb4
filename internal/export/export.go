// Package export turns a completed transcript into a downloadable artifact.
package export

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jo-hoe/audioscribe/internal/format"
	"github.com/jo-hoe/audioscribe/internal/transcriber"
)

// Format is one of the supported export formats.
type Format string

const (
	FormatText Format = "text"
	FormatSRT  Format = "srt"
	FormatVTT  Format = "vtt"
	FormatJSON Format = "json"
)

// Formats lists every supported format in a stable order.
var Formats = []Format{FormatText, FormatSRT, FormatVTT, FormatJSON}

var ErrUnknownFormat = errors.New("unknown export format")

type formatInfo struct {
	mimeType  string
	extension string
}

var formatTable = map[Format]formatInfo{
	FormatText: {mimeType: "application/pdf", extension: "pdf"},
	FormatSRT:  {mimeType: "text/srt", extension: "srt"},
	FormatVTT:  {mimeType: "text/vtt", extension: "vtt"},
	FormatJSON: {mimeType: "application/json", extension: "json"},
}

// ParseFormat accepts a format name case-insensitively.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := formatTable[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
	return f, nil
}

// MimeType returns the media type of artifacts in format f.
func (f Format) MimeType() string { return formatTable[f].mimeType }

// Extension returns the file extension of artifacts in format f, without a dot.
func (f Format) Extension() string { return formatTable[f].extension }

// Document is everything an artifact is rendered from.
type Document struct {
	Text              string
	FileName          string
	LanguageCode      *string
	Confidence        *float64
	TranscriptionTime *float64 // seconds
	GeneratedAt       time.Time
}

// DocumentFrom builds a Document for a completed transcript.
func DocumentFrom(fileName string, t transcriber.Transcript) Document {
	secs := t.DurationSeconds
	return Document{
		Text:              t.Text,
		FileName:          fileName,
		LanguageCode:      t.LanguageCode,
		Confidence:        t.Confidence,
		TranscriptionTime: &secs,
	}
}

// Renderer produces the paginated text document.
type Renderer interface {
	Render(ctx context.Context, doc Document) ([]byte, error)
}

// Artifact is a rendered export ready to be written or served.
type Artifact struct {
	Format   Format
	MimeType string
	Filename string
	Bytes    []byte
}

type Exporter struct {
	renderer Renderer
	now      func() time.Time
}

func New(renderer Renderer) *Exporter {
	return &Exporter{renderer: renderer, now: time.Now}
}

// WithClock replaces the clock used for file names and timestamps.
func (e *Exporter) WithClock(now func() time.Time) *Exporter {
	e.now = now
	return e
}

// Export renders doc in format f. The file name is transcript-<unix millis>.<ext>.
func (e *Exporter) Export(ctx context.Context, f Format, doc Document) (Artifact, error) {
	info, ok := formatTable[f]
	if !ok {
		return Artifact{}, fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
	}
	now := e.now()
	if doc.GeneratedAt.IsZero() {
		doc.GeneratedAt = now
	}

	var (
		b   []byte
		err error
	)
	switch f {
	case FormatText:
		if e.renderer == nil {
			return Artifact{}, errors.New("no text renderer configured")
		}
		b, err = e.renderer.Render(ctx, doc)
	case FormatSRT:
		b = []byte(format.SRT(doc.Text))
	case FormatVTT:
		b = []byte(format.VTT(doc.Text))
	case FormatJSON:
		b, err = format.JSON(format.Metadata{
			FileName:          doc.FileName,
			LanguageCode:      doc.LanguageCode,
			Confidence:        doc.Confidence,
			TranscriptionTime: doc.TranscriptionTime,
			Text:              doc.Text,
		}, doc.GeneratedAt)
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("render %s: %w", f, err)
	}
	return Artifact{
		Format:   f,
		MimeType: info.mimeType,
		Filename: fmt.Sprintf("transcript-%d.%s", now.UnixMilli(), info.extension),
		Bytes:    b,
	}, nil
}
