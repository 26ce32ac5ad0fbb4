// Package pdf renders transcripts as paginated A4 documents.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/jo-hoe/audioscribe/internal/export"
	"github.com/jo-hoe/audioscribe/internal/format"
)

const (
	fontFamily = "Helvetica"
	utf8Family = "body"
	margin     = 20.0
	lineHeight = 6.0
)

// Renderer lays out one PDF page per formatter page, with a metadata header on the first.
// Without a UTF-8 font the core Helvetica font is used, which only covers cp1252;
// characters outside it are not printable.
type Renderer struct {
	title string
	font  []byte
}

var _ export.Renderer = (*Renderer)(nil)

func New(title string) *Renderer {
	if strings.TrimSpace(title) == "" {
		title = "Transcript"
	}
	return &Renderer{title: title}
}

// WithUTF8Font embeds the TrueType font at path so transcripts in any script the
// font covers render correctly. An empty path keeps the core font.
func (r *Renderer) WithUTF8Font(path string) (*Renderer, error) {
	if strings.TrimSpace(path) == "" {
		return r, nil
	}
	b, err := os.ReadFile(path) // #nosec G304 - operator-configured font file
	if err != nil {
		return nil, fmt.Errorf("read font: %w", err)
	}
	r.font = b
	return r, nil
}

func (r *Renderer) Render(ctx context.Context, doc export.Document) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(true, margin)
	if !doc.GeneratedAt.IsZero() {
		pdf.SetCreationDate(doc.GeneratedAt)
		pdf.SetModificationDate(doc.GeneratedAt)
	}
	family, tr := fontFamily, pdf.UnicodeTranslatorFromDescriptor("")
	if r.font != nil {
		for _, style := range []string{"", "B", "I"} {
			pdf.AddUTF8FontFromBytes(utf8Family, style, r.font)
		}
		family, tr = utf8Family, func(s string) string { return s }
	}
	pdf.SetTitle(r.title, true)
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont(family, "I", 8)
		pdf.CellFormat(0, 10, fmt.Sprintf("%d / {nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	for i, page := range format.Pages(doc.Text) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pdf.AddPage()
		if i == 0 {
			r.header(pdf, family, tr, doc)
		}
		pdf.SetFont(family, "", 11)
		pdf.MultiCell(0, lineHeight, tr(page.Text()), "", "J", false)
	}

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("layout pdf: %w", err)
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) header(pdf *fpdf.Fpdf, family string, tr func(string) string, doc export.Document) {
	pdf.SetFont(family, "B", 16)
	pdf.CellFormat(0, 10, tr(r.title), "", 1, "L", false, 0, "")
	pdf.SetFont(family, "", 9)
	for _, line := range HeaderLines(doc) {
		pdf.CellFormat(0, 5, tr(line), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
	pdf.Line(margin, pdf.GetY(), 210-margin, pdf.GetY())
	pdf.Ln(4)
}

// HeaderLines returns the metadata lines printed above the transcript.
// Fields the service did not report are left out.
func HeaderLines(doc export.Document) []string {
	var lines []string
	if doc.FileName != "" {
		lines = append(lines, "File: "+doc.FileName)
	}
	at := doc.GeneratedAt
	if at.IsZero() {
		at = time.Now()
	}
	lines = append(lines, "Date: "+at.Format("2006-01-02 15:04"))
	if doc.LanguageCode != nil {
		lines = append(lines, "Language: "+LanguageName(*doc.LanguageCode))
	}
	if doc.Confidence != nil {
		lines = append(lines, fmt.Sprintf("Confidence: %.1f%%", *doc.Confidence*100))
	}
	if doc.TranscriptionTime != nil {
		d := time.Duration(*doc.TranscriptionTime * float64(time.Second)).Round(time.Second)
		lines = append(lines, "Processing time: "+d.String())
	}
	return lines
}

// LanguageName returns the English display name for a BCP 47 code, or the code itself.
func LanguageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	name := display.English.Languages().Name(tag)
	if name == "" {
		return code
	}
	return name
}
