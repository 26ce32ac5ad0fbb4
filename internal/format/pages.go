// Package format converts transcript text into pages, subtitles and metadata
// documents. Everything here is pure and deterministic.
package format

import (
	"strings"

	"github.com/samber/lo"
)

// WordsPerPage is roughly what fits on one A4 page of body text.
const WordsPerPage = 350

// Page is one page of whitespace-delimited tokens.
type Page struct {
	Number int
	Tokens []string
}

// Text joins the page tokens with single spaces.
func (p Page) Text() string {
	return strings.Join(p.Tokens, " ")
}

// Pages splits text into ordered pages of at most WordsPerPage tokens.
// Text without tokens yields a single empty page.
func Pages(text string) []Page {
	return PagesOf(text, WordsPerPage)
}

// PagesOf is Pages with a custom page size. Sizes below one are treated as one.
func PagesOf(text string, size int) []Page {
	if size < 1 {
		size = 1
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return []Page{{Number: 1, Tokens: []string{}}}
	}
	chunks := lo.Chunk(tokens, size)
	pages := make([]Page, len(chunks))
	for i, c := range chunks {
		pages[i] = Page{Number: i + 1, Tokens: c}
	}
	return pages
}
