package format

import (
	"bytes"
	"encoding/json"
	"time"
)

// TimestampLayout is RFC 3339 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Metadata describes a transcript for the JSON export. Nil fields are emitted as null.
type Metadata struct {
	FileName          string
	LanguageCode      *string
	Confidence        *float64
	TranscriptionTime *float64 // seconds
	Text              string
}

type metadataDocument struct {
	FileName          string   `json:"fileName"`
	LanguageCode      *string  `json:"languageCode"`
	Confidence        *float64 `json:"confidence"`
	TranscriptionTime *float64 `json:"transcriptionTime"`
	Text              string   `json:"text"`
	Timestamp         string   `json:"timestamp"`
}

// JSON renders m as a pretty-printed document stamped with generatedAt.
// Markup characters in the text are written as is, not as \u escapes.
func JSON(m Metadata, generatedAt time.Time) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	err := enc.Encode(metadataDocument{
		FileName:          m.FileName,
		LanguageCode:      m.LanguageCode,
		Confidence:        m.Confidence,
		TranscriptionTime: m.TranscriptionTime,
		Text:              m.Text,
		Timestamp:         generatedAt.UTC().Format(TimestampLayout),
	})
	if err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
