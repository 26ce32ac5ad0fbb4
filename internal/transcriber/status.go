package transcriber

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RemoteState is the job status reported by the service.
type RemoteState string

const (
	RemoteProcessing RemoteState = "processing"
	RemoteCompleted  RemoteState = "completed"
	RemoteError      RemoteState = "error"
)

// Transcript is the result of a completed job.
type Transcript struct {
	Text            string   `json:"text"`
	LanguageCode    *string  `json:"language_code,omitempty"`
	Confidence      *float64 `json:"confidence,omitempty"`
	DurationSeconds float64  `json:"duration_seconds"`
}

// Status is a validated status response. Transcript is set only for RemoteCompleted,
// Message only for RemoteError.
type Status struct {
	State      RemoteState
	Transcript *Transcript
	Message    string
	Raw        string
}

type statusResponse struct {
	Status       *string  `json:"status"`
	Text         *string  `json:"text"`
	LanguageCode *string  `json:"language_code"`
	Confidence   *float64 `json:"confidence"`
	Error        *string  `json:"error"`
	Message      *string  `json:"message"`
}

// ParseStatus decodes a status payload into the closed Status type.
func ParseStatus(body []byte) (Status, error) {
	var sr statusResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return Status{}, fmt.Errorf("decode status: %w", err)
	}
	if sr.Status == nil {
		return Status{}, fmt.Errorf("status field missing")
	}
	st := Status{State: RemoteState(strings.ToLower(strings.TrimSpace(*sr.Status))), Raw: string(body)}
	switch st.State {
	case RemoteProcessing:
	case RemoteCompleted:
		tr := &Transcript{Confidence: sr.Confidence}
		if sr.Text != nil {
			tr.Text = *sr.Text
		}
		if sr.LanguageCode != nil && strings.TrimSpace(*sr.LanguageCode) != "" {
			lc := *sr.LanguageCode
			tr.LanguageCode = &lc
		}
		st.Transcript = tr
	case RemoteError:
		st.Message = MsgRemoteJobFailed
		if sr.Error != nil && strings.TrimSpace(*sr.Error) != "" {
			st.Message = *sr.Error
		} else if sr.Message != nil && strings.TrimSpace(*sr.Message) != "" {
			st.Message = *sr.Message
		}
	default:
		return Status{}, fmt.Errorf("unknown status %q", *sr.Status)
	}
	return st, nil
}
