package jobs

import (
	"time"

	"github.com/jo-hoe/audioscribe/internal/transcriber"
)

// State is the lifecycle state of a transcription job.
type State string

const (
	StateQueued     State = "queued"
	StateSubmitted  State = "submitted"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateTimedOut   State = "timed_out"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether no further transitions may leave s.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut, StateCancelled:
		return true
	default:
		return false
	}
}

// CanTransition enforces the job state machine edges. Processing -> Processing is
// allowed so every poll can be recorded.
func CanTransition(from, to State) bool {
	switch from {
	case StateQueued:
		return to == StateSubmitted || to == StateFailed || to == StateCancelled
	case StateSubmitted, StateProcessing:
		switch to {
		case StateProcessing, StateCompleted, StateFailed, StateTimedOut, StateCancelled:
			return true
		}
		return false
	default:
		return false
	}
}

// JobError is the classified failure recorded on a terminal job.
type JobError struct {
	Kind    transcriber.Kind `json:"kind"`
	Message string           `json:"message"`
	Detail  string           `json:"detail,omitempty"`
}

// Job describes a single transcription request and its remote lifecycle.
type Job struct {
	ID           string                  // local UUIDv4
	TranscriptID string                  // identifier assigned by the service; empty until submitted
	FileName     string                  // original audio file name
	AudioPath    string                  // spooled upload on disk (temporary)
	MimeType     string                  // audio mime
	SizeBytes    int64                   // audio size
	CallbackURL  *string                 // optional callback
	State        State                   // current state
	Attempts     int                     // polls scheduled so far
	Progress     float64                 // 0..100, monotonic
	Result       *transcriber.Transcript // set iff State == StateCompleted
	Error        *JobError               // set for failed, timed out and cancelled jobs
	CreatedAt    time.Time
	SubmittedAt  *time.Time
	LastPolledAt *time.Time
	CompletedAt  *time.Time
}

// Clone returns a deep copy safe to hand to readers.
func (j Job) Clone() Job {
	c := j
	if j.CallbackURL != nil {
		v := *j.CallbackURL
		c.CallbackURL = &v
	}
	if j.Result != nil {
		r := *j.Result
		if j.Result.LanguageCode != nil {
			lc := *j.Result.LanguageCode
			r.LanguageCode = &lc
		}
		if j.Result.Confidence != nil {
			cf := *j.Result.Confidence
			r.Confidence = &cf
		}
		c.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	c.SubmittedAt = cloneTime(j.SubmittedAt)
	c.LastPolledAt = cloneTime(j.LastPolledAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Store defines persistence for Jobs and their lifecycle.
type Store interface {
	CreateJob(job *Job) error
	MarkSubmitted(id, transcriptID string, at time.Time) error
	SaveProgress(id string, state State, attempts int, progress float64, polledAt time.Time) error
	SaveResult(id string, result transcriber.Transcript, attempts int, completedAt time.Time) error
	SaveError(id string, state State, jobErr JobError, attempts int, completedAt time.Time) error
	GetJob(id string) (*Job, error)
	Close() error
}
