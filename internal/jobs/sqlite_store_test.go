package jobs

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jo-hoe/audioscribe/internal/transcriber"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_JobLifecycle(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	cb := "http://example.com/callback"
	job := &Job{
		ID:          "job-1",
		FileName:    "talk.mp3",
		AudioPath:   "/tmp/talk.mp3",
		MimeType:    "audio/mpeg",
		SizeBytes:   1234,
		CallbackURL: &cb,
		CreatedAt:   now,
	}
	if err := store.CreateJob(job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	got, err := store.GetJob(job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != StateQueued || got.TranscriptID != "" {
		t.Fatalf("new job should be queued without transcript id: %+v", got)
	}

	if err := store.MarkSubmitted(job.ID, "tr-9", now.Add(time.Second)); err != nil {
		t.Fatalf("MarkSubmitted: %v", err)
	}
	// The service id is immutable once assigned.
	if err := store.MarkSubmitted(job.ID, "tr-other", now.Add(2*time.Second)); err == nil {
		t.Fatalf("second MarkSubmitted should fail")
	}

	if err := store.SaveProgress(job.ID, StateProcessing, 2, 40, now.Add(3*time.Second)); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}
	// Lower progress must not move the stored value backwards.
	if err := store.SaveProgress(job.ID, StateProcessing, 3, 10, now.Add(4*time.Second)); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}
	got, _ = store.GetJob(job.ID)
	if got.Progress != 40 || got.Attempts != 3 || got.TranscriptID != "tr-9" {
		t.Fatalf("progress not monotonic or fields lost: %+v", got)
	}
	if got.LastPolledAt == nil || !got.LastPolledAt.Equal(now.Add(4*time.Second)) {
		t.Fatalf("lastPolledAt = %v", got.LastPolledAt)
	}

	lang := "en"
	conf := 0.87
	res := transcriber.Transcript{Text: "Hello world.", LanguageCode: &lang, Confidence: &conf, DurationSeconds: 12.5}
	if err := store.SaveResult(job.ID, res, 4, now.Add(5*time.Second)); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	got, err = store.GetJob(job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != StateCompleted || got.Progress != 100 || got.Attempts != 4 {
		t.Fatalf("job not completed: %+v", got)
	}
	if got.Result == nil || got.Result.Text != "Hello world." || *got.Result.LanguageCode != "en" || *got.Result.Confidence != 0.87 || got.Result.DurationSeconds != 12.5 {
		t.Fatalf("result mismatch: %+v", got.Result)
	}
	if got.CallbackURL == nil || *got.CallbackURL != cb {
		t.Fatalf("callback mismatch: %v", got.CallbackURL)
	}

	// Terminal states are never left.
	if err := store.SaveError(job.ID, StateFailed, JobError{Kind: transcriber.KindRemoteJob, Message: "boom"}, 5, now); err == nil {
		t.Fatalf("SaveError on completed job should fail")
	}
	if err := store.SaveProgress(job.ID, StateProcessing, 6, 50, now); err == nil {
		t.Fatalf("SaveProgress on completed job should fail")
	}
	got, _ = store.GetJob(job.ID)
	if got.State != StateCompleted || got.Error != nil {
		t.Fatalf("terminal state was modified: %+v", got)
	}
}

func TestSQLiteStore_SaveError(t *testing.T) {
	store := newTestStore(t)
	if err := store.CreateJob(&Job{ID: "job-2", FileName: "a.wav", AudioPath: "/tmp/a.wav", MimeType: "audio/wav"}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	jobErr := JobError{Kind: transcriber.KindClientInput, Message: "invalid token", Detail: `{"message":"invalid token"}`}
	if err := store.SaveError("job-2", StateFailed, jobErr, 0, time.Now()); err != nil {
		t.Fatalf("SaveError: %v", err)
	}
	got, err := store.GetJob("job-2")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != StateFailed || got.Error == nil || *got.Error != jobErr {
		t.Fatalf("error not persisted: %+v / %+v", got, got.Error)
	}
	if got.CompletedAt == nil || got.Result != nil {
		t.Fatalf("completedAt/result mismatch: %+v", got)
	}
	if err := store.SaveError("job-2", StateCompleted, jobErr, 0, time.Now()); err == nil {
		t.Fatalf("completed is not a failure state")
	}
}

func TestSQLiteStore_NotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetJob("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetJob(missing) = %v", err)
	}
	if err := store.SaveProgress("missing", StateProcessing, 1, 1, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SaveProgress(missing) = %v", err)
	}
	if err := store.CreateJob(&Job{}); err == nil {
		t.Fatalf("CreateJob without id should fail")
	}
}
