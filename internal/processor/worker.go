package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jo-hoe/audioscribe/internal/common"
	"github.com/jo-hoe/audioscribe/internal/config"
	"github.com/jo-hoe/audioscribe/internal/export"
	"github.com/jo-hoe/audioscribe/internal/jobs"
	"github.com/jo-hoe/audioscribe/internal/poller"
	"github.com/jo-hoe/audioscribe/internal/targets"
	"github.com/jo-hoe/audioscribe/internal/transcriber"
)

// MsgAudioUnreadable is recorded when the spooled upload cannot be read back.
const MsgAudioUnreadable = "the uploaded audio could not be read"

// Submitter wakes the service and uploads audio.
type Submitter interface {
	Wake(ctx context.Context)
	Submit(ctx context.Context, audio []byte, filename string) (string, error)
}

// Runner polls a submitted job to a terminal state.
type Runner interface {
	Run(ctx context.Context, transcriptID string, started time.Time, observe func(poller.Snapshot)) (poller.Snapshot, error)
}

// Worker implements jobs.Processor: it submits the audio, follows the remote job
// to a terminal state, records every step in the store and delivers the results.
type Worker struct {
	Log      *slog.Logger
	Cfg      *config.Config
	Store    jobs.Store
	Client   Submitter
	Poller   Runner
	Exporter *export.Exporter
	Targets  *targets.Registry
	Formats  []export.Format
	HTTP     *http.Client
	now      func() time.Time
}

// Ensure Worker implements jobs.Processor
var _ jobs.Processor = (*Worker)(nil)

func New(log *slog.Logger, cfg *config.Config, store jobs.Store, client Submitter, p Runner, exp *export.Exporter, regs *targets.Registry) (*Worker, error) {
	formats := make([]export.Format, 0, len(cfg.Export.Formats))
	for _, name := range cfg.Export.Formats {
		f, err := export.ParseFormat(name)
		if err != nil {
			return nil, err
		}
		formats = append(formats, f)
	}
	if regs == nil {
		regs = targets.NewRegistry()
	}
	return &Worker{
		Log:      log,
		Cfg:      cfg,
		Store:    store,
		Client:   client,
		Poller:   p,
		Exporter: exp,
		Targets:  regs,
		Formats:  formats,
		HTTP:     http.DefaultClient,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (w *Worker) Process(ctx context.Context, item jobs.WorkItem) error {
	job := item.Job
	log := w.Log.With("job_id", job.ID)

	audio, err := os.ReadFile(job.AudioPath)
	if err != nil {
		jobErr := jobs.JobError{Kind: transcriber.KindClientInput, Message: MsgAudioUnreadable, Detail: err.Error()}
		w.finishWithError(ctx, log, job, jobs.StateFailed, jobErr, 0)
		return fmt.Errorf("read audio: %w", err)
	}

	// transcription time covers wake and upload as well as polling
	started := w.now()
	w.Client.Wake(ctx)

	transcriptID, err := w.Client.Submit(ctx, audio, job.FileName)
	if err != nil {
		state := jobs.StateFailed
		if ctx.Err() != nil {
			state = jobs.StateCancelled
		}
		w.finishWithError(ctx, log, job, state, jobErrorFrom(err), 0)
		return fmt.Errorf("submit: %w", err)
	}
	if err := w.Store.MarkSubmitted(job.ID, transcriptID, w.now()); err != nil {
		return fmt.Errorf("mark submitted: %w", err)
	}
	log = log.With("transcript_id", transcriptID)
	log.Info("audio submitted")

	snap, runErr := w.Poller.Run(ctx, transcriptID, started, func(s poller.Snapshot) {
		if err := w.Store.SaveProgress(job.ID, s.State, s.Attempts, s.Progress, s.LastPolledAt.UTC()); err != nil {
			log.Warn("save progress failed", "err", err)
		}
	})

	if snap.State != jobs.StateCompleted {
		if runErr == nil {
			runErr = fmt.Errorf("poller ended in %s", snap.State)
		}
		jobErr := jobErrorFrom(runErr)
		if snap.Err != nil {
			jobErr = jobErrorFrom(snap.Err)
		}
		state := snap.State
		if !state.Terminal() {
			state = jobs.StateFailed
		}
		w.finishWithError(ctx, log, job, state, jobErr, snap.Attempts)
		return runErr
	}

	// Success
	if err := w.Store.SaveResult(job.ID, *snap.Result, snap.Attempts, w.now()); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	artifacts := w.deliver(ctx, log, job, *snap.Result)

	if job.CallbackURL != nil && *job.CallbackURL != "" {
		cbErr := w.sendCallbackWithRetry(ctx, *job.CallbackURL, callbackPayload{
			JobID:  job.ID,
			Status: common.StatusCompleted,
			State:  string(jobs.StateCompleted),
			Result: &callbackResult{
				Text:            snap.Result.Text,
				LanguageCode:    snap.Result.LanguageCode,
				Confidence:      snap.Result.Confidence,
				DurationSeconds: snap.Result.DurationSeconds,
				Artifacts:       artifacts,
			},
		})
		if cbErr != nil {
			log.Warn("callback failed after retries", "err", cbErr)
		}
	}
	return nil
}

// deliver renders the configured formats and hands them to every registered target.
// Delivery failures are logged; the job stays completed.
func (w *Worker) deliver(ctx context.Context, log *slog.Logger, job jobs.Job, result transcriber.Transcript) []callbackArtifact {
	if len(w.Formats) == 0 || len(w.Targets.Names()) == 0 || w.Exporter == nil {
		return nil
	}
	doc := export.DocumentFrom(job.FileName, result)
	var out []callbackArtifact
	for _, f := range w.Formats {
		art, err := w.Exporter.Export(ctx, f, doc)
		if err != nil {
			log.Warn("export failed", "format", f, "err", err)
			continue
		}
		for _, t := range w.Targets.All() {
			res, err := t.Deliver(ctx, targets.TargetRequest{
				JobID:     job.ID,
				FileName:  job.FileName,
				Artifact:  art,
				Timestamp: w.now(),
			})
			if err != nil {
				log.Warn("delivery failed", "target", t.Name(), "format", f, "err", err)
				continue
			}
			log.Info("artifact delivered", "target", res.TargetName, "location", res.Location)
			out = append(out, callbackArtifact{Format: string(f), Target: res.TargetName, Location: res.Location})
		}
	}
	return out
}

func (w *Worker) finishWithError(ctx context.Context, log *slog.Logger, job jobs.Job, state jobs.State, jobErr jobs.JobError, attempts int) {
	if err := w.Store.SaveError(job.ID, state, jobErr, attempts, w.now()); err != nil {
		log.Error("save error failed", "err", err)
	}
	if job.CallbackURL == nil || *job.CallbackURL == "" || ctx.Err() != nil {
		return
	}
	cbErr := w.sendCallbackWithRetry(ctx, *job.CallbackURL, callbackPayload{
		JobID:  job.ID,
		Status: common.StatusFailed,
		State:  string(state),
		Error:  &callbackError{Kind: string(jobErr.Kind), Message: jobErr.Message},
	})
	if cbErr != nil {
		log.Warn("callback failed after retries", "err", cbErr)
	}
}

// jobErrorFrom keeps the classification of a *transcriber.Error and falls back to
// an invalid response for anything unclassified.
func jobErrorFrom(err error) jobs.JobError {
	var te *transcriber.Error
	if errors.As(err, &te) {
		return jobs.JobError{Kind: te.Kind, Message: te.Message, Detail: te.Detail}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return jobs.JobError{Kind: transcriber.KindCancelled, Message: transcriber.MsgCancelled, Detail: err.Error()}
	}
	return jobs.JobError{Kind: transcriber.KindInvalidResponse, Message: err.Error()}
}

type callbackPayload struct {
	JobID  string          `json:"job_id"`
	Status string          `json:"status"` // completed|failed
	State  string          `json:"state"`
	Error  *callbackError  `json:"error,omitempty"`
	Result *callbackResult `json:"result,omitempty"`
}

type callbackError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type callbackResult struct {
	Text            string             `json:"text"`
	LanguageCode    *string            `json:"language_code"`
	Confidence      *float64           `json:"confidence"`
	DurationSeconds float64            `json:"duration_seconds"`
	Artifacts       []callbackArtifact `json:"artifacts,omitempty"`
}

type callbackArtifact struct {
	Format   string `json:"format"`
	Target   string `json:"target"`
	Location string `json:"location"`
}

func (w *Worker) sendCallbackWithRetry(ctx context.Context, url string, payload callbackPayload) error {
	max := w.Cfg.Server.CallbackRetries
	if max <= 0 {
		max = 3
	}
	backoff := w.Cfg.Server.CallbackBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		if err := w.postJSON(ctx, url, payload); err != nil {
			lastErr = err
			if attempt == max {
				break
			}
			select {
			case <-ctx.Done():
				return err
			case <-time.After(time.Duration(attempt) * backoff):
			}
			continue
		}
		return nil
	}
	return lastErr
}

func (w *Worker) postJSON(ctx context.Context, url string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set(common.HeaderContentType, common.ContentTypeJSON)

	resp, err := w.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback status %d", resp.StatusCode)
	}
	return nil
}
