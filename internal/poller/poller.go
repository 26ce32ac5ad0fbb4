// Package poller drives a submitted transcription job to a terminal state.
//
// A Poller queries the service right away and then once per interval under a
// fixed attempt budget.
// Transport failures consume an attempt and are retried; every other failure
// ends the job. The loop is timer driven and stops when its context is cancelled.
package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jo-hoe/audioscribe/internal/config"
	"github.com/jo-hoe/audioscribe/internal/jobs"
	"github.com/jo-hoe/audioscribe/internal/transcriber"
)

// StatusClient queries the state of a remote job.
type StatusClient interface {
	Status(ctx context.Context, transcriptID string) (transcriber.Status, error)
}

// Snapshot is an immutable view of the job lifecycle at one point in time.
type Snapshot struct {
	State        jobs.State
	Attempts     int
	Progress     float64
	LastPolledAt time.Time
	Result       *transcriber.Transcript
	Err          *transcriber.Error
}

type Poller struct {
	log         *slog.Logger
	client      StatusClient
	interval    time.Duration
	maxAttempts int
	now         func() time.Time
}

func New(log *slog.Logger, client StatusClient, cfg config.ServiceConfig) *Poller {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Poller{
		log:         log,
		client:      client,
		interval:    cfg.PollInterval,
		maxAttempts: cfg.MaxAttempts,
		now:         time.Now,
	}
}

// WithClock replaces the wall clock used for poll timestamps and durations.
func (p *Poller) WithClock(now func() time.Time) *Poller {
	p.now = now
	return p
}

// Run polls transcriptID until the job completes, fails, times out or ctx is cancelled.
// started marks when the job was handed in (before wake and upload); the
// transcript's duration is measured from it, or from the call to Run when zero.
// observe, if non-nil, receives a snapshot before every status query and after every
// non-terminal answer. The returned snapshot is always terminal; the error is nil
// only for jobs.StateCompleted.
func (p *Poller) Run(ctx context.Context, transcriptID string, started time.Time, observe func(Snapshot)) (Snapshot, error) {
	if observe == nil {
		observe = func(Snapshot) {}
	}
	log := p.log.With("transcript_id", transcriptID)
	est := NewEstimator(p.maxAttempts)
	snap := Snapshot{State: jobs.StateSubmitted}
	if started.IsZero() {
		started = p.now()
	}

	// first query goes out immediately; the interval separates later attempts
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			snap.Progress = est.Freeze()
			return p.cancelled(ctx, log, snap)
		case <-timer.C:
		}
		if ctx.Err() != nil {
			snap.Progress = est.Freeze()
			return p.cancelled(ctx, log, snap)
		}

		snap.Attempts++
		snap.Progress = est.Observe(snap.Attempts)
		snap.LastPolledAt = p.now()
		observe(snap)

		st, err := p.client.Status(ctx, transcriptID)
		if err != nil {
			if ctx.Err() != nil {
				snap.Progress = est.Freeze()
				return p.cancelled(ctx, log, snap)
			}
			var te *transcriber.Error
			if !errors.As(err, &te) {
				te = &transcriber.Error{Op: transcriber.OpStatus, Kind: transcriber.KindInvalidResponse, Message: transcriber.MsgInvalidStatus, Err: err}
			}
			if te.Kind == transcriber.KindConnectivity {
				if snap.Attempts < p.maxAttempts {
					log.Warn("status check failed, retrying", "attempt", snap.Attempts, "err", err)
					timer.Reset(p.interval)
					continue
				}
				snap.Progress = est.Freeze()
				return p.finish(log, snap, jobs.StateTimedOut, te)
			}
			snap.Progress = est.Freeze()
			return p.finish(log, snap, jobs.StateFailed, te)
		}

		switch st.State {
		case transcriber.RemoteCompleted:
			result := *st.Transcript
			result.DurationSeconds = p.now().Sub(started).Seconds()
			snap.Result = &result
			snap.Progress = est.Complete()
			return p.finish(log, snap, jobs.StateCompleted, nil)

		case transcriber.RemoteError:
			snap.Progress = est.Freeze()
			return p.finish(log, snap, jobs.StateFailed, &transcriber.Error{
				Op: transcriber.OpPoll, Kind: transcriber.KindRemoteJob, Message: st.Message, Detail: st.Raw,
			})

		case transcriber.RemoteProcessing:
			if err := p.transition(&snap, jobs.StateProcessing); err != nil {
				return snap, err
			}
			if snap.Attempts >= p.maxAttempts {
				snap.Progress = est.Freeze()
				return p.finish(log, snap, jobs.StateTimedOut, &transcriber.Error{
					Op: transcriber.OpPoll, Kind: transcriber.KindBudgetExceeded, Message: transcriber.MsgBudgetExceeded, Detail: st.Raw,
				})
			}
			log.Debug("still processing", "attempt", snap.Attempts, "progress", snap.Progress)
			observe(snap)
			timer.Reset(p.interval)

		default:
			snap.Progress = est.Freeze()
			return p.finish(log, snap, jobs.StateFailed, &transcriber.Error{
				Op: transcriber.OpPoll, Kind: transcriber.KindInvalidResponse, Message: transcriber.MsgInvalidStatus, Detail: st.Raw,
			})
		}
	}
}

func (p *Poller) cancelled(ctx context.Context, log *slog.Logger, snap Snapshot) (Snapshot, error) {
	return p.finish(log, snap, jobs.StateCancelled, &transcriber.Error{
		Op: transcriber.OpPoll, Kind: transcriber.KindCancelled, Message: transcriber.MsgCancelled, Err: ctx.Err(),
	})
}

func (p *Poller) transition(snap *Snapshot, to jobs.State) error {
	if !jobs.CanTransition(snap.State, to) {
		return fmt.Errorf("illegal transition %s -> %s", snap.State, to)
	}
	snap.State = to
	return nil
}

func (p *Poller) finish(log *slog.Logger, snap Snapshot, to jobs.State, jobErr *transcriber.Error) (Snapshot, error) {
	if err := p.transition(&snap, to); err != nil {
		return snap, err
	}
	snap.Err = jobErr
	if jobErr == nil {
		log.Info("transcription completed", "attempts", snap.Attempts)
		return snap, nil
	}
	log.Warn("transcription ended", "state", snap.State, "kind", jobErr.Kind, "attempts", snap.Attempts, "err", jobErr.Message)
	return snap, jobErr
}
