package poller

import "math"

// ProgressCeiling caps progress while the job is still running.
const ProgressCeiling = 95.0

// Progress estimates completion from the number of polls spent out of maxAttempts.
func Progress(attempts, maxAttempts int) float64 {
	if maxAttempts <= 0 || attempts <= 0 {
		return 0
	}
	return math.Min(float64(attempts)*100/float64(maxAttempts), ProgressCeiling)
}

// Estimator tracks a job's progress and never reports a lower value than before.
// Once completed or frozen it stops moving.
type Estimator struct {
	maxAttempts int
	value       float64
	done        bool
}

func NewEstimator(maxAttempts int) *Estimator {
	return &Estimator{maxAttempts: maxAttempts}
}

// Observe records the attempt count and returns the current value.
func (e *Estimator) Observe(attempts int) float64 {
	if e.done {
		return e.value
	}
	if v := Progress(attempts, e.maxAttempts); v > e.value {
		e.value = v
	}
	return e.value
}

// Complete snaps progress to 100.
func (e *Estimator) Complete() float64 {
	e.value = 100
	e.done = true
	return e.value
}

// Freeze keeps the last value for a job that ended without completing.
func (e *Estimator) Freeze() float64 {
	e.done = true
	return e.value
}

func (e *Estimator) Value() float64 {
	return e.value
}
