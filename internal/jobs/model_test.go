package jobs

import (
	"testing"

	"github.com/jo-hoe/audioscribe/internal/transcriber"
)

func TestCanTransition(t *testing.T) {
	all := []State{StateQueued, StateSubmitted, StateProcessing, StateCompleted, StateFailed, StateTimedOut, StateCancelled}
	allowed := map[State][]State{
		StateQueued:     {StateSubmitted, StateFailed, StateCancelled},
		StateSubmitted:  {StateProcessing, StateCompleted, StateFailed, StateTimedOut, StateCancelled},
		StateProcessing: {StateProcessing, StateCompleted, StateFailed, StateTimedOut, StateCancelled},
	}
	for _, from := range all {
		want := map[State]bool{}
		for _, to := range allowed[from] {
			want[to] = true
		}
		for _, to := range all {
			if got := CanTransition(from, to); got != want[to] {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", from, to, got, want[to])
			}
		}
		if from.Terminal() && len(allowed[from]) != 0 {
			t.Fatalf("terminal state %s must not have outgoing edges", from)
		}
	}
}

func TestJob_CloneIsDeep(t *testing.T) {
	lang := "en"
	conf := 0.5
	j := Job{ID: "a", Result: &transcriber.Transcript{Text: "x", LanguageCode: &lang, Confidence: &conf}, Error: &JobError{Message: "m"}}
	c := j.Clone()
	*c.Result.LanguageCode = "de"
	*c.Result.Confidence = 0.9
	c.Result.Text = "y"
	c.Error.Message = "changed"
	if *j.Result.LanguageCode != "en" || *j.Result.Confidence != 0.5 || j.Result.Text != "x" || j.Error.Message != "m" {
		t.Fatalf("clone shares memory with original: %+v", j)
	}
}
