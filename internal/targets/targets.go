package targets

import (
	"context"
	"sort"
	"time"

	"github.com/jo-hoe/audioscribe/internal/export"
)

// Target is an output destination for rendered transcript artifacts.
type Target interface {
	Name() string
	Deliver(ctx context.Context, req TargetRequest) (TargetResult, error)
}

// TargetRequest contains one artifact of a finished job.
type TargetRequest struct {
	JobID     string
	FileName  string // original audio file name
	Artifact  export.Artifact
	Timestamp time.Time
}

// TargetResult describes where the artifact landed.
type TargetResult struct {
	TargetName string
	Location   string
}

// Registry holds initialized targets by name.
type Registry struct {
	byName map[string]Target
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Target)}
}

func (r *Registry) Add(t Target) {
	r.byName[t.Name()] = t
}

func (r *Registry) Get(name string) (Target, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Names returns the registered target names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for k := range r.byName {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// All returns the registered targets ordered by name.
func (r *Registry) All() []Target {
	out := make([]Target, 0, len(r.byName))
	for _, n := range r.Names() {
		out = append(out, r.byName[n])
	}
	return out
}
