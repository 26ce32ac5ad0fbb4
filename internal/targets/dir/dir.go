// Package dir delivers artifacts to a local directory, one subdirectory per job.
package dir

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jo-hoe/audioscribe/internal/targets"
)

// Name is the registry name of the directory target.
const Name = "dir"

type Target struct {
	root string
}

var _ targets.Target = (*Target)(nil)

// New creates the root directory if it does not exist yet.
func New(root string) (*Target, error) {
	if root == "" {
		return nil, fmt.Errorf("root must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("ensure export dir: %w", err)
	}
	return &Target{root: root}, nil
}

func (t *Target) Name() string { return Name }

// Deliver writes the artifact to root/<job id>/<artifact file name>. The file
// is written to a temporary name first so readers never see partial output.
func (t *Target) Deliver(ctx context.Context, req targets.TargetRequest) (targets.TargetResult, error) {
	if err := ctx.Err(); err != nil {
		return targets.TargetResult{}, err
	}
	if req.JobID == "" || filepath.Base(req.JobID) != req.JobID {
		return targets.TargetResult{}, fmt.Errorf("invalid job id %q", req.JobID)
	}
	name := filepath.Base(req.Artifact.Filename)
	if name == "." || name == string(filepath.Separator) {
		return targets.TargetResult{}, fmt.Errorf("invalid artifact name %q", req.Artifact.Filename)
	}

	jobDir := filepath.Join(t.root, req.JobID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return targets.TargetResult{}, fmt.Errorf("ensure job dir: %w", err)
	}
	tmp, err := os.CreateTemp(jobDir, ".partial-*")
	if err != nil {
		return targets.TargetResult{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(req.Artifact.Bytes); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return targets.TargetResult{}, fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return targets.TargetResult{}, fmt.Errorf("close artifact: %w", err)
	}
	dst := filepath.Join(jobDir, name)
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return targets.TargetResult{}, fmt.Errorf("move artifact: %w", err)
	}
	return targets.TargetResult{TargetName: Name, Location: dst}, nil
}
