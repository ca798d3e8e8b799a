// Package transcode converts raw uploads into client-playable artifacts.
package transcode

import (
	"context"
	"io"
	"os"
)

type ArtifactKind string

const (
	// Video is the playable derivative and is always produced.
	Video ArtifactKind = "video"
	// Subtitles is a WebVTT track extracted from the source when one exists.
	Subtitles ArtifactKind = "subtitles"
)

// Artifact is one output file of a transcode, staged on local disk.
type Artifact struct {
	Kind        ArtifactKind
	Path        string
	Size        int64
	ContentType string
}

func (a Artifact) Open() (io.ReadCloser, error) {
	return os.Open(a.Path)
}

type Result struct {
	Artifacts       []Artifact
	DurationSeconds float64
	// workDir is removed by Cleanup.
	workDir string
}

func NewResult(workDir string, duration float64, artifacts ...Artifact) *Result {
	return &Result{Artifacts: artifacts, DurationSeconds: duration, workDir: workDir}
}

// Artifact returns the first artifact of the given kind.
func (r *Result) Artifact(kind ArtifactKind) (Artifact, bool) {
	for _, a := range r.Artifacts {
		if a.Kind == kind {
			return a, true
		}
	}
	return Artifact{}, false
}

func (r *Result) Cleanup() error {
	if r == nil || r.workDir == "" {
		return nil
	}
	return os.RemoveAll(r.workDir)
}

// Transcoder is the long-running, failure-prone step of the pipeline.
// A nil progress func is allowed.
type Transcoder interface {
	Transcode(ctx context.Context, src io.Reader, progress ProgressFunc) (*Result, error)
}
