package inference

import "fmt"

// ArtifactLoadError reports a missing or unreadable artifact.
type ArtifactLoadError struct {
	Artifact string
	Path     string
	Err      error
}

func (e *ArtifactLoadError) Error() string {
	return fmt.Sprintf("load %s artifact %s: %v", e.Artifact, e.Path, e.Err)
}

func (e *ArtifactLoadError) Unwrap() error { return e.Err }

// UnknownClassError reports a class index the label encoding does not cover.
type UnknownClassError struct {
	Index   int
	Classes int
}

func (e *UnknownClassError) Error() string {
	return fmt.Sprintf("class index %d outside label encoding of %d classes", e.Index, e.Classes)
}
