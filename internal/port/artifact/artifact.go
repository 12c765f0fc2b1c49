// Package artifact defines the append-only sink for session artifacts.
package artifact

import "context"

// Key addresses one artifact.
type Key struct {
	Session   string
	Project   string
	Iteration int
	Name      string
}

// Sink stores harness text, diagnostics and run logs. Artifacts are never
// read back by the orchestrator.
type Sink interface {
	Write(ctx context.Context, key Key, data []byte) error
}
