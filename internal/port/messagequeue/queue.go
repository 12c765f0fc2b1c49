// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes one message. A returned error naks the message.
type Handler func(subject string, data []byte) error

// Queue is the port interface for publishing session events.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe consumes subject until the returned stop function is called.
	Subscribe(ctx context.Context, subject string, handler Handler) (func(), error)

	// Drain flushes pending publishes before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subjects published by HarnessForge.
const (
	SubjectSessionStage    = "sessions.stage"    // one per state transition
	SubjectSessionFinished = "sessions.finished" // one per terminal session
	SubjectSessionsAll     = "sessions.>"
)
