// Package progress defines the port for persisted resumability state.
package progress

import (
	"context"
	"time"
)

// Record is the stored outcome of one finished session.
type Record struct {
	Project    string    `json:"project"`
	Function   string    `json:"function"`
	Signature  string    `json:"signature"`
	Key        string    `json:"key"`
	Iteration  int       `json:"iteration"`
	SessionID  string    `json:"session_id"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	FixCount   int       `json:"fix_count"`
	Harness    string    `json:"harness,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// Store persists per (project, function) progress and success records.
type Store interface {
	// LastIteration returns the highest completed iteration, or -1.
	LastIteration(ctx context.Context, project, key string) (int, error)
	// Solved reports whether a success record exists for the signature key.
	Solved(ctx context.Context, key string) (bool, error)
	// Complete records a finished session. Success records are keyed by the
	// normalized signature key.
	Complete(ctx context.Context, rec Record) error
	// Records lists stored records, newest first.
	Records(ctx context.Context) ([]Record, error)
	Close() error
}
