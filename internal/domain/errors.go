// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrEmptyArtifact indicates the code generator returned no usable source.
var ErrEmptyArtifact = errors.New("empty code artifact")

// ErrNoCandidates indicates a project exposes no fuzz targets.
var ErrNoCandidates = errors.New("no fuzz target candidates")

// ErrSandboxReleased indicates an operation on a sandbox that was already released.
var ErrSandboxReleased = errors.New("sandbox released")

// ErrValidation indicates malformed input such as a bad task manifest.
var ErrValidation = errors.New("validation failed")
