// Package sandbox defines the port for isolated build and execution
// environments.
package sandbox

import (
	"context"
	"errors"
	"io"

	"github.com/harnessforge/harnessforge/internal/domain/candidate"
	"github.com/harnessforge/harnessforge/internal/domain/target"
)

// ErrImageBuild reports that the project image could not be built.
var ErrImageBuild = errors.New("sandbox image build failed")

// CompileRequest asks the sandbox to build one fuzz target with the given
// harness source in place of the candidate's harness file.
type CompileRequest struct {
	Candidate   candidate.Candidate
	Harness     string
	IncludeDirs []string
}

// CompileResult is the raw outcome of a build.
type CompileResult struct {
	// BinaryExists is set when the fuzz binary is present at BinaryPath.
	BinaryExists bool
	ImageFailed  bool
	Output       string
}

// Process is a running command inside a sandbox.
type Process interface {
	// Output streams stdout. Non-interactive processes interleave stderr.
	Output() io.Reader
	// Stdin is nil unless the process was started interactively.
	Stdin() io.WriteCloser
	Wait() error
	Kill() error
}

// Sandbox is one isolated environment, owned by exactly one session.
type Sandbox interface {
	// BuildImage builds the project image. A failed build wraps ErrImageBuild
	// and carries the build log.
	BuildImage(ctx context.Context) (string, error)
	// DiscoverTargets lists the project's fuzz targets and their harness files.
	DiscoverTargets(ctx context.Context) ([]candidate.Candidate, error)
	// Compile builds one target. The binary lands at BinaryPath(fuzzer).
	Compile(ctx context.Context, req CompileRequest) (CompileResult, error)
	// RunFuzzer starts a compiled fuzz target.
	RunFuzzer(ctx context.Context, fuzzer string, args []string) (Process, error)
	// Exec runs argv inside the sandbox. Interactive processes get a stdin pipe.
	Exec(ctx context.Context, argv []string, interactive bool) (Process, error)
	// ReadFile returns the content of a file inside the sandbox.
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// Release frees every resource held by the sandbox. It is idempotent.
	Release(ctx context.Context) error
}

// Provider hands out sandboxes.
type Provider interface {
	Acquire(ctx context.Context, task target.Task) (Sandbox, error)
}

// BinaryPath is the deterministic location of a compiled fuzz target.
func BinaryPath(fuzzer string) string {
	return "/out/" + fuzzer
}

// PristinePath is where Compile keeps the original content of a harness file
// before overwriting it.
func PristinePath(harnessPath string) string {
	return harnessPath + ".orig"
}
