// Package retrieval defines the port for read-only code lookups in a
// project's sources.
package retrieval

import (
	"context"

	"github.com/harnessforge/harnessforge/internal/domain/candidate"
	"github.com/harnessforge/harnessforge/internal/domain/target"
	"github.com/harnessforge/harnessforge/internal/port/sandbox"
)

// Retriever looks up headers, driver examples and symbol definitions. Lookups
// that find nothing return an empty result and a nil error.
type Retriever interface {
	// LocateHeader returns the path of a header given its include spelling
	// or a symbol it declares.
	LocateHeader(ctx context.Context, name string) (string, error)
	// DriverExample returns the source of an existing harness.
	DriverExample(ctx context.Context, c candidate.Candidate) (string, error)
	// SymbolDefinition returns the source text defining symbol.
	SymbolDefinition(ctx context.Context, symbol string) (string, error)
	// HeadersFor returns the headers declaring symbol.
	HeadersFor(ctx context.Context, symbol string) ([]string, error)
	// Close releases any language server started for the lookups.
	Close(ctx context.Context) error
}

// Factory binds a Retriever to a session's sandbox.
type Factory interface {
	ForSandbox(ctx context.Context, sb sandbox.Sandbox, task target.Task) (Retriever, error)
}
