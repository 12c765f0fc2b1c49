// Package lsp defines domain types for Language Server Protocol integration.
// These types represent LSP concepts in a transport-independent way.
package lsp

// Position in a text document (0-based line and character).
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range in a text document.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Location links a URI to a range.
type Location struct {
	URI   string `json:"uri"`
	Range Range  `json:"range"`
}

// Path returns the filesystem path of a file:// URI.
func (l Location) Path() string {
	const scheme = "file://"
	if len(l.URI) >= len(scheme) && l.URI[:len(scheme)] == scheme {
		return l.URI[len(scheme):]
	}
	return l.URI
}

// SymbolKind values used to filter workspace symbols.
const (
	SymbolKindClass     = 5
	SymbolKindMethod    = 6
	SymbolKindFunction  = 12
	SymbolKindStruct    = 23
	SymbolKindTypeParam = 26
)

// SymbolInformation is one result of a workspace/symbol query.
type SymbolInformation struct {
	Name          string   `json:"name"`
	Kind          int      `json:"kind"`
	Location      Location `json:"location"`
	ContainerName string   `json:"containerName,omitempty"`
}

// ServerStatus represents the lifecycle state of a language server.
type ServerStatus string

const (
	ServerStatusStopped  ServerStatus = "stopped"
	ServerStatusStarting ServerStatus = "starting"
	ServerStatusReady    ServerStatus = "ready"
	ServerStatusFailed   ServerStatus = "failed"
)
