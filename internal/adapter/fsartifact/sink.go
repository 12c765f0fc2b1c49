// Package fsartifact stores session artifacts under a directory tree:
// <root>/<project>/<iteration>-<session>/<name>.
package fsartifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/harnessforge/harnessforge/internal/domain"
	"github.com/harnessforge/harnessforge/internal/port/artifact"
)

// Sink writes artifacts to the local filesystem.
type Sink struct {
	root string
}

var _ artifact.Sink = (*Sink)(nil)

// New creates a sink rooted at root.
func New(root string) *Sink {
	return &Sink{root: root}
}

// Write stores data, replacing any artifact with the same key.
func (s *Sink) Write(_ context.Context, key artifact.Key, data []byte) error {
	p, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", key.Name, err)
	}
	return nil
}

// Path returns where key is stored.
func (s *Sink) Path(key artifact.Key) (string, error) {
	for _, part := range []string{key.Project, key.Session, key.Name} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return "", fmt.Errorf("%w: artifact key component %q", domain.ErrValidation, part)
		}
	}
	dir := strconv.Itoa(key.Iteration) + "-" + key.Session
	return filepath.Join(s.root, key.Project, dir, key.Name), nil
}
