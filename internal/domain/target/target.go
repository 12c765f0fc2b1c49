// Package target defines the task manifest: which projects and which
// function signatures harnesses should be produced for.
package target

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v3"

	"github.com/harnessforge/harnessforge/internal/domain"
)

// Language is the source language of a project.
type Language string

const (
	LanguageC   Language = "c"
	LanguageCPP Language = "c++"
	LanguageJVM Language = "jvm"
)

var validLanguages = map[Language]bool{
	LanguageC:   true,
	LanguageCPP: true,
	LanguageJVM: true,
}

// Managed reports whether the language runs on a managed runtime.
func (l Language) Managed() bool { return l == LanguageJVM }

// EntryPoint returns the fuzz entry point name for the language.
func (l Language) EntryPoint() string {
	if l.Managed() {
		return "fuzzerTestOneInput"
	}
	return "LLVMFuzzerTestOneInput"
}

// HarnessExt returns the file extension used for generated harnesses.
func (l Language) HarnessExt() string {
	switch l {
	case LanguageCPP:
		return ".cc"
	case LanguageJVM:
		return ".java"
	default:
		return ".c"
	}
}

// Project is one OSS-Fuzz style project and its target functions.
type Project struct {
	Name      string   `yaml:"name" json:"name"`
	Language  Language `yaml:"language" json:"language"`
	Dir       string   `yaml:"dir" json:"dir,omitempty"`
	Functions []string `yaml:"functions" json:"functions"`
}

// Manifest is the parsed task file.
type Manifest struct {
	Projects []Project `yaml:"projects"`
}

// Task is one (project, function) pair to produce a harness for.
type Task struct {
	Project   string   `json:"project"`
	Language  Language `json:"language"`
	Dir       string   `json:"dir"`
	Signature string   `json:"signature"`
	Function  string   `json:"function"`
	Key       string   `json:"key"`
}

// LoadManifest reads and validates a manifest file. Relative project dirs
// default to projectsDir/<name>.
func LoadManifest(path, projectsDir string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	return ParseManifest(data, projectsDir)
}

// ParseManifest parses and validates manifest YAML.
func ParseManifest(data []byte, projectsDir string) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: parse manifest: %v", domain.ErrValidation, err)
	}
	if len(m.Projects) == 0 {
		return nil, fmt.Errorf("%w: manifest lists no projects", domain.ErrValidation)
	}
	for i := range m.Projects {
		p := &m.Projects[i]
		if p.Language == "" {
			p.Language = LanguageC
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if p.Dir == "" {
			p.Dir = filepath.Join(projectsDir, p.Name)
		}
	}
	return &m, nil
}

// Validate checks the project entry.
func (p *Project) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: project name is required", domain.ErrValidation)
	}
	if !validLanguages[p.Language] {
		return fmt.Errorf("%w: project %s: invalid language %q", domain.ErrValidation, p.Name, p.Language)
	}
	if len(p.Functions) == 0 {
		return fmt.Errorf("%w: project %s lists no functions", domain.ErrValidation, p.Name)
	}
	for _, sig := range p.Functions {
		if _, err := ParseSignature(sig); err != nil {
			return fmt.Errorf("project %s: %w", p.Name, err)
		}
	}
	return nil
}

// Tasks expands the manifest into one Task per function, in manifest order.
func (m *Manifest) Tasks() []Task {
	var out []Task
	for _, p := range m.Projects {
		for _, sig := range p.Functions {
			name, _ := ParseSignature(sig)
			out = append(out, Task{
				Project:   p.Name,
				Language:  p.Language,
				Dir:       p.Dir,
				Signature: sig,
				Function:  name,
				Key:       Key(p.Language, sig),
			})
		}
	}
	return out
}

// ParseSignature returns the unqualified function name of a C, C++ or Java
// signature. A bare identifier is accepted as its own name.
func ParseSignature(sig string) (string, error) {
	s := strings.TrimSpace(sig)
	if s == "" {
		return "", fmt.Errorf("%w: empty signature", domain.ErrValidation)
	}
	head := s
	if i := strings.IndexByte(s, '('); i >= 0 {
		head = s[:i]
	}
	head = strings.TrimRight(head, " \t*&")
	start := len(head)
	for start > 0 && isIdent(head[start-1]) {
		start--
	}
	name := head[start:]
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		return "", fmt.Errorf("%w: no function name in signature %q", domain.ErrValidation, sig)
	}
	return name, nil
}

// Normalize collapses whitespace and removes it around punctuation so that
// cosmetically different spellings of a signature compare equal.
func Normalize(sig string) string {
	fields := strings.Fields(sig)
	joined := strings.Join(fields, " ")
	var b strings.Builder
	for i := 0; i < len(joined); i++ {
		c := joined[i]
		if c == ' ' {
			prev := joined[i-1]
			next := joined[i+1]
			if isPunct(prev) || isPunct(next) {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Key returns the stable identifier of a signature used by success records.
func Key(lang Language, sig string) string {
	sum := blake2b.Sum256([]byte(string(lang) + "\x00" + Normalize(sig)))
	return hex.EncodeToString(sum[:16])
}

func isIdent(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isPunct(c byte) bool {
	return strings.IndexByte("*&(),<>[]:", c) >= 0
}
