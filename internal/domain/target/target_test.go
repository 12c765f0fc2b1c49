package target_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/harnessforge/harnessforge/internal/domain"
	"github.com/harnessforge/harnessforge/internal/domain/target"
)

func TestParseSignature(t *testing.T) {
	tests := []struct {
		sig  string
		want string
	}{
		{"int png_read_info(png_structp png_ptr, png_infop info_ptr)", "png_read_info"},
		{"char *xmlStrdup(const char *cur)", "xmlStrdup"},
		{"const std::string &Json::Value::asString() const", "asString"},
		{"public static Object parse(byte[] data)", "parse"},
		{"  LLVMFuzzerTestOneInput  ", "LLVMFuzzerTestOneInput"},
		{"void *  **alloc_buf (size_t n)", "alloc_buf"},
	}
	for _, tt := range tests {
		got, err := target.ParseSignature(tt.sig)
		if err != nil {
			t.Errorf("ParseSignature(%q): %v", tt.sig, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSignature(%q) = %q, want %q", tt.sig, got, tt.want)
		}
	}
}

func TestParseSignatureInvalid(t *testing.T) {
	for _, sig := range []string{"", "   ", "(int x)", "int 9lives(void)"} {
		if _, err := target.ParseSignature(sig); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("ParseSignature(%q): expected ErrValidation, got %v", sig, err)
		}
	}
}

func TestNormalizeAndKey(t *testing.T) {
	a := "int  foo( char * buf ,size_t n )"
	b := "int foo(char *buf, size_t n)"
	if target.Normalize(a) != target.Normalize(b) {
		t.Errorf("Normalize mismatch: %q vs %q", target.Normalize(a), target.Normalize(b))
	}
	if target.Key(target.LanguageC, a) != target.Key(target.LanguageC, b) {
		t.Error("equivalent signatures must share a key")
	}
	if target.Key(target.LanguageC, b) == target.Key(target.LanguageCPP, b) {
		t.Error("keys must differ across languages")
	}
	if len(target.Key(target.LanguageC, b)) != 32 {
		t.Errorf("unexpected key length %d", len(target.Key(target.LanguageC, b)))
	}
}

func TestLanguage(t *testing.T) {
	if target.LanguageJVM.EntryPoint() != "fuzzerTestOneInput" {
		t.Error("jvm entry point")
	}
	if target.LanguageCPP.EntryPoint() != "LLVMFuzzerTestOneInput" {
		t.Error("c++ entry point")
	}
	if target.LanguageCPP.HarnessExt() != ".cc" || target.LanguageC.HarnessExt() != ".c" {
		t.Error("harness extensions")
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.yaml")
	content := `
projects:
  - name: libpng
    functions:
      - "int png_read_info(png_structp png_ptr, png_infop info_ptr)"
      - "void png_set_crc_action(png_structrp png_ptr, int crit_action, int ancil_action)"
  - name: jackson
    language: jvm
    dir: /work/jackson
    functions:
      - "public JsonNode readTree(String content)"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := target.LoadManifest(path, "projects")
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.Projects[0].Language != target.LanguageC {
		t.Errorf("expected default language c, got %s", m.Projects[0].Language)
	}
	if m.Projects[0].Dir != filepath.Join("projects", "libpng") {
		t.Errorf("unexpected default dir %s", m.Projects[0].Dir)
	}
	if m.Projects[1].Dir != "/work/jackson" {
		t.Errorf("explicit dir overwritten: %s", m.Projects[1].Dir)
	}

	tasks := m.Tasks()
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(tasks))
	}
	if tasks[0].Function != "png_read_info" || tasks[2].Function != "readTree" {
		t.Errorf("unexpected functions %s, %s", tasks[0].Function, tasks[2].Function)
	}
	if tasks[0].Key == "" || tasks[0].Key == tasks[1].Key {
		t.Error("tasks need distinct non-empty keys")
	}
}

func TestParseManifestValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no projects", "projects: []"},
		{"missing name", "projects:\n  - functions: [\"f()\"]"},
		{"bad language", "projects:\n  - name: x\n    language: cobol\n    functions: [\"f()\"]"},
		{"no functions", "projects:\n  - name: x"},
		{"bad signature", "projects:\n  - name: x\n    functions: [\"(int)\"]"},
		{"bad yaml", "projects: ["},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := target.ParseManifest([]byte(tt.yaml), "projects"); !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}
