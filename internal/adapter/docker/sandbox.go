package docker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/harnessforge/harnessforge/internal/domain"
	"github.com/harnessforge/harnessforge/internal/domain/candidate"
	"github.com/harnessforge/harnessforge/internal/domain/target"
	"github.com/harnessforge/harnessforge/internal/port/sandbox"
)

// engineDirs hold fuzzing engine sources in OSS-Fuzz base images; their
// entry points are not project targets.
var engineDirs = []string{"/src/aflplusplus", "/src/honggfuzz", "/src/libfuzzer", "/src/centipede", "/src/LPM", "/src/libprotobuf-mutator"}

// Sandbox is one session's container.
type Sandbox struct {
	provider *Provider
	task     target.Task
	image    string
	name     string

	mu       sync.Mutex
	started  bool
	released bool
	written  map[string]bool // harness paths overwritten, backed up at sandbox.PristinePath
}

var _ sandbox.Sandbox = (*Sandbox)(nil)

// Name returns the container name.
func (s *Sandbox) Name() string { return s.name }

// BuildImage builds the project image and starts the session container.
func (s *Sandbox) BuildImage(ctx context.Context) (string, error) {
	if err := s.usable(); err != nil {
		return "", err
	}
	contextDir := s.task.Dir
	if contextDir == "" {
		contextDir = filepath.Join(s.provider.cfg.ProjectsDir, s.task.Project)
	}

	log, err := s.provider.buildImage(ctx, s.image, contextDir)
	if err != nil {
		if ctx.Err() != nil {
			return log, ctx.Err()
		}
		return log, fmt.Errorf("%w: %s: %v", sandbox.ErrImageBuild, s.image, err)
	}

	res := s.provider.run(ctx, nil, s.runArgs()...)
	if res.err != nil {
		return log, fmt.Errorf("%w: start container: %v", sandbox.ErrImageBuild, res.err)
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	slog.Info("sandbox started", "container", s.name, "image", s.image)
	return log, nil
}

func (s *Sandbox) runArgs() []string {
	cfg := s.provider.cfg
	args := []string{"run", "-d", "--name", s.name}
	if cfg.MemoryMB > 0 {
		args = append(args, fmt.Sprintf("--memory=%dm", cfg.MemoryMB))
	}
	if cfg.CPUQuota > 0 {
		args = append(args, fmt.Sprintf("--cpus=%s", strconv.FormatFloat(float64(cfg.CPUQuota)/1000, 'f', -1, 64)))
	}
	if cfg.PidsLimit > 0 {
		args = append(args, fmt.Sprintf("--pids-limit=%d", cfg.PidsLimit))
	}
	if cfg.NetworkMode != "" {
		args = append(args, fmt.Sprintf("--network=%s", cfg.NetworkMode))
	}
	args = append(args,
		"-e", "FUZZING_ENGINE=libfuzzer",
		"-e", "SANITIZER=address",
		"-e", "FUZZING_LANGUAGE="+string(s.task.Language),
		"--security-opt=no-new-privileges",
		s.image,
		"sleep", "infinity",
	)
	return args
}

// DiscoverTargets finds source files defining the fuzz entry point. The
// fuzzer name is the file's stem.
func (s *Sandbox) DiscoverTargets(ctx context.Context) ([]candidate.Candidate, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	entry := s.task.Language.EntryPoint()
	res := s.provider.run(ctx, nil, "exec", s.name,
		"grep", "-rlI", "--include=*.c", "--include=*.cc", "--include=*.cpp", "--include=*.cxx", "--include=*.java",
		entry, "/src")
	// grep exits 1 when nothing matches.
	if res.err != nil && strings.TrimSpace(res.stdout) == "" && strings.TrimSpace(res.stderr) != "" {
		return nil, fmt.Errorf("discover targets: %w", res.err)
	}

	seen := make(map[string]bool)
	var out []candidate.Candidate
	for _, line := range strings.Split(res.stdout, "\n") {
		p := strings.TrimSpace(line)
		if p == "" || isEngineSource(p) {
			continue
		}
		fuzzer := strings.TrimSuffix(path.Base(p), path.Ext(p))
		if seen[fuzzer] {
			continue
		}
		seen[fuzzer] = true
		out = append(out, candidate.Candidate{Fuzzer: fuzzer, HarnessPath: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fuzzer < out[j].Fuzzer })
	return out, nil
}

func isEngineSource(p string) bool {
	for _, d := range engineDirs {
		if strings.HasPrefix(p, d+"/") {
			return true
		}
	}
	return false
}

// Compile writes the harness over the candidate's harness file, restores
// any harness overwritten for other candidates, and runs the project build.
func (s *Sandbox) Compile(ctx context.Context, req sandbox.CompileRequest) (sandbox.CompileResult, error) {
	if err := s.usable(); err != nil {
		return sandbox.CompileResult{}, err
	}
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return sandbox.CompileResult{ImageFailed: true, Output: "sandbox container is not running"}, nil
	}

	harnessPath := req.Candidate.HarnessPath
	write := s.provider.run(ctx, strings.NewReader(req.Harness), "exec", "-i", s.name,
		"sh", "-c", `[ -e "$2" ] || cp "$1" "$2"; cat > "$1"`, "sh", harnessPath, sandbox.PristinePath(harnessPath))
	if write.err != nil {
		if ctx.Err() != nil {
			return sandbox.CompileResult{}, ctx.Err()
		}
		if containerGone(write.stderr) {
			return sandbox.CompileResult{ImageFailed: true, Output: write.combined()}, nil
		}
		return sandbox.CompileResult{}, fmt.Errorf("write harness: %w", write.err)
	}

	s.mu.Lock()
	var restore []string
	for p := range s.written {
		if p != harnessPath {
			restore = append(restore, p)
		}
	}
	s.written[harnessPath] = true
	s.mu.Unlock()
	sort.Strings(restore)

	build := s.provider.run(ctx, nil, "exec", s.name, "bash", "-c", compileScript(req.Candidate.Fuzzer, req.IncludeDirs, restore))
	if ctx.Err() != nil {
		return sandbox.CompileResult{}, ctx.Err()
	}
	if build.err != nil && containerGone(build.stderr) {
		return sandbox.CompileResult{ImageFailed: true, Output: build.combined()}, nil
	}

	check := s.provider.run(ctx, nil, "exec", s.name, "test", "-f", sandbox.BinaryPath(req.Candidate.Fuzzer))
	return sandbox.CompileResult{
		BinaryExists: check.err == nil,
		Output:       build.combined(),
	}, nil
}

// compileScript builds one OSS-Fuzz project with extra include directories.
func compileScript(fuzzer string, includeDirs, restore []string) string {
	var b strings.Builder
	for _, p := range restore {
		fmt.Fprintf(&b, "cp %s %s; ", shellQuote(sandbox.PristinePath(p)), shellQuote(p))
	}
	if len(includeDirs) > 0 {
		var flags strings.Builder
		for _, d := range includeDirs {
			flags.WriteString(" -I" + d)
		}
		q := shellQuote(flags.String())
		fmt.Fprintf(&b, `export CFLAGS="$CFLAGS"%s CXXFLAGS="$CXXFLAGS"%s; `, q, q)
	}
	fmt.Fprintf(&b, "rm -f %s; compile 2>&1", shellQuote(sandbox.BinaryPath(fuzzer)))
	return b.String()
}

// RunFuzzer starts /out/<fuzzer> with args.
func (s *Sandbox) RunFuzzer(ctx context.Context, fuzzer string, args []string) (sandbox.Process, error) {
	argv := append([]string{sandbox.BinaryPath(fuzzer)}, args...)
	return s.Exec(ctx, argv, false)
}

// Exec runs argv in the container.
func (s *Sandbox) Exec(ctx context.Context, argv []string, interactive bool) (sandbox.Process, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: empty argv", domain.ErrValidation)
	}
	proc, err := s.provider.start(ctx, s.name, argv, interactive)
	if err != nil {
		return nil, err
	}
	return proc, nil
}

// ReadFile returns the content of path inside the container.
func (s *Sandbox) ReadFile(ctx context.Context, p string) ([]byte, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	res := s.provider.run(ctx, nil, "exec", s.name, "cat", "--", p)
	if res.err != nil {
		if strings.Contains(res.stderr, "No such file") {
			return nil, fmt.Errorf("%s: %w", p, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", p, res.err)
	}
	return []byte(res.stdout), nil
}

// Release removes the container. Later calls are no-ops.
func (s *Sandbox) Release(ctx context.Context) error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	started := s.started
	s.mu.Unlock()

	if !started {
		return nil
	}
	if res := s.provider.run(ctx, nil, "rm", "-f", s.name); res.err != nil {
		return fmt.Errorf("sandbox release: %w", res.err)
	}
	slog.Info("sandbox released", "container", s.name)
	return nil
}

func (s *Sandbox) usable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return domain.ErrSandboxReleased
	}
	return nil
}

func (s *Sandbox) running() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return domain.ErrSandboxReleased
	}
	if !s.started {
		return errors.New("sandbox container is not running")
	}
	return nil
}

func containerGone(stderr string) bool {
	return strings.Contains(stderr, "No such container") || strings.Contains(stderr, "is not running")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
